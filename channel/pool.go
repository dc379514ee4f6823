package channel

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/kbukum/pvkit/errors"
	"github.com/kbukum/pvkit/logger"
)

// Pool shares one Channel per name among callers. Concurrent requests for a
// name that is not connected yet share a single Connect, which runs under
// the context of the caller that started it; every caller still returns as
// soon as its own context ends.
type Pool struct {
	client *Client
	log    *logger.Logger

	channels sync.Map // name -> *Channel
	sfGroup  singleflight.Group

	mu     sync.Mutex
	closed bool
}

// NewPool creates an empty pool on client.
func NewPool(client *Client) *Pool {
	return &Pool{
		client: client,
		log:    logger.Get(PoolLoggerName).WithFields(logger.Fields("client", client.Name())),
	}
}

// Get returns the pooled channel for name, connecting it on first use. A
// pooled channel that was closed is replaced.
func (p *Pool) Get(ctx context.Context, name string) (*Channel, error) {
	if p.isClosed() {
		return nil, apperrors.ChannelClosed(name).WithDetail("reason", "pool closed")
	}
	if ch, ok := p.load(name); ok {
		return ch, nil
	}

	resc := p.sfGroup.DoChan(name, func() (any, error) {
		if ch, ok := p.load(name); ok {
			return ch, nil
		}

		ch, err := p.client.Connect(ctx, name)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			_ = ch.Close()
			return nil, apperrors.ChannelClosed(name).WithDetail("reason", "pool closed")
		}
		p.channels.Store(name, ch)
		p.log.Debug("pooled channel connected", logger.Fields(logger.FieldChannel, name))
		return ch, nil
	})

	select {
	case res := <-resc:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Channel), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) load(name string) (*Channel, bool) {
	v, ok := p.channels.Load(name)
	if !ok {
		return nil, false
	}
	ch := v.(*Channel)
	if ch.Closed() {
		p.channels.CompareAndDelete(name, ch)
		return nil, false
	}
	return ch, true
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Release closes and forgets the pooled channel for name.
func (p *Pool) Release(name string) {
	if v, ok := p.channels.LoadAndDelete(name); ok {
		_ = v.(*Channel).Close()
	}
}

// Len returns the number of pooled channels.
func (p *Pool) Len() int {
	n := 0
	p.channels.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close closes every pooled channel. Later Gets fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	n := 0
	p.channels.Range(func(key, value any) bool {
		p.channels.Delete(key)
		_ = value.(*Channel).Close()
		n++
		return true
	})
	p.log.Debug("channel pool closed", logger.Fields("closed_channels", n))
	return nil
}
