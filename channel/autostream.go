package channel

import (
	"sync"

	apperrors "github.com/kbukum/pvkit/errors"
	"github.com/kbukum/pvkit/provider"
)

// autoStream keeps the latest streamed value of a channel under the cached
// Get policy.
type autoStream struct {
	token provider.Token

	mu     sync.Mutex
	latest provider.Value
	has    bool
	// stale is set when a Put is acknowledged and cleared by the next
	// update. The provider may confirm a write before the update it causes
	// is delivered.
	stale bool
}

func (a *autoStream) onValue(v provider.Value) {
	a.mu.Lock()
	a.latest, a.has, a.stale = v, true, false
	a.mu.Unlock()
}

func (a *autoStream) invalidate() {
	a.mu.Lock()
	a.stale = true
	a.mu.Unlock()
}

func (a *autoStream) value() (provider.Value, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stale {
		return nil, false
	}
	return a.latest, a.has
}

func (ch *Channel) startAutoStream() error {
	a := &autoStream{}
	tok, err := ch.handle.RegisterCallback(a.onValue)
	if err != nil {
		return providerError("auto-stream", err)
	}
	a.token = tok

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		ch.handle.UnregisterCallback(tok)
		return apperrors.ChannelClosed(ch.name)
	}
	ch.auto = a
	ch.mu.Unlock()

	if !ch.retainStreaming() {
		return apperrors.ChannelClosed(ch.name)
	}
	return nil
}

// AutoStream reports whether Get is served from a standing subscription.
func (ch *Channel) AutoStream() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.auto != nil
}

func (ch *Channel) cached() (provider.Value, bool) {
	ch.mu.Lock()
	a := ch.auto
	ch.mu.Unlock()
	if a == nil {
		return nil, false
	}
	return a.value()
}

// invalidateCached makes Get read until the subscription catches up with
// an acknowledged write.
func (ch *Channel) invalidateCached() {
	ch.mu.Lock()
	a := ch.auto
	ch.mu.Unlock()
	if a != nil {
		a.invalidate()
	}
}

// last returns the most recent value the handle delivered, when it keeps
// one.
func (ch *Channel) last() (provider.Value, bool) {
	if lv, ok := ch.handle.(provider.LastValuer); ok {
		return lv.Last()
	}
	return nil, false
}
