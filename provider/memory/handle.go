package memory

import (
	"sort"
	"sync"

	apperrors "github.com/kbukum/pvkit/errors"
	"github.com/kbukum/pvkit/provider"
)

type handle struct {
	p       *Provider
	name    string
	count   int
	onState provider.StateFunc

	mu        sync.Mutex
	connected bool
	closed    bool
	callbacks map[provider.Token]provider.ValueFunc
	pending   map[provider.Token]struct{}
	streaming int
	last      provider.Value
	hasLast   bool

	// queue holds callbacks for the handle's goroutine, which runs only
	// while the queue is non-empty.
	qmu     sync.Mutex
	queue   []func()
	running bool
}

func (h *handle) Name() string      { return h.name }
func (h *handle) ElementCount() int { return h.count }

func (h *handle) Disconnect() {
	if !h.p.release(h) {
		return
	}

	h.mu.Lock()
	h.closed = true
	h.connected = false
	h.callbacks = nil
	h.pending = nil
	h.streaming = 0
	h.mu.Unlock()

	h.qmu.Lock()
	h.queue = nil
	h.qmu.Unlock()
}

func (h *handle) Read(onValue provider.ValueFunc) (provider.Token, error) {
	tok, err := h.begin()
	if err != nil {
		return 0, err
	}

	h.p.schedule(h, func() {
		if !h.finish(tok) {
			return
		}
		v := h.p.load(h.name)
		onValue(v)
		if h.p.duplicate {
			onValue(v)
		}
	})
	return tok, nil
}

func (h *handle) Write(v provider.Value, onDone provider.DoneFunc) (provider.Token, error) {
	tok, err := h.begin()
	if err != nil {
		return 0, err
	}

	h.p.schedule(h, func() {
		// A cancelled write still lands; only its completion is dropped.
		h.p.store(h.name, v)
		if !h.finish(tok) {
			return
		}
		onDone()
		if h.p.duplicate {
			onDone()
		}
	})
	return tok, nil
}

func (h *handle) CancelRequest(t provider.Token) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pending, t)
}

func (h *handle) RegisterCallback(onValue provider.ValueFunc) (provider.Token, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, apperrors.ChannelClosed(h.name)
	}
	tok := h.p.nextToken()
	h.callbacks[tok] = onValue
	return tok, nil
}

func (h *handle) UnregisterCallback(t provider.Token) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.callbacks, t)
}

func (h *handle) EnableStreaming() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.streaming++
	}
}

func (h *handle) DisableStreaming() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streaming > 0 {
		h.streaming--
	}
	if h.streaming == 0 {
		h.last, h.hasLast = nil, false
	}
}

// Last returns the most recent value pushed to this handle while streaming.
func (h *handle) Last() (provider.Value, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streaming == 0 {
		return nil, false
	}
	return cloneValue(h.last), h.hasLast
}

func (h *handle) begin() (provider.Token, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, apperrors.ChannelClosed(h.name)
	}
	if !h.connected {
		return 0, apperrors.NotConnected(h.name)
	}
	tok := h.p.nextToken()
	h.pending[tok] = struct{}{}
	return tok, nil
}

// finish retires a request and reports whether it was still wanted.
func (h *handle) finish(t provider.Token) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.pending[t]; !ok {
		return false
	}
	delete(h.pending, t)
	return true
}

func (h *handle) setConnected(connected bool) {
	h.mu.Lock()
	if h.closed || h.connected == connected {
		h.mu.Unlock()
		return
	}
	h.connected = connected
	h.mu.Unlock()

	h.enqueue(func() {
		if h.isClosed() {
			return
		}
		h.onState(connected)
	})
}

// deliver queues v for every registered callback. Called with the provider
// lock held.
func (h *handle) deliver(v provider.Value) {
	h.mu.Lock()
	if h.closed || h.streaming == 0 || len(h.callbacks) == 0 {
		h.mu.Unlock()
		return
	}
	h.last, h.hasLast = v, true
	tokens := make([]provider.Token, 0, len(h.callbacks))
	for t := range h.callbacks {
		tokens = append(tokens, t)
	}
	h.mu.Unlock()
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	h.enqueue(func() {
		for _, t := range tokens {
			if cb := h.callback(t); cb != nil {
				cb(cloneValue(v))
			}
		}
	})
}

func (h *handle) callback(t provider.Token) provider.ValueFunc {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.callbacks[t]
}

func (h *handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *handle) enqueue(fn func()) {
	h.qmu.Lock()
	defer h.qmu.Unlock()
	h.queue = append(h.queue, fn)
	if !h.running {
		h.running = true
		go h.drain()
	}
}

func (h *handle) drain() {
	for {
		h.qmu.Lock()
		if len(h.queue) == 0 {
			h.running = false
			h.qmu.Unlock()
			return
		}
		fn := h.queue[0]
		h.queue[0] = nil
		h.queue = h.queue[1:]
		h.qmu.Unlock()

		fn()
	}
}

var (
	_ provider.Handle     = (*handle)(nil)
	_ provider.LastValuer = (*handle)(nil)
)
