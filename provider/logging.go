package provider

import (
	"context"

	"github.com/kbukum/pvkit/logger"
)

// WithLogging returns a Middleware that logs connects, disconnects and
// request issuance at debug level, and synchronous provider errors at error
// level. Callbacks are forwarded untouched.
func WithLogging(log *logger.Logger) Middleware {
	return func(inner Provider) Provider {
		return &loggingProvider{inner: inner, log: log}
	}
}

type loggingProvider struct {
	inner Provider
	log   *logger.Logger
}

func (l *loggingProvider) Name() string { return l.inner.Name() }

func (l *loggingProvider) Connect(name string, onState StateFunc) (Handle, error) {
	fields := logger.Fields(logger.FieldProvider, l.inner.Name(), logger.FieldChannel, name)

	h, err := l.inner.Connect(name, onState)
	if err != nil {
		l.log.Error("provider connect failed", logger.MergeWithError(fields, err))
		return nil, err
	}
	l.log.Debug("provider handle created", fields)
	return &loggingHandle{Handle: h, log: l.log, fields: fields}, nil
}

// Init forwards to the wrapped provider when it is Initializable.
func (l *loggingProvider) Init(ctx context.Context) error {
	if i, ok := l.inner.(Initializable); ok {
		l.log.Debug("provider init", logger.Fields(logger.FieldProvider, l.inner.Name()))
		return i.Init(ctx)
	}
	return nil
}

// Close forwards to the wrapped provider when it is Closeable.
func (l *loggingProvider) Close(ctx context.Context) error {
	if c, ok := l.inner.(Closeable); ok {
		l.log.Debug("provider close", logger.Fields(logger.FieldProvider, l.inner.Name()))
		return c.Close(ctx)
	}
	return nil
}

type loggingHandle struct {
	Handle
	log    *logger.Logger
	fields map[string]interface{}
}

func (h *loggingHandle) with(op string, kvs ...interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(h.fields)+1+len(kvs)/2)
	for k, v := range h.fields {
		out[k] = v
	}
	out[logger.FieldOperation] = op
	for k, v := range logger.Fields(kvs...) {
		out[k] = v
	}
	return out
}

func (h *loggingHandle) Disconnect() {
	h.Handle.Disconnect()
	h.log.Debug("provider handle disconnected", h.with("disconnect"))
}

func (h *loggingHandle) Read(onValue ValueFunc) (Token, error) {
	t, err := h.Handle.Read(onValue)
	h.logRequest("read", t, err)
	return t, err
}

func (h *loggingHandle) Write(v Value, onDone DoneFunc) (Token, error) {
	t, err := h.Handle.Write(v, onDone)
	h.logRequest("write", t, err)
	return t, err
}

func (h *loggingHandle) CancelRequest(t Token) {
	h.Handle.CancelRequest(t)
	h.log.Debug("provider request cancelled", h.with("cancel", logger.FieldToken, uint64(t)))
}

func (h *loggingHandle) RegisterCallback(onValue ValueFunc) (Token, error) {
	t, err := h.Handle.RegisterCallback(onValue)
	h.logRequest("register", t, err)
	return t, err
}

func (h *loggingHandle) UnregisterCallback(t Token) {
	h.Handle.UnregisterCallback(t)
	h.log.Debug("provider callback unregistered", h.with("unregister", logger.FieldToken, uint64(t)))
}

// Last forwards to the wrapped handle when it caches values.
func (h *loggingHandle) Last() (Value, bool) {
	if lv, ok := h.Handle.(LastValuer); ok {
		return lv.Last()
	}
	return nil, false
}

func (h *loggingHandle) logRequest(op string, t Token, err error) {
	if err != nil {
		h.log.Error("provider request failed", logger.MergeWithError(h.with(op), err))
		return
	}
	h.log.Debug("provider request issued", h.with(op, logger.FieldToken, uint64(t)))
}
