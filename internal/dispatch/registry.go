package dispatch

import (
	"reflect"
	"sync"

	"github.com/matheus3301/pairchat/internal/status"
	"github.com/matheus3301/pairchat/internal/wire"
	"go.uber.org/zap"
)

// Handler receives frames of the type it was registered for.
type Handler interface {
	HandleFrame(f wire.Frame) error
}

// ConnectionHandler receives every connection state transition.
type ConnectionHandler interface {
	HandleConnection(s status.State, info Info)
}

// Info is the extra data delivered with a connection transition.
type Info struct {
	// WasReconnecting is set on CONNECTED when the open followed a lost connection.
	WasReconnecting bool
	// Attempt is the reconnect attempt number on CONNECTING, starting at 1.
	Attempt int
	// Reason describes why the state changed.
	Reason string
	Err    error
}

type funcHandler struct{ fn func(wire.Frame) error }

func (h *funcHandler) HandleFrame(f wire.Frame) error { return h.fn(f) }

// HandlerFunc adapts fn to a Handler. Each call returns a distinct handler, so
// keep the result to remove it later.
func HandlerFunc(fn func(wire.Frame) error) Handler {
	return &funcHandler{fn: fn}
}

type connFunc struct{ fn func(status.State, Info) }

func (h *connFunc) HandleConnection(s status.State, info Info) { h.fn(s, info) }

// ConnectionFunc adapts fn to a ConnectionHandler.
func ConnectionFunc(fn func(status.State, Info)) ConnectionHandler {
	return &connFunc{fn: fn}
}

// Registry routes decoded frames to handlers by type and fans out connection
// transitions. Handlers run in registration order; a failing handler does not
// stop the others.
type Registry struct {
	mu       sync.RWMutex
	handlers map[wire.Type][]Handler
	conn     []ConnectionHandler
	logger   *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[wire.Type][]Handler),
		logger:   logger,
	}
}

// AddMessageHandler registers h for frames of type t. Adding the same handler
// twice for one type is a no-op.
func (r *Registry) AddMessageHandler(t wire.Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.handlers[t] {
		if same(existing, h) {
			return
		}
	}
	r.handlers[t] = append(r.handlers[t], h)
}

// RemoveMessageHandler unregisters h for type t.
func (r *Registry) RemoveMessageHandler(t wire.Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[t]
	for i, existing := range list {
		if same(existing, h) {
			r.handlers[t] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// AddConnectionHandler registers h for connection transitions. Idempotent.
func (r *Registry) AddConnectionHandler(h ConnectionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.conn {
		if same(existing, h) {
			return
		}
	}
	r.conn = append(r.conn, h)
}

// RemoveConnectionHandler unregisters h.
func (r *Registry) RemoveConnectionHandler(h ConnectionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.conn {
		if same(existing, h) {
			r.conn = append(r.conn[:i:i], r.conn[i+1:]...)
			return
		}
	}
}

// Dispatch decodes one raw frame and routes it. Malformed frames are logged and dropped.
func (r *Registry) Dispatch(data []byte) {
	f, err := wire.Decode(data)
	if err != nil {
		r.logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	r.DispatchFrame(f)
}

// DispatchFrame routes an already decoded frame to the handlers for its type.
func (r *Registry) DispatchFrame(f wire.Frame) {
	if _, ok := f.(*wire.Unknown); ok {
		r.logger.Warn("dropping frame of unknown type", zap.String("type", string(f.Type())))
		return
	}
	r.mu.RLock()
	list := append([]Handler(nil), r.handlers[f.Type()]...)
	r.mu.RUnlock()

	if len(list) == 0 {
		r.logger.Debug("no handler for frame", zap.String("type", string(f.Type())))
		return
	}
	for _, h := range list {
		r.callFrame(h, f)
	}
}

// NotifyConnection delivers a connection transition to every connection handler.
func (r *Registry) NotifyConnection(s status.State, info Info) {
	r.mu.RLock()
	list := append([]ConnectionHandler(nil), r.conn...)
	r.mu.RUnlock()

	for _, h := range list {
		r.callConnection(h, s, info)
	}
}

func (r *Registry) callFrame(h Handler, f wire.Frame) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("frame handler panicked", zap.String("type", string(f.Type())), zap.Any("panic", p))
		}
	}()
	if err := h.HandleFrame(f); err != nil {
		r.logger.Warn("frame handler failed", zap.String("type", string(f.Type())), zap.Error(err))
	}
}

func (r *Registry) callConnection(h ConnectionHandler, s status.State, info Info) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("connection handler panicked", zap.String("state", string(s)), zap.Any("panic", p))
		}
	}()
	h.HandleConnection(s, info)
}

// same compares handler identities without panicking on uncomparable dynamic types.
func same(a, b any) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}
