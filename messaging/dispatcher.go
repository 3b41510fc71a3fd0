package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/glimte/mmate-bus/contracts"
)

// PayloadHandler handles the messages whose payload has a given type
type PayloadHandler interface {
	Handle(ctx context.Context, msg *contracts.Message) error
}

// PayloadHandlerFunc is a function adapter for PayloadHandler
type PayloadHandlerFunc func(ctx context.Context, msg *contracts.Message) error

// Handle implements PayloadHandler
func (f PayloadHandlerFunc) Handle(ctx context.Context, msg *contracts.Message) error {
	return f(ctx, msg)
}

// MiddlewareFunc runs before a handler and decides whether to call next
type MiddlewareFunc func(ctx context.Context, msg *contracts.Message, next PayloadHandler) error

// PayloadDispatcher is a MessageListener that routes each message to the
// handlers registered for the dynamic type of its payload. Handlers for
// one type run in registration order on the delivering goroutine.
type PayloadDispatcher struct {
	mu         sync.RWMutex
	handlers   map[reflect.Type][]PayloadHandler
	logger     *slog.Logger
	middleware []MiddlewareFunc
	strict     bool
}

// DispatcherOption configures the PayloadDispatcher
type DispatcherOption func(*PayloadDispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *PayloadDispatcher) {
		d.logger = logger
	}
}

// WithMiddleware adds middleware to the dispatcher
func WithMiddleware(middleware ...MiddlewareFunc) DispatcherOption {
	return func(d *PayloadDispatcher) {
		d.middleware = append(d.middleware, middleware...)
	}
}

// WithStrictDispatch makes payloads without a handler an error instead of
// being skipped
func WithStrictDispatch() DispatcherOption {
	return func(d *PayloadDispatcher) {
		d.strict = true
	}
}

// NewPayloadDispatcher creates a new payload dispatcher
func NewPayloadDispatcher(options ...DispatcherOption) *PayloadDispatcher {
	d := &PayloadDispatcher{
		handlers: make(map[reflect.Type][]PayloadHandler),
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// RegisterHandler registers handler for payloads of the same type as sample
func (d *PayloadDispatcher) RegisterHandler(sample any, handler PayloadHandler) error {
	if sample == nil {
		return fmt.Errorf("payload sample cannot be nil")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	typ := reflect.TypeOf(sample)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[typ] = append(d.handlers[typ], handler)

	d.logger.Debug("registered payload handler", "payloadType", typ.String())
	return nil
}

// Handle registers a typed handler on d for payloads of type T
func Handle[T any](d *PayloadDispatcher, fn func(ctx context.Context, payload T, msg *contracts.Message) error) error {
	var zero T
	typ := reflect.TypeOf(&zero).Elem()
	if typ.Kind() == reflect.Interface {
		return fmt.Errorf("payload type %s must be concrete", typ)
	}

	handler := PayloadHandlerFunc(func(ctx context.Context, msg *contracts.Message) error {
		payload, ok := msg.Payload.(T)
		if !ok {
			return fmt.Errorf("unexpected payload %T", msg.Payload)
		}
		return fn(ctx, payload, msg)
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[typ] = append(d.handlers[typ], handler)
	return nil
}

// Unregister removes every handler for payloads of the same type as sample
func (d *PayloadDispatcher) Unregister(sample any) bool {
	typ := reflect.TypeOf(sample)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[typ]; !ok {
		return false
	}
	delete(d.handlers, typ)
	return true
}

// RegisteredTypes returns the payload types that have handlers
func (d *PayloadDispatcher) RegisteredTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.handlers))
	for typ := range d.handlers {
		types = append(types, typ.String())
	}
	return types
}

// Receive implements contracts.MessageListener. Every handler runs even
// when an earlier one fails; the failures are joined.
func (d *PayloadDispatcher) Receive(ctx context.Context, msg *contracts.Message) error {
	typ := reflect.TypeOf(msg.Payload)

	d.mu.RLock()
	handlers := d.handlers[typ]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		if d.strict {
			return fmt.Errorf("no handlers registered for payload type %v", typ)
		}
		d.logger.Debug("no handlers registered for payload type", "payloadType", fmt.Sprint(typ), "destination", msg.DestinationName)
		return nil
	}

	var errs []error
	for _, handler := range handlers {
		if err := d.buildMiddlewareChain(handler).Handle(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildMiddlewareChain builds the middleware execution chain
func (d *PayloadDispatcher) buildMiddlewareChain(handler PayloadHandler) PayloadHandler {
	if len(d.middleware) == 0 {
		return handler
	}

	// Build chain in reverse order
	result := handler
	for i := len(d.middleware) - 1; i >= 0; i-- {
		middleware := d.middleware[i]
		next := result
		result = PayloadHandlerFunc(func(ctx context.Context, msg *contracts.Message) error {
			return middleware(ctx, msg, next)
		})
	}

	return result
}
