package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/mmate-bus/contracts"
	"github.com/glimte/mmate-bus/internal/registry"
)

// Destination is a named delivery point. Listeners, processor factories and
// event listeners are registered with properties and kept in rank order;
// the service id in the properties identifies a registration for removal.
type Destination interface {
	Name() string
	Type() contracts.DestinationType

	Open() error
	Close(force bool)
	AwaitTermination(ctx context.Context) error
	IsOpen() bool

	// Send delivers msg to every registered listener. It is a no-op when
	// no listener is registered.
	Send(ctx context.Context, msg *contracts.Message) error

	AddMessageListener(listener contracts.MessageListener, props contracts.Properties)
	RemoveMessageListener(props contracts.Properties) bool
	MessageListeners() []contracts.MessageListener
	MessageListenerCount() int
	IsRegistered() bool

	AddDestinationEventListener(listener contracts.DestinationEventListener, props contracts.Properties)
	RemoveDestinationEventListener(props contracts.Properties) bool

	AddInboundMessageProcessorFactory(factory contracts.InboundMessageProcessorFactory, props contracts.Properties)
	RemoveInboundMessageProcessorFactory(props contracts.Properties) bool
	// InboundMessageProcessors returns fresh processors, one per factory
	InboundMessageProcessors() []contracts.InboundMessageProcessor

	AddOutboundMessageProcessorFactory(factory contracts.OutboundMessageProcessorFactory, props contracts.Properties)
	RemoveOutboundMessageProcessorFactory(props contracts.Properties) bool
	// OutboundMessageProcessors returns fresh processors, one per factory
	OutboundMessageProcessors() []contracts.OutboundMessageProcessor

	Statistics() contracts.DestinationStatistics
}

// DestinationOption configures a destination
type DestinationOption func(*baseDestination)

// WithDestinationLogger sets the logger
func WithDestinationLogger(logger *slog.Logger) DestinationOption {
	return func(d *baseDestination) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// baseDestination holds the registries shared by every destination type
type baseDestination struct {
	name   string
	typ    contracts.DestinationType
	logger *slog.Logger

	listeners      *registry.Ranked[contracts.MessageListener]
	eventListeners *registry.Ranked[contracts.DestinationEventListener]
	inbound        *registry.Ranked[contracts.InboundMessageProcessorFactory]
	outbound       *registry.Ranked[contracts.OutboundMessageProcessorFactory]
}

func newBaseDestination(name string, typ contracts.DestinationType, opts ...DestinationOption) baseDestination {
	d := baseDestination{
		name:           name,
		typ:            typ,
		logger:         slog.Default(),
		listeners:      registry.New[contracts.MessageListener](),
		eventListeners: registry.New[contracts.DestinationEventListener](),
		inbound:        registry.New[contracts.InboundMessageProcessorFactory](),
		outbound:       registry.New[contracts.OutboundMessageProcessorFactory](),
	}
	for _, opt := range opts {
		opt(&d)
	}
	d.logger = d.logger.With("destination", name)
	return d
}

// Name returns the destination name
func (d *baseDestination) Name() string {
	return d.name
}

// Type returns the destination type
func (d *baseDestination) Type() contracts.DestinationType {
	return d.typ
}

// AddMessageListener registers a listener and notifies destination event listeners
func (d *baseDestination) AddMessageListener(listener contracts.MessageListener, props contracts.Properties) {
	if listener == nil {
		return
	}
	d.listeners.Add(listener, props)

	for _, l := range d.eventListeners.Values() {
		l.MessageListenerRegistered(d.name, listener)
	}
}

// RemoveMessageListener unregisters the listener identified by props
func (d *baseDestination) RemoveMessageListener(props contracts.Properties) bool {
	entry, ok := d.listeners.RemoveByProperties(props)
	if !ok {
		return false
	}

	for _, l := range d.eventListeners.Values() {
		l.MessageListenerUnregistered(d.name, entry.Value)
	}
	return true
}

// MessageListeners returns the registered listeners in rank order
func (d *baseDestination) MessageListeners() []contracts.MessageListener {
	return d.listeners.Values()
}

// MessageListenerCount returns the number of registered listeners
func (d *baseDestination) MessageListenerCount() int {
	return d.listeners.Len()
}

// IsRegistered reports whether at least one listener is registered
func (d *baseDestination) IsRegistered() bool {
	return d.listeners.Len() > 0
}

func (d *baseDestination) AddDestinationEventListener(listener contracts.DestinationEventListener, props contracts.Properties) {
	if listener == nil {
		return
	}
	d.eventListeners.Add(listener, props)
}

func (d *baseDestination) RemoveDestinationEventListener(props contracts.Properties) bool {
	_, ok := d.eventListeners.RemoveByProperties(props)
	return ok
}

func (d *baseDestination) AddInboundMessageProcessorFactory(factory contracts.InboundMessageProcessorFactory, props contracts.Properties) {
	if factory == nil {
		return
	}
	d.inbound.Add(factory, props)
}

func (d *baseDestination) RemoveInboundMessageProcessorFactory(props contracts.Properties) bool {
	_, ok := d.inbound.RemoveByProperties(props)
	return ok
}

func (d *baseDestination) InboundMessageProcessors() []contracts.InboundMessageProcessor {
	factories := d.inbound.Values()
	processors := make([]contracts.InboundMessageProcessor, 0, len(factories))
	for _, f := range factories {
		if p := f.Create(); p != nil {
			processors = append(processors, p)
		}
	}
	return processors
}

func (d *baseDestination) AddOutboundMessageProcessorFactory(factory contracts.OutboundMessageProcessorFactory, props contracts.Properties) {
	if factory == nil {
		return
	}
	d.outbound.Add(factory, props)
}

func (d *baseDestination) RemoveOutboundMessageProcessorFactory(props contracts.Properties) bool {
	_, ok := d.outbound.RemoveByProperties(props)
	return ok
}

func (d *baseDestination) OutboundMessageProcessors() []contracts.OutboundMessageProcessor {
	factories := d.outbound.Values()
	processors := make([]contracts.OutboundMessageProcessor, 0, len(factories))
	for _, f := range factories {
		if p := f.Create(); p != nil {
			processors = append(processors, p)
		}
	}
	return processors
}

// deliver invokes one listener, turning errors and panics into a ListenerError
func (d *baseDestination) deliver(ctx context.Context, listener contracts.MessageListener, msg *contracts.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &contracts.ListenerError{Destination: d.name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := listener.Receive(ctx, msg); err != nil {
		return &contracts.ListenerError{Destination: d.name, Err: err}
	}
	return nil
}

// deliverAll invokes every listener in order. Failures are logged and do
// not stop delivery to the remaining listeners.
func (d *baseDestination) deliverAll(ctx context.Context, listeners []contracts.MessageListener, msg *contracts.Message) {
	for _, listener := range listeners {
		if err := d.deliver(ctx, listener, msg); err != nil {
			d.logger.Error("Unable to process message", "message", msg, "error", err)
		}
	}
}

func (d *baseDestination) beforeReceive(ctx context.Context, processors []contracts.InboundMessageProcessor, msg *contracts.Message) *contracts.Message {
	for _, p := range processors {
		m, err := p.BeforeReceive(ctx, msg)
		if err != nil {
			d.logger.Error("Unable to process message before receive", "error", &contracts.ProcessorError{Stage: "beforeReceive", Err: err})
			continue
		}
		if m != nil {
			msg = m
		}
	}
	return msg
}

func (d *baseDestination) beforeThread(ctx context.Context, processors []contracts.InboundMessageProcessor, msg *contracts.Message) *contracts.Message {
	for _, p := range processors {
		m, err := p.BeforeThread(ctx, msg)
		if err != nil {
			d.logger.Error("Unable to process message before thread", "error", &contracts.ProcessorError{Stage: "beforeThread", Err: err})
			continue
		}
		if m != nil {
			msg = m
		}
	}
	return msg
}

func (d *baseDestination) afterThread(ctx context.Context, processors []contracts.InboundMessageProcessor, msg *contracts.Message) {
	for _, p := range processors {
		if err := p.AfterThread(ctx, msg); err != nil {
			d.logger.Error("Unable to process message after thread", "error", &contracts.ProcessorError{Stage: "afterThread", Err: err})
		}
	}
}

func (d *baseDestination) afterReceive(ctx context.Context, processors []contracts.InboundMessageProcessor, msg *contracts.Message) {
	for _, p := range processors {
		if err := p.AfterReceive(ctx, msg); err != nil {
			d.logger.Error("Unable to process message after receive", "error", &contracts.ProcessorError{Stage: "afterReceive", Err: err})
		}
	}
}
