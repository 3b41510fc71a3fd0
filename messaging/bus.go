package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/glimte/mmate-bus/contracts"
	"github.com/glimte/mmate-bus/internal/registry"
)

// DefaultSynchronousTimeout bounds synchronous sends that give no timeout
const DefaultSynchronousTimeout = 10 * time.Second

// MessageBusEventListener is notified when destinations are added to or
// removed from the bus
type MessageBusEventListener interface {
	DestinationAdded(dest Destination)
	DestinationRemoved(dest Destination)
}

// MessageBusEventListenerFuncs adapts a pair of functions to
// MessageBusEventListener. Either function may be nil.
type MessageBusEventListenerFuncs struct {
	Added   func(dest Destination)
	Removed func(dest Destination)
}

// DestinationAdded implements MessageBusEventListener
func (f MessageBusEventListenerFuncs) DestinationAdded(dest Destination) {
	if f.Added != nil {
		f.Added(dest)
	}
}

// DestinationRemoved implements MessageBusEventListener
func (f MessageBusEventListenerFuncs) DestinationRemoved(dest Destination) {
	if f.Removed != nil {
		f.Removed(dest)
	}
}

// BusOption configures the MessageBus
type BusOption func(*MessageBus)

// WithBusLogger sets the logger
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *MessageBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithDestinationFactory sets the factory used by RegisterDestination
func WithDestinationFactory(factory DestinationFactory) BusOption {
	return func(b *MessageBus) {
		b.factory = factory
	}
}

// WithSynchronousSenderMode selects the sender used for synchronous sends
func WithSynchronousSenderMode(mode SenderMode) BusOption {
	return func(b *MessageBus) {
		b.mode = mode
	}
}

// WithDefaultTimeout sets the timeout of synchronous sends that give none
func WithDefaultTimeout(timeout time.Duration) BusOption {
	return func(b *MessageBus) {
		if timeout > 0 {
			b.timeout = timeout
		}
	}
}

// MessageBus routes messages to named destinations.
//
// Collaborators registered through the bus (listeners, processor
// factories, destination event listeners) are routed by the
// destination.name property. They may be registered before their
// destination exists and are bound to it when it is registered.
// DestinationEventListener callbacks run while registrations are being
// applied and must not register or unregister destinations.
type MessageBus struct {
	logger  *slog.Logger
	factory DestinationFactory
	mode    SenderMode
	timeout time.Duration

	senderMu sync.RWMutex
	senders  *SenderFactory

	// regMu orders registrations so every bus event listener sees each
	// destination added and removed exactly once
	regMu        sync.Mutex
	mu           sync.RWMutex
	byName       map[string]registry.Entry[Destination]
	destinations *registry.Ranked[Destination]

	eventListeners            *registry.Ranked[MessageBusEventListener]
	listeners                 *registry.Ranked[contracts.MessageListener]
	destinationEventListeners *registry.Ranked[contracts.DestinationEventListener]
	inboundFactories          *registry.Ranked[contracts.InboundMessageProcessorFactory]
	outboundFactories         *registry.Ranked[contracts.OutboundMessageProcessorFactory]
}

// NewMessageBus creates an empty bus
func NewMessageBus(opts ...BusOption) *MessageBus {
	b := &MessageBus{
		logger:                    slog.Default(),
		mode:                      SenderModeDefault,
		timeout:                   DefaultSynchronousTimeout,
		byName:                    make(map[string]registry.Entry[Destination]),
		destinations:              registry.New[Destination](),
		eventListeners:            registry.New[MessageBusEventListener](),
		listeners:                 registry.New[contracts.MessageListener](),
		destinationEventListeners: registry.New[contracts.DestinationEventListener](),
		inboundFactories:          registry.New[contracts.InboundMessageProcessorFactory](),
		outboundFactories:         registry.New[contracts.OutboundMessageProcessorFactory](),
	}

	for _, opt := range opts {
		opt(b)
	}
	if b.factory == nil {
		b.factory = NewDefaultDestinationFactory(b.logger)
	}
	return b
}

// SetDestinationFactory replaces the destination factory
func (b *MessageBus) SetDestinationFactory(factory DestinationFactory) {
	b.regMu.Lock()
	defer b.regMu.Unlock()
	b.factory = factory
}

// SetSenderFactory replaces the synchronous sender factory
func (b *MessageBus) SetSenderFactory(factory *SenderFactory) {
	b.senderMu.Lock()
	defer b.senderMu.Unlock()
	b.senders = factory
}

// SenderFactory returns the synchronous sender factory, or nil
func (b *MessageBus) SenderFactory() *SenderFactory {
	b.senderMu.RLock()
	defer b.senderMu.RUnlock()
	return b.senders
}

// DefaultTimeout returns the timeout applied to synchronous sends that give none
func (b *MessageBus) DefaultTimeout() time.Duration {
	return b.timeout
}

// RegisterDestination builds, opens and registers a destination. If a
// destination with the same name exists it is returned unchanged.
func (b *MessageBus) RegisterDestination(cfg contracts.DestinationConfiguration, props contracts.Properties) (Destination, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b.regMu.Lock()
	if existing, ok := b.lookup(cfg.Name); ok {
		b.regMu.Unlock()
		return existing, nil
	}
	if b.factory == nil {
		b.regMu.Unlock()
		return nil, contracts.ErrNoDestinationFactory
	}

	dest, err := b.factory.CreateDestination(cfg)
	if err != nil {
		b.regMu.Unlock()
		return nil, err
	}
	return dest, b.addLocked(dest, props, nil)
}

// AddDestination opens and registers a destination built elsewhere. A
// destination with the same name is replaced.
func (b *MessageBus) AddDestination(dest Destination, props contracts.Properties) error {
	if dest == nil || dest.Name() == "" {
		return contracts.ErrMissingDestinationName
	}

	b.regMu.Lock()
	return b.addLocked(dest, props, b.removeLocked(dest.Name()))
}

// addLocked is called with regMu held and releases it. replaced, when set,
// finishes the removal of the destination previously registered under the
// same name and runs before the added event is published.
func (b *MessageBus) addLocked(dest Destination, props contracts.Properties, replaced func()) error {
	name := dest.Name()

	if err := dest.Open(); err != nil {
		b.regMu.Unlock()
		if replaced != nil {
			replaced()
		}
		return err
	}

	b.bindLocked(dest)

	if props == nil {
		props = contracts.Properties{}
	}
	props[contracts.PropertyDestinationName] = name
	entry := b.destinations.Add(dest, props)

	b.mu.Lock()
	b.byName[name] = entry
	b.mu.Unlock()

	listeners := b.eventListeners.Values()
	b.regMu.Unlock()

	if replaced != nil {
		replaced()
	}
	b.logger.Info("Registered destination", "destination", name, "type", dest.Type())

	for _, l := range listeners {
		l.DestinationAdded(dest)
	}
	return nil
}

// bindLocked applies every bus-level registration targeting dest
func (b *MessageBus) bindLocked(dest Destination) {
	name := dest.Name()

	for _, e := range b.outboundFactories.Entries() {
		if e.Props.DestinationName() == name {
			dest.AddOutboundMessageProcessorFactory(e.Value, e.Props)
		}
	}
	for _, e := range b.inboundFactories.Entries() {
		if e.Props.DestinationName() == name {
			dest.AddInboundMessageProcessorFactory(e.Value, e.Props)
		}
	}
	for _, e := range b.destinationEventListeners.Entries() {
		if e.Props.DestinationName() == name {
			dest.AddDestinationEventListener(e.Value, e.Props)
		}
	}
	for _, e := range b.listeners.Entries() {
		if e.Props.DestinationName() == name {
			dest.AddMessageListener(e.Value, e.Props)
		}
	}
}

// UnregisterDestination removes, announces and disposes of a destination.
// Unknown names are ignored.
func (b *MessageBus) UnregisterDestination(name string) error {
	b.regMu.Lock()
	finish := b.removeLocked(name)
	b.regMu.Unlock()

	if finish != nil {
		finish()
	}
	return nil
}

// removeLocked drops name from the registry while regMu is held. The
// returned func publishes the removal and disposes the destination; it must
// be called after regMu is released. It is nil when name is not registered.
func (b *MessageBus) removeLocked(name string) func() {
	entry, ok := b.lookupEntry(name)
	if !ok {
		return nil
	}

	b.mu.Lock()
	delete(b.byName, name)
	b.mu.Unlock()
	b.destinations.Remove(entry.ID)

	listeners := b.eventListeners.Values()
	factory := b.factory

	return func() {
		for _, l := range listeners {
			l.DestinationRemoved(entry.Value)
		}

		if factory != nil {
			factory.Dispose(entry.Value)
		} else {
			entry.Value.Close(false)
		}

		b.logger.Info("Unregistered destination", "destination", name)
	}
}

func (b *MessageBus) lookupEntry(name string) (registry.Entry[Destination], bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.byName[name]
	return entry, ok
}

func (b *MessageBus) lookup(name string) (Destination, bool) {
	entry, ok := b.lookupEntry(name)
	return entry.Value, ok
}

// GetDestination returns the destination registered under name
func (b *MessageBus) GetDestination(name string) (Destination, bool) {
	return b.lookup(name)
}

// HasDestination reports whether name is registered
func (b *MessageBus) HasDestination(name string) bool {
	_, ok := b.lookup(name)
	return ok
}

// HasMessageListener reports whether name is registered and has listeners
func (b *MessageBus) HasMessageListener(name string) bool {
	dest, ok := b.lookup(name)
	return ok && dest.IsRegistered()
}

// DestinationCount returns the number of registered destinations
func (b *MessageBus) DestinationCount() int {
	return b.destinations.Len()
}

// DestinationNames returns the registered names in sorted order
func (b *MessageBus) DestinationNames() []string {
	b.mu.RLock()
	names := make([]string, 0, len(b.byName))
	for name := range b.byName {
		names = append(names, name)
	}
	b.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Destinations returns the registered destinations in rank order
func (b *MessageBus) Destinations() []Destination {
	return b.destinations.Values()
}

// AddMessageBusEventListener registers listener and immediately reports
// every existing destination to it as added
func (b *MessageBus) AddMessageBusEventListener(listener MessageBusEventListener, props contracts.Properties) {
	if listener == nil {
		return
	}

	b.regMu.Lock()
	b.eventListeners.Add(listener, props)
	existing := b.destinations.Values()
	b.regMu.Unlock()

	for _, dest := range existing {
		listener.DestinationAdded(dest)
	}
}

// RemoveMessageBusEventListener unregisters the listener identified by
// props and reports every existing destination to it as removed
func (b *MessageBus) RemoveMessageBusEventListener(props contracts.Properties) bool {
	b.regMu.Lock()
	entry, ok := b.eventListeners.RemoveByProperties(props)
	existing := b.destinations.Values()
	b.regMu.Unlock()

	if !ok {
		return false
	}
	for _, dest := range existing {
		entry.Value.DestinationRemoved(dest)
	}
	return true
}

// AddMessageListener registers listener for the destination named in props
func (b *MessageBus) AddMessageListener(listener contracts.MessageListener, props contracts.Properties) error {
	name := props.DestinationName()
	if name == "" {
		return contracts.ErrMissingDestinationName
	}

	b.regMu.Lock()
	defer b.regMu.Unlock()

	b.listeners.Add(listener, props)
	if dest, ok := b.lookup(name); ok {
		dest.AddMessageListener(listener, props)
	}
	return nil
}

// RemoveMessageListener unregisters the listener identified by props
func (b *MessageBus) RemoveMessageListener(props contracts.Properties) bool {
	b.regMu.Lock()
	defer b.regMu.Unlock()

	_, ok := b.listeners.RemoveByProperties(props)
	if dest, found := b.lookup(props.DestinationName()); found {
		ok = dest.RemoveMessageListener(props) || ok
	}
	return ok
}

// AddDestinationEventListener registers listener for the destination named in props
func (b *MessageBus) AddDestinationEventListener(listener contracts.DestinationEventListener, props contracts.Properties) error {
	name := props.DestinationName()
	if name == "" {
		return contracts.ErrMissingDestinationName
	}

	b.regMu.Lock()
	defer b.regMu.Unlock()

	b.destinationEventListeners.Add(listener, props)
	if dest, ok := b.lookup(name); ok {
		dest.AddDestinationEventListener(listener, props)
	}
	return nil
}

// RemoveDestinationEventListener unregisters the listener identified by props
func (b *MessageBus) RemoveDestinationEventListener(props contracts.Properties) bool {
	b.regMu.Lock()
	defer b.regMu.Unlock()

	_, ok := b.destinationEventListeners.RemoveByProperties(props)
	if dest, found := b.lookup(props.DestinationName()); found {
		ok = dest.RemoveDestinationEventListener(props) || ok
	}
	return ok
}

// AddInboundMessageProcessorFactory registers factory for the destination named in props
func (b *MessageBus) AddInboundMessageProcessorFactory(factory contracts.InboundMessageProcessorFactory, props contracts.Properties) error {
	name := props.DestinationName()
	if name == "" {
		return contracts.ErrMissingDestinationName
	}

	b.regMu.Lock()
	defer b.regMu.Unlock()

	b.inboundFactories.Add(factory, props)
	if dest, ok := b.lookup(name); ok {
		dest.AddInboundMessageProcessorFactory(factory, props)
	}
	return nil
}

// RemoveInboundMessageProcessorFactory unregisters the factory identified by props
func (b *MessageBus) RemoveInboundMessageProcessorFactory(props contracts.Properties) bool {
	b.regMu.Lock()
	defer b.regMu.Unlock()

	_, ok := b.inboundFactories.RemoveByProperties(props)
	if dest, found := b.lookup(props.DestinationName()); found {
		ok = dest.RemoveInboundMessageProcessorFactory(props) || ok
	}
	return ok
}

// AddOutboundMessageProcessorFactory registers factory for the destination named in props
func (b *MessageBus) AddOutboundMessageProcessorFactory(factory contracts.OutboundMessageProcessorFactory, props contracts.Properties) error {
	name := props.DestinationName()
	if name == "" {
		return contracts.ErrMissingDestinationName
	}

	b.regMu.Lock()
	defer b.regMu.Unlock()

	b.outboundFactories.Add(factory, props)
	if dest, ok := b.lookup(name); ok {
		dest.AddOutboundMessageProcessorFactory(factory, props)
	}
	return nil
}

// RemoveOutboundMessageProcessorFactory unregisters the factory identified by props
func (b *MessageBus) RemoveOutboundMessageProcessorFactory(props contracts.Properties) bool {
	b.regMu.Lock()
	defer b.regMu.Unlock()

	_, ok := b.outboundFactories.RemoveByProperties(props)
	if dest, found := b.lookup(props.DestinationName()); found {
		ok = dest.RemoveOutboundMessageProcessorFactory(props) || ok
	}
	return ok
}

// SendMessage delivers msg to the named destination. A missing destination
// is logged and ignored. Outbound processors run around the send: a
// BeforeSend failure aborts delivery, and every AfterSend runs regardless.
func (b *MessageBus) SendMessage(ctx context.Context, destinationName string, msg *contracts.Message) error {
	dest, ok := b.lookup(destinationName)
	if !ok {
		b.logger.Warn("Unable to send message to missing destination", "destination", destinationName)
		return nil
	}

	msg.DestinationName = destinationName
	processors := dest.OutboundMessageProcessors()

	var sendErr error
	for _, p := range processors {
		m, err := p.BeforeSend(ctx, msg)
		if err != nil {
			sendErr = &contracts.MessageBusError{
				Op:          "send",
				Destination: destinationName,
				Message:     "unable to process message before sending",
				Err:         &contracts.ProcessorError{Stage: "beforeSend", Err: err},
			}
			break
		}
		if m != nil {
			msg = m
		}
	}

	if sendErr == nil {
		if err := dest.Send(ctx, msg); err != nil {
			sendErr = &contracts.MessageBusError{Op: "send", Destination: destinationName, Err: err}
		}
	}

	var afterErrs []error
	for _, p := range processors {
		if err := p.AfterSend(ctx, msg); err != nil {
			afterErrs = append(afterErrs, &contracts.ProcessorError{Stage: "afterSend", Err: err})
		}
	}
	if len(afterErrs) > 0 {
		afterErr := &contracts.MessageBusError{
			Op:          "send",
			Destination: destinationName,
			Message:     "unable to process message after sending",
			Err:         errors.Join(afterErrs...),
		}
		return errors.Join(sendErr, afterErr)
	}

	return sendErr
}

// SendPayload wraps payload in a message and sends it
func (b *MessageBus) SendPayload(ctx context.Context, destinationName string, payload any) error {
	return b.SendMessage(ctx, destinationName, contracts.NewMessage(payload))
}

// SendSynchronousMessage sends msg and waits up to the default timeout for
// the response
func (b *MessageBus) SendSynchronousMessage(ctx context.Context, destinationName string, msg *contracts.Message) (any, error) {
	sender, err := b.synchronousSender()
	if err != nil {
		return nil, err
	}
	return sender.Send(ctx, destinationName, msg)
}

// SendSynchronousMessageWithTimeout sends msg and waits up to timeout for
// the response
func (b *MessageBus) SendSynchronousMessageWithTimeout(ctx context.Context, destinationName string, msg *contracts.Message, timeout time.Duration) (any, error) {
	sender, err := b.synchronousSender()
	if err != nil {
		return nil, err
	}
	return sender.SendWithTimeout(ctx, destinationName, msg, timeout)
}

// SendSynchronousPayload wraps payload in a message and sends it synchronously
func (b *MessageBus) SendSynchronousPayload(ctx context.Context, destinationName string, payload any, responseDestinationName string) (any, error) {
	msg := contracts.NewMessage(payload)
	msg.ResponseDestinationName = responseDestinationName
	return b.SendSynchronousMessage(ctx, destinationName, msg)
}

func (b *MessageBus) synchronousSender() (SynchronousMessageSender, error) {
	factory := b.SenderFactory()
	if factory == nil {
		return nil, contracts.ErrNoSynchronousSender
	}
	sender := factory.Sender(b.mode)
	if sender == nil {
		return nil, contracts.ErrNoSynchronousSender
	}
	return sender, nil
}

// RegisterDefaultDestinations registers the default response destination
// and the message status destination
func (b *MessageBus) RegisterDefaultDestinations() error {
	defaults := []contracts.DestinationConfiguration{
		contracts.NewSynchronousDestinationConfiguration(contracts.DefaultResponseDestinationName),
		contracts.NewParallelDestinationConfiguration(contracts.MessageStatusDestinationName),
	}
	for _, cfg := range defaults {
		if _, err := b.RegisterDestination(cfg, nil); err != nil {
			return err
		}
	}
	return nil
}

// Close unregisters every destination
func (b *MessageBus) Close() error {
	var errs []error
	for _, name := range b.DestinationNames() {
		if err := b.UnregisterDestination(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
