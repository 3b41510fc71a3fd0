package contracts

import "context"

// MessageListener receives messages delivered by a destination
type MessageListener interface {
	Receive(ctx context.Context, msg *Message) error
}

// MessageListenerFunc is a function adapter for MessageListener. Func
// listeners are compared by registration properties, never by value.
type MessageListenerFunc func(ctx context.Context, msg *Message) error

// Receive implements MessageListener
func (f MessageListenerFunc) Receive(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// DestinationEventListener is notified when listeners join or leave a destination
type DestinationEventListener interface {
	MessageListenerRegistered(destinationName string, listener MessageListener)
	MessageListenerUnregistered(destinationName string, listener MessageListener)
}

// DestinationEventListenerFuncs adapts a pair of functions to
// DestinationEventListener. Either function may be nil.
type DestinationEventListenerFuncs struct {
	Registered   func(destinationName string, listener MessageListener)
	Unregistered func(destinationName string, listener MessageListener)
}

// MessageListenerRegistered implements DestinationEventListener
func (f DestinationEventListenerFuncs) MessageListenerRegistered(destinationName string, listener MessageListener) {
	if f.Registered != nil {
		f.Registered(destinationName, listener)
	}
}

// MessageListenerUnregistered implements DestinationEventListener
func (f DestinationEventListenerFuncs) MessageListenerUnregistered(destinationName string, listener MessageListener) {
	if f.Unregistered != nil {
		f.Unregistered(destinationName, listener)
	}
}
