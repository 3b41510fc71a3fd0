package contracts

import "context"

// InboundMessageProcessor wraps delivery on the receiving side. BeforeReceive
// and AfterReceive run on the sending goroutine, BeforeThread and AfterThread
// on the goroutine that invokes the listeners. A processor may return a
// replacement message from the Before hooks.
type InboundMessageProcessor interface {
	BeforeReceive(ctx context.Context, msg *Message) (*Message, error)
	BeforeThread(ctx context.Context, msg *Message) (*Message, error)
	AfterThread(ctx context.Context, msg *Message) error
	AfterReceive(ctx context.Context, msg *Message) error
}

// InboundMessageProcessorFactory creates one processor per delivered message
type InboundMessageProcessorFactory interface {
	Create() InboundMessageProcessor
}

// InboundMessageProcessorFactoryFunc is a function adapter for InboundMessageProcessorFactory
type InboundMessageProcessorFactoryFunc func() InboundMessageProcessor

// Create implements InboundMessageProcessorFactory
func (f InboundMessageProcessorFactoryFunc) Create() InboundMessageProcessor {
	return f()
}

// OutboundMessageProcessor wraps a send. A BeforeSend failure aborts delivery.
type OutboundMessageProcessor interface {
	BeforeSend(ctx context.Context, msg *Message) (*Message, error)
	AfterSend(ctx context.Context, msg *Message) error
}

// OutboundMessageProcessorFactory creates one processor per sent message
type OutboundMessageProcessorFactory interface {
	Create() OutboundMessageProcessor
}

// OutboundMessageProcessorFactoryFunc is a function adapter for OutboundMessageProcessorFactory
type OutboundMessageProcessorFactoryFunc func() OutboundMessageProcessor

// Create implements OutboundMessageProcessorFactory
func (f OutboundMessageProcessorFactoryFunc) Create() OutboundMessageProcessor {
	return f()
}

// BaseInboundProcessor is a no-op InboundMessageProcessor meant for embedding
type BaseInboundProcessor struct{}

func (BaseInboundProcessor) BeforeReceive(_ context.Context, msg *Message) (*Message, error) {
	return msg, nil
}

func (BaseInboundProcessor) BeforeThread(_ context.Context, msg *Message) (*Message, error) {
	return msg, nil
}

func (BaseInboundProcessor) AfterThread(context.Context, *Message) error {
	return nil
}

func (BaseInboundProcessor) AfterReceive(context.Context, *Message) error {
	return nil
}

// BaseOutboundProcessor is a no-op OutboundMessageProcessor meant for embedding
type BaseOutboundProcessor struct{}

func (BaseOutboundProcessor) BeforeSend(_ context.Context, msg *Message) (*Message, error) {
	return msg, nil
}

func (BaseOutboundProcessor) AfterSend(context.Context, *Message) error {
	return nil
}
