package messaging

import (
	"context"
	"time"

	"github.com/glimte/mmate-bus/contracts"
)

// MessageBuilderFactory creates builders that send through a bus
type MessageBuilderFactory struct {
	bus *MessageBus
}

// NewMessageBuilderFactory creates a builder factory for bus
func NewMessageBuilderFactory(bus *MessageBus) *MessageBuilderFactory {
	return &MessageBuilderFactory{bus: bus}
}

// Create starts a message for destinationName
func (f *MessageBuilderFactory) Create(destinationName string) *MessageBuilder {
	return &MessageBuilder{bus: f.bus, msg: &contracts.Message{DestinationName: destinationName}}
}

// CreateResponse starts the reply to request. The reply goes to the
// request's response destination and carries its response id.
func (f *MessageBuilderFactory) CreateResponse(request *contracts.Message) *MessageBuilder {
	return &MessageBuilder{
		bus: f.bus,
		msg: &contracts.Message{
			DestinationName: request.ResponseDestinationName,
			ResponseID:      request.ResponseID,
		},
	}
}

// MessageBuilder assembles and sends one message
type MessageBuilder struct {
	bus *MessageBus
	msg *contracts.Message
}

func (b *MessageBuilder) SetDestinationName(name string) *MessageBuilder {
	b.msg.DestinationName = name
	return b
}

func (b *MessageBuilder) SetPayload(payload any) *MessageBuilder {
	b.msg.Payload = payload
	return b
}

func (b *MessageBuilder) SetResponse(response any) *MessageBuilder {
	b.msg.Response = response
	return b
}

func (b *MessageBuilder) SetResponseDestinationName(name string) *MessageBuilder {
	b.msg.ResponseDestinationName = name
	return b
}

func (b *MessageBuilder) SetResponseID(id string) *MessageBuilder {
	b.msg.ResponseID = id
	return b
}

func (b *MessageBuilder) SetValues(values map[string]any) *MessageBuilder {
	b.msg.SetValues(values)
	return b
}

// Put stores a value on the message. A nil value removes the key.
func (b *MessageBuilder) Put(key string, value any) *MessageBuilder {
	b.msg.Put(key, value)
	return b
}

// Build returns the assembled message
func (b *MessageBuilder) Build() *contracts.Message {
	return b.msg
}

// Send sends the message to its destination
func (b *MessageBuilder) Send(ctx context.Context) error {
	if b.msg.DestinationName == "" {
		return contracts.ErrMissingDestinationName
	}
	return b.bus.SendMessage(ctx, b.msg.DestinationName, b.msg)
}

// SendSynchronous sends the message and waits up to the default timeout for the response
func (b *MessageBuilder) SendSynchronous(ctx context.Context) (any, error) {
	if b.msg.DestinationName == "" {
		return nil, contracts.ErrMissingDestinationName
	}
	return b.bus.SendSynchronousMessage(ctx, b.msg.DestinationName, b.msg)
}

// SendSynchronousWithTimeout sends the message and waits up to timeout for the response
func (b *MessageBuilder) SendSynchronousWithTimeout(ctx context.Context, timeout time.Duration) (any, error) {
	if b.msg.DestinationName == "" {
		return nil, contracts.ErrMissingDestinationName
	}
	return b.bus.SendSynchronousMessageWithTimeout(ctx, b.msg.DestinationName, b.msg, timeout)
}
