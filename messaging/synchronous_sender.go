package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/glimte/mmate-bus/contracts"
	"github.com/google/uuid"
)

// SynchronousMessageSender sends a message and waits for its response
type SynchronousMessageSender interface {
	// Send waits up to the bus default timeout
	Send(ctx context.Context, destinationName string, msg *contracts.Message) (any, error)
	SendWithTimeout(ctx context.Context, destinationName string, msg *contracts.Message, timeout time.Duration) (any, error)
}

// SenderOption configures a synchronous sender
type SenderOption func(*senderConfig)

type senderConfig struct {
	logger *slog.Logger
}

// WithSenderLogger sets the logger
func WithSenderLogger(logger *slog.Logger) SenderOption {
	return func(c *senderConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func newSenderConfig(opts []SenderOption) senderConfig {
	cfg := senderConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DefaultSynchronousMessageSender correlates requests and responses through
// a response destination. For every request it registers a temporary
// listener on the response destination that waits for a message carrying
// the request's response id.
type DefaultSynchronousMessageSender struct {
	bus    *MessageBus
	logger *slog.Logger
}

// NewDefaultSynchronousMessageSender creates a correlating sender for bus
func NewDefaultSynchronousMessageSender(bus *MessageBus, opts ...SenderOption) *DefaultSynchronousMessageSender {
	cfg := newSenderConfig(opts)
	return &DefaultSynchronousMessageSender{bus: bus, logger: cfg.logger}
}

// Send implements SynchronousMessageSender
func (s *DefaultSynchronousMessageSender) Send(ctx context.Context, destinationName string, msg *contracts.Message) (any, error) {
	return s.SendWithTimeout(ctx, destinationName, msg, s.bus.DefaultTimeout())
}

// SendWithTimeout implements SynchronousMessageSender. It returns nil
// without error when the destination is missing or has no listeners.
func (s *DefaultSynchronousMessageSender) SendWithTimeout(ctx context.Context, destinationName string, msg *contracts.Message, timeout time.Duration) (any, error) {
	dest, ok := s.bus.GetDestination(destinationName)
	if !ok {
		s.logger.Info("Destination is not configured", "destination", destinationName)
		return nil, nil
	}
	if !dest.IsRegistered() {
		s.logger.Info("Destination does not have any message listeners", "destination", destinationName)
		return nil, nil
	}

	msg.DestinationName = destinationName

	responseName := msg.ResponseDestinationName
	if responseName == "" || !s.bus.HasDestination(responseName) {
		s.logger.Debug("Using default response destination", "destination", destinationName, "responseDestination", responseName)
		responseName = contracts.DefaultResponseDestinationName
		msg.ResponseDestinationName = responseName
	}

	responseDest, ok := s.bus.GetDestination(responseName)
	if !ok {
		return nil, &contracts.MessageBusError{Op: "sendSynchronous", Destination: responseName, Err: contracts.ErrNoResponseDestination}
	}

	msg.ResponseID = uuid.New().String()

	waiter := newResponseWaiter(msg.ResponseID)
	return waiter.await(ctx, s.bus, responseDest, destinationName, msg, timeout)
}

// responseWaiter is the temporary listener for one request
type responseWaiter struct {
	responseID string
	done       chan struct{}
	once       sync.Once
	result     any
}

func newResponseWaiter(responseID string) *responseWaiter {
	return &responseWaiter{responseID: responseID, done: make(chan struct{})}
}

// Receive implements contracts.MessageListener. Messages for other requests are ignored.
func (w *responseWaiter) Receive(_ context.Context, msg *contracts.Message) error {
	if msg.ResponseID != w.responseID {
		return nil
	}
	w.once.Do(func() {
		w.result = msg.Payload
		close(w.done)
	})
	return nil
}

func (w *responseWaiter) await(ctx context.Context, bus *MessageBus, responseDest Destination, destinationName string, msg *contracts.Message, timeout time.Duration) (any, error) {
	props := contracts.Properties{
		contracts.PropertyDestinationName: responseDest.Name(),
		contracts.PropertyServiceRanking:  math.MinInt32,
	}
	responseDest.AddMessageListener(w, props)
	defer responseDest.RemoveMessageListener(props)

	if err := bus.SendMessage(ctx, destinationName, msg); err != nil {
		return nil, err
	}

	// A reply that is already in wins over an expired timer or context.
	if result, ok := w.poll(); ok {
		return w.reply(result, destinationName, msg)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return w.reply(w.result, destinationName, msg)
	case <-timer.C:
		if result, ok := w.poll(); ok {
			return w.reply(result, destinationName, msg)
		}
		return nil, &contracts.MessageBusError{Op: "sendSynchronous", Destination: destinationName, Message: msg.String(), Err: contracts.ErrNoReply}
	case <-ctx.Done():
		if result, ok := w.poll(); ok {
			return w.reply(result, destinationName, msg)
		}
		return nil, &contracts.MessageBusError{Op: "sendSynchronous", Destination: destinationName, Err: errors.Join(contracts.ErrInterrupted, ctx.Err())}
	}
}

// poll reports the reply without blocking
func (w *responseWaiter) poll() (any, bool) {
	select {
	case <-w.done:
		return w.result, true
	default:
		return nil, false
	}
}

func (w *responseWaiter) reply(result any, destinationName string, msg *contracts.Message) (any, error) {
	if result == nil {
		return nil, &contracts.MessageBusError{Op: "sendSynchronous", Destination: destinationName, Message: msg.String(), Err: contracts.ErrNoReply}
	}
	return result, nil
}

// DirectSynchronousMessageSender calls the listeners of the destination on
// the sending goroutine and returns whatever they stored in msg.Response.
// It does not support timeouts.
type DirectSynchronousMessageSender struct {
	bus    *MessageBus
	logger *slog.Logger
}

// NewDirectSynchronousMessageSender creates a direct sender for bus
func NewDirectSynchronousMessageSender(bus *MessageBus, opts ...SenderOption) *DirectSynchronousMessageSender {
	cfg := newSenderConfig(opts)
	return &DirectSynchronousMessageSender{bus: bus, logger: cfg.logger}
}

// Send implements SynchronousMessageSender
func (s *DirectSynchronousMessageSender) Send(ctx context.Context, destinationName string, msg *contracts.Message) (any, error) {
	dest, ok := s.bus.GetDestination(destinationName)
	if !ok {
		s.logger.Info("Destination is not configured", "destination", destinationName)
		return nil, nil
	}

	msg.DestinationName = destinationName

	if sd, ok := dest.(*SynchronousDestination); ok {
		if err := sd.Send(ctx, msg); err != nil {
			return nil, &contracts.MessageBusError{Op: "sendDirect", Destination: destinationName, Err: err}
		}
		return msg.Response, nil
	}

	for _, listener := range dest.MessageListeners() {
		if err := receiveDirect(ctx, listener, msg); err != nil {
			return nil, &contracts.MessageBusError{
				Op:          "sendDirect",
				Destination: destinationName,
				Err:         &contracts.ListenerError{Destination: destinationName, Err: err},
			}
		}
	}
	return msg.Response, nil
}

// SendWithTimeout implements SynchronousMessageSender. The timeout is ignored.
func (s *DirectSynchronousMessageSender) SendWithTimeout(ctx context.Context, destinationName string, msg *contracts.Message, timeout time.Duration) (any, error) {
	s.logger.Warn("Direct synchronous message sender does not support timeout", "destination", destinationName, "timeout", timeout)
	return s.Send(ctx, destinationName, msg)
}

func receiveDirect(ctx context.Context, listener contracts.MessageListener, msg *contracts.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return listener.Receive(ctx, msg)
}
