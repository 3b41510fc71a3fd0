package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glimte/mmate-bus/contracts"
)

// SenderMode selects a synchronous sender
type SenderMode string

const (
	SenderModeDefault SenderMode = "DEFAULT"
	SenderModeDirect  SenderMode = "DIRECT"
)

// ParseSenderMode converts a configuration string into a SenderMode
func ParseSenderMode(s string) (SenderMode, error) {
	switch m := SenderMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case "":
		return SenderModeDefault, nil
	case SenderModeDefault, SenderModeDirect:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown synchronous sender mode %q", contracts.ErrInvalidConfiguration, s)
	}
}

// SenderFactory holds the synchronous senders by mode and hands out
// senders bound to a single destination
type SenderFactory struct {
	bus *MessageBus

	mu                sync.RWMutex
	senders           map[SenderMode]SynchronousMessageSender
	singleSenders     map[string]*SingleDestinationMessageSender
	singleSyncSenders map[string]*SingleDestinationSynchronousMessageSender
}

// NewSenderFactory creates a factory with the default and direct senders
// registered for bus
func NewSenderFactory(bus *MessageBus, opts ...SenderOption) *SenderFactory {
	f := &SenderFactory{
		bus:               bus,
		senders:           make(map[SenderMode]SynchronousMessageSender),
		singleSenders:     make(map[string]*SingleDestinationMessageSender),
		singleSyncSenders: make(map[string]*SingleDestinationSynchronousMessageSender),
	}
	f.RegisterSender(SenderModeDefault, NewDefaultSynchronousMessageSender(bus, opts...))
	f.RegisterSender(SenderModeDirect, NewDirectSynchronousMessageSender(bus, opts...))
	return f
}

// RegisterSender adds or replaces the sender for mode
func (f *SenderFactory) RegisterSender(mode SenderMode, sender SynchronousMessageSender) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.senders[mode] = sender
	f.singleSyncSenders = make(map[string]*SingleDestinationSynchronousMessageSender)
}

// UnregisterSender removes the sender for mode
func (f *SenderFactory) UnregisterSender(mode SenderMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.senders, mode)
	f.singleSyncSenders = make(map[string]*SingleDestinationSynchronousMessageSender)
}

// Sender returns the sender for mode, or nil
func (f *SenderFactory) Sender(mode SenderMode) SynchronousMessageSender {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.senders[mode]
}

// ModesCount returns the number of registered modes
func (f *SenderFactory) ModesCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.senders)
}

// SingleDestinationSender returns a fire-and-forget sender bound to destinationName
func (f *SenderFactory) SingleDestinationSender(destinationName string) *SingleDestinationMessageSender {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.singleSenders[destinationName]; ok {
		return s
	}
	s := &SingleDestinationMessageSender{bus: f.bus, destinationName: destinationName}
	f.singleSenders[destinationName] = s
	return s
}

// SingleDestinationSynchronousSender returns a synchronous sender bound to
// destinationName using the sender registered for mode
func (f *SenderFactory) SingleDestinationSynchronousSender(destinationName string, mode SenderMode) (*SingleDestinationSynchronousMessageSender, error) {
	key := string(mode) + "|" + destinationName

	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.singleSyncSenders[key]; ok {
		return s, nil
	}
	sender, ok := f.senders[mode]
	if !ok {
		return nil, fmt.Errorf("%w: mode %s", contracts.ErrNoSynchronousSender, mode)
	}
	s := &SingleDestinationSynchronousMessageSender{
		sender:          sender,
		destinationName: destinationName,
		timeout:         f.bus.DefaultTimeout(),
	}
	f.singleSyncSenders[key] = s
	return s, nil
}

// SingleDestinationMessageSender sends to one destination
type SingleDestinationMessageSender struct {
	bus             *MessageBus
	destinationName string
}

// DestinationName returns the bound destination
func (s *SingleDestinationMessageSender) DestinationName() string {
	return s.destinationName
}

// Send sends msg to the bound destination
func (s *SingleDestinationMessageSender) Send(ctx context.Context, msg *contracts.Message) error {
	return s.bus.SendMessage(ctx, s.destinationName, msg)
}

// SendPayload sends payload to the bound destination
func (s *SingleDestinationMessageSender) SendPayload(ctx context.Context, payload any) error {
	return s.bus.SendPayload(ctx, s.destinationName, payload)
}

// SingleDestinationSynchronousMessageSender sends synchronously to one destination
type SingleDestinationSynchronousMessageSender struct {
	sender          SynchronousMessageSender
	destinationName string
	timeout         time.Duration
}

// DestinationName returns the bound destination
func (s *SingleDestinationSynchronousMessageSender) DestinationName() string {
	return s.destinationName
}

// Send sends msg and waits for the response
func (s *SingleDestinationSynchronousMessageSender) Send(ctx context.Context, msg *contracts.Message) (any, error) {
	return s.sender.SendWithTimeout(ctx, s.destinationName, msg, s.timeout)
}

// SendPayload wraps payload in a message, sends it and waits for the response
func (s *SingleDestinationSynchronousMessageSender) SendPayload(ctx context.Context, payload any) (any, error) {
	return s.Send(ctx, contracts.NewMessage(payload))
}

// SendWithTimeout sends msg and waits up to timeout for the response
func (s *SingleDestinationSynchronousMessageSender) SendWithTimeout(ctx context.Context, msg *contracts.Message, timeout time.Duration) (any, error) {
	return s.sender.SendWithTimeout(ctx, s.destinationName, msg, timeout)
}
