package messaging

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/glimte/mmate-bus/contracts"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordHandler keeps every record it handles, with attributes added
// through With folded into the record
type recordHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
	attrs   []slog.Attr
}

func newRecordHandler() *recordHandler {
	return &recordHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
}

func (h *recordHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	r = r.Clone()
	r.AddAttrs(h.attrs...)
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r)
	return nil
}

func (h *recordHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *recordHandler) WithGroup(string) slog.Handler { return h }

// matching returns the records at level whose message is msg
func (h *recordHandler) matching(level slog.Level, msg string) []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []slog.Record
	for _, r := range *h.records {
		if r.Level == level && r.Message == msg {
			out = append(out, r)
		}
	}
	return out
}

func recordAttr(r slog.Record, key string) string {
	var value string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			value = a.Value.String()
			return false
		}
		return true
	})
	return value
}

func newTestBus(t *testing.T, opts ...BusOption) *MessageBus {
	t.Helper()
	opts = append([]BusOption{WithBusLogger(discardLogger()), WithDestinationFactory(NewDefaultDestinationFactory(discardLogger()))}, opts...)
	bus := NewMessageBus(opts...)
	bus.SetSenderFactory(NewSenderFactory(bus, WithSenderLogger(discardLogger())))
	if err := bus.RegisterDefaultDestinations(); err != nil {
		t.Fatalf("register default destinations: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

// eventLog records strings from concurrent goroutines
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// recordingProcessor logs every inbound and outbound hook
type recordingProcessor struct {
	name string
	log  *eventLog
}

func (p *recordingProcessor) BeforeReceive(_ context.Context, msg *contracts.Message) (*contracts.Message, error) {
	p.log.add(p.name + ":beforeReceive")
	return msg, nil
}

func (p *recordingProcessor) BeforeThread(_ context.Context, msg *contracts.Message) (*contracts.Message, error) {
	p.log.add(p.name + ":beforeThread")
	return msg, nil
}

func (p *recordingProcessor) AfterThread(context.Context, *contracts.Message) error {
	p.log.add(p.name + ":afterThread")
	return nil
}

func (p *recordingProcessor) AfterReceive(context.Context, *contracts.Message) error {
	p.log.add(p.name + ":afterReceive")
	return nil
}

func (p *recordingProcessor) BeforeSend(_ context.Context, msg *contracts.Message) (*contracts.Message, error) {
	p.log.add(p.name + ":beforeSend")
	return msg, nil
}

func (p *recordingProcessor) AfterSend(context.Context, *contracts.Message) error {
	p.log.add(p.name + ":afterSend")
	return nil
}

func inboundFactory(name string, log *eventLog) contracts.InboundMessageProcessorFactory {
	return contracts.InboundMessageProcessorFactoryFunc(func() contracts.InboundMessageProcessor {
		return &recordingProcessor{name: name, log: log}
	})
}

func outboundFactory(name string, log *eventLog) contracts.OutboundMessageProcessorFactory {
	return contracts.OutboundMessageProcessorFactoryFunc(func() contracts.OutboundMessageProcessor {
		return &recordingProcessor{name: name, log: log}
	})
}

// gate blocks listeners until released
type gate struct {
	started chan string
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan string, 64), release: make(chan struct{})}
}

func (g *gate) listener(name string) contracts.MessageListener {
	return contracts.MessageListenerFunc(func(ctx context.Context, msg *contracts.Message) error {
		g.started <- name
		select {
		case <-g.release:
		case <-ctx.Done():
		}
		return nil
	})
}

func (g *gate) open() {
	close(g.release)
}

// echoListener replies with the request payload
func echoListener(bus *MessageBus) contracts.MessageListener {
	builders := NewMessageBuilderFactory(bus)
	return contracts.MessageListenerFunc(func(ctx context.Context, msg *contracts.Message) error {
		return builders.CreateResponse(msg).SetPayload(msg.Payload).Send(ctx)
	})
}
