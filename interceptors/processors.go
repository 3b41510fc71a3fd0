package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/mmate-bus/contracts"
)

// MessageSender sends a message to a named destination
type MessageSender interface {
	SendMessage(ctx context.Context, destinationName string, msg *contracts.Message) error
}

// loggingProcessor logs every inbound and outbound hook of one message
type loggingProcessor struct {
	logger *slog.Logger
	start  time.Time
}

func (p *loggingProcessor) BeforeReceive(_ context.Context, msg *contracts.Message) (*contracts.Message, error) {
	p.logger.Debug("receiving message", "destination", msg.DestinationName)
	return msg, nil
}

func (p *loggingProcessor) BeforeThread(_ context.Context, msg *contracts.Message) (*contracts.Message, error) {
	p.start = time.Now()
	p.logger.Debug("dispatching message", "destination", msg.DestinationName)
	return msg, nil
}

func (p *loggingProcessor) AfterThread(_ context.Context, msg *contracts.Message) error {
	p.logger.Debug("dispatched message", "destination", msg.DestinationName, "duration", time.Since(p.start))
	return nil
}

func (p *loggingProcessor) AfterReceive(_ context.Context, msg *contracts.Message) error {
	p.logger.Debug("received message", "destination", msg.DestinationName)
	return nil
}

func (p *loggingProcessor) BeforeSend(_ context.Context, msg *contracts.Message) (*contracts.Message, error) {
	p.start = time.Now()
	p.logger.Debug("sending message", "destination", msg.DestinationName, "responseId", msg.ResponseID)
	return msg, nil
}

func (p *loggingProcessor) AfterSend(_ context.Context, msg *contracts.Message) error {
	p.logger.Debug("sent message", "destination", msg.DestinationName, "duration", time.Since(p.start))
	return nil
}

// NewLoggingInboundFactory creates processors that log delivery hooks
func NewLoggingInboundFactory(logger *slog.Logger) contracts.InboundMessageProcessorFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return contracts.InboundMessageProcessorFactoryFunc(func() contracts.InboundMessageProcessor {
		return &loggingProcessor{logger: logger}
	})
}

// NewLoggingOutboundFactory creates processors that log send hooks
func NewLoggingOutboundFactory(logger *slog.Logger) contracts.OutboundMessageProcessorFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return contracts.OutboundMessageProcessorFactoryFunc(func() contracts.OutboundMessageProcessor {
		return &loggingProcessor{logger: logger}
	})
}

// metricsProcessor times the worker side of one delivery
type metricsProcessor struct {
	contracts.BaseInboundProcessor
	collector MetricsCollector
	start     time.Time
}

func (p *metricsProcessor) BeforeThread(_ context.Context, msg *contracts.Message) (*contracts.Message, error) {
	p.start = time.Now()
	p.collector.IncrementMessageCount(msg.DestinationName)
	return msg, nil
}

func (p *metricsProcessor) AfterThread(_ context.Context, msg *contracts.Message) error {
	p.collector.RecordProcessingTime(msg.DestinationName, time.Since(p.start))
	return nil
}

// NewMetricsInboundFactory creates processors that count and time deliveries
func NewMetricsInboundFactory(collector MetricsCollector) contracts.InboundMessageProcessorFactory {
	return contracts.InboundMessageProcessorFactoryFunc(func() contracts.InboundMessageProcessor {
		return &metricsProcessor{collector: collector}
	})
}

// statusProcessor reports a MessageStatus once the listeners have run
type statusProcessor struct {
	contracts.BaseInboundProcessor
	sender MessageSender
	logger *slog.Logger
	status contracts.MessageStatus
}

func (p *statusProcessor) BeforeThread(_ context.Context, msg *contracts.Message) (*contracts.Message, error) {
	p.status.Payload = msg.Payload
	p.status.Destination = msg.DestinationName
	p.status.StartTimer()
	return msg, nil
}

func (p *statusProcessor) AfterThread(ctx context.Context, msg *contracts.Message) error {
	if msg.DestinationName == contracts.MessageStatusDestinationName {
		return nil
	}

	p.status.StopTimer()
	status := p.status
	if err := p.sender.SendMessage(ctx, contracts.MessageStatusDestinationName, contracts.NewMessage(&status)); err != nil {
		p.logger.Warn("Unable to send message status", "destination", status.Destination, "error", err)
	}
	return nil
}

// NewStatusInboundFactory creates processors that send a MessageStatus to
// the message status destination after every delivery
func NewStatusInboundFactory(sender MessageSender, logger *slog.Logger) contracts.InboundMessageProcessorFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return contracts.InboundMessageProcessorFactoryFunc(func() contracts.InboundMessageProcessor {
		return &statusProcessor{sender: sender, logger: logger}
	})
}
