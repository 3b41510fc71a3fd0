package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/mmate-bus/contracts"
)

// Interceptor processes a message before it reaches the wrapped listener
type Interceptor interface {
	// Intercept processes a message and calls the next listener in the chain
	Intercept(ctx context.Context, msg *contracts.Message, next contracts.MessageListener) error

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, msg *contracts.Message, next contracts.MessageListener) error
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, msg *contracts.Message, next contracts.MessageListener) error) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, msg *contracts.Message, next contracts.MessageListener) error {
	return i.fn(ctx, msg, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain manages a chain of interceptors
type InterceptorChain struct {
	interceptors []Interceptor
}

// NewInterceptorChain creates a new interceptor chain
func NewInterceptorChain(interceptors ...Interceptor) *InterceptorChain {
	return &InterceptorChain{interceptors: interceptors}
}

// Add adds an interceptor to the chain
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Len returns the number of interceptors
func (c *InterceptorChain) Len() int {
	return len(c.interceptors)
}

// Wrap returns a listener that runs the chain before listener. The first
// interceptor added is the outermost.
func (c *InterceptorChain) Wrap(listener contracts.MessageListener) contracts.MessageListener {
	if len(c.interceptors) == 0 {
		return listener
	}

	// Build the chain in reverse order
	wrapped := listener
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		next := wrapped
		wrapped = contracts.MessageListenerFunc(func(ctx context.Context, msg *contracts.Message) error {
			return interceptor.Intercept(ctx, msg, next)
		})
	}
	return wrapped
}

// LoggingInterceptor logs message processing
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, msg *contracts.Message, next contracts.MessageListener) error {
	start := time.Now()

	i.logger.Debug("processing message",
		"destination", msg.DestinationName,
		"responseId", msg.ResponseID,
	)

	err := next.Receive(ctx, msg)
	duration := time.Since(start)

	if err != nil {
		i.logger.Error("message processing failed",
			"destination", msg.DestinationName,
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Debug("message processed successfully",
			"destination", msg.DestinationName,
			"duration", duration,
		)
	}

	return err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// MetricsCollector defines the interface for collecting metrics. Metrics
// are keyed by destination name.
type MetricsCollector interface {
	IncrementMessageCount(destination string)
	RecordProcessingTime(destination string, duration time.Duration)
	IncrementErrorCount(destination string, errorType string)
}

// MetricsInterceptor collects metrics about message processing
type MetricsInterceptor struct {
	collector MetricsCollector
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// Intercept implements Interceptor
func (i *MetricsInterceptor) Intercept(ctx context.Context, msg *contracts.Message, next contracts.MessageListener) error {
	start := time.Now()
	destination := msg.DestinationName

	i.collector.IncrementMessageCount(destination)

	err := next.Receive(ctx, msg)
	i.collector.RecordProcessingTime(destination, time.Since(start))

	if err != nil {
		i.collector.IncrementErrorCount(destination, "processing_error")
	}

	return err
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}
