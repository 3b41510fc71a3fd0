package interceptors

import (
	"context"
	"log/slog"

	"github.com/glimte/mmate-bus/contracts"
	"github.com/glimte/mmate-bus/internal/reliability"
)

// RetryPolicy decides whether and when a failed delivery is retried
type RetryPolicy = reliability.RetryPolicy

// NewExponentialBackoff creates an exponential backoff retry policy
var NewExponentialBackoff = reliability.NewExponentialBackoff

// NewFixedDelay creates a fixed delay retry policy
var NewFixedDelay = reliability.NewFixedDelay

// Permanent marks an error returned by a listener as not worth retrying
var Permanent = reliability.Permanent

// RetryInterceptor re-delivers a message to the wrapped listener while it fails
type RetryInterceptor struct {
	retryPolicy RetryPolicy
	logger      *slog.Logger
}

// NewRetryInterceptor creates a new retry interceptor
func NewRetryInterceptor(retryPolicy RetryPolicy) *RetryInterceptor {
	return &RetryInterceptor{
		retryPolicy: retryPolicy,
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger for the retry interceptor
func (r *RetryInterceptor) WithLogger(logger *slog.Logger) *RetryInterceptor {
	r.logger = logger
	return r
}

// Intercept implements the Interceptor interface
func (r *RetryInterceptor) Intercept(ctx context.Context, msg *contracts.Message, next contracts.MessageListener) error {
	attempt := 0
	return reliability.Retry(ctx, "receive "+msg.DestinationName, r.retryPolicy, func() error {
		attempt++
		err := next.Receive(ctx, msg)
		if err != nil {
			r.logger.Debug("delivery attempt failed", "destination", msg.DestinationName, "attempt", attempt, "error", err)
		}
		return err
	})
}

// Name returns the interceptor name
func (r *RetryInterceptor) Name() string {
	return "RetryInterceptor"
}
