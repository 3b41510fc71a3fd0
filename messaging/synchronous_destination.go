package messaging

import (
	"context"
	"sync/atomic"

	"github.com/glimte/mmate-bus/contracts"
)

// SynchronousDestination delivers on the sending goroutine. Send returns
// after every listener has run.
type SynchronousDestination struct {
	baseDestination
	open atomic.Bool
	sent atomic.Int64
}

// NewSynchronousDestination creates a synchronous destination
func NewSynchronousDestination(name string, opts ...DestinationOption) *SynchronousDestination {
	return &SynchronousDestination{
		baseDestination: newBaseDestination(name, contracts.DestinationTypeSynchronous, opts...),
	}
}

// Open marks the destination open. Synchronous destinations own no goroutines.
func (d *SynchronousDestination) Open() error {
	d.open.Store(true)
	return nil
}

// Close marks the destination closed
func (d *SynchronousDestination) Close(bool) {
	d.open.Store(false)
}

// AwaitTermination returns immediately
func (d *SynchronousDestination) AwaitTermination(context.Context) error {
	return nil
}

// IsOpen reports whether Open was called more recently than Close
func (d *SynchronousDestination) IsOpen() bool {
	return d.open.Load()
}

// Send runs every inbound processor and listener before returning
func (d *SynchronousDestination) Send(ctx context.Context, msg *contracts.Message) error {
	listeners := d.listeners.Values()
	if len(listeners) == 0 {
		d.logger.Debug("No message listeners for destination")
		return nil
	}

	processors := d.InboundMessageProcessors()

	for _, p := range processors {
		if m, err := p.BeforeReceive(ctx, msg); err != nil {
			d.logger.Error("Unable to process message before receive", "error", &contracts.ProcessorError{Stage: "beforeReceive", Err: err})
		} else if m != nil {
			msg = m
		}
		if m, err := p.BeforeThread(ctx, msg); err != nil {
			d.logger.Error("Unable to process message before thread", "error", &contracts.ProcessorError{Stage: "beforeThread", Err: err})
		} else if m != nil {
			msg = m
		}
	}

	d.deliverAll(ctx, listeners, msg)

	for _, p := range processors {
		if err := p.AfterThread(ctx, msg); err != nil {
			d.logger.Error("Unable to process message after thread", "error", &contracts.ProcessorError{Stage: "afterThread", Err: err})
		}
		if err := p.AfterReceive(ctx, msg); err != nil {
			d.logger.Error("Unable to process message after receive", "error", &contracts.ProcessorError{Stage: "afterReceive", Err: err})
		}
	}

	d.sent.Add(1)
	return nil
}

// Statistics reports the sent count. Synchronous destinations have no pool.
func (d *SynchronousDestination) Statistics() contracts.DestinationStatistics {
	return contracts.DestinationStatistics{SentMessageCount: d.sent.Load()}
}
