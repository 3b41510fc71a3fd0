package contracts

import (
	"fmt"
	"strings"
)

// Well-known destinations registered by RegisterDefaultDestinations
const (
	DefaultResponseDestinationName = "messagebus/default_response"
	MessageStatusDestinationName   = "messagebus/message_status"
)

// Pool sizing defaults for parallel destinations
const (
	DefaultWorkersCoreSize = 2
	DefaultWorkersMaxSize  = 5
)

// DestinationType selects the delivery strategy of a destination
type DestinationType string

const (
	DestinationTypeParallel    DestinationType = "parallel"
	DestinationTypeSerial      DestinationType = "serial"
	DestinationTypeSynchronous DestinationType = "synchronous"
)

// ParseDestinationType converts a configuration string into a DestinationType
func ParseDestinationType(s string) (DestinationType, error) {
	switch t := DestinationType(strings.ToLower(strings.TrimSpace(s))); t {
	case DestinationTypeParallel, DestinationTypeSerial, DestinationTypeSynchronous:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown destination type %q", ErrInvalidConfiguration, s)
	}
}

// IsAsync reports whether destinations of this type deliver on a worker pool
func (t DestinationType) IsAsync() bool {
	return t == DestinationTypeParallel || t == DestinationTypeSerial
}

// RejectionHandler is called when a destination cannot accept a message
// because its workers and queue are full
type RejectionHandler interface {
	MessageRejected(destinationName string, msg *Message)
}

// RejectionHandlerFunc is a function adapter for RejectionHandler
type RejectionHandlerFunc func(destinationName string, msg *Message)

// MessageRejected implements RejectionHandler
func (f RejectionHandlerFunc) MessageRejected(destinationName string, msg *Message) {
	f(destinationName, msg)
}

// DestinationConfiguration describes a destination to build. Two
// configurations are equal when their names are equal.
type DestinationConfiguration struct {
	Type DestinationType
	Name string

	// MaxQueueSize bounds the pending queue of async destinations. Zero means unbounded.
	MaxQueueSize    int
	WorkersCoreSize int
	WorkersMaxSize  int

	RejectionHandler RejectionHandler
}

// NewDestinationConfiguration creates a configuration with default sizing
func NewDestinationConfiguration(destinationType DestinationType, name string) DestinationConfiguration {
	cfg := DestinationConfiguration{
		Type:            destinationType,
		Name:            name,
		WorkersCoreSize: DefaultWorkersCoreSize,
		WorkersMaxSize:  DefaultWorkersMaxSize,
	}
	if destinationType == DestinationTypeSerial {
		cfg.WorkersCoreSize = 1
		cfg.WorkersMaxSize = 1
	}
	return cfg
}

// NewParallelDestinationConfiguration creates a parallel destination configuration
func NewParallelDestinationConfiguration(name string) DestinationConfiguration {
	return NewDestinationConfiguration(DestinationTypeParallel, name)
}

// NewSerialDestinationConfiguration creates a serial destination configuration
func NewSerialDestinationConfiguration(name string) DestinationConfiguration {
	return NewDestinationConfiguration(DestinationTypeSerial, name)
}

// NewSynchronousDestinationConfiguration creates a synchronous destination configuration
func NewSynchronousDestinationConfiguration(name string) DestinationConfiguration {
	return NewDestinationConfiguration(DestinationTypeSynchronous, name)
}

// Normalized fills unset sizes with defaults and pins serial destinations to one worker
func (c DestinationConfiguration) Normalized() DestinationConfiguration {
	if c.WorkersCoreSize == 0 && c.WorkersMaxSize == 0 {
		c.WorkersCoreSize = DefaultWorkersCoreSize
		c.WorkersMaxSize = DefaultWorkersMaxSize
	}
	if c.Type == DestinationTypeSerial {
		c.WorkersCoreSize = 1
		c.WorkersMaxSize = 1
	}
	return c
}

// Validate checks the configuration
func (c DestinationConfiguration) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, ErrMissingDestinationName)
	}
	if _, err := ParseDestinationType(string(c.Type)); err != nil {
		return err
	}
	if c.MaxQueueSize < 0 {
		return fmt.Errorf("%w: %s: negative queue size %d", ErrInvalidConfiguration, c.Name, c.MaxQueueSize)
	}
	if c.Type.IsAsync() {
		if c.WorkersCoreSize < 0 || c.WorkersMaxSize < 1 || c.WorkersMaxSize < c.WorkersCoreSize {
			return fmt.Errorf("%w: %s: invalid worker sizes core=%d max=%d",
				ErrInvalidConfiguration, c.Name, c.WorkersCoreSize, c.WorkersMaxSize)
		}
	}
	return nil
}

// Equal reports whether both configurations name the same destination
func (c DestinationConfiguration) Equal(other DestinationConfiguration) bool {
	return c.Name == other.Name
}

func (c DestinationConfiguration) String() string {
	return fmt.Sprintf("{destinationName=%s, destinationType=%s, maximumQueueSize=%d, workersCoreSize=%d, workersMaxSize=%d}",
		c.Name, c.Type, c.MaxQueueSize, c.WorkersCoreSize, c.WorkersMaxSize)
}

// DestinationStatistics is a snapshot of a destination's delivery counters
type DestinationStatistics struct {
	ActiveThreadCount   int   `json:"activeThreadCount"`
	CurrentThreadCount  int   `json:"currentThreadCount"`
	LargestThreadCount  int   `json:"largestThreadCount"`
	MaxThreadPoolSize   int   `json:"maxThreadPoolSize"`
	MinThreadPoolSize   int   `json:"minThreadPoolSize"`
	PendingMessageCount int64 `json:"pendingMessageCount"`
	SentMessageCount    int64 `json:"sentMessageCount"`
}
