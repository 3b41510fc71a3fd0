package contracts

import (
	"errors"
	"fmt"
)

var (
	// Bus errors
	ErrNoSynchronousSender    = errors.New("messagebus: no synchronous message sender configured")
	ErrNoDestinationFactory   = errors.New("messagebus: no destination factory for destination type")
	ErrMissingDestinationName = errors.New("messagebus: destination name is required")
	ErrNoResponseDestination  = errors.New("messagebus: response destination is not registered")

	// Request/response errors
	ErrNoReply     = errors.New("messagebus: no reply received for message")
	ErrInterrupted = errors.New("messagebus: interrupted while waiting for reply")

	// Destination errors
	ErrDestinationClosed    = errors.New("destination: destination is closed")
	ErrInvalidConfiguration = errors.New("destination: invalid configuration")

	// Serialization errors
	ErrNotSerializable = errors.New("message: value is not serializable")
)

// MessageBusError is returned by bus operations that fail after the
// message was accepted for processing
type MessageBusError struct {
	Op          string
	Destination string
	Message     string
	Err         error
}

func (e *MessageBusError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Destination != "" {
		return fmt.Sprintf("messagebus %s %s: %s", e.Op, e.Destination, msg)
	}
	return fmt.Sprintf("messagebus %s: %s", e.Op, msg)
}

func (e *MessageBusError) Unwrap() error {
	return e.Err
}

// ProcessorError represents a failure inside a message processor hook
type ProcessorError struct {
	Stage string
	Err   error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor %s failed: %v", e.Stage, e.Err)
}

func (e *ProcessorError) Unwrap() error {
	return e.Err
}

// ListenerError represents a failure or panic inside a message listener
type ListenerError struct {
	Destination string
	Err         error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener on %s failed: %v", e.Destination, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}
