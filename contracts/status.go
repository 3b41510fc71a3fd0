package contracts

import (
	"fmt"
	"time"
)

// MessageStatus reports the outcome of processing one message
type MessageStatus struct {
	Payload      any
	Destination  string
	ErrorMessage string
	ErrorDetail  string
	StartTime    time.Time
	EndTime      time.Time
}

// StartTimer records the start of processing
func (s *MessageStatus) StartTimer() {
	s.StartTime = time.Now()
}

// StopTimer records the end of processing
func (s *MessageStatus) StopTimer() {
	s.EndTime = time.Now()
}

// Duration returns the elapsed processing time
func (s *MessageStatus) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// SetError records a processing failure
func (s *MessageStatus) SetError(err error) {
	if err == nil {
		return
	}
	s.ErrorMessage = err.Error()
	s.ErrorDetail = fmt.Sprintf("%+v", err)
}

// HasError reports whether processing failed
func (s *MessageStatus) HasError() bool {
	return s.ErrorMessage != ""
}
