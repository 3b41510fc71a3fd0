package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/glimte/mmate-bus/messaging"
)

// DefaultPendingThreshold is the pending message count above which a
// destination is reported as degraded
const DefaultPendingThreshold = 1000

// DestinationChecker checks a single destination
type DestinationChecker struct {
	destination      messaging.Destination
	pendingThreshold int64
}

// NewDestinationChecker creates a checker for destination. A threshold of
// zero or less uses DefaultPendingThreshold.
func NewDestinationChecker(destination messaging.Destination, pendingThreshold int64) *DestinationChecker {
	if pendingThreshold <= 0 {
		pendingThreshold = DefaultPendingThreshold
	}
	return &DestinationChecker{
		destination:      destination,
		pendingThreshold: pendingThreshold,
	}
}

func (c *DestinationChecker) Name() string {
	return "destination:" + c.destination.Name()
}

func (c *DestinationChecker) Check(context.Context) CheckResult {
	start := time.Now()
	result := checkDestination(c.destination, c.pendingThreshold)
	result.Name = c.Name()
	result.Timestamp = start
	result.Duration = time.Since(start)
	return result
}

func checkDestination(dest messaging.Destination, pendingThreshold int64) CheckResult {
	stats := dest.Statistics()
	listeners := dest.MessageListenerCount()
	result := CheckResult{
		Details: map[string]any{
			"type":            string(dest.Type()),
			"listeners":       listeners,
			"pending":         stats.PendingMessageCount,
			"sent":            stats.SentMessageCount,
			"active_workers":  stats.ActiveThreadCount,
			"current_workers": stats.CurrentThreadCount,
		},
	}

	switch {
	case !dest.IsOpen():
		result.Status = StatusUnhealthy
		result.Message = "Destination is closed"
	case stats.PendingMessageCount >= pendingThreshold:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High pending message count: %d", stats.PendingMessageCount)
	case listeners == 0:
		result.Status = StatusDegraded
		result.Message = "No message listeners registered"
	default:
		result.Status = StatusHealthy
		result.Message = "Destination is open"
	}
	return result
}

// DestinationSource lists destinations to check
type DestinationSource interface {
	Destinations() []messaging.Destination
}

// BusChecker aggregates the health of every destination on a bus
type BusChecker struct {
	source           DestinationSource
	pendingThreshold int64
}

// NewBusChecker creates a checker for every destination of source
func NewBusChecker(source DestinationSource, pendingThreshold int64) *BusChecker {
	if pendingThreshold <= 0 {
		pendingThreshold = DefaultPendingThreshold
	}
	return &BusChecker{source: source, pendingThreshold: pendingThreshold}
}

func (c *BusChecker) Name() string {
	return "messagebus"
}

func (c *BusChecker) Check(context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Timestamp: start,
		Details:   make(map[string]any),
	}

	destinations := c.source.Destinations()
	unhealthy := 0
	for _, dest := range destinations {
		dr := checkDestination(dest, c.pendingThreshold)
		result.Details[dest.Name()] = string(dr.Status)
		if dr.Status == StatusUnhealthy {
			unhealthy++
		}
		// an idle destination does not degrade the bus
		if dr.Status == StatusDegraded && dest.MessageListenerCount() == 0 {
			continue
		}
		result.Status = worse(result.Status, dr.Status)
	}

	switch result.Status {
	case StatusHealthy:
		result.Message = fmt.Sprintf("%d destinations healthy", len(destinations))
	case StatusDegraded:
		result.Message = "Some destinations are degraded"
	default:
		result.Message = fmt.Sprintf("%d of %d destinations unhealthy", unhealthy, len(destinations))
	}
	result.Duration = time.Since(start)
	return result
}

// GoroutineChecker reports degraded or unhealthy above goroutine thresholds
type GoroutineChecker struct {
	warningThreshold  int
	criticalThreshold int
}

// NewGoroutineChecker creates a new goroutine checker
func NewGoroutineChecker(warningThreshold, criticalThreshold int) *GoroutineChecker {
	return &GoroutineChecker{
		warningThreshold:  warningThreshold,
		criticalThreshold: criticalThreshold,
	}
}

func (c *GoroutineChecker) Name() string {
	return "goroutines"
}

func (c *GoroutineChecker) Check(context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()
	result.Details["memory_used_mb"] = float64(m.Sys) / 1024 / 1024
	result.Details["gc_runs"] = m.NumGC
	result.Details["goroutines"] = goroutines

	switch {
	case goroutines > c.criticalThreshold:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Too many goroutines: %d", goroutines)
	case goroutines > c.warningThreshold:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "Goroutine count is normal"
	}

	result.Duration = time.Since(start)
	return result
}
