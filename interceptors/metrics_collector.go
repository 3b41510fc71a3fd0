package interceptors

import (
	"slices"
	"sync"
	"time"
)

const sampleWindow = 100

// SimpleMetricsCollector is an in-memory MetricsCollector keyed by destination
type SimpleMetricsCollector struct {
	mu sync.RWMutex

	messageCounters map[string]int64
	errorCounters   map[string]map[string]int64
	processingTimes map[string]*timeStats
}

type timeStats struct {
	count   int64
	total   time.Duration
	min     time.Duration
	max     time.Duration
	samples []time.Duration // last sampleWindow durations
}

// NewSimpleMetricsCollector creates a new in-memory metrics collector
func NewSimpleMetricsCollector() *SimpleMetricsCollector {
	return &SimpleMetricsCollector{
		messageCounters: make(map[string]int64),
		errorCounters:   make(map[string]map[string]int64),
		processingTimes: make(map[string]*timeStats),
	}
}

// IncrementMessageCount implements MetricsCollector
func (c *SimpleMetricsCollector) IncrementMessageCount(destination string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageCounters[destination]++
}

// RecordProcessingTime implements MetricsCollector
func (c *SimpleMetricsCollector) RecordProcessingTime(destination string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.processingTimes[destination]
	if !exists {
		stats = &timeStats{
			min:     duration,
			max:     duration,
			samples: make([]time.Duration, 0, sampleWindow),
		}
		c.processingTimes[destination] = stats
	}

	stats.count++
	stats.total += duration
	stats.min = min(stats.min, duration)
	stats.max = max(stats.max, duration)

	if len(stats.samples) >= sampleWindow {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, duration)
}

// IncrementErrorCount implements MetricsCollector
func (c *SimpleMetricsCollector) IncrementErrorCount(destination string, errorType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errorCounters[destination] == nil {
		c.errorCounters[destination] = make(map[string]int64)
	}
	c.errorCounters[destination][errorType]++
}

// MessageCount returns the number of messages seen for destination
func (c *SimpleMetricsCollector) MessageCount(destination string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messageCounters[destination]
}

// Summary returns a snapshot of all collected metrics
func (c *SimpleMetricsCollector) Summary() MetricsSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := MetricsSummary{
		MessageCounts:   make(map[string]int64, len(c.messageCounters)),
		ErrorCounts:     make(map[string]map[string]int64, len(c.errorCounters)),
		ProcessingStats: make(map[string]ProcessingStats, len(c.processingTimes)),
	}

	for destination, count := range c.messageCounters {
		summary.MessageCounts[destination] = count
	}

	for destination, errs := range c.errorCounters {
		counts := make(map[string]int64, len(errs))
		for errorType, count := range errs {
			counts[errorType] = count
		}
		summary.ErrorCounts[destination] = counts
	}

	for destination, stats := range c.processingTimes {
		ps := ProcessingStats{
			Count: stats.count,
			Min:   stats.min,
			Max:   stats.max,
		}
		if stats.count > 0 {
			ps.Avg = stats.total / time.Duration(stats.count)
		}
		if len(stats.samples) > 0 {
			sorted := slices.Clone(stats.samples)
			slices.Sort(sorted)
			ps.P50 = percentile(sorted, 0.50)
			ps.P95 = percentile(sorted, 0.95)
			ps.P99 = percentile(sorted, 0.99)
		}
		summary.ProcessingStats[destination] = ps
	}

	return summary
}

// percentile expects sorted to be in ascending order
func percentile(sorted []time.Duration, p float64) time.Duration {
	return sorted[int(float64(len(sorted)-1)*p)]
}

// Reset clears all collected metrics
func (c *SimpleMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messageCounters = make(map[string]int64)
	c.errorCounters = make(map[string]map[string]int64)
	c.processingTimes = make(map[string]*timeStats)
}

// MetricsSummary is a snapshot of collected metrics
type MetricsSummary struct {
	MessageCounts   map[string]int64            `json:"message_counts"`
	ErrorCounts     map[string]map[string]int64 `json:"error_counts"`
	ProcessingStats map[string]ProcessingStats  `json:"processing_stats"`
}

// ProcessingStats holds processing time statistics for one destination
type ProcessingStats struct {
	Count int64         `json:"count"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}
