package middleware

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS MIDDLEWARE
// In-process counters per operation (command name, "callback", "homework").
// Served as JSON on the HTTP stats endpoint.
// ══════════════════════════════════════════════════════════════════════════════

// MetricsConfig holds configuration for the metrics middleware.
type MetricsConfig struct {
	// SlowRequestThreshold defines what's considered a slow request.
	SlowRequestThreshold time.Duration

	// OnSlowRequest is called when a request exceeds the slow threshold.
	OnSlowRequest func(operation string, duration time.Duration, userID int64)
}

// DefaultMetricsConfig returns sensible defaults for metrics middleware.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{SlowRequestThreshold: 2 * time.Second}
}

// MetricsMiddleware collects request counters.
type MetricsMiddleware struct {
	config MetricsConfig

	totalRequests  atomic.Int64
	totalErrors    atomic.Int64
	activeRequests atomic.Int64

	mu         sync.Mutex
	operations map[string]*operationMetrics
}

type operationMetrics struct {
	count    int64
	errors   int64
	total    time.Duration
	max      time.Duration
	lastSeen time.Time
}

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(config MetricsConfig) *MetricsMiddleware {
	return &MetricsMiddleware{
		config:     config,
		operations: make(map[string]*operationMetrics),
	}
}

// RequestContext tracks one request.
type RequestContext struct {
	Operation string
	UserID    int64
	StartTime time.Time

	middleware *MetricsMiddleware
}

// Start begins tracking a new request.
func (m *MetricsMiddleware) Start(operation string, userID int64) *RequestContext {
	m.totalRequests.Add(1)
	m.activeRequests.Add(1)
	return &RequestContext{
		Operation:  operation,
		UserID:     userID,
		StartTime:  time.Now(),
		middleware: m,
	}
}

// End completes tracking for a request.
func (rc *RequestContext) End(err error) {
	m := rc.middleware
	duration := time.Since(rc.StartTime)

	m.activeRequests.Add(-1)
	if err != nil {
		m.totalErrors.Add(1)
	}

	m.mu.Lock()
	op := m.operations[rc.Operation]
	if op == nil {
		op = &operationMetrics{}
		m.operations[rc.Operation] = op
	}
	op.count++
	if err != nil {
		op.errors++
	}
	op.total += duration
	if duration > op.max {
		op.max = duration
	}
	op.lastSeen = rc.StartTime
	m.mu.Unlock()

	if m.config.OnSlowRequest != nil && m.config.SlowRequestThreshold > 0 && duration > m.config.SlowRequestThreshold {
		m.config.OnSlowRequest(rc.Operation, duration, rc.UserID)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TotalRequests  int64               `json:"total_requests"`
	TotalErrors    int64               `json:"total_errors"`
	ActiveRequests int64               `json:"active_requests"`
	Operations     []OperationSnapshot `json:"operations"`
}

// OperationSnapshot holds the counters of one operation.
type OperationSnapshot struct {
	Name       string    `json:"name"`
	Count      int64     `json:"count"`
	Errors     int64     `json:"errors"`
	AvgLatency string    `json:"avg_latency"`
	MaxLatency string    `json:"max_latency"`
	LastSeen   time.Time `json:"last_seen"`
}

// Snapshot returns current metrics, operations sorted by count.
func (m *MetricsMiddleware) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		TotalRequests:  m.totalRequests.Load(),
		TotalErrors:    m.totalErrors.Load(),
		ActiveRequests: m.activeRequests.Load(),
	}

	m.mu.Lock()
	for name, op := range m.operations {
		var avg time.Duration
		if op.count > 0 {
			avg = op.total / time.Duration(op.count)
		}
		snap.Operations = append(snap.Operations, OperationSnapshot{
			Name:       name,
			Count:      op.count,
			Errors:     op.errors,
			AvgLatency: avg.String(),
			MaxLatency: op.max.String(),
			LastSeen:   op.lastSeen,
		})
	}
	m.mu.Unlock()

	sort.Slice(snap.Operations, func(i, j int) bool {
		if snap.Operations[i].Count != snap.Operations[j].Count {
			return snap.Operations[i].Count > snap.Operations[j].Count
		}
		return snap.Operations[i].Name < snap.Operations[j].Name
	})
	return snap
}
