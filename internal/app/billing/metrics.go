package billing

import (
	"sync"
	"time"
)

// ─── Metrics Collector ──────────────────────────────────────────────────────
// Advisory process counters, owned by the engine instance rather than by
// module-level state so test engines stay isolated. Prometheus collectors in
// internal/infra/observability mirror these for scraping.

// Collector accumulates billing counters. All methods are safe for
// concurrent use.
type Collector struct {
	mu sync.Mutex

	totalRequests      int64
	successfulBillings int64
	failedBillings     int64
	duplicateRequests  int64
	insufficientCredit int64
	totalMinutesBilled int64
	txLatencyTotal     time.Duration
	txLatencyCount     int64
	lastProcessed      time.Time
	startedAt          time.Time
}

// NewCollector creates a collector with the uptime clock started.
func NewCollector() *Collector {
	return &Collector{startedAt: time.Now()}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulBillings int64         `json:"successful_billings"`
	FailedBillings     int64         `json:"failed_billings"`
	DuplicateRequests  int64         `json:"duplicate_requests"`
	InsufficientCredit int64         `json:"insufficient_credit_events"`
	TotalMinutesBilled int64         `json:"total_minutes_billed"`
	TotalTxLatency     time.Duration `json:"total_tx_latency"`
	AvgTxLatency       time.Duration `json:"avg_tx_latency"`
	LastProcessed      time.Time     `json:"last_processed"`
	Uptime             time.Duration `json:"uptime"`
}

// RecordRequest counts one inbound minute-billing event.
func (c *Collector) RecordRequest(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	if at.After(c.lastProcessed) {
		c.lastProcessed = at
	}
}

// RecordSuccess counts one committed debit and its transaction latency.
func (c *Collector) RecordSuccess(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successfulBillings++
	c.totalMinutesBilled++
	c.txLatencyTotal += latency
	c.txLatencyCount++
}

// RecordFailure counts one hard billing failure.
func (c *Collector) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedBillings++
}

// RecordDuplicate counts one idempotent replay.
func (c *Collector) RecordDuplicate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duplicateRequests++
}

// RecordInsufficient counts one insufficient-credit event (precheck or
// race recovery).
func (c *Collector) RecordInsufficient() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insufficientCredit++
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		TotalRequests:      c.totalRequests,
		SuccessfulBillings: c.successfulBillings,
		FailedBillings:     c.failedBillings,
		DuplicateRequests:  c.duplicateRequests,
		InsufficientCredit: c.insufficientCredit,
		TotalMinutesBilled: c.totalMinutesBilled,
		TotalTxLatency:     c.txLatencyTotal,
		LastProcessed:      c.lastProcessed,
		Uptime:             time.Since(c.startedAt),
	}
	if c.txLatencyCount > 0 {
		s.AvgTxLatency = c.txLatencyTotal / time.Duration(c.txLatencyCount)
	}
	return s
}

// Reset zeroes the counters and restarts the uptime clock.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests = 0
	c.successfulBillings = 0
	c.failedBillings = 0
	c.duplicateRequests = 0
	c.insufficientCredit = 0
	c.totalMinutesBilled = 0
	c.txLatencyTotal = 0
	c.txLatencyCount = 0
	c.lastProcessed = time.Time{}
	c.startedAt = time.Now()
}
