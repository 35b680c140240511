// Package hooks provides the ambient logger and metrics collector the
// build driver feeds per-photo and per-run events into.
package hooks

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ── Structured logger adapter ───────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy
// cluster.Logger and build.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) {
	s.log.Debug(msg, fields...)
}
func (s *SlogLogger) Info(msg string, fields ...interface{}) {
	s.log.Info(msg, fields...)
}
func (s *SlogLogger) Warn(msg string, fields ...interface{}) {
	s.log.Warn(msg, fields...)
}
func (s *SlogLogger) Error(msg string, fields ...interface{}) {
	s.log.Error(msg, fields...)
}

// ── Photo lifecycle hook ────────────────────────────────────────────────

// PhotoHook observes per-photo processing, logged as "photo.process.start"
// and "photo.process.done" events (spec.md §7's progress-printing
// requirement).
type PhotoHook struct {
	logger *SlogLogger
}

// NewPhotoHook creates a PhotoHook.
func NewPhotoHook(l *SlogLogger) *PhotoHook { return &PhotoHook{logger: l} }

// BeforeProcess logs the start of one photo's processing.
func (h *PhotoHook) BeforeProcess(key string) {
	h.logger.Debug("photo.process.start", "key", key)
}

// AfterProcess logs the outcome of one photo's processing.
func (h *PhotoHook) AfterProcess(key string, outcome string, d time.Duration, err error) {
	if err != nil {
		h.logger.Error("photo.process.done", "key", key, "outcome", outcome, "duration_ms", d.Milliseconds(), "error", err.Error())
		return
	}
	h.logger.Debug("photo.process.done", "key", key, "outcome", outcome, "duration_ms", d.Milliseconds())
}

// ── In-memory metrics collector ─────────────────────────────────────────

// InMemoryMetrics accumulates per-run build metrics; safe for concurrent
// use since results can arrive from multiple worker-reader goroutines.
type InMemoryMetrics struct {
	mu sync.RWMutex

	outcomeCounts map[string]int64 // new/processed/skipped/failed
	durationsMs   map[string]int64 // cumulative ms per outcome

	totalBytesFetched int64
	deleted           int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		outcomeCounts: make(map[string]int64),
		durationsMs:   make(map[string]int64),
	}
}

// RecordOutcome tallies one photo's outcome and processing duration.
func (m *InMemoryMetrics) RecordOutcome(outcome string, d time.Duration) {
	m.mu.Lock()
	m.outcomeCounts[outcome]++
	m.durationsMs[outcome] += d.Milliseconds()
	m.mu.Unlock()
}

// RecordBytesFetched adds to the running total of bytes read from storage.
func (m *InMemoryMetrics) RecordBytesFetched(n int64) {
	atomic.AddInt64(&m.totalBytesFetched, n)
}

// RecordDeletions adds n to the deletion-reconciliation count.
func (m *InMemoryMetrics) RecordDeletions(n int) {
	atomic.AddInt64(&m.deleted, int64(n))
}

// Snapshot returns an immutable point-in-time copy of the metrics,
// matching spec.md §7's {new, processed, skipped, deleted, failed} summary.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		OutcomeCounts:     make(map[string]int64, len(m.outcomeCounts)),
		DurationsMs:       make(map[string]int64, len(m.durationsMs)),
		TotalBytesFetched: atomic.LoadInt64(&m.totalBytesFetched),
		Deleted:           atomic.LoadInt64(&m.deleted),
	}
	for k, v := range m.outcomeCounts {
		snap.OutcomeCounts[k] = v
	}
	for k, v := range m.durationsMs {
		snap.DurationsMs[k] = v
	}
	return snap
}

// MetricsSnapshot is an immutable point-in-time copy of build metrics.
type MetricsSnapshot struct {
	OutcomeCounts     map[string]int64
	DurationsMs       map[string]int64
	TotalBytesFetched int64
	Deleted           int64
}
