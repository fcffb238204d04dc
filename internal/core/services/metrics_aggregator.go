package services

import (
	"context"
	"sync"

	"cdnpulse/internal/core/domain"
	"cdnpulse/internal/core/ports"

	"go.uber.org/zap"
)

const (
	DefaultHistoryCapacity = 1000
	DefaultQueryLimit      = 100
)

// MetricsAggregator owns the canonical bounded history of fleet snapshots.
// The in-memory copy is authoritative; the mirror is best effort.
type MetricsAggregator struct {
	mu sync.RWMutex

	history  []domain.FleetSnapshot
	capacity int

	bufferTotal int
	lastUsers   int

	mirror   ports.HistoryMirror
	observer ports.PipelineObserver
	logger   *zap.SugaredLogger
}

// NewMetricsAggregator creates an aggregator. mirror may be nil for a
// memory-only history.
func NewMetricsAggregator(capacity int, mirror ports.HistoryMirror, logger *zap.SugaredLogger) *MetricsAggregator {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &MetricsAggregator{
		history:  make([]domain.FleetSnapshot, 0, capacity),
		capacity: capacity,
		mirror:   mirror,
		observer: ports.NoopObserver{},
		logger:   logger,
	}
}

// SetObserver sets the telemetry sink for dropped mirror writes.
func (a *MetricsAggregator) SetObserver(observer ports.PipelineObserver) {
	if observer != nil {
		a.observer = observer
	}
}

// Record appends a snapshot, evicting the oldest entry past capacity, then
// hands a copy to the mirror. Mirror failure never fails recording.
func (a *MetricsAggregator) Record(snapshot domain.FleetSnapshot) {
	a.mu.Lock()
	if len(a.history) == a.capacity {
		copy(a.history, a.history[1:])
		a.history = a.history[:len(a.history)-1]
	}
	a.history = append(a.history, snapshot)
	a.bufferTotal += snapshot.Buffering
	a.lastUsers = snapshot.Users
	a.mu.Unlock()

	if a.mirror == nil {
		return
	}
	if !a.mirror.Enqueue(snapshot) {
		a.observer.ObserveDroppedWrite()
		a.logger.Debugw("history mirror rejected snapshot, keeping memory only",
			"timestamp", snapshot.Timestamp,
		)
	}
}

// Recent returns up to n of the most recent snapshots in chronological order.
func (a *MetricsAggregator) Recent(n int) []domain.FleetSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if n <= 0 || n > len(a.history) {
		n = len(a.history)
	}
	out := make([]domain.FleetSnapshot, n)
	copy(out, a.history[len(a.history)-n:])
	return out
}

// Latest returns the most recently recorded snapshot.
func (a *MetricsAggregator) Latest() (domain.FleetSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.history) == 0 {
		return domain.FleetSnapshot{}, false
	}
	return a.history[len(a.history)-1], true
}

func (a *MetricsAggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.history)
}

// Query serves external readers. It prefers the durable store, which
// survives restarts, and falls back to memory when the store cannot be read.
func (a *MetricsAggregator) Query(ctx context.Context, n int) []domain.FleetSnapshot {
	if n <= 0 {
		n = DefaultQueryLimit
	}
	if a.mirror == nil {
		return a.Recent(n)
	}

	snapshots, err := a.mirror.ReadRecent(ctx, n)
	if err != nil {
		a.observer.ObserveStoreFailure("range")
		a.logger.Warnw("failed to read history from store, serving memory",
			"error", err,
			"limit", n,
		)
		return a.Recent(n)
	}
	return snapshots
}

// SummaryStats reports mean latency over retained history, the cumulative
// buffering count and the most recent user count.
func (a *MetricsAggregator) SummaryStats() domain.SummaryStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var latencySum float64
	for _, s := range a.history {
		latencySum += s.Latency
	}
	denom := len(a.history)
	if denom < 1 {
		denom = 1
	}
	return domain.SummaryStats{
		MeanLatency:       latencySum / float64(denom),
		TotalBufferEvents: a.bufferTotal,
		LastUserCount:     a.lastUsers,
	}
}
