package services

import (
	"context"
	"sync"
	"time"

	"cdnpulse/internal/core/domain"

	"github.com/stretchr/testify/mock"
)

// MockHistoryMirror is a mock implementation of ports.HistoryMirror
type MockHistoryMirror struct {
	mock.Mock
}

func (m *MockHistoryMirror) Enqueue(snapshot domain.FleetSnapshot) bool {
	args := m.Called(snapshot)
	return args.Bool(0)
}

func (m *MockHistoryMirror) ReadRecent(ctx context.Context, n int) ([]domain.FleetSnapshot, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.FleetSnapshot), args.Error(1)
}

// recordingBroadcaster captures every published event.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
	items  []interface{}
}

func (b *recordingBroadcaster) Broadcast(event string, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	b.items = append(b.items, payload)
	return nil
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// countingObserver tallies pipeline telemetry.
type countingObserver struct {
	mu        sync.Mutex
	ticks     int
	snapshots int
	trainings int
	dropped   int
	failures  map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{failures: make(map[string]int)}
}

func (o *countingObserver) ObserveTick(time.Duration) {
	o.mu.Lock()
	o.ticks++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveSnapshot(domain.FleetSnapshot, bool) {
	o.mu.Lock()
	o.snapshots++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveTraining(int) {
	o.mu.Lock()
	o.trainings++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveDroppedWrite() {
	o.mu.Lock()
	o.dropped++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveStoreFailure(op string) {
	o.mu.Lock()
	o.failures[op]++
	o.mu.Unlock()
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func snapshotAt(ts time.Time, latency float64, buffering, users int) domain.FleetSnapshot {
	return domain.FleetSnapshot{
		Timestamp: ts,
		Latency:   latency,
		Buffering: buffering,
		Users:     users,
	}
}
