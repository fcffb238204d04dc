package mirror

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cdnpulse/internal/core/domain"
	"cdnpulse/internal/infrastructure/repositories/memory"
	"cdnpulse/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockHistoryStore is a mock implementation of ports.HistoryStore
type MockHistoryStore struct {
	mock.Mock
}

func (m *MockHistoryStore) Push(ctx context.Context, key string, value []byte) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockHistoryStore) TrimTo(ctx context.Context, key string, start, stop int64) error {
	return m.Called(ctx, key, start, stop).Error(0)
}

func (m *MockHistoryStore) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	args := m.Called(ctx, key, start, stop)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]byte), args.Error(1)
}

func (m *MockHistoryStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockHistoryStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type countingObserver struct {
	dropped  atomic.Int64
	failures atomic.Int64
}

func (o *countingObserver) ObserveTick(time.Duration)                  {}
func (o *countingObserver) ObserveSnapshot(domain.FleetSnapshot, bool) {}
func (o *countingObserver) ObserveTraining(int)                        {}
func (o *countingObserver) ObserveDroppedWrite()                       { o.dropped.Add(1) }
func (o *countingObserver) ObserveStoreFailure(string)                 { o.failures.Add(1) }

func snapshot(i int) domain.FleetSnapshot {
	return domain.FleetSnapshot{
		Timestamp: time.Unix(int64(i), 0).UTC(),
		Latency:   float64(i),
		Users:     i,
	}
}

func testConfig(capacity int) Config {
	cfg := DefaultConfig()
	cfg.Key = "metrics_history"
	cfg.Capacity = capacity
	cfg.QueueSize = 2048
	cfg.OperationTimeout = time.Second
	return cfg
}

func TestMirror_WritesAndReadsChronologically(t *testing.T) {
	store := memory.NewMemoryHistoryStore()
	m := New(store, testConfig(1000), zaptest.NewLogger(t).Sugar())
	m.Start()

	for i := 0; i < 1500; i++ {
		require.True(t, m.Enqueue(snapshot(i)))
	}
	require.NoError(t, m.Close(context.Background()))

	raw, err := store.Range(context.Background(), "metrics_history", 0, -1)
	require.NoError(t, err)
	assert.Len(t, raw, 1000)

	recent, err := m.ReadRecent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, 1495.0, recent[0].Latency)
	assert.Equal(t, 1499.0, recent[4].Latency)

	all, err := m.ReadRecent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 1000)
	assert.Equal(t, 500.0, all[0].Latency)
}

func TestMirror_EnqueueDropsWhenFull(t *testing.T) {
	cfg := testConfig(10)
	cfg.QueueSize = 2
	m := New(memory.NewMemoryHistoryStore(), cfg, zaptest.NewLogger(t).Sugar())

	// writer not started, so the queue only fills
	assert.True(t, m.Enqueue(snapshot(1)))
	assert.True(t, m.Enqueue(snapshot(2)))
	assert.False(t, m.Enqueue(snapshot(3)))
}

func TestMirror_EnqueueAfterCloseRejected(t *testing.T) {
	m := New(memory.NewMemoryHistoryStore(), testConfig(10), zaptest.NewLogger(t).Sugar())
	m.Start()
	require.NoError(t, m.Close(context.Background()))
	assert.False(t, m.Enqueue(snapshot(1)))
	require.NoError(t, m.Close(context.Background()))
}

func TestMirror_ClearRemovesPreviousRun(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryHistoryStore()
	require.NoError(t, store.Push(ctx, "metrics_history", []byte(`{"latency":1}`)))

	m := New(store, testConfig(10), zaptest.NewLogger(t).Sugar())
	require.NoError(t, m.Clear(ctx))

	recent, err := m.ReadRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestMirror_ReadSkipsCorruptEntries(t *testing.T) {
	store := new(MockHistoryStore)
	store.On("Range", mock.Anything, "metrics_history", int64(0), int64(2)).Return([][]byte{
		[]byte(`{"latency":3}`),
		[]byte(`not json`),
		[]byte(`{"latency":1}`),
	}, nil)

	m := New(store, testConfig(10), zaptest.NewLogger(t).Sugar())
	recent, err := m.ReadRecent(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 1.0, recent[0].Latency)
	assert.Equal(t, 3.0, recent[1].Latency)
}

func TestMirror_ReadFailureIsStoreUnavailable(t *testing.T) {
	store := new(MockHistoryStore)
	store.On("Range", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	m := New(store, testConfig(10), zaptest.NewLogger(t).Sugar())
	_, err := m.ReadRecent(context.Background(), 5)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestMirror_WriteFailuresOpenBreakerAndDrop(t *testing.T) {
	store := new(MockHistoryStore)
	store.On("Push", mock.Anything, "metrics_history", mock.Anything).Return(errors.New("timeout"))

	cfg := testConfig(10)
	cfg.Breaker = circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour, MaxRequestsHalfOpen: 1}
	observer := &countingObserver{}
	m := New(store, cfg, zaptest.NewLogger(t).Sugar())
	m.SetObserver(observer)
	m.Start()

	for i := 0; i < 5; i++ {
		require.True(t, m.Enqueue(snapshot(i)))
	}
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, int64(2), observer.failures.Load())
	assert.Equal(t, int64(3), observer.dropped.Load())
	assert.Equal(t, circuitbreaker.StateOpen, m.BreakerState())
	store.AssertNumberOfCalls(t, "Push", 2)
}

func TestMirror_TrimBoundsList(t *testing.T) {
	store := new(MockHistoryStore)
	store.On("Push", mock.Anything, "metrics_history", mock.Anything).Return(nil)
	store.On("TrimTo", mock.Anything, "metrics_history", int64(0), int64(999)).Return(nil)

	m := New(store, testConfig(1000), zaptest.NewLogger(t).Sugar())
	m.Start()
	require.True(t, m.Enqueue(snapshot(1)))
	require.NoError(t, m.Close(context.Background()))

	store.AssertExpectations(t)
}

func TestMirror_Ping(t *testing.T) {
	m := New(memory.NewMemoryHistoryStore(), testConfig(10), zaptest.NewLogger(t).Sugar())
	assert.NoError(t, m.Ping(context.Background()))
}
