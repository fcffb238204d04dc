package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cdnpulse/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestPipeline(t *testing.T, cfg PipelineConfig) (*Pipeline, *recordingBroadcaster, *countingObserver) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	detCfg := DefaultDetectorConfig()
	p := NewPipeline(
		cfg,
		NewStreamRegistry(cfg.Seed),
		NewMetricsAggregator(DefaultHistoryCapacity, nil, logger),
		NewAnomalyDetector(detCfg, logger),
		NewTrendForecaster(DefaultForecastCapacity),
		logger,
	)
	b := &recordingBroadcaster{}
	o := newCountingObserver()
	p.SetBroadcaster(b)
	p.SetObserver(o)
	return p, b, o
}

func TestPipeline_SeedCreatesInitialStreams(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.Seed = 1
	p, _, _ := newTestPipeline(t, cfg)

	require.NoError(t, p.Seed())
	assert.Len(t, p.Streams(), 5)
}

func TestPipeline_TickRecordsAndPublishes(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.Seed = 2
	p, b, o := newTestPipeline(t, cfg)
	require.NoError(t, p.Seed())

	update := p.Tick(context.Background())

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, latest.Timestamp, update.Timestamp)
	assert.GreaterOrEqual(t, update.Latency, 0.0)
	assert.GreaterOrEqual(t, update.Buffering, 0)
	assert.GreaterOrEqual(t, update.Users, 0)
	assert.False(t, update.Anomaly)
	assert.Nil(t, update.Forecast)

	var streams int
	for _, n := range update.RegionCounts {
		streams += n
	}
	assert.Equal(t, update.ActiveStreams, streams)

	assert.Equal(t, 1, b.count())
	assert.Equal(t, EventMetricsUpdate, b.events[0])
	assert.Equal(t, 1, o.ticks)
	assert.Equal(t, 1, o.snapshots)
}

func TestPipeline_SnapshotMatchesRegistry(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.Seed = 3
	cfg.AddProbability = 0
	cfg.RemoveProbability = 0
	p, _, _ := newTestPipeline(t, cfg)
	require.NoError(t, p.Seed())

	update := p.Tick(context.Background())
	assert.Equal(t, len(p.Streams()), update.ActiveStreams)
	assert.InDelta(t, p.registry.TotalBandwidthMbps(), update.TotalBandwidthMbps, 1e-9)
}

func TestPipeline_TrainsOnceEnoughHistoryAndForecasts(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.Seed = 4
	cfg.ModelPath = filepath.Join(t.TempDir(), "anomaly.json")
	p, _, o := newTestPipeline(t, cfg)
	clock := newFakeClock()
	p.SetClock(clock.Now)
	require.NoError(t, p.Seed())

	var last domain.MetricsUpdate
	for i := 0; i < 120; i++ {
		clock.Advance(time.Second)
		last = p.Tick(context.Background())
	}

	assert.True(t, p.DetectorStatus().Trained)
	assert.Equal(t, 100, p.DetectorStatus().TrainingSize)
	assert.Equal(t, 1, o.trainings)
	assert.FileExists(t, cfg.ModelPath)
	require.NotNil(t, last.Forecast)

	clock.Advance(time.Hour + time.Second)
	p.Tick(context.Background())
	assert.Equal(t, 2, o.trainings)
	assert.Equal(t, 121, p.DetectorStatus().TrainingSize)
}

func TestPipeline_SubmitRecordsAndBroadcasts(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.Seed = 5
	p, b, _ := newTestPipeline(t, cfg)
	require.NoError(t, p.Seed())

	snapshot, err := p.Submit(context.Background(), domain.MetricSubmission{Latency: 120, Buffering: 3, Users: 800})
	require.NoError(t, err)
	assert.Equal(t, 120.0, snapshot.Latency)
	assert.Equal(t, 5, snapshot.ActiveStreams)

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, 800, latest.Users)
	assert.Equal(t, 1, b.count())

	update, ok := b.items[0].(domain.MetricsUpdate)
	require.True(t, ok)
	assert.Equal(t, 3, update.Buffering)

	stats := p.Summary()
	assert.Equal(t, 3, stats.TotalBufferEvents)
	assert.Equal(t, 800, stats.LastUserCount)
}

func TestPipeline_SubmitRejectsNegative(t *testing.T) {
	p, b, _ := newTestPipeline(t, DefaultPipelineConfig())

	_, err := p.Submit(context.Background(), domain.MetricSubmission{Latency: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidSubmission)
	_, ok := p.Latest()
	assert.False(t, ok)
	assert.Equal(t, 0, b.count())
}

func TestPipeline_HistoryDefaultsToQueryLimit(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.Seed = 6
	p, _, _ := newTestPipeline(t, cfg)

	for i := 0; i < 150; i++ {
		p.Tick(context.Background())
	}
	assert.Len(t, p.History(context.Background(), 0), 100)
	assert.Len(t, p.History(context.Background(), 10), 10)
}

func TestPipeline_RunRejectsSecondDriver(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.Seed = 7
	p, b, _ := newTestPipeline(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, p.Run(ctx))
	}()

	require.Eventually(t, func() bool { return b.count() >= 3 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, p.Run(ctx), ErrPipelineRunning)

	cancel()
	wg.Wait()

	stopped := b.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, b.count())
}

func TestPoisson(t *testing.T) {
	p, _, _ := newTestPipeline(t, DefaultPipelineConfig())

	var sum int
	const n = 20000
	for i := 0; i < n; i++ {
		k := poisson(p.rng, 5)
		require.GreaterOrEqual(t, k, 0)
		sum += k
	}
	assert.InDelta(t, 5.0, float64(sum)/n, 0.1)
	assert.Equal(t, 0, poisson(p.rng, 0))
}
