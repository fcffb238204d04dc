package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"cdnpulse/internal/core/domain"
	"cdnpulse/internal/core/ports"
	"cdnpulse/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// EventMetricsUpdate is the outbound event carrying a new snapshot.
const EventMetricsUpdate = "metrics_update"

var ErrPipelineRunning = errors.New("pipeline driver already running")

type PipelineConfig struct {
	TickInterval      time.Duration
	InitialStreams    int
	AddProbability    float64
	RemoveProbability float64
	LatencyMean       float64
	LatencyStdDev     float64
	BufferingMean     float64
	UsersMean         float64
	UsersStdDev       float64
	QueryLimit        int
	ForecastWindow    int
	ModelPath         string
	Seed              int64
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		TickInterval:      time.Second,
		InitialStreams:    5,
		AddProbability:    0.10,
		RemoveProbability: 0.05,
		LatencyMean:       100,
		LatencyStdDev:     20,
		BufferingMean:     5,
		UsersMean:         1000,
		UsersStdDev:       200,
		QueryLimit:        DefaultQueryLimit,
		ForecastWindow:    DefaultForecastWindow,
	}
}

// Pipeline is the periodic driver tying the registry, aggregator, detector
// and forecaster together. All mutations of registry and history happen
// under mu, so readers never see half of a tick.
type Pipeline struct {
	mu sync.RWMutex

	cfg        PipelineConfig
	registry   *StreamRegistry
	aggregator *MetricsAggregator
	detector   *AnomalyDetector
	forecaster *TrendForecaster

	broadcaster ports.Broadcaster
	observer    ports.PipelineObserver

	rng     *rand.Rand
	now     func() time.Time
	running atomic.Bool
	logger  *zap.SugaredLogger
}

func NewPipeline(
	cfg PipelineConfig,
	registry *StreamRegistry,
	aggregator *MetricsAggregator,
	detector *AnomalyDetector,
	forecaster *TrendForecaster,
	logger *zap.SugaredLogger,
) *Pipeline {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = DefaultQueryLimit
	}
	if cfg.ForecastWindow <= 0 {
		cfg.ForecastWindow = DefaultForecastWindow
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Pipeline{
		cfg:        cfg,
		registry:   registry,
		aggregator: aggregator,
		detector:   detector,
		forecaster: forecaster,
		observer:   ports.NoopObserver{},
		rng:        rand.New(rand.NewSource(seed)),
		now:        time.Now,
		logger:     logger,
	}
}

func (p *Pipeline) SetBroadcaster(b ports.Broadcaster) {
	p.broadcaster = b
}

func (p *Pipeline) SetObserver(o ports.PipelineObserver) {
	if o != nil {
		p.observer = o
	}
}

// SetClock replaces the clock used to stamp snapshots and judge model age.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
	p.detector.SetClock(now)
}

// Seed creates the initial stream population.
func (p *Pipeline) Seed() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.cfg.InitialStreams; i++ {
		if _, err := p.registry.Generate(""); err != nil {
			return fmt.Errorf("failed to seed stream %d: %w", i, err)
		}
	}
	return nil
}

// Run ticks until ctx is cancelled. Ticks never overlap; cancellation is
// observed only between ticks.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrPipelineRunning
	}
	defer p.running.Store(false)

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	p.logger.Infow("pipeline driver started", "interval", p.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline driver stopped")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				p.logger.Info("pipeline driver stopped")
				return nil
			}
			p.Tick(context.WithoutCancel(ctx))
		}
	}
}

// Tick advances the pipeline by one step and returns the published update.
// A panic inside the tick is logged and swallowed so the driver keeps going.
func (p *Pipeline) Tick(ctx context.Context) (update domain.MetricsUpdate) {
	start := p.now()
	ctx, span := tracing.TraceTick(ctx)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("tick panic: %v", r)
			tracing.RecordError(ctx, err)
			p.logger.Errorw("pipeline tick panicked", "error", err)
		}
	}()

	snapshot, added, removed := p.advance(start)
	anomalous := p.evaluate(snapshot)

	update = domain.MetricsUpdate{FleetSnapshot: snapshot, Anomaly: anomalous}
	if f, ok := p.forecaster.Forecast(p.cfg.ForecastWindow); ok {
		update.Forecast = &f
	}

	tracing.AddSpanAttributes(ctx,
		attribute.Int("fleet.active_streams", snapshot.ActiveStreams),
		attribute.Int("fleet.streams_added", added),
		attribute.Int("fleet.streams_removed", removed),
		attribute.Bool("fleet.anomaly", anomalous),
	)

	p.observer.ObserveSnapshot(snapshot, anomalous)
	p.publish(update)
	p.observer.ObserveTick(p.now().Sub(start))

	if anomalous {
		p.logger.Warnw("anomalous fleet snapshot",
			"latency", snapshot.Latency,
			"buffering", snapshot.Buffering,
			"users", snapshot.Users,
		)
	}
	return update
}

// advance mutates the registry and records the resulting snapshot as one
// atomic step.
func (p *Pipeline) advance(now time.Time) (domain.FleetSnapshot, int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	added, removed := p.registry.Churn(p.cfg.AddProbability, p.cfg.RemoveProbability)

	latency := math.Max(0, p.rng.NormFloat64()*p.cfg.LatencyStdDev+p.cfg.LatencyMean)
	buffering := poisson(p.rng, p.cfg.BufferingMean)
	users := int(p.rng.NormFloat64()*p.cfg.UsersStdDev + p.cfg.UsersMean)
	if users < 0 {
		users = 0
	}

	snapshot := p.buildSnapshot(now, latency, buffering, users)
	p.aggregator.Record(snapshot)
	return snapshot, added, removed
}

// evaluate retrains the detector when its model is stale, then scores the
// snapshot and feeds the forecaster.
func (p *Pipeline) evaluate(snapshot domain.FleetSnapshot) bool {
	if p.detector.ShouldRetrain(snapshot.Timestamp) {
		history := p.aggregator.Recent(0)
		if p.detector.Train(history) {
			p.observer.ObserveTraining(len(history))
			if p.cfg.ModelPath != "" {
				if err := p.detector.Save(p.cfg.ModelPath); err != nil {
					p.logger.Warnw("failed to save anomaly model", "path", p.cfg.ModelPath, "error", err)
				}
			}
		}
	}

	anomalous := p.detector.Score(snapshot)
	p.forecaster.Update(snapshot)
	return anomalous
}

// Submit records a client-submitted observation together with the current
// fleet aggregates and broadcasts it.
func (p *Pipeline) Submit(ctx context.Context, submission domain.MetricSubmission) (domain.FleetSnapshot, error) {
	if err := submission.Validate(); err != nil {
		return domain.FleetSnapshot{}, err
	}

	p.mu.Lock()
	snapshot := p.buildSnapshot(p.now(), submission.Latency, submission.Buffering, submission.Users)
	p.aggregator.Record(snapshot)
	p.mu.Unlock()

	p.publish(domain.MetricsUpdate{FleetSnapshot: snapshot})
	return snapshot, nil
}

func (p *Pipeline) buildSnapshot(now time.Time, latency float64, buffering, users int) domain.FleetSnapshot {
	agg := p.registry.Aggregates()
	return domain.FleetSnapshot{
		Timestamp:          now,
		Latency:            latency,
		Buffering:          buffering,
		Users:              users,
		TotalBandwidthMbps: agg.TotalBandwidthMbps,
		ActiveStreams:      agg.ActiveStreams,
		RegionCounts:       agg.RegionCounts,
		CategoryCounts:     agg.CategoryCounts,
	}
}

func (p *Pipeline) publish(update domain.MetricsUpdate) {
	if p.broadcaster == nil {
		return
	}
	if err := p.broadcaster.Broadcast(EventMetricsUpdate, update); err != nil {
		p.logger.Warnw("failed to broadcast metrics update", "error", err)
	}
}

func (p *Pipeline) Latest() (domain.FleetSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.aggregator.Latest()
}

// History returns up to n recent snapshots for external readers.
func (p *Pipeline) History(ctx context.Context, n int) []domain.FleetSnapshot {
	if n <= 0 {
		n = p.cfg.QueryLimit
	}
	return p.aggregator.Query(ctx, n)
}

func (p *Pipeline) Summary() domain.SummaryStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.aggregator.SummaryStats()
}

func (p *Pipeline) Streams() []domain.StreamRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.registry.ActiveStreams()
}

func (p *Pipeline) Stream(id domain.StreamID) (domain.StreamRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.registry.Get(id)
}

func (p *Pipeline) Forecast(window int) (domain.Forecast, bool) {
	return p.forecaster.Forecast(window)
}

func (p *Pipeline) DetectorStatus() domain.DetectorStatus {
	return p.detector.Status()
}

// poisson draws from a Poisson distribution using Knuth's multiplication
// method, which is exact and fast for the small means used here.
func poisson(rng *rand.Rand, mean float64) int {
	if mean <= 0 {
		return 0
	}
	limit := math.Exp(-mean)
	k := 0
	prod := rng.Float64()
	for prod > limit {
		k++
		prod *= rng.Float64()
	}
	return k
}
