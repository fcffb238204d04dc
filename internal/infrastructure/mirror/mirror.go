package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cdnpulse/internal/core/domain"
	"cdnpulse/internal/core/ports"
	"cdnpulse/pkg/circuitbreaker"
	"cdnpulse/pkg/tracing"

	"go.uber.org/zap"
)

type Config struct {
	Key              string
	Capacity         int
	QueueSize        int
	OperationTimeout time.Duration
	Breaker          circuitbreaker.Config
}

func DefaultConfig() Config {
	return Config{
		Key:              "metrics_history",
		Capacity:         1000,
		QueueSize:        256,
		OperationTimeout: 500 * time.Millisecond,
		Breaker:          circuitbreaker.DefaultConfig(),
	}
}

// Mirror copies snapshots into a HistoryStore from a single background
// writer. Recording never waits on the store: a full queue or an open
// breaker drops the write.
type Mirror struct {
	store   ports.HistoryStore
	cfg     Config
	breaker *circuitbreaker.CircuitBreaker

	queue chan domain.FleetSnapshot
	stop  chan struct{}
	done  chan struct{}

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	observer ports.PipelineObserver
	logger   *zap.SugaredLogger
}

func New(store ports.HistoryStore, cfg Config, logger *zap.SugaredLogger) *Mirror {
	def := DefaultConfig()
	if cfg.Key == "" {
		cfg.Key = def.Key
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = def.OperationTimeout
	}

	m := &Mirror{
		store:    store,
		cfg:      cfg,
		breaker:  circuitbreaker.New(cfg.Breaker),
		queue:    make(chan domain.FleetSnapshot, cfg.QueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		observer: ports.NoopObserver{},
		logger:   logger,
	}
	m.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("history store breaker changed state",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return m
}

func (m *Mirror) SetObserver(observer ports.PipelineObserver) {
	if observer != nil {
		m.observer = observer
	}
}

// Start launches the background writer. Calling it twice is a no-op.
func (m *Mirror) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.run()
}

// Enqueue hands a snapshot to the writer without blocking. It reports false
// when the queue is full or the mirror is closed.
func (m *Mirror) Enqueue(snapshot domain.FleetSnapshot) bool {
	if m.closed.Load() {
		return false
	}
	select {
	case m.queue <- snapshot:
		return true
	default:
		return false
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for {
		select {
		case s := <-m.queue:
			m.write(s)
		case <-m.stop:
			for {
				select {
				case s := <-m.queue:
					m.write(s)
				default:
					return
				}
			}
		}
	}
}

func (m *Mirror) write(snapshot domain.FleetSnapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		m.logger.Errorw("failed to encode snapshot", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OperationTimeout)
	defer cancel()
	ctx, span := tracing.TraceStoreOperation(ctx, "push", m.cfg.Key)
	defer span.End()

	err = m.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := m.store.Push(ctx, m.cfg.Key, data); err != nil {
			return err
		}
		return m.store.TrimTo(ctx, m.cfg.Key, 0, int64(m.cfg.Capacity-1))
	})
	switch {
	case err == nil:
	case errors.Is(err, circuitbreaker.ErrOpen):
		m.observer.ObserveDroppedWrite()
	default:
		tracing.RecordError(ctx, err)
		m.observer.ObserveStoreFailure("push")
		m.logger.Warnw("failed to mirror snapshot", "error", err, "key", m.cfg.Key)
	}
}

// Clear removes any history left by a previous run.
func (m *Mirror) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()

	if err := m.store.Delete(ctx, m.cfg.Key); err != nil {
		m.observer.ObserveStoreFailure("delete")
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// ReadRecent returns up to n of the newest stored snapshots, oldest first.
// Entries that fail to decode are skipped.
func (m *Mirror) ReadRecent(ctx context.Context, n int) ([]domain.FleetSnapshot, error) {
	if n <= 0 || n > m.cfg.Capacity {
		n = m.cfg.Capacity
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()
	ctx, span := tracing.TraceStoreOperation(ctx, "range", m.cfg.Key)
	defer span.End()

	raw, err := circuitbreaker.Do(ctx, m.breaker, func(ctx context.Context) ([][]byte, error) {
		return m.store.Range(ctx, m.cfg.Key, 0, int64(n-1))
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	out := make([]domain.FleetSnapshot, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var s domain.FleetSnapshot
		if err := json.Unmarshal(raw[i], &s); err != nil {
			m.logger.Debugw("skipping undecodable history entry", "error", err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Close stops accepting snapshots and waits for queued ones to be written,
// or for ctx to expire.
func (m *Mirror) Close(ctx context.Context) error {
	m.closed.Store(true)
	m.closeOnce.Do(func() { close(m.stop) })
	if !m.started.Load() {
		return nil
	}
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("history mirror did not drain: %w", ctx.Err())
	}
}

// Ping checks the store within the operation timeout.
func (m *Mirror) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()
	return m.store.Ping(ctx)
}

// BreakerState reports the store breaker state for health output.
func (m *Mirror) BreakerState() circuitbreaker.State {
	return m.breaker.State()
}
