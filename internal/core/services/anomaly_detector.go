package services

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cdnpulse/internal/core/domain"
	"cdnpulse/pkg/iforest"

	"go.uber.org/zap"
)

const featureCount = 3

type DetectorConfig struct {
	Contamination   float64
	MinSamples      int
	RetrainInterval time.Duration
	Trees           int
	SampleSize      int
	Seed            int64
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Contamination:   0.1,
		MinSamples:      100,
		RetrainInterval: time.Hour,
		Trees:           100,
		SampleSize:      256,
		Seed:            42,
	}
}

// standardScaler holds per-feature mean and standard deviation fitted on
// one training batch.
type standardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func fitScaler(rows [][]float64) *standardScaler {
	s := &standardScaler{
		Mean:  make([]float64, featureCount),
		Scale: make([]float64, featureCount),
	}
	n := float64(len(rows))
	for _, row := range rows {
		for d := 0; d < featureCount; d++ {
			s.Mean[d] += row[d]
		}
	}
	for d := range s.Mean {
		s.Mean[d] /= n
	}
	for _, row := range rows {
		for d := 0; d < featureCount; d++ {
			diff := row[d] - s.Mean[d]
			s.Scale[d] += diff * diff
		}
	}
	for d := range s.Scale {
		s.Scale[d] = math.Sqrt(s.Scale[d] / n)
		if s.Scale[d] == 0 {
			s.Scale[d] = 1
		}
	}
	return s
}

func (s *standardScaler) transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for d := range x {
		out[d] = (x[d] - s.Mean[d]) / s.Scale[d]
	}
	return out
}

// AnomalyDetector fits an isolation forest over normalized
// (latency, buffering, users) vectors and scores new snapshots against it.
type AnomalyDetector struct {
	mu sync.RWMutex

	cfg DetectorConfig

	forest       *iforest.Forest
	scaler       *standardScaler
	trained      bool
	lastFit      time.Time
	trainingSize int
	lastVerdict  bool
	anomalies    int64

	now    func() time.Time
	logger *zap.SugaredLogger
}

func NewAnomalyDetector(cfg DetectorConfig, logger *zap.SugaredLogger) *AnomalyDetector {
	def := DefaultDetectorConfig()
	if cfg.Contamination <= 0 {
		cfg.Contamination = def.Contamination
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.RetrainInterval <= 0 {
		cfg.RetrainInterval = def.RetrainInterval
	}
	return &AnomalyDetector{
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the clock used to stamp fits.
func (d *AnomalyDetector) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Train fits a fresh scaler and forest over history. It returns false and
// leaves the current model untouched when history is too short.
func (d *AnomalyDetector) Train(history []domain.FleetSnapshot) bool {
	if len(history) < d.cfg.MinSamples {
		return false
	}

	raw := make([][]float64, len(history))
	for i, s := range history {
		raw[i] = s.Features()
	}
	scaler := fitScaler(raw)
	normalized := make([][]float64, len(raw))
	for i, row := range raw {
		normalized[i] = scaler.transform(row)
	}

	forest, err := iforest.Fit(normalized, iforest.Options{
		Trees:         d.cfg.Trees,
		SampleSize:    d.cfg.SampleSize,
		Contamination: d.cfg.Contamination,
		Seed:          d.cfg.Seed,
	})
	if err != nil {
		d.logger.Warnw("failed to fit anomaly model", "error", err, "samples", len(history))
		return false
	}

	d.mu.Lock()
	d.forest = forest
	d.scaler = scaler
	d.trained = true
	d.lastFit = d.now()
	d.trainingSize = len(history)
	d.mu.Unlock()

	d.logger.Infow("anomaly model trained",
		"samples", len(history),
		"trees", len(forest.Trees),
		"threshold", forest.Threshold,
	)
	return true
}

// Score reports whether the snapshot is anomalous. An untrained detector
// has no opinion and always reports false.
func (d *AnomalyDetector) Score(snapshot domain.FleetSnapshot) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.trained {
		return false
	}
	verdict := d.forest.IsAnomaly(d.scaler.transform(snapshot.Features()))
	d.lastVerdict = verdict
	if verdict {
		d.anomalies++
	}
	return verdict
}

// ShouldRetrain is true before the first fit and once the last fit is
// older than the retrain interval.
func (d *AnomalyDetector) ShouldRetrain(now time.Time) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.trained {
		return true
	}
	return now.Sub(d.lastFit) > d.cfg.RetrainInterval
}

func (d *AnomalyDetector) Trained() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.trained
}

func (d *AnomalyDetector) Status() domain.DetectorStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return domain.DetectorStatus{
		Trained:       d.trained,
		LastFit:       d.lastFit,
		Contamination: d.cfg.Contamination,
		TrainingSize:  d.trainingSize,
		LastVerdict:   d.lastVerdict,
		Anomalies:     d.anomalies,
	}
}

type savedModel struct {
	Forest  *iforest.Forest `json:"forest"`
	Scaler  *standardScaler `json:"scaler"`
	Trained bool            `json:"trained"`
	LastFit time.Time       `json:"last_fit"`
}

// Save writes the fitted model to path, replacing any previous file.
func (d *AnomalyDetector) Save(path string) error {
	d.mu.RLock()
	if !d.trained {
		d.mu.RUnlock()
		return domain.ErrModelNotTrained
	}
	data, err := json.Marshal(savedModel{
		Forest:  d.forest,
		Scaler:  d.scaler,
		Trained: d.trained,
		LastFit: d.lastFit,
	})
	d.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace model: %w", err)
	}
	return nil
}

// Load restores a model saved by Save. A missing or corrupt file reports
// false and keeps the current state.
func (d *AnomalyDetector) Load(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		d.logger.Infow("no anomaly model loaded", "path", path, "error", err)
		return false
	}

	var m savedModel
	if err := json.Unmarshal(data, &m); err != nil {
		d.logger.Warnw("corrupt anomaly model", "path", path, "error", err)
		return false
	}
	if err := m.Forest.Validate(); err != nil {
		d.logger.Warnw("invalid anomaly model", "path", path, "error", err)
		return false
	}
	if m.Scaler == nil || len(m.Scaler.Mean) != featureCount || len(m.Scaler.Scale) != featureCount {
		d.logger.Warnw("invalid anomaly model scaler", "path", path)
		return false
	}
	for _, s := range m.Scaler.Scale {
		if s == 0 {
			d.logger.Warnw("invalid anomaly model scaler", "path", path)
			return false
		}
	}

	d.mu.Lock()
	d.forest = m.Forest
	d.scaler = m.Scaler
	d.trained = m.Trained
	d.lastFit = m.LastFit
	d.mu.Unlock()

	d.logger.Infow("anomaly model loaded", "path", path, "last_fit", m.LastFit)
	return true
}
