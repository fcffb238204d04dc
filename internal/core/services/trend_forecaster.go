package services

import (
	"sync"

	"cdnpulse/internal/core/domain"
)

const (
	DefaultForecastWindow   = 60
	DefaultForecastCapacity = 1000
)

// TrendForecaster keeps rolling latency, buffering and user series and
// predicts the next value of each as a simple moving average.
type TrendForecaster struct {
	mu       sync.RWMutex
	capacity int

	latency   []float64
	buffering []float64
	users     []float64
}

func NewTrendForecaster(capacity int) *TrendForecaster {
	if capacity <= 0 {
		capacity = DefaultForecastCapacity
	}
	return &TrendForecaster{
		capacity:  capacity,
		latency:   make([]float64, 0, capacity),
		buffering: make([]float64, 0, capacity),
		users:     make([]float64, 0, capacity),
	}
}

func (f *TrendForecaster) Update(snapshot domain.FleetSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.latency = pushCapped(f.latency, snapshot.Latency, f.capacity)
	f.buffering = pushCapped(f.buffering, float64(snapshot.Buffering), f.capacity)
	f.users = pushCapped(f.users, float64(snapshot.Users), f.capacity)
}

// Forecast averages the last window values of each series. It reports
// false while any series holds fewer than window values.
func (f *TrendForecaster) Forecast(window int) (domain.Forecast, bool) {
	if window <= 0 {
		window = DefaultForecastWindow
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.latency) < window || len(f.buffering) < window || len(f.users) < window {
		return domain.Forecast{}, false
	}
	return domain.Forecast{
		Latency:   tailMean(f.latency, window),
		Buffering: tailMean(f.buffering, window),
		Users:     tailMean(f.users, window),
	}, true
}

func (f *TrendForecaster) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.latency)
}

func pushCapped(series []float64, v float64, capacity int) []float64 {
	if len(series) == capacity {
		copy(series, series[1:])
		series = series[:len(series)-1]
	}
	return append(series, v)
}

func tailMean(series []float64, window int) float64 {
	var sum float64
	for _, v := range series[len(series)-window:] {
		sum += v
	}
	return sum / float64(window)
}
