package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrendForecaster_NeedsFullWindow(t *testing.T) {
	f := NewTrendForecaster(0)

	for i := 0; i < 59; i++ {
		f.Update(snapshotAt(time.Unix(int64(i), 0), 100, 5, 1000))
	}
	_, ok := f.Forecast(0)
	assert.False(t, ok)

	f.Update(snapshotAt(time.Unix(59, 0), 100, 5, 1000))
	forecast, ok := f.Forecast(0)
	require.True(t, ok)
	assert.InDelta(t, 100.0, forecast.Latency, 1e-9)
	assert.InDelta(t, 5.0, forecast.Buffering, 1e-9)
	assert.InDelta(t, 1000.0, forecast.Users, 1e-9)
}

func TestTrendForecaster_UsesTrailingWindow(t *testing.T) {
	f := NewTrendForecaster(0)

	for i := 0; i < 100; i++ {
		f.Update(snapshotAt(time.Unix(int64(i), 0), 0, 0, 0))
	}
	for i := 0; i < 60; i++ {
		f.Update(snapshotAt(time.Unix(int64(100+i), 0), float64(i+1), 2, 500))
	}

	forecast, ok := f.Forecast(60)
	require.True(t, ok)
	assert.InDelta(t, 30.5, forecast.Latency, 1e-9)
	assert.InDelta(t, 2.0, forecast.Buffering, 1e-9)
	assert.InDelta(t, 500.0, forecast.Users, 1e-9)

	short, ok := f.Forecast(10)
	require.True(t, ok)
	assert.InDelta(t, 55.5, short.Latency, 1e-9)
}

func TestTrendForecaster_Capacity(t *testing.T) {
	f := NewTrendForecaster(100)
	for i := 0; i < 250; i++ {
		f.Update(snapshotAt(time.Unix(int64(i), 0), float64(i), 0, 0))
	}
	assert.Equal(t, 100, f.Len())

	_, ok := f.Forecast(101)
	assert.False(t, ok)

	all, ok := f.Forecast(100)
	require.True(t, ok)
	assert.InDelta(t, 199.5, all.Latency, 1e-9)
}
