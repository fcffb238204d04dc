package ports

import (
	"context"
	"time"

	"cdnpulse/internal/core/domain"
)

// Broadcaster pushes an event to every connected subscriber.
type Broadcaster interface {
	Broadcast(event string, payload interface{}) error
}

// SignalHandler serves the inbound side of the subscriber transport.
type SignalHandler interface {
	Submit(ctx context.Context, submission domain.MetricSubmission) (domain.FleetSnapshot, error)
	Latest() (domain.FleetSnapshot, bool)
}

// QueryService is the read-only surface exposed over HTTP.
type QueryService interface {
	History(ctx context.Context, n int) []domain.FleetSnapshot
	Summary() domain.SummaryStats
	Streams() []domain.StreamRecord
	Stream(id domain.StreamID) (domain.StreamRecord, error)
	Forecast(window int) (domain.Forecast, bool)
	DetectorStatus() domain.DetectorStatus
}

// PipelineObserver receives pipeline telemetry for exposition.
type PipelineObserver interface {
	ObserveTick(duration time.Duration)
	ObserveSnapshot(snapshot domain.FleetSnapshot, anomalous bool)
	ObserveTraining(samples int)
	ObserveDroppedWrite()
	ObserveStoreFailure(operation string)
}

type NoopObserver struct{}

func (NoopObserver) ObserveTick(time.Duration) {}
func (NoopObserver) ObserveSnapshot(domain.FleetSnapshot, bool) {}
func (NoopObserver) ObserveTraining(int) {}
func (NoopObserver) ObserveDroppedWrite() {}
func (NoopObserver) ObserveStoreFailure(string) {}
