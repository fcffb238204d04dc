package domain

import "time"

// FleetSnapshot is one aggregate observation of the fleet. Snapshots are
// immutable once built; the distribution maps must not be modified by readers.
type FleetSnapshot struct {
	Timestamp          time.Time        `json:"timestamp"`
	Latency            float64          `json:"latency"` // ms
	Buffering          int              `json:"buffering"`
	Users              int              `json:"users"`
	TotalBandwidthMbps float64          `json:"total_bandwidth_mbps"`
	ActiveStreams      int              `json:"active_streams"`
	RegionCounts       map[Region]int   `json:"cdn_distribution"`
	CategoryCounts     map[Category]int `json:"content_types"`
}

// Features returns the vector scored by the anomaly detector.
func (s FleetSnapshot) Features() []float64 {
	return []float64{s.Latency, float64(s.Buffering), float64(s.Users)}
}

type SummaryStats struct {
	MeanLatency       float64 `json:"latency"`
	TotalBufferEvents int     `json:"buffer_count"`
	LastUserCount     int     `json:"user_count"`
}

// Forecast is a moving-average prediction of the next observation.
type Forecast struct {
	Latency   float64 `json:"latency"`
	Buffering float64 `json:"buffering"`
	Users     float64 `json:"users"`
}

// MetricsUpdate is the payload pushed to subscribers for every new snapshot.
type MetricsUpdate struct {
	FleetSnapshot
	Anomaly  bool      `json:"anomaly"`
	Forecast *Forecast `json:"forecast,omitempty"`
}

// MetricSubmission is a client-submitted observation. Absent fields are zero.
type MetricSubmission struct {
	Latency   float64 `json:"latency"`
	Buffering int     `json:"buffering"`
	Users     int     `json:"users"`
}

func (m MetricSubmission) Validate() error {
	if m.Latency < 0 || m.Buffering < 0 || m.Users < 0 {
		return ErrInvalidSubmission
	}
	return nil
}

type DetectorStatus struct {
	Trained       bool      `json:"trained"`
	LastFit       time.Time `json:"last_fit"`
	Contamination float64   `json:"contamination"`
	TrainingSize  int       `json:"training_size"`
	LastVerdict   bool      `json:"last_verdict"`
	Anomalies     int64     `json:"anomalies"`
}
