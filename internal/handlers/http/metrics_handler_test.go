package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cdnpulse/internal/core/domain"
	"cdnpulse/internal/infrastructure/middleware"
	"cdnpulse/internal/infrastructure/monitoring"
	apperrors "cdnpulse/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) History(ctx context.Context, n int) []domain.FleetSnapshot {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.FleetSnapshot)
}

func (m *MockQueryService) Summary() domain.SummaryStats {
	return m.Called().Get(0).(domain.SummaryStats)
}

func (m *MockQueryService) Streams() []domain.StreamRecord {
	return m.Called().Get(0).([]domain.StreamRecord)
}

func (m *MockQueryService) Stream(id domain.StreamID) (domain.StreamRecord, error) {
	args := m.Called(id)
	return args.Get(0).(domain.StreamRecord), args.Error(1)
}

func (m *MockQueryService) Forecast(window int) (domain.Forecast, bool) {
	args := m.Called(window)
	return args.Get(0).(domain.Forecast), args.Bool(1)
}

func (m *MockQueryService) DetectorStatus() domain.DetectorStatus {
	return m.Called().Get(0).(domain.DetectorStatus)
}

func setupRouter(t *testing.T, query *MockQueryService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t).Sugar()

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	NewMetricsHandler(query, 100, 0).SetupRoutes(router)
	return router
}

func get(t *testing.T, router *gin.Engine, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestMetricsHandler_Root(t *testing.T) {
	router := setupRouter(t, new(MockQueryService))

	w := get(t, router, "/")

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "Streaming Performance Monitor API", body["message"])
}

func TestMetricsHandler_GetMetrics(t *testing.T) {
	query := new(MockQueryService)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	history := []domain.FleetSnapshot{
		{Timestamp: ts, Latency: 40, Buffering: 1, Users: 900},
		{Timestamp: ts.Add(time.Second), Latency: 60, Buffering: 2, Users: 1100},
	}
	query.On("Summary").Return(domain.SummaryStats{MeanLatency: 50, TotalBufferEvents: 3, LastUserCount: 1100})
	query.On("History", mock.Anything, 100).Return(history)

	router := setupRouter(t, query)
	w := get(t, router, "/metrics")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Current domain.SummaryStats    `json:"current_metrics"`
		History []domain.FleetSnapshot `json:"history"`
	}
	decode(t, w, &body)
	assert.Equal(t, 50.0, body.Current.MeanLatency)
	assert.Equal(t, 3, body.Current.TotalBufferEvents)
	assert.Equal(t, 1100, body.Current.LastUserCount)
	require.Len(t, body.History, 2)
	assert.True(t, body.History[0].Timestamp.Before(body.History[1].Timestamp))
	query.AssertExpectations(t)
}

func TestMetricsHandler_GetMetrics_EmptyHistoryIsArray(t *testing.T) {
	query := new(MockQueryService)
	query.On("Summary").Return(domain.SummaryStats{})
	query.On("History", mock.Anything, 100).Return(nil)

	w := get(t, setupRouter(t, query), "/metrics")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"history":[]`)
}

func TestMetricsHandler_GetMetrics_Limit(t *testing.T) {
	query := new(MockQueryService)
	query.On("Summary").Return(domain.SummaryStats{})
	query.On("History", mock.Anything, 10).Return([]domain.FleetSnapshot{})
	router := setupRouter(t, query)

	w := get(t, router, "/metrics?limit=10")
	assert.Equal(t, http.StatusOK, w.Code)
	query.AssertCalled(t, "History", mock.Anything, 10)

	for _, bad := range []string{"0", "101", "abc", "-5"} {
		w = get(t, router, "/metrics?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", bad)
	}
}

func TestMetricsHandler_ListStreams_Sorted(t *testing.T) {
	query := new(MockQueryService)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	query.On("Streams").Return([]domain.StreamRecord{
		{ID: "c", StartTime: ts.Add(time.Minute)},
		{ID: "b", StartTime: ts},
		{ID: "a", StartTime: ts},
	})

	w := get(t, setupRouter(t, query), "/api/v1/streams")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Streams []domain.StreamRecord `json:"streams"`
		Count   int                   `json:"count"`
	}
	decode(t, w, &body)
	assert.Equal(t, 3, body.Count)
	ids := []domain.StreamID{body.Streams[0].ID, body.Streams[1].ID, body.Streams[2].ID}
	assert.Equal(t, []domain.StreamID{"a", "b", "c"}, ids)
}

const (
	knownID   = "3b241101-e2bb-4255-8caf-4136c566a962"
	missingID = "9f1c2a3e-5d47-4b8e-a6f0-2c3d4e5f6a7b"
	brokenID  = "0d9e8f7a-6b5c-4d3e-8f2a-1b0c9d8e7f6a"
)

func TestMetricsHandler_GetStream(t *testing.T) {
	query := new(MockQueryService)
	query.On("Stream", domain.StreamID(knownID)).Return(domain.StreamRecord{ID: knownID, Title: "Movie"}, nil)
	query.On("Stream", domain.StreamID(missingID)).Return(domain.StreamRecord{}, domain.ErrStreamNotFound)
	query.On("Stream", domain.StreamID(brokenID)).Return(domain.StreamRecord{}, errors.New("boom"))
	router := setupRouter(t, query)

	w := get(t, router, "/api/v1/streams/"+knownID)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Stream domain.StreamRecord `json:"stream"`
	}
	decode(t, w, &body)
	assert.Equal(t, "Movie", body.Stream.Title)

	w = get(t, router, "/api/v1/streams/"+missingID)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var errBody apperrors.Response
	decode(t, w, &errBody)
	assert.Equal(t, apperrors.ErrCodeNotFound, errBody.Error.Code)

	w = get(t, router, "/api/v1/streams/"+brokenID)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = get(t, router, "/api/v1/streams/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	query.AssertNumberOfCalls(t, "Stream", 3)
}

func TestMetricsHandler_HistoryIsCached(t *testing.T) {
	gin.SetMode(gin.TestMode)
	query := new(MockQueryService)
	query.On("Summary").Return(domain.SummaryStats{})
	query.On("History", mock.Anything, 100).Return([]domain.FleetSnapshot{{Latency: 1}})

	router := gin.New()
	NewMetricsHandler(query, 100, time.Minute).SetupRoutes(router)

	for i := 0; i < 3; i++ {
		w := get(t, router, "/metrics")
		require.Equal(t, http.StatusOK, w.Code)
	}
	query.AssertNumberOfCalls(t, "History", 1)
	query.AssertNumberOfCalls(t, "Summary", 3)
}

func TestMetricsHandler_GetForecast(t *testing.T) {
	query := new(MockQueryService)
	query.On("Forecast", 60).Return(domain.Forecast{Latency: 52.5, Buffering: 1.5, Users: 1000}, true)
	query.On("Forecast", 500).Return(domain.Forecast{}, false)
	router := setupRouter(t, query)

	w := get(t, router, "/api/v1/forecast")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Window   int             `json:"window"`
		Forecast domain.Forecast `json:"forecast"`
	}
	decode(t, w, &body)
	assert.Equal(t, 60, body.Window)
	assert.InDelta(t, 52.5, body.Forecast.Latency, 1e-9)

	w = get(t, router, "/api/v1/forecast?window=500")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var errBody apperrors.Response
	decode(t, w, &errBody)
	assert.Equal(t, apperrors.ErrCodeInsufficientData, errBody.Error.Code)

	w = get(t, router, "/api/v1/forecast?window=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	query.AssertNotCalled(t, "Forecast", 0)
}

func TestMetricsHandler_GetAnomalyStatus(t *testing.T) {
	query := new(MockQueryService)
	query.On("DetectorStatus").Return(domain.DetectorStatus{Trained: true, Contamination: 0.1, TrainingSize: 100})

	w := get(t, setupRouter(t, query), "/api/v1/anomaly")

	require.Equal(t, http.StatusOK, w.Code)
	var status domain.DetectorStatus
	decode(t, w, &status)
	assert.True(t, status.Trained)
	assert.Equal(t, 100, status.TrainingSize)
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	checker := monitoring.NewHealthChecker()
	ready := true
	checker.AddCheck("pipeline", func(context.Context) error {
		if !ready {
			return errors.New("stalled")
		}
		return nil
	}, time.Second)

	router := gin.New()
	NewHealthHandler(checker, func() int { return 3 }).SetupRoutes(router)

	w := get(t, router, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	decode(t, w, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, 3.0, health["subscribers"])

	w = get(t, router, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	ready = false
	w = get(t, router, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var status monitoring.HealthStatus
	decode(t, w, &status)
	assert.Equal(t, "stalled", status.Checks["pipeline"])

	// liveness is independent of readiness
	w = get(t, router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
}
