package http

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"cdnpulse/internal/core/domain"
	"cdnpulse/internal/core/ports"
	"cdnpulse/pkg/cache"
	apperrors "cdnpulse/pkg/errors"
	"cdnpulse/pkg/validation"

	"github.com/gin-gonic/gin"
)

const maxForecastWindow = 1000

type MetricsHandler struct {
	query      ports.QueryService
	queryLimit int
	history    *cache.Cache[[]domain.FleetSnapshot]
}

// NewMetricsHandler serves the query surface. History reads are cached for
// historyTTL so polling clients do not each hit the store; zero disables it.
func NewMetricsHandler(query ports.QueryService, queryLimit int, historyTTL time.Duration) *MetricsHandler {
	if queryLimit <= 0 {
		queryLimit = 100
	}
	return &MetricsHandler{
		query:      query,
		queryLimit: queryLimit,
		history:    cache.NewCache[[]domain.FleetSnapshot](historyTTL),
	}
}

func (h *MetricsHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/", h.Root)
	router.GET("/metrics", h.GetMetrics)

	api := router.Group("/api/v1")
	{
		api.GET("/streams", h.ListStreams)
		api.GET("/streams/:id", h.GetStream)
		api.GET("/forecast", h.GetForecast)
		api.GET("/anomaly", h.GetAnomalyStatus)
	}
}

func (h *MetricsHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Streaming Performance Monitor API"})
}

// GetMetrics returns the summary statistics and recent history, oldest first.
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	limit, err := intQuery(c, "limit", h.queryLimit, 1, h.queryLimit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	ctx := c.Request.Context()
	history := h.history.GetOrLoad(strconv.Itoa(limit), func() []domain.FleetSnapshot {
		return h.query.History(ctx, limit)
	})
	if history == nil {
		history = []domain.FleetSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{
		"current_metrics": h.query.Summary(),
		"history":         history,
	})
}

func (h *MetricsHandler) ListStreams(c *gin.Context) {
	streams := h.query.Streams()
	sort.Slice(streams, func(i, j int) bool {
		if !streams[i].StartTime.Equal(streams[j].StartTime) {
			return streams[i].StartTime.Before(streams[j].StartTime)
		}
		return streams[i].ID < streams[j].ID
	})

	c.JSON(http.StatusOK, gin.H{
		"streams": streams,
		"count":   len(streams),
	})
}

func (h *MetricsHandler) GetStream(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateStreamID(id); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	stream, err := h.query.Stream(domain.StreamID(id))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream": stream})
}

func (h *MetricsHandler) GetForecast(c *gin.Context) {
	window, err := intQuery(c, "window", 60, 1, maxForecastWindow)
	if err != nil {
		_ = c.Error(err)
		return
	}

	forecast, ok := h.query.Forecast(window)
	if !ok {
		_ = c.Error(apperrors.NewInsufficientDataError("not enough history for forecast").
			WithContext("window", window))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"window":   window,
		"forecast": forecast,
	})
}

func (h *MetricsHandler) GetAnomalyStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.query.DetectorStatus())
}

func intQuery(c *gin.Context, name string, def, lo, hi int) (int, error) {
	v, err := validation.ParseIntInRange(c.Query(name), def, lo, hi, name)
	if err != nil {
		return 0, apperrors.NewInvalidInputError(err.Error()).
			WithContext("min", lo).
			WithContext("max", hi)
	}
	return v, nil
}
