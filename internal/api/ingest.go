package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/models"
	"github.com/br00tm/infrawatch/internal/ws"
)

const maxBatchSize = 1000

var aggregateWindows = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
}

func validateMetric(i int, m *models.Metric) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("metrics[%d]: name is required", i)
	}
	if m.MetricType != "" && !m.MetricType.Valid() {
		return fmt.Errorf("metrics[%d]: unknown metric_type %q", i, m.MetricType)
	}
	m.ID = 0
	m.Processed = false
	m.ProcessedAt = nil
	return nil
}

func validateLog(i int, e *models.LogEntry) error {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Errorf("logs[%d]: message is required", i)
	}
	if e.Level != "" && !e.Level.Valid() {
		return fmt.Errorf("logs[%d]: unknown level %q", i, e.Level)
	}
	e.ID = 0
	return nil
}

func (s *Server) createMetric(c *gin.Context) {
	var m models.Metric
	if err := c.ShouldBindJSON(&m); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := validateMetric(0, &m); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.deps.Metrics.Insert(c.Request.Context(), &m); err != nil {
		s.fail(c, err)
		return
	}
	s.deps.Telemetry.Ingested("metric", 1)
	s.deps.Hub.Broadcast(ws.EventMetric, m)
	c.JSON(http.StatusCreated, m)
}

type metricBatch struct {
	Metrics []models.Metric `json:"metrics" binding:"required"`
}

func (s *Server) createMetricBatch(c *gin.Context) {
	var req metricBatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(req.Metrics) == 0 || len(req.Metrics) > maxBatchSize {
		badRequest(c, fmt.Sprintf("batch must hold between 1 and %d metrics", maxBatchSize))
		return
	}
	for i := range req.Metrics {
		if err := validateMetric(i, &req.Metrics[i]); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	n, err := s.deps.Metrics.InsertBatch(c.Request.Context(), req.Metrics)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.deps.Telemetry.Ingested("metric", n)
	for _, m := range req.Metrics {
		s.deps.Hub.Broadcast(ws.EventMetric, m)
	}
	c.JSON(http.StatusCreated, gin.H{"created": n})
}

func (s *Server) listMetrics(c *gin.Context) {
	start, end, ok := timeRange(c)
	if !ok {
		return
	}
	f := database.MetricFilter{
		Name:       c.Query("name"),
		Source:     c.Query("source"),
		Namespace:  c.Query("namespace"),
		Cluster:    c.Query("cluster"),
		MetricType: models.MetricType(c.Query("metric_type")),
		Start:      start,
		End:        end,
	}

	page, err := s.deps.Metrics.Query(c.Request.Context(), f, pageParams(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) aggregateMetrics(c *gin.Context) {
	window := c.DefaultQuery("window", "1h")
	d, ok := aggregateWindows[window]
	if !ok {
		badRequest(c, "window must be one of 1h, 6h, 24h")
		return
	}
	metricType := models.MetricType(c.Query("metric_type"))
	if metricType != "" && !metricType.Valid() {
		badRequest(c, fmt.Sprintf("unknown metric_type %q", metricType))
		return
	}

	rows, err := s.deps.Metrics.Aggregate(c.Request.Context(), metricType, s.now().UTC().Add(-d))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"window": window, "metric_type": metricType, "aggregates": rows})
}

func (s *Server) createLog(c *gin.Context) {
	var e models.LogEntry
	if err := c.ShouldBindJSON(&e); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := validateLog(0, &e); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.deps.Logs.Insert(c.Request.Context(), &e); err != nil {
		s.fail(c, err)
		return
	}
	s.deps.Telemetry.Ingested("log", 1)
	s.deps.Hub.Broadcast(ws.EventLog, e)
	c.JSON(http.StatusCreated, e)
}

type logBatch struct {
	Logs []models.LogEntry `json:"logs" binding:"required"`
}

func (s *Server) createLogBatch(c *gin.Context) {
	var req logBatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(req.Logs) == 0 || len(req.Logs) > maxBatchSize {
		badRequest(c, fmt.Sprintf("batch must hold between 1 and %d logs", maxBatchSize))
		return
	}
	for i := range req.Logs {
		if err := validateLog(i, &req.Logs[i]); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	n, err := s.deps.Logs.InsertBatch(c.Request.Context(), req.Logs)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.deps.Telemetry.Ingested("log", n)
	for _, e := range req.Logs {
		s.deps.Hub.Broadcast(ws.EventLog, e)
	}
	c.JSON(http.StatusCreated, gin.H{"created": n})
}

func (s *Server) listLogs(c *gin.Context) {
	start, end, ok := timeRange(c)
	if !ok {
		return
	}
	f := database.LogFilter{
		Level:     models.LogLevel(c.Query("level")),
		Source:    c.Query("source"),
		Namespace: c.Query("namespace"),
		Search:    c.Query("search"),
		Start:     start,
		End:       end,
	}

	page, err := s.deps.Logs.Query(c.Request.Context(), f, pageParams(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) logStats(c *gin.Context) {
	stats, err := s.deps.LogStats.Latest(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
