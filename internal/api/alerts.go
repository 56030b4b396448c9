package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/br00tm/infrawatch/internal/auth"
	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/models"
)

func (s *Server) listAlerts(c *gin.Context) {
	f := database.AlertFilter{
		Status:   models.AlertStatus(c.Query("status")),
		Severity: models.Severity(c.Query("severity")),
		Source:   c.Query("source"),
	}
	if raw := c.Query("rule_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			badRequest(c, "rule_id must be a number")
			return
		}
		ruleID := uint(id)
		f.RuleID = &ruleID
	}

	page, err := s.deps.Alerts.List(c.Request.Context(), f, pageParams(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) alertStats(c *gin.Context) {
	stats, err := s.deps.Alerts.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getAlert(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	a, err := s.deps.Alerts.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type alertRequest struct {
	Title                string               `json:"title"`
	Description          string               `json:"description"`
	Severity             models.Severity      `json:"severity"`
	Source               string               `json:"source"`
	Namespace            string               `json:"namespace"`
	Cluster              string               `json:"cluster"`
	Labels               models.Labels        `json:"labels"`
	Metadata             models.Metadata      `json:"metadata"`
	NotificationChannels []models.ChannelKind `json:"notification_channels"`
}

func (s *Server) createAlert(c *gin.Context) {
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	a := &models.Alert{
		Title:       req.Title,
		Description: req.Description,
		Severity:    req.Severity,
		Source:      req.Source,
		Namespace:   req.Namespace,
		Cluster:     req.Cluster,
		Labels:      req.Labels,
		Metadata:    req.Metadata,
	}
	if err := s.deps.Alerts.CreateManual(c.Request.Context(), a, req.NotificationChannels); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	by := ""
	if user, ok := auth.CurrentUser(c); ok {
		by = user.Username
	}
	a, err := s.deps.Alerts.Acknowledge(c.Request.Context(), id, by)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) resolveAlert(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	a, err := s.deps.Alerts.Resolve(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) silenceAlert(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	a, err := s.deps.Alerts.Silence(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) deleteAlert(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.deps.Alerts.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "alert deleted successfully"})
}
