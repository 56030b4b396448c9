package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/br00tm/infrawatch/internal/alert"
	"github.com/br00tm/infrawatch/internal/auth"
	"github.com/br00tm/infrawatch/internal/models"
)

const maxImportBytes = 4 << 20

func (s *Server) listRules(c *gin.Context) {
	var enabled *bool
	if raw := c.Query("enabled"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "enabled must be true or false")
			return
		}
		enabled = &v
	}

	rules, err := s.deps.Rules.ListRules(c.Request.Context(), enabled)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (s *Server) getRule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	rule, err := s.deps.Rules.GetRule(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) createRule(c *gin.Context) {
	// A rule that does not mention enabled starts enabled.
	rule := models.AlertRule{Enabled: true}
	if err := c.ShouldBindJSON(&rule); err != nil {
		badRequest(c, err.Error())
		return
	}
	if user, ok := auth.CurrentUser(c); ok {
		rule.CreatedBy = user.ID
	}

	if err := s.deps.Rules.CreateRule(c.Request.Context(), &rule); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// updateRule applies the request body over the stored rule, so omitted
// fields keep their current values.
func (s *Server) updateRule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	rule, err := s.deps.Rules.GetRule(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := c.ShouldBindJSON(rule); err != nil {
		badRequest(c, err.Error())
		return
	}
	rule.ID = id

	if err := s.deps.Rules.UpdateRule(ctx, rule); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) deleteRule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.deps.Rules.DeleteRule(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "rule deleted successfully"})
}

func (s *Server) enableRule(c *gin.Context) {
	s.setRuleEnabled(c, true)
}

func (s *Server) disableRule(c *gin.Context) {
	s.setRuleEnabled(c, false)
}

func (s *Server) setRuleEnabled(c *gin.Context, enabled bool) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var err error
	if enabled {
		err = s.deps.Rules.EnableRule(c.Request.Context(), id)
	} else {
		err = s.deps.Rules.DisableRule(c.Request.Context(), id)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "enabled": enabled})
}

func (s *Server) validateRule(c *gin.Context) {
	rule := models.AlertRule{Enabled: true}
	if err := c.ShouldBindJSON(&rule); err != nil {
		badRequest(c, err.Error())
		return
	}
	alert.ApplyDefaults(&rule)
	if err := alert.ValidateRule(&rule); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "rule": rule})
}

func requestFormat(c *gin.Context) alert.Format {
	switch c.Query("format") {
	case string(alert.FormatYAML), "yml":
		return alert.FormatYAML
	case string(alert.FormatJSON):
		return alert.FormatJSON
	}
	return alert.FormatFromContentType(c.ContentType())
}

// importRules accepts a JSON or YAML rule list and upserts it by name.
func (s *Server) importRules(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil {
		badRequest(c, "failed to read request body")
		return
	}

	created, updated, err := s.deps.Rules.ImportRules(c.Request.Context(), data, requestFormat(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": created, "updated": updated})
}

func (s *Server) exportRules(c *gin.Context) {
	format := alert.FormatJSON
	if f := c.Query("format"); f == string(alert.FormatYAML) || f == "yml" {
		format = alert.FormatYAML
	}

	data, err := s.deps.Rules.ExportRules(c.Request.Context(), format)
	if err != nil {
		s.fail(c, err)
		return
	}
	contentType := "application/json"
	if format == alert.FormatYAML {
		contentType = "application/yaml"
	}
	c.Header("Content-Disposition", "attachment; filename=rules."+string(format))
	c.Data(http.StatusOK, contentType, data)
}

// testRule evaluates a stored rule against current data without firing it.
func (s *Server) testRule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	rule, err := s.deps.Rules.GetRule(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	result, err := s.deps.Engine.DryRun(ctx, rule)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule, "result": result})
}
