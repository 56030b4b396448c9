package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/br00tm/infrawatch/internal/alert"
	"github.com/br00tm/infrawatch/internal/api/apitest"
	"github.com/br00tm/infrawatch/internal/api/client"
	"github.com/br00tm/infrawatch/internal/models"
)

func login(t *testing.T, url string) *client.Client {
	t.Helper()
	resp, err := client.New(url, "", "", nil).Login(context.Background(), apitest.AdminUser, apitest.AdminPassword)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	assert.Equal(t, "admin", resp.User.Username)
	return client.New(url, resp.Token, "", nil)
}

func TestRuleWorkflow(t *testing.T) {
	ctx := context.Background()
	c := login(t, apitest.New(t).URL)

	rule, err := c.CreateRule(ctx, json.RawMessage(`{"name":"High CPU","severity":"critical","conditions":[{"metric_name":"cpu_usage","operator":"gt","threshold":80}]}`))
	require.NoError(t, err)
	assert.True(t, rule.Enabled)

	_, err = c.CreateRule(ctx, json.RawMessage(`{"name":"High CPU"}`))
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	err = c.ValidateRule(ctx, json.RawMessage(`{"name":"x","conditions":[{"metric_name":"m","operator":"nope"}]}`))
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Error(), `unknown operator "nope"`)

	require.NoError(t, c.SetRuleEnabled(ctx, rule.ID, false))
	disabled := false
	rules, err := c.ListRules(ctx, &disabled)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	updated, err := c.UpdateRule(ctx, rule.ID, json.RawMessage(`{"cooldown_minutes":15}`))
	require.NoError(t, err)
	assert.Equal(t, 15, updated.CooldownMinutes)

	n, err := c.PushMetrics(ctx, []models.Metric{{Name: "cpu_usage", Value: 91}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := c.TestRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, res.Result.Triggered)

	exported, err := c.ExportRules(ctx, alert.FormatYAML)
	require.NoError(t, err)
	assert.Contains(t, string(exported), "name: High CPU")

	imported, err := c.ImportRules(ctx, exported, alert.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, &client.ImportResult{Created: 0, Updated: 1}, imported)

	require.NoError(t, c.DeleteRule(ctx, rule.ID))
	_, err = c.GetRule(ctx, rule.ID)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestAlertAndLogWorkflow(t *testing.T) {
	ctx := context.Background()
	c := login(t, apitest.New(t).URL)

	n, err := c.PushLogs(ctx, []models.LogEntry{
		{Message: "disk full", Level: models.LogLevelError, Source: "node-1"},
		{Message: "started", Source: "node-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	logs, err := c.QueryLogs(ctx, client.Query{Filters: map[string]string{"level": "error"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), logs.Total)
	assert.Equal(t, "disk full", logs.Items[0].Message)

	page, err := c.ListAlerts(ctx, client.AlertQuery{Status: "active"})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	stats, err := c.AlertStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalActive)

	_, err = c.AcknowledgeAlert(ctx, 99)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestCredentialsAreSent(t *testing.T) {
	var got http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"username":"svc"}`))
	}))
	defer ts.Close()

	_, err := client.New(ts.URL, "", "iw_key", nil).Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "iw_key", got.Get("X-API-Key"))
	assert.Empty(t, got.Get("Authorization"))

	_, err = client.New(ts.URL, "tok", "iw_key", nil).Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.Empty(t, got.Get("X-API-Key"))
}
