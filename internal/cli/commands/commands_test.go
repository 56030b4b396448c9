package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/br00tm/infrawatch/internal/api/apitest"
	"github.com/br00tm/infrawatch/internal/models"
)

type cli struct {
	t      *testing.T
	config string
}

func newCLI(t *testing.T, withKey bool) *cli {
	srv := apitest.New(t)
	t.Setenv("INFRAWATCH_API_URL", srv.URL)
	t.Setenv("INFRAWATCH_TOKEN", "")
	if withKey {
		t.Setenv("INFRAWATCH_API_KEY", srv.AdminKey)
	} else {
		t.Setenv("INFRAWATCH_API_KEY", "")
	}
	return &cli{t: t, config: filepath.Join(t.TempDir(), "iwctl.yaml")}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", c.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const ruleYAML = `name: High CPU
severity: critical
conditions:
  - metric_name: cpu_usage
    operator: gt
    threshold: 80
notification_channels: [slack]
`

func TestRuleCommands(t *testing.T) {
	c := newCLI(t, true)

	out := c.mustRun("rules", "create", "-f", writeFile(t, "rule.yaml", ruleYAML))
	assert.Contains(t, out, "High CPU")
	assert.Contains(t, out, "cpu_usage gt 80 (60s)")

	out = c.mustRun("-o", "json", "rules", "list")
	var rules []models.AlertRule
	require.NoError(t, json.Unmarshal([]byte(out), &rules))
	require.Len(t, rules, 1)
	id := rules[0].ID
	assert.True(t, rules[0].Enabled)

	c.mustRun("rules", "disable", jsonID(id))
	out = c.mustRun("rules", "list", "--enabled", "false")
	assert.Contains(t, out, "High CPU")
	out = c.mustRun("rules", "list", "--enabled", "true")
	assert.NotContains(t, out, "High CPU")

	out = c.mustRun("rules", "update", jsonID(id), "-f", writeFile(t, "patch.json", `{"cooldown_minutes": 30}`))
	assert.Contains(t, out, "30m")

	_, err := c.run("rules", "validate", "-f", writeFile(t, "bad.yaml", "name: x\nseverity: loud\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule is invalid")

	exportPath := filepath.Join(t.TempDir(), "rules.yaml")
	out = c.mustRun("rules", "export", exportPath)
	assert.Contains(t, out, "Rules exported")
	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: High CPU")

	out = c.mustRun("rules", "import", exportPath)
	assert.Contains(t, out, "0 created, 1 updated")

	out = c.mustRun("rules", "export", "--format", "json")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "["))

	c.mustRun("metric", "push", "--name", "cpu_usage", "--value", "95", "--source", "node-1")
	out = c.mustRun("rules", "test", jsonID(id))
	assert.Contains(t, out, "Would fire:")
	assert.Contains(t, out, "95.00")

	c.mustRun("rules", "delete", jsonID(id))
	_, err = c.run("rules", "get", jsonID(id))
	require.Error(t, err)

	_, err = c.run("rules", "get", "abc")
	require.Error(t, err)
}

func TestMetricAndLogCommands(t *testing.T) {
	c := newCLI(t, true)

	batch := writeFile(t, "metrics.yaml", `metrics:
  - name: mem_usage
    value: 40
    metric_type: memory
  - name: mem_usage
    value: 60
    metric_type: memory
`)
	out := c.mustRun("metric", "push", "-f", batch)
	assert.Contains(t, out, "2 metric(s) stored")

	_, err := c.run("metric", "push", "--name", "only_name")
	require.Error(t, err)
	_, err = c.run("metric", "push", "--name", "x", "--value", "1", "--label", "novalue")
	require.Error(t, err)

	out = c.mustRun("-o", "json", "metric", "query", "--name", "mem_usage", "--since", "1h")
	var page struct {
		Items []models.Metric `json:"items"`
		Total int64           `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Equal(t, int64(2), page.Total)

	c.mustRun("log", "push", "disk almost full", "--level", "error", "--source", "node-1")
	c.mustRun("log", "push", "-f", writeFile(t, "logs.json", `[{"message":"started","level":"info"}]`))

	out = c.mustRun("log", "query", "--level", "error")
	assert.Contains(t, out, "disk almost full")
	assert.NotContains(t, out, "started")
	assert.Contains(t, out, "1 entries")

	_, err = c.run("log", "query", "--start", "yesterday")
	require.Error(t, err)
}

func TestAlertCommands(t *testing.T) {
	c := newCLI(t, true)

	out := c.mustRun("alert", "list", "--status", "active")
	assert.Contains(t, out, "0 alerts")

	out = c.mustRun("alert", "stats")
	assert.Contains(t, out, "Active:")

	_, err := c.run("alert", "ack", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to acknowledge alert")
}

func TestLoginSavesToken(t *testing.T) {
	c := newCLI(t, false)

	_, err := c.run("rules", "list")
	require.Error(t, err)

	_, err = c.run("login", "-u", apitest.AdminUser, "-p", "wrong-password")
	require.Error(t, err)

	out := c.mustRun("login", "-u", apitest.AdminUser, "-p", apitest.AdminPassword)
	assert.Contains(t, out, "Logged in as admin (admin)")

	data, err := os.ReadFile(c.config)
	require.NoError(t, err)
	assert.Contains(t, string(data), "token:")

	c.mustRun("rules", "list")
}

func TestOutputFlagIsChecked(t *testing.T) {
	c := newCLI(t, true)
	_, err := c.run("-o", "xml", "rules", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func jsonID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
