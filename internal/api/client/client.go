// Package client is the HTTP client for the InfraWatch API used by iwctl.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/br00tm/infrawatch/internal/alert"
	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/models"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	defaultTimeout = 10 * time.Second
)

// APIError is a non-2xx response.
type APIError struct {
	Status   int
	Message  string
	Problems []string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if len(e.Problems) > 0 {
		msg += ": " + strings.Join(e.Problems, "; ")
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, msg)
}

type Client struct {
	baseURL    string
	token      string
	apiKey     string
	httpClient *http.Client
}

// New builds a client. A bearer token takes precedence over an API key.
func New(baseURL, token, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var out LoginResponse
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var out models.User
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rules

func (c *Client) ListRules(ctx context.Context, enabled *bool) ([]models.AlertRule, error) {
	q := url.Values{}
	if enabled != nil {
		q.Set("enabled", strconv.FormatBool(*enabled))
	}
	var out []models.AlertRule
	if err := c.do(ctx, http.MethodGet, "/api/v1/rules", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetRule(ctx context.Context, id uint) (*models.AlertRule, error) {
	var out models.AlertRule
	if err := c.do(ctx, http.MethodGet, rulePath(id, ""), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRule posts a raw JSON rule document.
func (c *Client) CreateRule(ctx context.Context, rule json.RawMessage) (*models.AlertRule, error) {
	var out models.AlertRule
	if err := c.do(ctx, http.MethodPost, "/api/v1/rules", nil, rule, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRule sends a partial rule; omitted fields keep their values.
func (c *Client) UpdateRule(ctx context.Context, id uint, patch json.RawMessage) (*models.AlertRule, error) {
	var out models.AlertRule
	if err := c.do(ctx, http.MethodPut, rulePath(id, ""), nil, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteRule(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, rulePath(id, ""), nil, nil, nil)
}

func (c *Client) SetRuleEnabled(ctx context.Context, id uint, enabled bool) error {
	action := "disable"
	if enabled {
		action = "enable"
	}
	return c.do(ctx, http.MethodPut, rulePath(id, action), nil, nil, nil)
}

func (c *Client) ValidateRule(ctx context.Context, rule json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "/api/v1/rules/validate", nil, rule, nil)
}

type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

func (c *Client) ImportRules(ctx context.Context, data []byte, format alert.Format) (*ImportResult, error) {
	q := url.Values{"format": {string(format)}}
	var out ImportResult
	if err := c.doRaw(ctx, http.MethodPost, "/api/v1/rules/import", q, data, contentType(format), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ExportRules(ctx context.Context, format alert.Format) ([]byte, error) {
	q := url.Values{"format": {string(format)}}
	var buf bytes.Buffer
	if err := c.doRaw(ctx, http.MethodGet, "/api/v1/rules/export", q, nil, "", &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type RuleTestResult struct {
	Rule   models.AlertRule   `json:"rule"`
	Result alert.DryRunResult `json:"result"`
}

func (c *Client) TestRule(ctx context.Context, id uint) (*RuleTestResult, error) {
	var out RuleTestResult
	if err := c.do(ctx, http.MethodPost, rulePath(id, "test"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Alerts

type AlertQuery struct {
	Status   string
	Severity string
	Source   string
	RuleID   uint
	Page     int
	PageSize int
}

func (q AlertQuery) values() url.Values {
	v := url.Values{}
	setIf(v, "status", q.Status)
	setIf(v, "severity", q.Severity)
	setIf(v, "source", q.Source)
	if q.RuleID > 0 {
		v.Set("rule_id", strconv.FormatUint(uint64(q.RuleID), 10))
	}
	setPage(v, q.Page, q.PageSize)
	return v
}

func (c *Client) ListAlerts(ctx context.Context, q AlertQuery) (*database.Paged[models.Alert], error) {
	var out database.Paged[models.Alert]
	if err := c.do(ctx, http.MethodGet, "/api/v1/alerts", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetAlert(ctx context.Context, id uint) (*models.Alert, error) {
	var out models.Alert
	if err := c.do(ctx, http.MethodGet, alertPath(id, ""), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AcknowledgeAlert(ctx context.Context, id uint) (*models.Alert, error) {
	return c.alertAction(ctx, id, "acknowledge")
}

func (c *Client) ResolveAlert(ctx context.Context, id uint) (*models.Alert, error) {
	return c.alertAction(ctx, id, "resolve")
}

func (c *Client) SilenceAlert(ctx context.Context, id uint) (*models.Alert, error) {
	return c.alertAction(ctx, id, "silence")
}

func (c *Client) alertAction(ctx context.Context, id uint, action string) (*models.Alert, error) {
	var out models.Alert
	if err := c.do(ctx, http.MethodPost, alertPath(id, action), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AlertStats(ctx context.Context) (*database.AlertStats, error) {
	var out database.AlertStats
	if err := c.do(ctx, http.MethodGet, "/api/v1/alerts/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics and logs

type Query struct {
	Filters  map[string]string
	Start    *time.Time
	End      *time.Time
	Page     int
	PageSize int
}

func (q Query) values() url.Values {
	v := url.Values{}
	for k, val := range q.Filters {
		setIf(v, k, val)
	}
	if q.Start != nil {
		v.Set("start", q.Start.UTC().Format(time.RFC3339))
	}
	if q.End != nil {
		v.Set("end", q.End.UTC().Format(time.RFC3339))
	}
	setPage(v, q.Page, q.PageSize)
	return v
}

func (c *Client) PushMetrics(ctx context.Context, metrics []models.Metric) (int, error) {
	var out struct {
		Created int `json:"created"`
	}
	body := map[string]interface{}{"metrics": metrics}
	if err := c.do(ctx, http.MethodPost, "/api/v1/metrics/batch", nil, body, &out); err != nil {
		return 0, err
	}
	return out.Created, nil
}

func (c *Client) QueryMetrics(ctx context.Context, q Query) (*database.Paged[models.Metric], error) {
	var out database.Paged[models.Metric]
	if err := c.do(ctx, http.MethodGet, "/api/v1/metrics", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PushLogs(ctx context.Context, logs []models.LogEntry) (int, error) {
	var out struct {
		Created int `json:"created"`
	}
	body := map[string]interface{}{"logs": logs}
	if err := c.do(ctx, http.MethodPost, "/api/v1/logs/batch", nil, body, &out); err != nil {
		return 0, err
	}
	return out.Created, nil
}

func (c *Client) QueryLogs(ctx context.Context, q Query) (*database.Paged[models.LogEntry], error) {
	var out database.Paged[models.LogEntry]
	if err := c.do(ctx, http.MethodGet, "/api/v1/logs", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func rulePath(id uint, action string) string {
	return path.Join("/api/v1/rules", strconv.FormatUint(uint64(id), 10), action)
}

func alertPath(id uint, action string) string {
	return path.Join("/api/v1/alerts", strconv.FormatUint(uint64(id), 10), action)
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

func setPage(v url.Values, page, size int) {
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	if size > 0 {
		v.Set("page_size", strconv.Itoa(size))
	}
}

func contentType(format alert.Format) string {
	if format == alert.FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// do sends body as JSON and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, out interface{}) error {
	var data []byte
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		data = b
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		data = encoded
	}
	ct := ""
	if data != nil {
		ct = "application/json"
	}
	return c.doRaw(ctx, method, endpoint, query, data, ct, out)
}

// doRaw writes the response body to out when it is an io.Writer and
// decodes it as JSON otherwise.
func (c *Client) doRaw(ctx context.Context, method, endpoint string, query url.Values, body []byte, ct string, out interface{}) error {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.apiKey != "":
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp struct {
			Error    string   `json:"error"`
			Problems []string `json:"problems"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&errResp); err == nil {
			apiErr.Message = errResp.Error
			apiErr.Problems = errResp.Problems
		}
		return apiErr
	}

	switch dst := out.(type) {
	case nil:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case io.Writer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
}
