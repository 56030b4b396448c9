// Package apitest runs the real API over an in-memory database for tests
// of API consumers.
package apitest

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/br00tm/infrawatch/internal/alert"
	"github.com/br00tm/infrawatch/internal/api"
	"github.com/br00tm/infrawatch/internal/auth"
	"github.com/br00tm/infrawatch/internal/config"
	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/database/dbtest"
	"github.com/br00tm/infrawatch/internal/models"
	"github.com/br00tm/infrawatch/internal/queue"
	"github.com/br00tm/infrawatch/internal/ws"
)

const (
	AdminUser     = "admin"
	AdminPassword = "password1"
)

type Server struct {
	URL string
	// AdminKey is the API key of the seeded admin user.
	AdminKey string
}

func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := dbtest.New(t)
	log := zerolog.Nop()
	q := queue.NewChannelQueue(64)

	metrics := database.NewMetricRepository(db)
	rules := database.NewRuleRepository(db)
	users := database.NewUserRepository(db)

	admin := &models.User{Username: AdminUser, Role: models.RoleAdmin, IsActive: true}
	if err := admin.SetPassword(AdminPassword); err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := users.Create(context.Background(), admin); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	srv := api.NewServer(config.ServerConfig{}, api.Deps{
		DB:       db,
		Metrics:  metrics,
		Logs:     database.NewLogRepository(db),
		LogStats: database.NewLogStatsRepository(db),
		Health:   database.NewHealthRepository(db),
		Users:    users,
		Rules:    alert.NewRuleManager(rules, log),
		Alerts:   alert.NewAlertManager(database.NewAlertRepository(db), q, log, nil),
		Engine:   alert.NewEngine(rules, metrics, q, log),
		Auth:     auth.New("apitest-secret", time.Hour, users),
		Hub:      ws.NewHub(nil, log),
	}, log)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &Server{URL: ts.URL, AdminKey: admin.ApiKey}
}
