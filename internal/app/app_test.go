package app

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfred-go/internal/config"
)

func baseConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: "0"},
		Database:  config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "app.db")},
		Labels:    config.LabelsConfig{Base: "MailFred", Scheduled: "MailFred/Scheduled"},
		Scheduler: config.SchedulerConfig{Enabled: true, IntervalMinutes: 1},
		Reconcile: config.ReconcileConfig{BatchSize: 5},
		Auth:      config.AuthConfig{OwnerHeader: "X-Owner-ID", StateSecret: "secret", StateTTL: time.Minute},
		Log:       config.LogConfig{Level: "debug"},
	}
}

func TestNewWithGmailAPI(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Gmail = config.GmailConfig{ClientID: "id", ClientSecret: "secret", RedirectURL: "http://localhost/oauth2/callback"}

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	authenticator, err := a.Authorizer()
	require.NoError(t, err)
	assert.NotNil(t, authenticator)

	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest(http.MethodGet, "/oauth2/setup", nil)
	req.Header.Set("X-Owner-ID", "alice@example.com")
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusFound, w.Code)
}

func TestNewWithIMAP(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Gmail = config.GmailConfig{UseIMAP: true, IMAPUser: "alice@example.com", IMAPPassword: "app-password"}

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Authorizer()
	assert.ErrorIs(t, err, ErrOAuthDisabled)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/oauth2/setup", nil)
	req.Header.Set("X-Owner-ID", "alice@example.com")
	w = httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Labels.Scheduled = cfg.Labels.Base

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestSetupLoggingFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() { logrus.SetLevel(logrus.InfoLevel) })

	SetupLogging(config.LogConfig{Level: "warn"})
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	SetupLogging(config.LogConfig{Level: "verbose"})
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}
