package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Database: DatabaseConfig{
			Driver: "mysql",
			Host:   "localhost",
			User:   "test",
			DBName: "test",
		},
		Gmail: GmailConfig{
			ClientID:     "test",
			ClientSecret: "test",
			RedirectURL:  "http://localhost:8080/oauth2/callback",
		},
		Labels: LabelsConfig{
			Base:      "MailFred",
			Scheduled: "MailFred/Scheduled",
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			IntervalMinutes: 5,
		},
		Reconcile: ReconcileConfig{
			BatchSize: 5,
		},
		Auth: AuthConfig{
			OwnerHeader: "X-Owner-ID",
			StateSecret: "secret",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	invalidConfig := &Config{
		Server: ServerConfig{
			Port: "",
		},
	}
	assert.Error(t, invalidConfig.Validate())
}

func TestConfigValidationCases(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }},
		{name: "sqlite without path", mutate: func(c *Config) { c.Database = DatabaseConfig{Driver: "sqlite"} }},
		{name: "missing oauth secret", mutate: func(c *Config) { c.Gmail.ClientSecret = "" }},
		{name: "missing state secret", mutate: func(c *Config) { c.Auth.StateSecret = "" }},
		{name: "imap without password", mutate: func(c *Config) { c.Gmail.UseIMAP = true; c.Gmail.IMAPUser = "me" }},
		{name: "same labels", mutate: func(c *Config) { c.Labels.Scheduled = c.Labels.Base }},
		{name: "zero interval", mutate: func(c *Config) { c.Scheduler.IntervalMinutes = 0 }},
		{name: "zero batch", mutate: func(c *Config) { c.Reconcile.BatchSize = 0 }},
		{name: "no owner header", mutate: func(c *Config) { c.Auth.OwnerHeader = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDisabledSchedulerSkipsInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler = SchedulerConfig{Enabled: false}
	assert.NoError(t, cfg.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	config := DatabaseConfig{
		Driver:   "mysql",
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	expected := "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=UTC"
	assert.Equal(t, expected, config.GetDSN())

	sqlite := DatabaseConfig{Driver: "sqlite", Path: "/tmp/mailfred.db"}
	assert.Equal(t, "/tmp/mailfred.db", sqlite.GetDSN())
}

func TestLoadConfigFromEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SCHEDULER_INTERVAL_MINUTES", "7")
	t.Setenv("AUTH_STATE_TTL", "2m")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 7, cfg.Scheduler.IntervalMinutes)
	assert.Equal(t, 2*time.Minute, cfg.Auth.StateTTL)
	assert.Equal(t, "MailFred/Scheduled", cfg.Labels.Scheduled)
	assert.Equal(t, 5, cfg.Reconcile.BatchSize)
	assert.Equal(t, "X-Owner-ID", cfg.Auth.OwnerHeader)
}

func TestLoadConfigFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "mailfred.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: sqlite
  path: /var/lib/mailfred.db
labels:
  scheduled: Snoozed
reconcile:
  batch_size: 10
`), 0o600))

	cfg, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/mailfred.db", cfg.Database.Path)
	assert.Equal(t, "Snoozed", cfg.Labels.Scheduled)
	assert.Equal(t, "MailFred", cfg.Labels.Base)
	assert.Equal(t, 10, cfg.Reconcile.BatchSize)

	_, err = LoadConfigFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
