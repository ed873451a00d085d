package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfred-go/internal/config"
	"mailfred-go/internal/model"
)

func TestInitSQLiteRunsMigrations(t *testing.T) {
	conn, err := Init(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "mailfred.db"),
	})
	require.NoError(t, err)

	assert.True(t, conn.Migrator().HasTable(&model.ScheduleRecord{}))
	assert.True(t, conn.Migrator().HasTable(&model.Credential{}))
	assert.True(t, conn.Migrator().HasIndex(&model.ScheduleRecord{}, "idx_schedule_pair"))
}

func TestInitRejectsUnknownDriver(t *testing.T) {
	_, err := Init(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
