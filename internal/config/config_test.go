package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("CHECKPOINT_DATABASE_DSN", "postgres://localhost/checkpoint")
	t.Setenv("CHECKPOINT_DEDUP_TOLERANCE", "3s")
	t.Setenv("CHECKPOINT_APP_TIMEZONE", "Asia/Almaty")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/checkpoint", cfg.Database.DSN)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 3*time.Second, cfg.Dedup.Tolerance)
	assert.Equal(t, 24*time.Hour, cfg.Camera.Lookback)
	assert.Equal(t, 24*time.Hour, cfg.Passage.ReentryWindow)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Almaty", loc.String())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.yaml")
	body := `
database:
  driver: sqlite
  dsn: /tmp/checkpoint.db
camera:
  enabled: true
  feed_url: http://camera.local/api/plates
  station_id: 1
  gate_id: 2
  poll_interval: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Camera.Enabled)
	assert.Equal(t, time.Second, cfg.Camera.PollInterval)

	target := cfg.Camera.Target()
	assert.Equal(t, "http://camera.local/api/plates", target.URL)
	assert.Equal(t, int64(1), target.StationID)
	assert.Equal(t, int64(2), target.GateID)
}

func TestValidate(t *testing.T) {
	t.Run("missing dsn", func(t *testing.T) {
		cfg := Config{Dedup: DedupConfig{Tolerance: time.Second}, App: AppConfig{Timezone: "UTC"}}
		require.EqualError(t, cfg.Validate(), "database.dsn is required")
	})

	t.Run("camera enabled without target", func(t *testing.T) {
		cfg := Config{
			Database: DatabaseConfig{DSN: "x"},
			Camera:   CameraConfig{Enabled: true, FeedURL: "http://camera"},
			Dedup:    DedupConfig{Tolerance: time.Second},
			App:      AppConfig{Timezone: "UTC"},
		}
		require.Error(t, cfg.Validate())
	})

	t.Run("bad timezone", func(t *testing.T) {
		cfg := Config{
			Database: DatabaseConfig{DSN: "x"},
			Dedup:    DedupConfig{Tolerance: time.Second},
			App:      AppConfig{Timezone: "Mars/Olympus"},
		}
		require.Error(t, cfg.Validate())
	})
}
