package config_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "lavado.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "local", cfg.Lock.Driver)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
}

func TestLoad_FileAndEnv(t *testing.T) {
	// GIVEN a config file and an env override
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(`
http:
  port: 9090
database:
  path: /var/lib/lavado.db
lock:
  driver: redis
  redis_addr: localhost:6379
  ttl: 1m
scheduler:
  enabled: true
  interval: 15m
  companies: [ACME, Globex]
`), 0o600))
	t.Setenv("LAVADO_LOG_LEVEL", "debug")

	// WHEN it is loaded
	cfg, err := config.Load(dir)

	// THEN file values and env both apply
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "/var/lib/lavado.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis", cfg.Lock.Driver)
	assert.Equal(t, time.Minute, cfg.Lock.TTL)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, []string{"ACME", "Globex"}, cfg.Scheduler.Companies)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{"redis without address", "lock:\n  driver: redis\n"},
		{"unknown lock driver", "lock:\n  driver: etcd\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"bad port", "http:\n  port: 70000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(tt.yml), 0o600))

			_, err := config.Load(dir)
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := config.NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.WithField("company", "ACME").Warn("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "ACME", line["company"])
}
