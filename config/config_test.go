package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-engine/config"
	"github.com/warp/fulfillment-engine/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Contains(t, cfg.Server.CORSOrigins, "http://localhost:5173")
	assert.Equal(t, "fulfillment.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Tax.Timeout)
	assert.Equal(t, uint32(5), cfg.Tax.BreakerFailures)
	assert.Equal(t, time.Duration(0), cfg.Replay.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Redis.LockTTL)
	assert.Zero(t, cfg.Redis.LockWait)
	assert.Equal(t, core.DefaultRounding(), cfg.Rounding())
	assert.False(t, cfg.InMemory())

	rate, err := cfg.DefaultTaxRate()
	require.NoError(t, err)
	assert.True(t, rate.IsZero())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  cors_origins: ["https://ops.example.com"]
database:
  path: memory
tax:
  rounding: half-even
  calc_scale: 4
  default_rate: "0.0725"
replay:
  interval: 30s
redis:
  lock_wait: 2s
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.InMemory())
	assert.Equal(t, core.RoundingPolicy{CalcScale: 4, FinalScale: 2, Mode: core.RoundHalfEven}, cfg.Rounding())
	assert.Equal(t, 30*time.Second, cfg.Replay.Interval)
	assert.Equal(t, 2*time.Second, cfg.Redis.LockWait)
	rate, err := cfg.DefaultTaxRate()
	require.NoError(t, err)
	assert.True(t, rate.Equal(core.MustDecimal("0.0725")))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("FULFILLMENT_SERVER_PORT", "9100")
	t.Setenv("FULFILLMENT_REDIS_ADDR", "localhost:6379")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config failed")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"port out of range", "server:\n  port: 70000\n", "server.port"},
		{"unknown rounding", "tax:\n  rounding: up\n", "tax rounding"},
		{"final beyond calc", "tax:\n  calc_scale: 2\n  final_scale: 3\n", "tax rounding"},
		{"bad rate", "tax:\n  default_rate: abc\n", "tax.default_rate"},
		{"negative rate", "tax:\n  default_rate: \"-0.1\"\n", "negative"},
		{"negative lock wait", "redis:\n  lock_wait: -1s\n", "redis.lock_wait"},
		{"empty database", "database:\n  path: \"\"\n", "database.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
