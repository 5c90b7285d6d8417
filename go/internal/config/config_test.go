package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, TransportNATS, cfg.Transport.Backend)
	assert.Equal(t, "8080", cfg.HTTP.ControllerPort)
	assert.Equal(t, 30*time.Second, cfg.Timings.Judging)
	assert.Equal(t, 90*time.Second, cfg.Timings.FinalResponse)
	assert.Equal(t, "buzzer", cfg.Database.Database)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
log_level: debug
transport:
  backend: redis
  redis_url: redis://cache:6379/2
http:
  gateway_port: "9000"
timings:
  judging: 20s
  resync_interval: 1m
`)
	t.Setenv("GATEWAY_PORT", "9100")
	t.Setenv("FINAL_TIMEOUT", "45")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, TransportRedis, cfg.Transport.Backend)
	assert.Equal(t, "redis://cache:6379/2", cfg.Transport.RedisURL)
	assert.Equal(t, "9100", cfg.HTTP.GatewayPort, "environment wins over the file")
	assert.Equal(t, 20*time.Second, cfg.Timings.Judging)
	assert.Equal(t, 45*time.Second, cfg.Timings.FinalResponse, "bare integers are seconds")
	assert.Equal(t, time.Minute, cfg.Timings.ResyncInterval)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "malformed yaml", body: "transport: [nats"},
		{name: "unknown backend", body: "transport:\n  backend: kafka\n"},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}},
		{name: "zero judging timer", body: "timings:\n  judging: 0s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("BUZZER_TEST_DURATION", "1m30s")
	assert.Equal(t, 90*time.Second, getEnvAsDuration("BUZZER_TEST_DURATION", time.Second))

	t.Setenv("BUZZER_TEST_DURATION", "soon")
	assert.Equal(t, time.Second, getEnvAsDuration("BUZZER_TEST_DURATION", time.Second))
}
