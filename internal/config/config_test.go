package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QUEUE_STORE", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "PIN", cfg.AuthMode)
	assert.Equal(t, DefaultAuthSecret, cfg.AuthSecret)
	assert.False(t, cfg.InsecureSecret())
	assert.Equal(t, 1.0, cfg.TraceSampleRatio)
	assert.Empty(t, cfg.OTLPEndpoint)
	assert.Equal(t, 8*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 25*time.Second, cfg.StreamKeepAlive)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, "Asia/Bangkok", cfg.Location().String())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUEUE_STORE", "memory")
	t.Setenv("PORT", "9090")
	t.Setenv("AUTH_MODE", "pin_session")
	t.Setenv("BASE_PATH", "/q/")
	t.Setenv("STREAM_KEEPALIVE_SECONDS", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "PIN_SESSION", cfg.AuthMode)
	assert.Equal(t, "/q", cfg.BasePath)
	assert.Equal(t, 10*time.Second, cfg.StreamKeepAlive)
}

func TestInsecureSecretOutsideMemoryStore(t *testing.T) {
	t.Setenv("QUEUE_STORE", "postgres")
	t.Setenv("DB_DSN", "postgres://queue@localhost/queue")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSecret())

	t.Setenv("AUTH_SECRET", "rotated-secret")
	cfg, err = Load()
	require.NoError(t, err)
	assert.False(t, cfg.InsecureSecret())
}

func TestLoadTracingSettings(t *testing.T) {
	t.Setenv("QUEUE_STORE", "memory")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("TRACE_SAMPLE_RATIO", "0.25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.True(t, cfg.OTLPInsecure)
	assert.Equal(t, 0.25, cfg.TraceSampleRatio)
}

func TestLoadRequiresDSNForPostgres(t *testing.T) {
	t.Setenv("QUEUE_STORE", "postgres")
	t.Setenv("DB_DSN", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("QUEUE_STORE", "memory")
	t.Setenv("QUEUE_TIMEZONE", "Mars/Olympus")
	_, err := Load()
	assert.Error(t, err)
}

func TestParseServices(t *testing.T) {
	services, err := ParseServices(" A:Finance , B:Registrar,")
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"A", "Finance"}, {"B", "Registrar"}}, services)

	_, err = ParseServices("A")
	assert.Error(t, err)
}
