package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp runs the test in an empty directory so no stray .env is read.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadClient_Defaults(t *testing.T) {
	chdirTemp(t)

	c, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "asistencia.db", c.DBPath)
	assert.Equal(t, 30*time.Second, c.SyncInterval)
	assert.Equal(t, time.Hour, c.TrackingInterval)
	assert.Equal(t, 3*time.Hour, c.MinDwell)
	assert.Equal(t, 30*time.Second, c.CaptureTimeout)
	assert.Equal(t, 1280, c.PhotoMaxDim)
	require.NotNil(t, c.Location)
	assert.Equal(t, "America/Bogota", c.Location.String())
}

func TestLoadClient_EnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ASISTENCIA_USER_ID", " u-7 ")
	t.Setenv("ASISTENCIA_SYNC_INTERVAL", "45s")
	t.Setenv("ASISTENCIA_MIN_DWELL", "0s")
	t.Setenv("ASISTENCIA_TZ", "UTC")

	c, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "u-7", c.UserID)
	assert.Equal(t, 45*time.Second, c.SyncInterval)
	assert.Equal(t, time.Duration(0), c.MinDwell)
	assert.Equal(t, time.UTC, c.Location)
}

func TestLoadClient_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ASISTENCIA_DB=/data/field.db\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("ASISTENCIA_DB") })

	c, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "/data/field.db", c.DBPath)
}

func TestLoadClient_Invalid(t *testing.T) {
	chdirTemp(t)

	t.Setenv("ASISTENCIA_SYNC_INTERVAL", "soon")
	_, err := LoadClient()
	assert.ErrorContains(t, err, "ASISTENCIA_SYNC_INTERVAL")

	t.Setenv("ASISTENCIA_SYNC_INTERVAL", "-1s")
	_, err = LoadClient()
	assert.ErrorContains(t, err, "must be positive")

	t.Setenv("ASISTENCIA_SYNC_INTERVAL", "30s")
	t.Setenv("ASISTENCIA_TZ", "Mars/Olympus")
	_, err = LoadClient()
	assert.ErrorContains(t, err, "ASISTENCIA_TZ")
}

func TestLoadServer(t *testing.T) {
	chdirTemp(t)

	_, err := LoadServer()
	assert.ErrorContains(t, err, "DB_PASSWORD is required")

	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_HOST", "db")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test,")
	s, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "postgres://postgres:secret@db:5432/asistencia?sslmode=disable", s.DatabaseURL())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, s.CORSOrigins)
	assert.Equal(t, "http://localhost:8080/api/v1/blobs", s.Storage.BaseURL)
}

func TestLoadServer_MemoryBackend(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GATEWAY_BACKEND", "memory")
	t.Setenv("APP_PORT", "9090")

	s, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, s.Backend)
	assert.Equal(t, 9090, s.App.Port)

	t.Setenv("GATEWAY_BACKEND", "redis")
	_, err = LoadServer()
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}
