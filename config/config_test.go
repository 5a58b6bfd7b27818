package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/generic"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_PATH", "REDIS_ADDR", "PAYROLL_LOCALE", "WRITE_TIMEOUT", "SESSION_TTL", "CORS_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, "payroll.db", cfg.Store.Path)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, "en", cfg.Payroll.Locale)
	assert.Equal(t, 10*time.Second, cfg.Payroll.WriteTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Payroll.SessionTTL)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PAYROLL_LOCALE", "fr")
	t.Setenv("WRITE_TIMEOUT", "2s")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "fr", cfg.Payroll.Locale)
	assert.Equal(t, 2*time.Second, cfg.Payroll.WriteTimeout)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
}

func TestLoad_DotEnvFile(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("REDIS_ADDR=localhost:6379\n"), 0o600))
	// godotenv.Load never overrides variables that are already set.
	require.NoError(t, os.Unsetenv("REDIS_ADDR"))

	cfg, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("WRITE_TIMEOUT", "soon")

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))

	assert.ErrorIs(t, err, generic.ErrConfiguration)
}
