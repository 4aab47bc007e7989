package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/userhub/database"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "BIND_ADDRESS", "LOG_LEVEL", "CONSOLE_LOG_FORMAT", "USERHUB_TEST_DOTENV"} {
		t.Setenv(key, "")
	}
	// Run from an empty directory so a developer's .env does not leak in.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, database.TypeSQLite, cfg.Database.Type)
	assert.Equal(t, database.MemoryStorage, cfg.Database.DBName)
	assert.False(t, cfg.Database.EnableQueryLog)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "userhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  port: 9000
database:
  type: sqlite
  dbname: users.db
  slow_query_time: 500ms
log:
  level: debug
`), 0o600))
	t.Setenv("PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "users.db", cfg.Database.DBName)
	assert.Equal(t, 500*time.Millisecond, cfg.Database.SlowQueryTime)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset keys keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Database.ConnectTimeout)
}

func TestLoadDotEnvFile(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.Unsetenv("USERHUB_TEST_DOTENV"))
	require.NoError(t, os.WriteFile(".env", []byte("USERHUB_TEST_DOTENV=from-file\nLOG_LEVEL=warn\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-file", os.Getenv("USERHUB_TEST_DOTENV"))
	// LOG_LEVEL was already set (to empty) by the test, so .env does not
	// override it.
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)

	t.Setenv("PORT", "eighty")
	_, err = Load("")
	assert.Error(t, err)

	t.Setenv("PORT", "70000")
	_, err = Load("")
	assert.Error(t, err)
}

func TestServerAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8000", ServerConfig{Host: "127.0.0.1", Port: 8000}.Addr())
	assert.Equal(t, "[::1]:8000", ServerConfig{Host: "::1", Port: 8000}.Addr())
	assert.Equal(t, ":0", ServerConfig{Port: 0}.Addr())
}
