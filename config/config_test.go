package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "DB_TYPE", "SQLITE_PATH", "MONGO_URL", "MONGO_DATABASE", "MERGE_BATCHES",
	"DEPLETE_ON_SELL", "RETRY_ATTEMPTS", "AUDIT_INTERVAL", "CORS_ORIGINS", "LOG_LEVEL",
}

// clearEnv blanks every key for the duration of the test.
func clearEnv(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DBSQLite, cfg.DBType)
	assert.True(t, cfg.MergeBatches)
	assert.False(t, cfg.DepleteOnSell)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Zero(t, cfg.AuditInterval)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_TYPE", "MEMORY")
	t.Setenv("DEPLETE_ON_SELL", "true")
	t.Setenv("AUDIT_INTERVAL", "15m")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DBMemory, cfg.DBType)
	assert.True(t, cfg.DepleteOnSell)
	assert.Equal(t, 15*time.Minute, cfg.AuditInterval)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)

	opts := cfg.LedgerOptions()
	assert.True(t, opts.DepleteOnSell)
	assert.Equal(t, 5, opts.RetryAttempts)
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	// t.Setenv registered cleanups; unset so godotenv may fill them.
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9191\nLOG_LEVEL=debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9191", cfg.Port)
	assert.Equal(t, "debug", cfg.GetLoggerConfig().Level)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown db", map[string]string{"DB_TYPE": "postgres"}},
		{"mongo without url", map[string]string{"DB_TYPE": "mongo"}},
		{"zero retries", map[string]string{"RETRY_ATTEMPTS": "0"}},
		{"bad bool", map[string]string{"MERGE_BATCHES": "perhaps"}},
		{"bad interval", map[string]string{"AUDIT_INTERVAL": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
