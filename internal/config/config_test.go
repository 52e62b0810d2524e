package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Engine.MaxTxAttempts)
	assert.Equal(t, "fs", cfg.Documents.Driver)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte(`
engine:
  max_tx_attempts: 7
directory:
  users:
    U1:
      display_name: Olga
      contact: olga@example.com
`))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.MaxTxAttempts)
	assert.Equal(t, 20, cfg.Engine.RetryBackoffMS)
	assert.Equal(t, "log", cfg.Notifications.Driver)
	assert.Equal(t, "Olga", cfg.Directory.Users["U1"].DisplayName)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":        "database:\n  driver: mysql\n",
		"postgres dsn":  "database:\n  driver: postgres\n",
		"attempts":      "engine:\n  max_tx_attempts: 0\n",
		"s3 bucket":     "documents:\n  driver: s3\n",
		"webhook url":   "notifications:\n  driver: webhook\n",
		"workers":       "notifications:\n  workers: 0\n",
		"user name":     "directory:\n  users:\n    U1:\n      contact: x\n",
		"http base url": "directory:\n  driver: http\n",
		"base path":     "server:\n  base_path: v0\n",
		"dev login":     "server:\n  dev_login: true\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	ws := t.TempDir()
	cfg, err := LoadOptional(ws)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(ws)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(Path(ws), []byte("log:\n  level: debug\n"), 0o644))
	cfg, err = Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestGenerateDefaultParses(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
