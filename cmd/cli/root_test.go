package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscope/internal/errors"
	"github.com/anstrom/portscope/internal/logging"
)

func TestLoadConfigFromFileAndEnvironment(t *testing.T) {
	resetFlags()
	cfgFile = writeConfig(t, `
scanning:
  default_ports: "22,80"
  concurrency: 50
database:
  host: db.internal
  database: portscope
api:
  port: 9090
logging:
  level: warn
  format: json
`)
	t.Setenv("PORTSCOPE_SCANNING_CONCURRENCY", "7")
	t.Setenv("PORTSCOPE_SCANNING_TIMEOUT", "2500ms")
	t.Setenv("PORTSCOPE_DATABASE_USERNAME", "scanner")
	initConfig()

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "22,80", cfg.Scanning.DefaultPorts)
	assert.Equal(t, 7, cfg.Scanning.Concurrency)
	assert.Equal(t, 2500*time.Millisecond, cfg.Scanning.Timeout)
	assert.Equal(t, "connect", cfg.Scanning.DefaultTechnique)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "portscope", cfg.Database.Database)
	assert.Equal(t, "scanner", cfg.Database.Username)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, logging.LevelWarn, cfg.Logging.Level)
	assert.Equal(t, logging.FormatJSON, cfg.Logging.Format)
	assert.Equal(t, logging.FormatJSON, logging.Default().Config().Format)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	resetFlags()
	cfgFile = writeConfig(t, testConfigYAML)
	t.Setenv("PORTSCOPE_SCANNING_CONCURRENCY", "0")
	initConfig()

	_, err := loadConfig()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.4.0", "c0ffee", "2026-10-01")
	t.Cleanup(func() { SetVersion("dev", "none", "unknown") })

	stdout, _, err := executeCommand(t, "version", "--config", writeConfig(t, testConfigYAML))
	require.NoError(t, err)
	assert.Contains(t, stdout, "portscope 1.4.0")
	assert.Contains(t, stdout, "c0ffee")
	assert.Contains(t, rootCmd.Version, "1.4.0")
}
