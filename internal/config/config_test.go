package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profileYAML = `
profiles:
  default:
    batch_size: 50
    data_dir: /srv/esco
  docker:
    batch_size: 500
    staleness_threshold: 30m
    classes_to_ingest: [Occupation, Skill]
    non_interactive: true
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "escograph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(profileYAML), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ESCO_CONFIG_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, time.Hour, cfg.StalenessThreshold)
	assert.Equal(t, models.DefaultClasses, cfg.ClassesToIngest)
	assert.Empty(t, cfg.Profile)
}

func TestLoadProfileThenEnv(t *testing.T) {
	t.Setenv("ESCO_CONFIG_PATH", writeConfig(t))
	t.Setenv("ESCO_PROFILE", "docker")
	t.Setenv("ESCO_BATCH_SIZE", "250")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "docker", cfg.Profile)
	assert.Equal(t, 250, cfg.BatchSize, "env wins over profile")
	assert.Equal(t, 30*time.Minute, cfg.StalenessThreshold)
	assert.Equal(t, []string{"Occupation", "Skill"}, cfg.ClassesToIngest)
	assert.True(t, cfg.NonInteractive)
	assert.Equal(t, "data/esco", cfg.DataDir, "fields the profile omits keep defaults")
}

func TestLoadDefaultProfile(t *testing.T) {
	t.Setenv("ESCO_CONFIG_PATH", writeConfig(t))
	t.Setenv("ESCO_PROFILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, "/srv/esco", cfg.DataDir)
}

func TestLoadUnknownProfile(t *testing.T) {
	t.Setenv("ESCO_CONFIG_PATH", writeConfig(t))
	t.Setenv("ESCO_PROFILE", "staging")

	_, err := Load()
	assert.ErrorContains(t, err, `profile "staging" not found`)
}

func TestEnvDurationAcceptsSeconds(t *testing.T) {
	t.Setenv("ESCO_CONFIG_PATH", "")
	t.Setenv("ESCO_STALENESS_THRESHOLD", "120")
	t.Setenv("ESCO_WAIT_POLL_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.StalenessThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.WaitPollInterval)
}

func TestEnvFloat(t *testing.T) {
	t.Setenv("ESCO_CONFIG_PATH", "")
	t.Setenv("ESCO_EMBED_RATE_LIMIT", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 2.5, cfg.EmbedRateLimit, 1e-9)

	t.Setenv("ESCO_EMBED_RATE_LIMIT", "fast")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.EmbedRateLimit, "invalid values keep the default")
}

func TestIsInteractiveMode(t *testing.T) {
	orig := stdinIsTerminal
	t.Cleanup(func() { stdinIsTerminal = orig })

	tests := []struct {
		name     string
		tty      bool
		docker   bool
		nonInter bool
		want     bool
	}{
		{"terminal", true, false, false, true},
		{"no terminal", false, false, false, false},
		{"docker", true, true, false, false},
		{"non interactive flag", true, false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdinIsTerminal = func() bool { return tt.tty }
			cfg := Config{DockerEnv: tt.docker, NonInteractive: tt.nonInter}
			assert.Equal(t, tt.want, cfg.IsInteractiveMode())
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	res := cfg.Validate()
	assert.True(t, res.IsValid, res.Errors)
	assert.NotEmpty(t, res.Warnings, "embeddings disabled by default")

	cfg.BatchSize = 0
	cfg.ClassesToIngest = []string{"Occupation", "Nope"}
	cfg.EmbedProvider = ProviderOpenAI
	res = cfg.Validate()
	assert.False(t, res.IsValid)
	assert.Len(t, res.Errors, 3)
	assert.Equal(t, "error", res.Details["embeddings"].Status)
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("step complete", "step", 3)

	assert.Contains(t, stderr.String(), "step complete")
	assert.NotContains(t, stderr.String(), "hidden")
	assert.True(t, strings.HasPrefix(file.String(), "{"), "file output is JSON")
	assert.Contains(t, file.String(), `"step":3`)
}

func TestSetupLoggerCreatesLogDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "escograph.log")
	logger, closeLog := SetupLogger(path, slog.LevelInfo)
	logger.Info("ingestion started", "run_id", "run-1")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"run-1"`)
}
