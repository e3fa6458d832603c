package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/scanstreams/config"
	"github.com/c360/scanstreams/errors"
)

func TestNewBuildsConfiguredStages(t *testing.T) {
	cfg := config.Default()
	cfg.Stages.Explorer.Enabled = false
	cfg.Stages.Tagger.Enabled = false

	engine, err := New(cfg)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"converter", "matcher", "exporter"}, engine.StageNames())
}

func TestNewRejectsEmptyStageSet(t *testing.T) {
	cfg := config.Default()
	cfg.Stages = config.StagesConfig{}

	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewOpensDumpFile(t *testing.T) {
	cfg := config.Default()
	cfg.Stages.DumpPath = t.TempDir() + "/results.jsonl"

	engine, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, engine.dump)
	engine.shutdown()

	assert.FileExists(t, cfg.Stages.DumpPath)
}

func TestLoggerLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		logger := newLogger(config.LoggingConfig{Level: level, Format: "json"})
		require.NotNil(t, logger, "level %q", level)
	}
}
