package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	require.Equal(t, "flowers", cfg.DatasetName)
	require.Equal(t, "validation", cfg.DatasetSplit)
	require.Equal(t, 100, cfg.BatchSize)
	require.Equal(t, "inception_v3", cfg.ModelName)
	require.Equal(t, 4, cfg.NumPreprocessingThreads)
	require.Equal(t, ModeSingle, cfg.Mode)
	require.NoError(t, cfg.Validate())
}

func TestFlowersScenarioOverwritesLocations(t *testing.T) {
	cfg := New()
	cfg.ApplyFlowersScenario()
	require.Equal(t, "/tmp/flowers-models/inception_v3/all", cfg.CheckpointPath)
	require.Equal(t, "/tmp/flowers-models/inception_v3/eval/all", cfg.EvalDir)
	require.Equal(t, "flowers", cfg.DatasetName)
	require.Equal(t, "inception_v3", cfg.ModelName)
	require.Equal(t, "/tmp/flowers-models/inception_v3/eval/all/predictions", cfg.PredictionsDir())
}

func TestApplyPreset(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.ApplyPreset("none"))
	require.Equal(t, "/tmp/tfmodel/", cfg.CheckpointPath)
	require.Error(t, cfg.ApplyPreset("imagenet"))
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eval.yaml")
	body := []byte("dataset_name: cifar10\nbatch_size: 8\nlabels_offset: 1\nmode: full\nprometheus:\n  enabled: true\n  push_url: http://localhost:9091\n")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "cifar10", cfg.DatasetName)
	require.Equal(t, 8, cfg.BatchSize)
	require.Equal(t, 1, cfg.LabelsOffset)
	require.Equal(t, ModeFull, cfg.Mode)
	require.Equal(t, "validation", cfg.DatasetSplit)
	require.Equal(t, "slim_eval", cfg.Prometheus.JobName)
	require.NoError(t, cfg.Validate())
}

func TestApplyOverrides(t *testing.T) {
	cfg := New()
	size := 128
	cfg.ApplyOverrides(Overrides{BatchSize: 2, ModelName: "vgg_16", EvalImageSize: &size, PushURL: "http://gw:9091"})
	require.Equal(t, 2, cfg.BatchSize)
	require.Equal(t, "vgg_16", cfg.ModelName)
	require.Equal(t, 128, cfg.EvalImageSize)
	require.True(t, cfg.Prometheus.Enabled)
	require.Equal(t, "flowers", cfg.DatasetName)
}

func TestApplyOverridesResetsToZero(t *testing.T) {
	cfg := New()
	cfg.LabelsOffset = 1
	cfg.EvalImageSize = 299

	cfg.ApplyOverrides(Overrides{})
	require.Equal(t, 1, cfg.LabelsOffset)
	require.Equal(t, 299, cfg.EvalImageSize)

	zero := 0
	cfg.ApplyOverrides(Overrides{LabelsOffset: &zero, EvalImageSize: &zero})
	require.Equal(t, 0, cfg.LabelsOffset)
	require.Equal(t, 0, cfg.EvalImageSize)
}

func TestPreprocessingFallsBackToModel(t *testing.T) {
	cfg := New()
	require.Equal(t, "inception_v3", cfg.PreprocessingFor())
	cfg.PreprocessingName = "vgg"
	require.Equal(t, "vgg", cfg.PreprocessingFor())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"batch", func(c *Config) { c.BatchSize = 0 }},
		{"threads", func(c *Config) { c.NumPreprocessingThreads = 0 }},
		{"offset", func(c *Config) { c.LabelsOffset = -1 }},
		{"mode", func(c *Config) { c.Mode = "loop" }},
		{"push", func(c *Config) { c.Prometheus.Enabled = true }},
		{"dataset", func(c *Config) { c.DatasetDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
