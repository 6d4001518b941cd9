package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/slim-eval/internal/config"
)

func resetFlags(t *testing.T) {
	t.Cleanup(func() {
		configPath = ""
		presetName = "flowers"
		overrides = config.Overrides{}
	})
}

func noneChanged(string) bool { return false }

func changedFlags(names ...string) func(string) bool {
	return func(name string) bool {
		for _, n := range names {
			if n == name {
				return true
			}
		}
		return false
	}
}

func TestResolveConfigPrecedence(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "eval.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size: 7\ncheckpoint_path: /from/file\nmodel_name: vgg_16\n"), 0o644))

	configPath = path
	presetName = "flowers"
	overrides = config.Overrides{BatchSize: 3}

	cfg, err := resolveConfig(noneChanged)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.BatchSize)
	require.Equal(t, "/tmp/flowers-models/inception_v3/all", cfg.CheckpointPath)
	require.Equal(t, "inception_v3", cfg.ModelName)
}

func TestResolveConfigWithoutPreset(t *testing.T) {
	resetFlags(t)
	presetName = "none"
	overrides = config.Overrides{Mode: config.ModeFull}

	cfg, err := resolveConfig(noneChanged)
	require.NoError(t, err)
	require.Equal(t, "/tmp/tfmodel/", cfg.CheckpointPath)
	require.Equal(t, config.ModeFull, cfg.Mode)
}

func TestResolveConfigRejectsBadMode(t *testing.T) {
	resetFlags(t)
	overrides = config.Overrides{Mode: "interactive"}
	_, err := resolveConfig(noneChanged)
	require.Error(t, err)
}

func TestResolveConfigExplicitZeroFlags(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "eval.yaml")
	require.NoError(t, os.WriteFile(path, []byte("labels_offset: 1\neval_image_size: 224\n"), 0o644))
	configPath = path
	presetName = "none"

	cfg, err := resolveConfig(noneChanged)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.LabelsOffset)
	require.Equal(t, 224, cfg.EvalImageSize)

	cfg, err = resolveConfig(changedFlags("labels-offset", "eval-image-size"))
	require.NoError(t, err)
	require.Equal(t, 0, cfg.LabelsOffset)
	require.Equal(t, 0, cfg.EvalImageSize)
}

func TestRunFlagsTrackLabelsOffset(t *testing.T) {
	resetFlags(t)
	f := runCmd.Flags()
	t.Cleanup(func() { f.Lookup("labels-offset").Changed = false })

	require.False(t, f.Changed("labels-offset"))
	require.NoError(t, f.Set("labels-offset", "0"))
	require.True(t, f.Changed("labels-offset"))

	cfg, err := resolveConfig(f.Changed)
	require.NoError(t, err)
	require.Equal(t, 0, cfg.LabelsOffset)
}

func TestPresetReplacedReportsFileValues(t *testing.T) {
	defaults := config.New()
	fromFile := config.New()
	fromFile.ModelName = "vgg_16"
	fromFile.DatasetName = "flowers"
	fromFile.CheckpointPath = "/tmp/flowers-models/inception_v3/all"

	applied := *fromFile
	require.NoError(t, applied.ApplyPreset("flowers"))

	replaced := presetReplaced(defaults, fromFile, &applied)
	require.Equal(t, "vgg_16", replaced["model_name"])
	require.NotContains(t, replaced, "dataset_name")
	require.NotContains(t, replaced, "checkpoint_path")
	require.NotContains(t, replaced, "eval_dir")

	require.Empty(t, presetReplaced(defaults, defaults, &applied))
}

func TestLatestCheckpointCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.ckpt-5.onnx"), []byte("onnx"), 0o644))

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"latest-checkpoint", dir})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())
	require.Equal(t, filepath.Join(dir, "model.ckpt-5.onnx")+"\n", out.String())
}
