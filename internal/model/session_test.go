package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/slim-eval/internal/preprocessing"
)

func tensor(size int, base float32) preprocessing.Tensor {
	t := preprocessing.Tensor{Height: size, Width: size, Channels: 3, Data: make([]float32, 3*size*size)}
	for i := range t.Data {
		t.Data[i] = base + float32(i)
	}
	return t
}

func TestPackBatchNHWC(t *testing.T) {
	images := []preprocessing.Tensor{tensor(2, 0), tensor(2, 100)}
	dst := make([]float32, 24)
	require.NoError(t, PackBatch(dst, images, LayoutNHWC, 2))
	require.Equal(t, images[0].Data, dst[:12])
	require.Equal(t, images[1].Data, dst[12:])
}

func TestPackBatchNCHW(t *testing.T) {
	images := []preprocessing.Tensor{tensor(2, 0)}
	dst := make([]float32, 12)
	require.NoError(t, PackBatch(dst, images, LayoutNCHW, 2))
	require.Equal(t, []float32{0, 3, 6, 9, 1, 4, 7, 10, 2, 5, 8, 11}, dst)
}

func TestPackBatchRejectsWrongSize(t *testing.T) {
	dst := make([]float32, 27)
	require.Error(t, PackBatch(dst, []preprocessing.Tensor{tensor(2, 0)}, LayoutNHWC, 3))
}

func TestSplitLogits(t *testing.T) {
	rows := SplitLogits([]float32{5, 1, 1, 1, 1, 1, 1, 5}, 2, 4)
	require.Equal(t, [][]float32{{5, 1, 1, 1}, {1, 1, 1, 5}}, rows)
}

func TestLoadMetadataDefaults(t *testing.T) {
	meta, err := LoadMetadata(filepath.Join(t.TempDir(), "model.ckpt-10.onnx"))
	require.NoError(t, err)
	require.Equal(t, "input", meta.InputName)
	require.Equal(t, LayoutNHWC, meta.Layout)
}

func TestLoadMetadataSidecar(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "model.ckpt-10.onnx")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.ckpt-10.json"),
		[]byte(`{"input_name":"images","output_name":"logits","layout":"NCHW","num_classes":5}`), 0o644))

	require.Equal(t, filepath.Join(dir, "model.ckpt-10.json"), MetadataPath(ckpt))
	meta, err := LoadMetadata(ckpt)
	require.NoError(t, err)
	require.Equal(t, "images", meta.InputName)
	require.Equal(t, "logits", meta.OutputName)
	require.Equal(t, LayoutNCHW, meta.Layout)
	require.Equal(t, 5, meta.NumClasses)
}

func TestLoadMetadataWrapsParseError(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "model.ckpt-10.onnx")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.ckpt-10.json"), []byte(`{"layout":`), 0o644))

	_, err := LoadMetadata(ckpt)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse metadata")
	var syntaxErr *json.SyntaxError
	require.ErrorAs(t, errors.Cause(err), &syntaxErr)
}

func TestLoadMetadataRejectsLayout(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model_metadata.json"), []byte(`{"layout":"CHWN"}`), 0o644))
	_, err := LoadMetadata(filepath.Join(dir, "m.onnx"))
	require.Error(t, err)
}
