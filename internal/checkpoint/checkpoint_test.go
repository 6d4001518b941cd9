package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/slim-eval/internal/model"
	"github.com/Brownie44l1/slim-eval/internal/nets"
	"github.com/Brownie44l1/slim-eval/internal/preprocessing"
)

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("onnx"), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestResolveFileUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ckpt-7.onnx")
	touch(t, path, time.Now())
	got, err := Resolve(path)
	require.NoError(t, err)
	require.Equal(t, path, got)
}

func TestResolveMissingPathIsTreatedAsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ckpt-7")
	got, err := Resolve(path)
	require.NoError(t, err)
	require.Equal(t, path, got)
}

func TestResolveDirectoryPicksMostRecent(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	touch(t, filepath.Join(dir, "model.ckpt-300.onnx"), base)
	touch(t, filepath.Join(dir, "model.ckpt-100.onnx"), base.Add(2*time.Minute))
	touch(t, filepath.Join(dir, "model.ckpt-200.onnx"), base.Add(time.Minute))
	touch(t, filepath.Join(dir, "notes.txt"), base.Add(time.Hour))

	got, err := Resolve(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "model.ckpt-100.onnx"), got)
}

func TestLatestTieBreaksOnStep(t *testing.T) {
	dir := t.TempDir()
	mod := time.Now().Add(-time.Minute)
	touch(t, filepath.Join(dir, "model.ckpt-9.onnx"), mod)
	touch(t, filepath.Join(dir, "model.ckpt-10.onnx"), mod)

	got, err := Latest(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "model.ckpt-10.onnx"), got)
}

func TestLatestPrefersStateFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touch(t, filepath.Join(dir, "model.ckpt-1.onnx"), now.Add(-time.Hour))
	touch(t, filepath.Join(dir, "model.ckpt-2.onnx"), now)
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFilename),
		[]byte("model_checkpoint_path: \"model.ckpt-1\"\nall_model_checkpoint_paths: \"model.ckpt-1\"\n"), 0o644))

	got, err := Latest(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "model.ckpt-1.onnx"), got)
}

func TestLatestIgnoresDanglingStateFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "model.ckpt-2.onnx"), time.Now())
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFilename), []byte("model_checkpoint_path: \"gone\"\n"), 0o644))

	got, err := Latest(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "model.ckpt-2.onnx"), got)
}

func TestLatestEmptyDir(t *testing.T) {
	_, err := Latest(t.TempDir())
	require.Error(t, err)
}

func TestStepFromPath(t *testing.T) {
	step, ok := StepFromPath("/tmp/flowers/model.ckpt-1234.onnx")
	require.True(t, ok)
	require.Equal(t, int64(1234), step)

	step, ok = StepFromPath("model.ckpt-55")
	require.True(t, ok)
	require.Equal(t, int64(55), step)

	_, ok = StepFromPath("inception_v3.onnx")
	require.False(t, ok)
}

func TestGlobalStepIsMonotonic(t *testing.T) {
	var s GlobalStep
	s.Advance(10)
	s.Advance(3)
	require.Equal(t, int64(10), s.Value())
	require.Same(t, GetOrCreateGlobalStep(), GetOrCreateGlobalStep())
}

type stubClassifier struct{}

func (stubClassifier) Logits([]preprocessing.Tensor) ([][]float32, error) { return nil, nil }
func (stubClassifier) Close()                                            {}

type recordingTarget struct {
	got model.Classifier
}

func (r *recordingTarget) Attach(c model.Classifier) { r.got = c }

func TestAssignFromCheckpointFn(t *testing.T) {
	network, err := nets.Get("inception_v3", 5, false)
	require.NoError(t, err)
	vars := VariablesToRestore(network, 2, 299)

	var openedPath string
	var openedVars Variables
	restore := AssignFromCheckpointFn("/ckpt/model.ckpt-4242.onnx", vars, func(path string, v Variables) (model.Classifier, error) {
		openedPath, openedVars = path, v
		return stubClassifier{}, nil
	})

	target := &recordingTarget{}
	require.NoError(t, restore(target))
	require.Equal(t, "/ckpt/model.ckpt-4242.onnx", openedPath)
	require.Equal(t, vars, openedVars)
	require.NotNil(t, target.got)
	require.GreaterOrEqual(t, GetOrCreateGlobalStep().Value(), int64(4242))
}

func TestAssignFromCheckpointFnPropagatesErrors(t *testing.T) {
	restore := AssignFromCheckpointFn("/ckpt/missing.onnx", Variables{}, func(string, Variables) (model.Classifier, error) {
		return nil, errors.New("no such file")
	})
	target := &recordingTarget{}
	require.Error(t, restore(target))
	require.Nil(t, target.got)
}
