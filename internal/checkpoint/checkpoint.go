// Package checkpoint resolves checkpoint files and restores them into an
// evaluation session.
package checkpoint

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// StateFilename is the checkpoint index written next to checkpoint files.
const StateFilename = "checkpoint"

// Extension of exported checkpoint files.
const Extension = ".onnx"

var stepRegexp = regexp.MustCompile(`-(\d+)(?:\.onnx)?$`)

// GlobalStep is a monotonically increasing step counter.
type GlobalStep struct {
	v atomic.Int64
}

var (
	globalStep     *GlobalStep
	globalStepOnce sync.Once
)

// GetOrCreateGlobalStep returns the process wide step counter.
func GetOrCreateGlobalStep() *GlobalStep {
	globalStepOnce.Do(func() {
		globalStep = &GlobalStep{}
	})
	return globalStep
}

// Value returns the current step.
func (s *GlobalStep) Value() int64 {
	return s.v.Load()
}

// Advance moves the counter to step if step is larger.
func (s *GlobalStep) Advance(step int64) {
	for {
		cur := s.v.Load()
		if step <= cur || s.v.CompareAndSwap(cur, step) {
			return
		}
	}
}

// StepFromPath parses the "-<step>" suffix of a checkpoint path.
func StepFromPath(path string) (int64, bool) {
	m := stepRegexp.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, false
	}
	step, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return step, true
}

// Resolve returns the latest checkpoint when path is a directory, and path
// unchanged otherwise.
func Resolve(path string) (string, error) {
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		return Latest(path)
	}
	return path, nil
}

// Latest returns the most recent checkpoint in dir. The state file wins
// when it names an existing file; otherwise the most recently written
// checkpoint file is used, ties broken by step.
func Latest(dir string) (string, error) {
	if path, ok := fromState(dir); ok {
		return path, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*"+Extension))
	if err != nil {
		return "", errors.Wrap(err, "list checkpoints")
	}
	type candidate struct {
		path string
		mod  int64
		step int64
	}
	candidates := make([]candidate, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		step, _ := StepFromPath(m)
		candidates = append(candidates, candidate{path: m, mod: info.ModTime().UnixNano(), step: step})
	}
	if len(candidates) == 0 {
		return "", errors.Errorf("no checkpoint found in %s", dir)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.mod != b.mod {
			return a.mod > b.mod
		}
		if a.step != b.step {
			return a.step > b.step
		}
		return a.path > b.path
	})
	return candidates[0].path, nil
}

func fromState(dir string) (string, bool) {
	f, err := os.Open(filepath.Join(dir, StateFilename))
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok || strings.TrimSpace(key) != "model_checkpoint_path" {
			continue
		}
		path := strings.Trim(strings.TrimSpace(value), `"`)
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		for _, candidate := range []string{path, path + Extension} {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
		return "", false
	}
	return "", false
}
