package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LabelsFilename is the file mapping label indices to class names.
const LabelsFilename = "labels.txt"

// HasLabels reports whether dir contains a labels file.
func HasLabels(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, LabelsFilename))
	return err == nil
}

// ReadLabelsFile parses "<index>:<name>" lines from dir/labels.txt.
func ReadLabelsFile(dir string) (map[int]string, error) {
	f, err := os.Open(filepath.Join(dir, LabelsFilename))
	if err != nil {
		return nil, errors.Wrap(err, "open labels")
	}
	defer f.Close()

	names := make(map[int]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			return nil, errors.Errorf("labels line %d: missing ':'", lineNo)
		}
		label, err := strconv.Atoi(line[:idx])
		if err != nil {
			return nil, errors.Wrapf(err, "labels line %d", lineNo)
		}
		names[label] = line[idx+1:]
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read labels")
	}
	return names, nil
}

// WriteLabelsFile writes names to dir/labels.txt in index order.
func WriteLabelsFile(dir string, names map[int]string) error {
	labels := make([]int, 0, len(names))
	for label := range names {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	var b strings.Builder
	for _, label := range labels {
		fmt.Fprintf(&b, "%d:%s\n", label, names[label])
	}
	if err := os.WriteFile(filepath.Join(dir, LabelsFilename), []byte(b.String()), 0o644); err != nil {
		return errors.Wrap(err, "write labels")
	}
	return nil
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
