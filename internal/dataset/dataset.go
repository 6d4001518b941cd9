package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Format identifies how a record file is laid out on disk.
type Format string

const (
	FormatTFRecord   Format = "tfrecord"
	FormatWebDataset Format = "webdataset"
)

// Record is one encoded (image, label) pair read from a dataset file.
type Record struct {
	Key    string
	Image  []byte
	Format string
	Label  int
}

// Dataset is a resolved split of a named dataset.
type Dataset struct {
	Name          string
	Split         string
	Dir           string
	NumSamples    int
	NumClasses    int
	LabelsToNames map[int]string
	Files         []string
}

// LabelName returns the human readable name of label, or its index when unknown.
func (d *Dataset) LabelName(label int) string {
	if name, ok := d.LabelsToNames[label]; ok {
		return name
	}
	return "class_" + itoa(label)
}

type descriptor struct {
	splits     map[string]int
	numClasses int
	patterns   []string
	names      []string
}

var registry = map[string]descriptor{
	"flowers": {
		splits:     map[string]int{"train": 3320, "validation": 350},
		numClasses: 5,
		patterns:   []string{"flowers_%s_*.tfrecord", "flowers_%s-*.tar"},
		names:      []string{"daisy", "dandelion", "roses", "sunflowers", "tulips"},
	},
	"cifar10": {
		splits:     map[string]int{"train": 50000, "test": 10000},
		numClasses: 10,
		patterns:   []string{"cifar10_%s.tfrecord", "cifar10_%s-*.tar"},
		names: []string{"airplane", "automobile", "bird", "cat", "deer",
			"dog", "frog", "horse", "ship", "truck"},
	},
	"mnist": {
		splits:     map[string]int{"train": 60000, "test": 10000},
		numClasses: 10,
		patterns:   []string{"mnist_%s.tfrecord", "mnist_%s-*.tar"},
		names: []string{"zero", "one", "two", "three", "four",
			"five", "six", "seven", "eight", "nine"},
	},
	"imagenet": {
		splits:     map[string]int{"train": 1281167, "validation": 50000},
		numClasses: 1001,
		patterns:   []string{"%s-*-of-*", "imagenet_%s-*.tar"},
	},
}

// Names lists the registered dataset names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get resolves a dataset split stored under dir.
func Get(name, split, dir string) (*Dataset, error) {
	desc, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("dataset name %s was not recognized", name)
	}
	numSamples, ok := desc.splits[split]
	if !ok {
		return nil, errors.Errorf("split name %s was not recognized for dataset %s", split, name)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrap(err, "dataset dir")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("dataset dir %s is not a directory", dir)
	}

	files, err := discoverFiles(dir, split, desc.patterns)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no %s/%s record files found under %s", name, split, dir)
	}

	names, err := labelsFor(dir, desc)
	if err != nil {
		return nil, err
	}

	return &Dataset{
		Name:          name,
		Split:         split,
		Dir:           dir,
		NumSamples:    numSamples,
		NumClasses:    desc.numClasses,
		LabelsToNames: names,
		Files:         files,
	}, nil
}

func discoverFiles(dir, split string, patterns []string) ([]string, error) {
	for _, pattern := range patterns {
		glob := filepath.Join(dir, strings.Replace(pattern, "%s", split, 1))
		matches, err := filepath.Glob(glob)
		if err != nil {
			return nil, errors.Wrapf(err, "glob %s", glob)
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches, nil
		}
	}
	return nil, nil
}

func labelsFor(dir string, desc descriptor) (map[int]string, error) {
	if HasLabels(dir) {
		return ReadLabelsFile(dir)
	}
	names := make(map[int]string, len(desc.names))
	for i, name := range desc.names {
		names[i] = name
	}
	return names, nil
}

// FormatOf reports the record format of path.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".tar") {
		return FormatWebDataset
	}
	return FormatTFRecord
}
