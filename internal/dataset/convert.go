package dataset

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ConvertOptions describes an image-folder to TFRecord conversion.
type ConvertOptions struct {
	// SourceDir holds one sub-directory of images per class.
	SourceDir string
	OutputDir string
	Name      string
	Split     string
	NumShards int
}

// ConvertResult summarises a conversion.
type ConvertResult struct {
	Files      []string
	NumSamples int
	Labels     map[int]string
}

// ConvertFolder writes <name>_<split>_NNNNN-of-NNNNN.tfrecord shards and a
// labels file. Class directories are assigned labels in sorted order.
func ConvertFolder(opts ConvertOptions) (*ConvertResult, error) {
	if opts.NumShards <= 0 {
		opts.NumShards = 1
	}
	entries, err := os.ReadDir(opts.SourceDir)
	if err != nil {
		return nil, errors.Wrap(err, "read source dir")
	}
	var classes []string
	for _, e := range entries {
		if e.IsDir() {
			classes = append(classes, e.Name())
		}
	}
	sort.Strings(classes)
	if len(classes) == 0 {
		return nil, errors.Errorf("no class directories under %s", opts.SourceDir)
	}

	type item struct {
		path  string
		label int
	}
	var items []item
	labels := make(map[int]string, len(classes))
	for label, class := range classes {
		labels[label] = class
		files, err := os.ReadDir(filepath.Join(opts.SourceDir, class))
		if err != nil {
			return nil, errors.Wrapf(err, "read class dir %s", class)
		}
		for _, f := range files {
			switch strings.ToLower(filepath.Ext(f.Name())) {
			case ".jpg", ".jpeg", ".png":
				items = append(items, item{path: filepath.Join(opts.SourceDir, class, f.Name()), label: label})
			}
		}
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output dir")
	}

	perShard := (len(items) + opts.NumShards - 1) / opts.NumShards
	result := &ConvertResult{Labels: labels}
	for shard := 0; shard < opts.NumShards; shard++ {
		name := fmt.Sprintf("%s_%s_%05d-of-%05d.tfrecord", opts.Name, opts.Split, shard, opts.NumShards)
		path := filepath.Join(opts.OutputDir, name)
		lo := shard * perShard
		hi := lo + perShard
		if lo > len(items) {
			lo = len(items)
		}
		if hi > len(items) {
			hi = len(items)
		}
		examples := make([]Example, 0, hi-lo)
		for _, it := range items[lo:hi] {
			ex, err := exampleFromFile(it.path, it.label)
			if err != nil {
				return nil, err
			}
			examples = append(examples, ex)
		}
		if err := WriteRecordFile(path, examples); err != nil {
			return nil, err
		}
		result.Files = append(result.Files, path)
		result.NumSamples += len(examples)
		log.WithFields(log.Fields{"shard": name, "examples": len(examples)}).Info("wrote shard")
	}

	if err := WriteLabelsFile(opts.OutputDir, labels); err != nil {
		return nil, err
	}
	return result, nil
}

func exampleFromFile(path string, label int) (Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "decode image %s", path)
	}
	return ImageExample(data, format, cfg.Height, cfg.Width, label), nil
}

// WriteRecordFile writes examples to a single TFRecord file.
func WriteRecordFile(path string, examples []Example) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create tfrecord")
	}
	defer f.Close()

	w := NewRecordWriter(f)
	for _, ex := range examples {
		if err := w.Write(ex.Encode()); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flush tfrecord")
	}
	return f.Close()
}
