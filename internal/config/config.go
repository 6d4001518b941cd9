package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// ModeSingle evaluates and displays a single batch.
	ModeSingle = "single"
	// ModeFull evaluates ceil(num_samples / batch_size) batches and writes summaries.
	ModeFull = "full"
)

// Config captures the runtime knobs for an evaluation run.
type Config struct {
	DatasetName  string `yaml:"dataset_name"`
	DatasetSplit string `yaml:"dataset_split_name"`
	DatasetDir   string `yaml:"dataset_dir"`

	BatchSize         int    `yaml:"batch_size"`
	LabelsOffset      int    `yaml:"labels_offset"`
	EvalImageSize     int    `yaml:"eval_image_size"`
	PreprocessingName string `yaml:"preprocessing_name"`
	ModelName         string `yaml:"model_name"`

	NumPreprocessingThreads int `yaml:"num_preprocessing_threads"`

	CheckpointPath string `yaml:"checkpoint_path"`
	EvalDir        string `yaml:"eval_dir"`

	Mode           string           `yaml:"mode"`
	DisplayDir     string           `yaml:"display_dir"`
	OnnxRuntimeLib string           `yaml:"onnxruntime_lib"`
	Serve          string           `yaml:"serve"`
	Prometheus     PrometheusConfig `yaml:"prometheus"`
}

// PrometheusConfig holds configuration for pushing evaluation metrics.
type PrometheusConfig struct {
	Enabled bool          `yaml:"enabled"`
	PushURL string        `yaml:"push_url"`
	JobName string        `yaml:"job_name"`
	Timeout time.Duration `yaml:"timeout"`
}

// Overrides captures CLI supplied values. Zero values are ignored, except
// for the pointer fields, which apply whenever they are non-nil.
type Overrides struct {
	DatasetName             string
	DatasetSplit            string
	DatasetDir              string
	BatchSize               int
	LabelsOffset            *int
	EvalImageSize           *int
	PreprocessingName       string
	ModelName               string
	NumPreprocessingThreads int
	CheckpointPath          string
	EvalDir                 string
	Mode                    string
	DisplayDir              string
	OnnxRuntimeLib          string
	Serve                   string
	PushURL                 string
}

// New returns the constructor defaults.
func New() *Config {
	return &Config{
		DatasetName:             "flowers",
		DatasetSplit:            "validation",
		DatasetDir:              "/home/levin/workspace/detection/data/flower",
		BatchSize:               100,
		LabelsOffset:            0,
		ModelName:               "inception_v3",
		NumPreprocessingThreads: 4,
		CheckpointPath:          "/tmp/tfmodel/",
		EvalDir:                 "/tmp/tfmodel/",
		Mode:                    ModeSingle,
		Prometheus: PrometheusConfig{
			JobName: "slim_eval",
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override and any non-nil pointer.
func (c *Config) ApplyOverrides(o Overrides) {
	setString(&c.DatasetName, o.DatasetName)
	setString(&c.DatasetSplit, o.DatasetSplit)
	setString(&c.DatasetDir, o.DatasetDir)
	setString(&c.PreprocessingName, o.PreprocessingName)
	setString(&c.ModelName, o.ModelName)
	setString(&c.CheckpointPath, o.CheckpointPath)
	setString(&c.EvalDir, o.EvalDir)
	setString(&c.Mode, o.Mode)
	setString(&c.DisplayDir, o.DisplayDir)
	setString(&c.OnnxRuntimeLib, o.OnnxRuntimeLib)
	setString(&c.Serve, o.Serve)
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LabelsOffset != nil {
		c.LabelsOffset = *o.LabelsOffset
	}
	if o.EvalImageSize != nil {
		c.EvalImageSize = *o.EvalImageSize
	}
	if o.NumPreprocessingThreads > 0 {
		c.NumPreprocessingThreads = o.NumPreprocessingThreads
	}
	if o.PushURL != "" {
		c.Prometheus.PushURL = o.PushURL
		c.Prometheus.Enabled = true
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ApplyFlowersScenario overwrites the run locations with the
// flowers / inception_v3 / all-checkpoint scenario.
func (c *Config) ApplyFlowersScenario() {
	c.CheckpointPath = "/tmp/flowers-models/inception_v3"
	c.EvalDir = "/tmp/flowers-models/inception_v3/eval"
	c.DatasetName = "flowers"
	c.DatasetSplit = "validation"
	c.DatasetDir = "/home/levin/workspace/detection/data/flower"
	c.ModelName = "inception_v3"

	c.CheckpointPath = "/tmp/flowers-models/inception_v3/all"
	c.EvalDir = "/tmp/flowers-models/inception_v3/eval/all"
}

// ApplyPreset applies a named scenario. An empty name or "none" is a no-op.
func (c *Config) ApplyPreset(name string) error {
	switch name {
	case "", "none":
		return nil
	case "flowers":
		c.ApplyFlowersScenario()
		return nil
	default:
		return errors.Errorf("unknown preset %q", name)
	}
}

// PreprocessingFor returns the preprocessing name, falling back to the model name.
func (c *Config) PreprocessingFor() string {
	if c.PreprocessingName != "" {
		return c.PreprocessingName
	}
	return c.ModelName
}

// PredictionsDir returns where rendered predictions are written.
func (c *Config) PredictionsDir() string {
	if c.DisplayDir != "" {
		return c.DisplayDir
	}
	return filepath.Join(c.EvalDir, "predictions")
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.DatasetName == "" {
		return errors.Errorf("dataset_name must be set")
	}
	if c.DatasetSplit == "" {
		return errors.Errorf("dataset_split_name must be set")
	}
	if c.DatasetDir == "" {
		return errors.Errorf("dataset_dir must be set")
	}
	if c.ModelName == "" {
		return errors.Errorf("model_name must be set")
	}
	if c.CheckpointPath == "" {
		return errors.Errorf("checkpoint_path must be set")
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.LabelsOffset < 0 {
		return errors.Errorf("labels_offset must be >= 0 (got %d)", c.LabelsOffset)
	}
	if c.EvalImageSize < 0 {
		return errors.Errorf("eval_image_size must be >= 0 (got %d)", c.EvalImageSize)
	}
	if c.NumPreprocessingThreads <= 0 {
		return errors.Errorf("num_preprocessing_threads must be > 0 (got %d)", c.NumPreprocessingThreads)
	}
	switch c.Mode {
	case "":
		c.Mode = ModeSingle
	case ModeSingle, ModeFull:
	default:
		return errors.Errorf("unsupported mode %q, must be one of [%s, %s]", c.Mode, ModeSingle, ModeFull)
	}
	if c.Prometheus.Enabled && c.Prometheus.PushURL == "" {
		return errors.Errorf("prometheus push_url must be set when prometheus is enabled")
	}
	if c.Prometheus.JobName == "" {
		c.Prometheus.JobName = "slim_eval"
	}
	return nil
}
