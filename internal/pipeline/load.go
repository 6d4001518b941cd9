package pipeline

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/slim-eval/internal/config"
	"github.com/Brownie44l1/slim-eval/internal/dataset"
	"github.com/Brownie44l1/slim-eval/internal/nets"
	"github.com/Brownie44l1/slim-eval/internal/preprocessing"
)

// Inputs is everything the evaluation stage needs from the loading stage.
type Inputs struct {
	Dataset   *dataset.Dataset
	Network   nets.Network
	ImageSize int
	BatchSize int
	Source    *Source
}

// Load resolves the dataset, network and preprocessing named by cfg and
// builds the batch source. Nothing is read until the source is started.
// The provider cycles over the split, so the final batch of a pass wraps
// around to the first records instead of coming up short.
func Load(cfg *config.Config) (*Inputs, error) {
	ds, err := dataset.Get(cfg.DatasetName, cfg.DatasetSplit, cfg.DatasetDir)
	if err != nil {
		return nil, err
	}

	numClasses := ds.NumClasses - cfg.LabelsOffset
	network, err := nets.Get(cfg.ModelName, numClasses, false)
	if err != nil {
		return nil, err
	}

	preprocess, err := preprocessing.Get(cfg.PreprocessingFor(), false)
	if err != nil {
		return nil, err
	}

	size := network.ImageSize(cfg.EvalImageSize)
	if size <= 0 {
		return nil, errors.Errorf("invalid eval image size %d", size)
	}

	provider := dataset.NewProvider(ds, dataset.ProviderOptions{
		Capacity: 2 * cfg.BatchSize,
		MinFill:  cfg.BatchSize,
		Repeat:   true,
	})
	source := NewSource(provider, SourceOptions{
		BatchSize:    cfg.BatchSize,
		NumThreads:   cfg.NumPreprocessingThreads,
		Capacity:     5 * cfg.BatchSize,
		LabelsOffset: cfg.LabelsOffset,
		NumClasses:   numClasses,
		ImageSize:    size,
		Preprocess:   preprocess,
	})

	log.WithFields(log.Fields{
		"dataset":       ds.Name,
		"split":         ds.Split,
		"files":         len(ds.Files),
		"num_samples":   ds.NumSamples,
		"num_classes":   numClasses,
		"model":         network.Name,
		"preprocessing": cfg.PreprocessingFor(),
		"image_size":    size,
	}).Info("data pipeline ready")

	return &Inputs{
		Dataset:   ds,
		Network:   network,
		ImageSize: size,
		BatchSize: cfg.BatchSize,
		Source:    source,
	}, nil
}
