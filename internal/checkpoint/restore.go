package checkpoint

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/slim-eval/internal/model"
	"github.com/Brownie44l1/slim-eval/internal/nets"
)

// Variables is the restorable signature of a network: everything a
// checkpoint must match to be loaded into the evaluation session.
type Variables struct {
	Network   nets.Network
	BatchSize int
	ImageSize int
}

// VariablesToRestore captures the signature of network at its current sizing.
func VariablesToRestore(network nets.Network, batchSize, imageSize int) Variables {
	return Variables{Network: network, BatchSize: batchSize, ImageSize: imageSize}
}

// Target receives restored weights.
type Target interface {
	Attach(classifier model.Classifier)
}

// Opener turns a checkpoint file into a classifier.
type Opener func(path string, vars Variables) (model.Classifier, error)

// Restorer loads a checkpoint into a live session.
type Restorer func(target Target) error

// AssignFromCheckpointFn binds path and vars into a Restorer. The global
// step is advanced to the checkpoint's step on restore.
func AssignFromCheckpointFn(path string, vars Variables, open Opener) Restorer {
	return func(target Target) error {
		classifier, err := open(path, vars)
		if err != nil {
			return errors.Wrapf(err, "restore %s", path)
		}
		if step, ok := StepFromPath(path); ok {
			GetOrCreateGlobalStep().Advance(step)
		}
		target.Attach(classifier)
		log.WithFields(log.Fields{
			"checkpoint":  path,
			"network":     vars.Network.Name,
			"num_classes": vars.Network.NumClasses,
			"global_step": GetOrCreateGlobalStep().Value(),
		}).Info("restored checkpoint")
		return nil
	}
}

// ONNXOpener opens checkpoints with ONNX Runtime, loading the shared
// library from libPath on first use.
func ONNXOpener(libPath string) Opener {
	return func(path string, vars Variables) (model.Classifier, error) {
		if err := model.InitializeEnvironment(libPath); err != nil {
			return nil, err
		}
		metadata, err := model.LoadMetadata(path)
		if err != nil {
			return nil, err
		}
		return model.Open(path, metadata, vars.BatchSize, vars.ImageSize, vars.Network.NumClasses)
	}
}
