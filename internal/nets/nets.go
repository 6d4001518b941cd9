// Package nets is the catalogue of supported classification architectures.
package nets

import (
	"sort"

	"github.com/pkg/errors"
)

// Network describes an inference graph sized for a dataset.
type Network struct {
	Name             string
	NumClasses       int
	IsTraining       bool
	DefaultImageSize int
}

var defaultImageSizes = map[string]int{
	"alexnet_v2":          224,
	"cifarnet":            32,
	"inception_v1":        224,
	"inception_v2":        224,
	"inception_v3":        299,
	"inception_v4":        299,
	"inception_resnet_v2": 299,
	"lenet":               28,
	"mobilenet_v1":        224,
	"overfeat":            231,
	"resnet_v1_50":        224,
	"resnet_v1_101":       224,
	"resnet_v1_152":       224,
	"resnet_v2_50":        224,
	"resnet_v2_101":       224,
	"resnet_v2_152":       224,
	"vgg_a":               224,
	"vgg_16":              224,
	"vgg_19":              224,
}

// Get returns the network registered under name with numClasses outputs.
func Get(name string, numClasses int, isTraining bool) (Network, error) {
	size, ok := defaultImageSizes[name]
	if !ok {
		return Network{}, errors.Errorf("name of network unknown %s", name)
	}
	if numClasses <= 0 {
		return Network{}, errors.Errorf("network %s: num_classes must be > 0 (got %d)", name, numClasses)
	}
	return Network{
		Name:             name,
		NumClasses:       numClasses,
		IsTraining:       isTraining,
		DefaultImageSize: size,
	}, nil
}

// ImageSize returns override when set, else the network's native input size.
func (n Network) ImageSize(override int) int {
	if override > 0 {
		return override
	}
	return n.DefaultImageSize
}

// Names lists the supported architectures.
func Names() []string {
	names := make([]string, 0, len(defaultImageSizes))
	for name := range defaultImageSizes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
