package model

import "github.com/Brownie44l1/slim-eval/internal/preprocessing"

const (
	LayoutNHWC = "NHWC"
	LayoutNCHW = "NCHW"
)

// Metadata is the JSON sidecar exported next to an ONNX checkpoint.
type Metadata struct {
	InputName  string   `json:"input_name"`
	OutputName string   `json:"output_name"`
	Layout     string   `json:"layout"`
	Classes    []string `json:"classes"`
	ImageSize  int      `json:"image_size"`
	NumClasses int      `json:"num_classes"`
}

// Classifier produces per-class logits for a batch of preprocessed images.
type Classifier interface {
	Logits(images []preprocessing.Tensor) ([][]float32, error)
	Close()
}
