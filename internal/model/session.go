package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/slim-eval/internal/preprocessing"
)

// Session runs an exported checkpoint with a fixed batch size.
type Session struct {
	session      *ort.AdvancedSession
	Metadata     Metadata
	batchSize    int
	imageSize    int
	numClasses   int
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// InitializeEnvironment loads the ONNX Runtime shared library. An empty
// libPath uses the library's default search path.
func InitializeEnvironment(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "failed to initialize ONNX environment")
	}
	return nil
}

// DestroyEnvironment releases the ONNX Runtime environment.
func DestroyEnvironment() {
	if ort.IsInitialized() {
		ort.DestroyEnvironment()
	}
}

// MetadataPath returns the sidecar path for modelPath: "<model>.json" when
// it exists, else "model_metadata.json" in the same directory.
func MetadataPath(modelPath string) string {
	sidecar := strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".json"
	if _, err := os.Stat(sidecar); err == nil {
		return sidecar
	}
	return filepath.Join(filepath.Dir(modelPath), "model_metadata.json")
}

// LoadMetadata reads the sidecar for modelPath. A missing sidecar yields
// the slim export defaults.
func LoadMetadata(modelPath string) (Metadata, error) {
	metadata := Metadata{InputName: "input", OutputName: "output", Layout: LayoutNHWC}
	metaFile, err := os.ReadFile(MetadataPath(modelPath))
	if os.IsNotExist(err) {
		return metadata, nil
	}
	if err != nil {
		return Metadata{}, errors.Wrap(err, "failed to read metadata")
	}
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, errors.Wrap(err, "failed to parse metadata")
	}
	switch metadata.Layout {
	case "":
		metadata.Layout = LayoutNHWC
	case LayoutNHWC, LayoutNCHW:
	default:
		return Metadata{}, errors.Errorf("unsupported layout %q", metadata.Layout)
	}
	return metadata, nil
}

// Open creates a session over modelPath with tensors sized for batchSize
// images of imageSize x imageSize and numClasses outputs.
func Open(modelPath string, metadata Metadata, batchSize, imageSize, numClasses int) (*Session, error) {
	if metadata.NumClasses > 0 && metadata.NumClasses != numClasses {
		return nil, errors.Errorf("checkpoint has %d classes, network expects %d", metadata.NumClasses, numClasses)
	}
	if metadata.ImageSize > 0 && metadata.ImageSize != imageSize {
		return nil, errors.Errorf("checkpoint expects %dx%d images, got %d", metadata.ImageSize, metadata.ImageSize, imageSize)
	}

	inputShape := inputShape(metadata.Layout, batchSize, imageSize)
	outputShape := ort.NewShape(int64(batchSize), int64(numClasses))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, errors.Wrap(err, "failed to create output tensor")
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, errors.Wrap(err, "failed to create ONNX session")
	}

	return &Session{
		session:      session,
		Metadata:     metadata,
		batchSize:    batchSize,
		imageSize:    imageSize,
		numClasses:   numClasses,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func inputShape(layout string, batchSize, imageSize int) ort.Shape {
	b, s := int64(batchSize), int64(imageSize)
	if layout == LayoutNCHW {
		return ort.NewShape(b, 3, s, s)
	}
	return ort.NewShape(b, s, s, 3)
}

// Logits runs one batch. len(images) must equal the session batch size.
func (s *Session) Logits(images []preprocessing.Tensor) ([][]float32, error) {
	if len(images) != s.batchSize {
		return nil, errors.Errorf("batch has %d images, session expects %d", len(images), s.batchSize)
	}
	if err := PackBatch(s.inputTensor.GetData(), images, s.Metadata.Layout, s.imageSize); err != nil {
		return nil, err
	}

	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}

	return SplitLogits(s.outputTensor.GetData(), s.batchSize, s.numClasses), nil
}

// PackBatch copies HWC images into dst using layout.
func PackBatch(dst []float32, images []preprocessing.Tensor, layout string, imageSize int) error {
	plane := imageSize * imageSize
	per := 3 * plane
	if len(dst) != per*len(images) {
		return errors.Errorf("input tensor holds %d values, batch needs %d", len(dst), per*len(images))
	}
	for i, img := range images {
		if img.Height != imageSize || img.Width != imageSize || img.Channels != 3 {
			return errors.Errorf("image %d is %dx%dx%d, want %dx%dx3", i, img.Height, img.Width, img.Channels, imageSize, imageSize)
		}
		out := dst[i*per : (i+1)*per]
		if layout != LayoutNCHW {
			copy(out, img.Data)
			continue
		}
		for p := 0; p < plane; p++ {
			out[p] = img.Data[3*p]
			out[plane+p] = img.Data[3*p+1]
			out[2*plane+p] = img.Data[3*p+2]
		}
	}
	return nil
}

// SplitLogits reshapes a flat [batch*classes] output into rows.
func SplitLogits(flat []float32, batchSize, numClasses int) [][]float32 {
	rows := make([][]float32, batchSize)
	for i := range rows {
		rows[i] = append([]float32(nil), flat[i*numClasses:(i+1)*numClasses]...)
	}
	return rows
}

// Close releases the tensors and the session.
func (s *Session) Close() {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
}
