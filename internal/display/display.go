// Package display renders evaluated examples next to their ground truth.
package display

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"sync"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ManifestFilename lists every rendered prediction in the output directory.
const ManifestFilename = "predictions.json"

// Prediction is one evaluated example.
type Prediction struct {
	Index         int     `json:"index"`
	Key           string  `json:"key"`
	Label         int     `json:"label"`
	TrueName      string  `json:"true_name"`
	Predicted     int     `json:"predicted"`
	PredictedName string  `json:"predicted_name"`
	Probability   float32 `json:"probability"`
	Title         string  `json:"title"`
	File          string  `json:"file,omitempty"`
}

// Correct reports whether the prediction matches the label.
func (p Prediction) Correct() bool {
	return p.Label == p.Predicted
}

// Title formats the figure caption.
func Title(trueName, predictedName string) string {
	return fmt.Sprintf("Ground Truth: [%s], Prediction [%s]", trueName, predictedName)
}

// Renderer shows predictions one at a time.
type Renderer interface {
	Render(p Prediction, img *image.RGBA) error
	Close() error
}

// LogRenderer logs the title of every prediction.
type LogRenderer struct{}

func (LogRenderer) Render(p Prediction, _ *image.RGBA) error {
	log.WithFields(log.Fields{
		"index":       p.Index,
		"key":         p.Key,
		"correct":     p.Correct(),
		"probability": p.Probability,
	}).Info(p.Title)
	return nil
}

func (LogRenderer) Close() error { return nil }

const (
	captionHeight = 18
	captionPad    = 4
)

// PNGRenderer writes one captioned PNG per prediction and a JSON manifest
// on Close.
type PNGRenderer struct {
	dir string

	mu          sync.Mutex
	predictions []Prediction
}

// NewPNGRenderer creates dir if needed.
func NewPNGRenderer(dir string) (*PNGRenderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create display dir")
	}
	return &PNGRenderer{dir: dir}, nil
}

// Dir returns the output directory.
func (r *PNGRenderer) Dir() string {
	return r.dir
}

func (r *PNGRenderer) Render(p Prediction, img *image.RGBA) error {
	p.File = fmt.Sprintf("%03d.png", p.Index)
	fig := Figure(img, p.Title, p.Correct())
	if err := imgio.Save(filepath.Join(r.dir, p.File), fig, imgio.PNGEncoder()); err != nil {
		return errors.Wrapf(err, "save %s", p.File)
	}
	r.mu.Lock()
	r.predictions = append(r.predictions, p)
	r.mu.Unlock()
	return nil
}

// Close writes the manifest.
func (r *PNGRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := json.MarshalIndent(r.predictions, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}
	if err := os.WriteFile(filepath.Join(r.dir, ManifestFilename), data, 0o644); err != nil {
		return errors.Wrap(err, "write manifest")
	}
	log.WithFields(log.Fields{"dir": r.dir, "figures": len(r.predictions)}).Info("wrote predictions")
	return nil
}

// ReadManifest loads the predictions written by a PNGRenderer.
func ReadManifest(dir string) ([]Prediction, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	var out []Prediction
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}
	return out, nil
}

// Figure draws img above a caption strip. The strip is green for a correct
// prediction and red otherwise; the canvas widens to fit the caption.
func Figure(img *image.RGBA, title string, correct bool) *image.RGBA {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, title).Ceil() + 2*captionPad

	b := img.Bounds()
	width := max(b.Dx(), textWidth)
	out := image.NewRGBA(image.Rect(0, 0, width, b.Dy()+captionHeight))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)

	x0 := (width - b.Dx()) / 2
	draw.Draw(out, image.Rect(x0, 0, x0+b.Dx(), b.Dy()), img, b.Min, draw.Src)

	strip := color.RGBA{R: 200, G: 40, B: 40, A: 255}
	if correct {
		strip = color.RGBA{R: 40, G: 150, B: 60, A: 255}
	}
	draw.Draw(out, image.Rect(0, b.Dy(), width, b.Dy()+captionHeight), image.NewUniform(strip), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  out,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(captionPad, b.Dy()+captionHeight-captionPad-1),
	}
	d.DrawString(title)
	return out
}
