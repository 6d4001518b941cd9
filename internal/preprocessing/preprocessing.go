// Package preprocessing maps a model family to the image transform it was
// trained with and applies it at evaluation time.
package preprocessing

import (
	"image"
	"image/draw"

	"github.com/anthonynsimon/bild/transform"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Tensor is a height x width x channels float32 image.
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// At returns the value at row y, column x, channel c.
func (t Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

// Fn preprocesses img to exactly height x width.
type Fn func(img image.Image, height, width int) (Tensor, error)

var families = map[string]string{
	"cifarnet":            "cifarnet",
	"inception":           "inception",
	"inception_v1":        "inception",
	"inception_v2":        "inception",
	"inception_v3":        "inception",
	"inception_v4":        "inception",
	"inception_resnet_v2": "inception",
	"mobilenet_v1":        "inception",
	"lenet":               "lenet",
	"alexnet_v2":          "vgg",
	"overfeat":            "vgg",
	"resnet_v1_50":        "vgg",
	"resnet_v1_101":       "vgg",
	"resnet_v1_152":       "vgg",
	"resnet_v2_50":        "vgg",
	"resnet_v2_101":       "vgg",
	"resnet_v2_152":       "vgg",
	"vgg":                 "vgg",
	"vgg_a":               "vgg",
	"vgg_16":              "vgg",
	"vgg_19":              "vgg",
}

// Get returns the evaluation transform registered under name.
func Get(name string, isTraining bool) (Fn, error) {
	family, ok := families[name]
	if !ok {
		return nil, errors.Errorf("preprocessing name [%s] was not recognized", name)
	}
	if isTraining {
		return nil, errors.Errorf("preprocessing %s: training transforms are not supported", name)
	}
	switch family {
	case "inception":
		return inceptionEval, nil
	case "vgg":
		return vggEval, nil
	case "cifarnet":
		return cifarnetEval, nil
	default:
		return lenetEval, nil
	}
}

// ResizeForDisplay bilinearly resizes the raw image to height x width. It
// does not apply the trained transform.
func ResizeForDisplay(img image.Image, height, width int) *image.RGBA {
	return toRGBA(resize.Resize(uint(width), uint(height), img, resize.Bilinear))
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// centralCrop keeps the central fraction of both dimensions.
func centralCrop(img image.Image, fraction float64) *image.RGBA {
	rgba := toRGBA(img)
	w, h := rgba.Bounds().Dx(), rgba.Bounds().Dy()
	cw := int(float64(w) * fraction)
	ch := int(float64(h) * fraction)
	if cw <= 0 || ch <= 0 {
		return rgba
	}
	x0 := (w - cw) / 2
	y0 := (h - ch) / 2
	return transform.Crop(rgba, image.Rect(x0, y0, x0+cw, y0+ch))
}

// cropOrPad centers img in a height x width canvas, cropping the excess
// and padding with zeros.
func cropOrPad(img image.Image, height, width int) *image.RGBA {
	rgba := toRGBA(img)
	w, h := rgba.Bounds().Dx(), rgba.Bounds().Dy()
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	dstX, srcX := offsets(w, width)
	dstY, srcY := offsets(h, height)
	cw := min(w, width)
	ch := min(h, height)
	draw.Draw(out, image.Rect(dstX, dstY, dstX+cw, dstY+ch), rgba, image.Pt(srcX, srcY), draw.Src)
	return out
}

func offsets(have, want int) (dst, src int) {
	if have >= want {
		return 0, (have - want) / 2
	}
	return (want - have) / 2, 0
}

// pixels returns the RGB values of img in [0, 255], HWC order.
func pixels(img *image.RGBA) Tensor {
	b := img.Bounds()
	t := Tensor{Height: b.Dy(), Width: b.Dx(), Channels: 3, Data: make([]float32, 3*b.Dx()*b.Dy())}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			off := img.PixOffset(x, y)
			t.Data[i] = float32(img.Pix[off])
			t.Data[i+1] = float32(img.Pix[off+1])
			t.Data[i+2] = float32(img.Pix[off+2])
			i += 3
		}
	}
	return t
}

func checkSize(height, width int) error {
	if height <= 0 || width <= 0 {
		return errors.Errorf("invalid output size %dx%d", height, width)
	}
	return nil
}
