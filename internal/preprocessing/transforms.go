package preprocessing

import (
	"image"
	"math"

	"github.com/nfnt/resize"
)

const resizeSide = 256

var vggMeans = [3]float32{123.68, 116.78, 103.94}

func inceptionEval(img image.Image, height, width int) (Tensor, error) {
	if err := checkSize(height, width); err != nil {
		return Tensor{}, err
	}
	cropped := centralCrop(img, 0.875)
	resized := toRGBA(resize.Resize(uint(width), uint(height), cropped, resize.Bilinear))
	t := pixels(resized)
	for i, v := range t.Data {
		t.Data[i] = (v/255 - 0.5) * 2
	}
	return t, nil
}

func vggEval(img image.Image, height, width int) (Tensor, error) {
	if err := checkSize(height, width); err != nil {
		return Tensor{}, err
	}
	b := img.Bounds()
	var scaled image.Image
	if b.Dx() < b.Dy() {
		scaled = resize.Resize(resizeSide, 0, img, resize.Bilinear)
	} else {
		scaled = resize.Resize(0, resizeSide, img, resize.Bilinear)
	}
	t := pixels(cropOrPad(scaled, height, width))
	for i := range t.Data {
		t.Data[i] -= vggMeans[i%3]
	}
	return t, nil
}

func cifarnetEval(img image.Image, height, width int) (Tensor, error) {
	if err := checkSize(height, width); err != nil {
		return Tensor{}, err
	}
	t := pixels(cropOrPad(img, height, width))
	standardize(t.Data)
	return t, nil
}

func lenetEval(img image.Image, height, width int) (Tensor, error) {
	if err := checkSize(height, width); err != nil {
		return Tensor{}, err
	}
	t := pixels(cropOrPad(img, height, width))
	for i, v := range t.Data {
		t.Data[i] = (v - 128) / 128
	}
	return t, nil
}

// standardize scales data to zero mean and unit variance, with the
// standard deviation floored at 1/sqrt(len(data)).
func standardize(data []float32) {
	if len(data) == 0 {
		return
	}
	var sum, sq float64
	for _, v := range data {
		sum += float64(v)
		sq += float64(v) * float64(v)
	}
	n := float64(len(data))
	mean := sum / n
	variance := math.Max(sq/n-mean*mean, 0)
	std := math.Max(math.Sqrt(variance), 1/math.Sqrt(n))
	for i, v := range data {
		data[i] = float32((float64(v) - mean) / std)
	}
}
