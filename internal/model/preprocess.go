package model

import (
	"image"

	"github.com/nfnt/resize"
)

// Preprocess resizes img to size×size and lays the RGB channels out as
// planar float32 values in [0, 1] (CHW order).
func Preprocess(img image.Image, size int) []float32 {
	target := uint(size)
	resized := resize.Resize(target, target, img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	inputData := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			pixelIndex := y*width + x
			inputData[pixelIndex] = float32(r) / 65535.0
			inputData[plane+pixelIndex] = float32(g) / 65535.0
			inputData[2*plane+pixelIndex] = float32(b) / 65535.0
		}
	}
	return inputData
}
