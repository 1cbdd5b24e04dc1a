package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"slices"

	"github.com/google/uuid"
)

// ErrInvalidImage is returned when upload content cannot be used as an image.
var ErrInvalidImage = errors.New("invalid image")

// ImageAsset is one decoded upload. It is replaced wholesale on every
// upload and never modified in place.
type ImageAsset struct {
	ID     string
	Format string
	Width  int
	Height int
	Size   int

	content []byte
	img     image.Image
}

// ImageInfo is the metadata of an asset, safe to hand to a presentation layer.
type ImageInfo struct {
	ID     string `json:"id"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int    `json:"size"`
}

// DecodeImage validates content and wraps it in a new asset. maxBytes <= 0
// disables the size check and maxPixels <= 0 the dimension check.
func DecodeImage(content []byte, maxBytes, maxPixels int64) (ImageAsset, error) {
	if len(content) == 0 {
		return ImageAsset{}, fmt.Errorf("%w: empty content", ErrInvalidImage)
	}
	if maxBytes > 0 && int64(len(content)) > maxBytes {
		return ImageAsset{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidImage, len(content), maxBytes)
	}

	// The header is checked before decoding so a small file cannot declare
	// a huge canvas.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return ImageAsset{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ImageAsset{}, fmt.Errorf("%w: %dx%d has no pixels", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return ImageAsset{}, fmt.Errorf("%w: %dx%d exceeds limit of %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return ImageAsset{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	return ImageAsset{
		ID:      uuid.NewString(),
		Format:  format,
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Size:    len(content),
		content: slices.Clone(content),
		img:     img,
	}, nil
}

// Info returns the asset metadata.
func (a ImageAsset) Info() ImageInfo {
	return ImageInfo{
		ID:     a.ID,
		Format: a.Format,
		Width:  a.Width,
		Height: a.Height,
		Size:   a.Size,
	}
}

// Content returns a copy of the uploaded bytes.
func (a ImageAsset) Content() []byte {
	return slices.Clone(a.content)
}

// Image returns the decoded image. Callers must not draw on it.
func (a ImageAsset) Image() image.Image {
	return a.img
}
