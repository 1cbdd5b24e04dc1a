package model

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMetadata(t *testing.T) {
	dir := t.TempDir()

	t.Run("defaults names", func(t *testing.T) {
		path := filepath.Join(dir, "ok.json")
		raw := `{"input_shape":[1,3,48,48],"output_shape":[1,7],"classes":["angry","disgust","fear","happy","sad","surprise","neutral"],"image_size":48}`
		require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

		md, err := LoadMetadata(path)
		require.NoError(t, err)
		assert.Equal(t, "input", md.InputName)
		assert.Equal(t, "output", md.OutputName)
		assert.Equal(t, 48, md.ImageSize)
		assert.Len(t, md.Classes, 7)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadMetadata(filepath.Join(dir, "nope.json"))
		assert.Error(t, err)
	})

	t.Run("bad json", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
		_, err := LoadMetadata(path)
		assert.Error(t, err)
	})

	t.Run("zero image size", func(t *testing.T) {
		path := filepath.Join(dir, "zero.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"classes":["happy"]}`), 0o644))
		_, err := LoadMetadata(path)
		assert.Error(t, err)
	})
}

func TestMapClasses(t *testing.T) {
	idx, err := mapClasses([]string{"neutral", "happy", "contempt"})
	require.NoError(t, err)
	assert.Equal(t, []int{6, 3, -1}, idx)

	_, err = mapClasses([]string{"cat", "dog"})
	assert.Error(t, err)
}

func TestCollect(t *testing.T) {
	p := &ONNXProvider{
		Metadata:   Metadata{Classes: []string{"happy", "sad", "contempt"}},
		classIndex: []int{3, 4, -1},
	}

	got, err := p.collect([]float32{3, 1, 100})
	require.NoError(t, err)
	require.Len(t, got, 7)
	assert.InDelta(t, 0.75, got[3], 1e-6)
	assert.InDelta(t, 0.25, got[4], 1e-6)
	assert.InDelta(t, 1.0, sum(got), 1e-9)

	_, err = p.collect([]float32{0, 0, 5})
	assert.ErrorIs(t, err, ErrInvalidWeights)
}

func TestCollect_Softmax(t *testing.T) {
	p := &ONNXProvider{
		Metadata:   Metadata{Softmax: true},
		classIndex: []int{0, 1, 2, 3, 4, 5, 6},
	}

	got, err := p.collect([]float32{-2, -1, 0, 5, 1, -3, 2})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sum(got), 1e-9)
	for i, v := range got {
		if i != 3 {
			assert.Less(t, v, got[3])
		}
	}
}

func TestDistribution_RequiresImage(t *testing.T) {
	p := &ONNXProvider{}
	_, err := p.Distribution(context.Background(), Input{Weights: DefaultWeights})
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestPreprocess(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 0, A: 255})
		}
	}

	data := Preprocess(img, 4)
	require.Len(t, data, 3*4*4)
	for i := 0; i < 16; i++ {
		assert.InDelta(t, 1.0, data[i], 0.01, "red plane")
		assert.InDelta(t, 0.0, data[16+i], 0.01, "green plane")
		assert.InDelta(t, 0.0, data[32+i], 0.01, "blue plane")
	}
}
