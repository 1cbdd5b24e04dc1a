// Package model provides the score providers that turn base weights (or an
// image, for a real network) into a probability distribution over the
// emotion categories.
package model

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/Brownie44l1/moodsense/internal/emotion"
)

var (
	// ErrInvalidWeights is returned when the weight vector cannot be normalized.
	ErrInvalidWeights = errors.New("invalid weights")
	// ErrNoImage is returned by providers that need pixels when none were given.
	ErrNoImage = errors.New("no image to analyze")
)

// DefaultWeights biases the simulated output toward Happy and Neutral.
var DefaultWeights = []float64{0.1, 0.05, 0.1, 0.35, 0.15, 0.05, 0.2}

// Input is what a provider receives for one analysis.
type Input struct {
	// Weights are the base weights in emotion.All() order.
	Weights []float64
	// Image is the decoded upload. Simulated providers ignore it.
	Image image.Image
}

// ScoreProvider produces one probability per category, in emotion.All()
// order, summing to 1.
type ScoreProvider interface {
	Distribution(ctx context.Context, in Input) ([]float64, error)
}

// Metadata describes an exported classifier.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
	// Softmax is set when the network emits logits rather than probabilities.
	Softmax bool `json:"softmax,omitempty"`
}

// ValidateWeights checks that weights has one non-negative finite entry per
// category and a positive finite sum.
func ValidateWeights(weights []float64) error {
	if len(weights) != emotion.Count {
		return fmt.Errorf("%w: expected %d weights, got %d", ErrInvalidWeights, emotion.Count, len(weights))
	}
	var sum float64
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("%w: weight %d is %v", ErrInvalidWeights, i, w)
		}
		sum += w
	}
	if sum == 0 {
		return fmt.Errorf("%w: weights sum to zero", ErrInvalidWeights)
	}
	if math.IsInf(sum, 0) {
		return fmt.Errorf("%w: weights sum overflows", ErrInvalidWeights)
	}
	return nil
}

// normalize divides every value by the total. The caller guarantees a positive sum.
func normalize(values []float64) []float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v / sum
	}
	return out
}
