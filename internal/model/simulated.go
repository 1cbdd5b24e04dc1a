package model

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

// DefaultSpread is the half-width of the uniform perturbation.
const DefaultSpread = 0.15

// Simulated stands in for a trained network. It normalizes the base weights,
// perturbs each one independently, clamps to [0, 1] and renormalizes.
type Simulated struct {
	mu     sync.Mutex
	rng    *rand.Rand
	spread float64
	jitter func() float64
}

// SimulatedOption configures a Simulated provider.
type SimulatedOption func(*Simulated)

// WithSeed makes the perturbation sequence reproducible. Zero keeps the
// provider randomly seeded.
func WithSeed(seed uint64) SimulatedOption {
	return func(s *Simulated) {
		if seed != 0 {
			s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		}
	}
}

// WithSpread sets the perturbation half-width.
func WithSpread(spread float64) SimulatedOption {
	return func(s *Simulated) {
		if spread >= 0 {
			s.spread = spread
		}
	}
}

// WithJitter replaces the random draw. The function is called once per
// category and its result is added to the normalized weight as-is.
func WithJitter(fn func() float64) SimulatedOption {
	return func(s *Simulated) {
		s.jitter = fn
	}
}

// NewSimulated returns a randomly seeded provider with DefaultSpread.
func NewSimulated(opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		spread: DefaultSpread,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Distribution implements ScoreProvider. The image is ignored.
func (s *Simulated) Distribution(ctx context.Context, in Input) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Simulate(in.Weights)
}

// Simulate runs one draw against weights.
func (s *Simulated) Simulate(weights []float64) ([]float64, error) {
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}

	base := normalize(weights)

	s.mu.Lock()
	perturbed := make([]float64, len(base))
	var sum float64
	for i, w := range base {
		v := clamp01(w + s.draw())
		perturbed[i] = v
		sum += v
	}
	s.mu.Unlock()

	// Every entry clamped to zero; fall back to the unperturbed weights.
	if sum == 0 {
		var baseSum float64
		for _, w := range base {
			baseSum += w
		}
		if baseSum == 0 || math.IsNaN(baseSum) {
			return nil, fmt.Errorf("%w: weights normalize to zero", ErrInvalidWeights)
		}
		return base, nil
	}
	return normalize(perturbed), nil
}

func (s *Simulated) draw() float64 {
	if s.jitter != nil {
		return s.jitter()
	}
	return s.rng.Float64()*2*s.spread - s.spread
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
