// Package result turns a raw distribution into a ranked, display-ready
// prediction.
package result

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/Brownie44l1/moodsense/internal/emotion"
	"github.com/Brownie44l1/moodsense/internal/model"
)

// TipLookup resolves coping suggestions for a category.
type TipLookup interface {
	Lookup(emotion.Category) []string
}

// Score is one ranked entry.
type Score struct {
	Category emotion.Category `json:"name"`
	// Confidence is the percentage rounded to one decimal place.
	Confidence float64 `json:"confidence"`
	// Probability is the raw value before scaling and rounding.
	Probability float64 `json:"probability"`
}

// Prediction is the outcome of one successful analysis. Treat it as
// read-only; use Clone before handing it to code that may mutate it.
type Prediction struct {
	PrimaryEmotion    emotion.Category `json:"emotion"`
	PrimaryConfidence float64          `json:"confidence"`
	RankedScores      []Score          `json:"allEmotions"`
	Tips              []string         `json:"tips"`
	ImageID           string           `json:"imageId,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
}

// Clone returns a deep copy.
func (p Prediction) Clone() Prediction {
	p.RankedScores = slices.Clone(p.RankedScores)
	p.Tips = slices.Clone(p.Tips)
	return p
}

// Format pairs each category with its share of dist, ranks the pairs by
// confidence and attaches the tips for the winner. Categories that tie keep
// their order in categories.
func Format(dist []float64, categories []emotion.Category, tips TipLookup) (Prediction, error) {
	if len(categories) == 0 {
		return Prediction{}, fmt.Errorf("%w: no categories", model.ErrInvalidWeights)
	}
	if len(dist) != len(categories) {
		return Prediction{}, fmt.Errorf("%w: %d probabilities for %d categories", model.ErrInvalidWeights, len(dist), len(categories))
	}

	scores := make([]Score, len(categories))
	for i, c := range categories {
		p := dist[i]
		if math.IsNaN(p) || p < 0 {
			return Prediction{}, fmt.Errorf("%w: probability %v for %s", model.ErrInvalidWeights, p, c)
		}
		scores[i] = Score{
			Category:    c,
			Confidence:  Percent(p),
			Probability: p,
		}
	}

	slices.SortStableFunc(scores, func(a, b Score) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})

	primary := scores[0]
	return Prediction{
		PrimaryEmotion:    primary.Category,
		PrimaryConfidence: primary.Confidence,
		RankedScores:      scores,
		Tips:              tips.Lookup(primary.Category),
	}, nil
}

// Percent scales p to a percentage rounded to one decimal place.
func Percent(p float64) float64 {
	return math.Round(p*1000) / 10
}
