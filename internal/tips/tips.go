// Package tips holds the static coping-suggestion catalog.
package tips

import "github.com/Brownie44l1/moodsense/internal/emotion"

// Fallback is returned for categories the catalog does not map.
var Fallback = []string{"Take a moment to breathe and center yourself"}

var defaults = map[emotion.Category][]string{
	emotion.Angry:    {"Take deep breaths", "Count to 10 slowly", "Step away from the situation"},
	emotion.Disgust:  {"Focus on positive thoughts", "Practice acceptance", "Consider the context"},
	emotion.Fear:     {"Practice grounding techniques", "Focus on your breathing", "Challenge negative thoughts"},
	emotion.Happy:    {"Share your joy with others", "Practice gratitude", "Savor the moment"},
	emotion.Sad:      {"Connect with loved ones", "Engage in self-care", "Allow yourself to feel"},
	emotion.Surprise: {"Process the unexpected", "Stay present", "Reflect on your reaction"},
	emotion.Neutral:  {"Check in with yourself", "Practice mindfulness", "Consider your current needs"},
}

// Catalog maps categories to suggestion lists. A Catalog is read-only
// after construction and safe for concurrent use.
type Catalog struct {
	entries map[emotion.Category][]string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return New(nil)
}

// New builds a catalog from the defaults with overrides applied on top.
// Overrides with no non-blank tips are ignored so that a lookup can never
// come back empty.
func New(overrides map[emotion.Category][]string) *Catalog {
	entries := make(map[emotion.Category][]string, len(defaults))
	for c, list := range defaults {
		entries[c] = list
	}
	for c, list := range overrides {
		cleaned := nonBlank(list)
		if len(cleaned) == 0 {
			continue
		}
		entries[c] = cleaned
	}
	return &Catalog{entries: entries}
}

// Lookup returns the tips for c, or a copy of Fallback when c is unmapped.
func (c *Catalog) Lookup(category emotion.Category) []string {
	list, ok := c.entries[category]
	if !ok || len(list) == 0 {
		list = Fallback
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}

func nonBlank(list []string) []string {
	var out []string
	for _, s := range list {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
