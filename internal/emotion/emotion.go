// Package emotion defines the fixed, ordered set of emotion categories and
// their display tokens.
package emotion

import "strings"

// Category is one of the seven emotion labels.
type Category string

const (
	Angry    Category = "Angry"
	Disgust  Category = "Disgust"
	Fear     Category = "Fear"
	Happy    Category = "Happy"
	Sad      Category = "Sad"
	Surprise Category = "Surprise"
	Neutral  Category = "Neutral"
)

// Count is the size of the category set.
const Count = 7

var all = [Count]Category{Angry, Disgust, Fear, Happy, Sad, Surprise, Neutral}

// All returns the categories in their fixed order. The returned slice is a copy.
func All() []Category {
	out := make([]Category, Count)
	copy(out, all[:])
	return out
}

// Index returns the position of c in the fixed order, or -1.
func Index(c Category) int {
	for i, v := range all {
		if v == c {
			return i
		}
	}
	return -1
}

// Parse matches a class name case-insensitively against the set.
func Parse(name string) (Category, bool) {
	name = strings.TrimSpace(name)
	for _, c := range all {
		if strings.EqualFold(string(c), name) {
			return c, true
		}
	}
	return "", false
}

// Valid reports whether c belongs to the set.
func (c Category) Valid() bool {
	return Index(c) >= 0
}

func (c Category) String() string {
	return string(c)
}
