package emotion

const (
	// FallbackColor is used for categories without a color token.
	FallbackColor = "emotion-neutral"
	// FallbackGlyph is used for categories without a glyph.
	FallbackGlyph = "🙂"
)

var colors = map[Category]string{
	Angry:    "emotion-angry",
	Disgust:  "emotion-disgust",
	Fear:     "emotion-fear",
	Happy:    "emotion-happy",
	Sad:      "emotion-sad",
	Surprise: "emotion-surprise",
	Neutral:  "emotion-neutral",
}

var glyphs = map[Category]string{
	Angry:    "😠",
	Disgust:  "🤢",
	Fear:     "😨",
	Happy:    "😄",
	Sad:      "😢",
	Surprise: "😲",
	Neutral:  "😐",
}

// Color returns the CSS class token for c.
func Color(c Category) string {
	if v, ok := colors[c]; ok {
		return v
	}
	return FallbackColor
}

// Glyph returns the emoji shown next to c.
func Glyph(c Category) string {
	if v, ok := glyphs[c]; ok {
		return v
	}
	return FallbackGlyph
}
