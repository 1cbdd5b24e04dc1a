package workflow

// ModelState is the readiness of the analysis backend.
type ModelState int

const (
	Uninitialized ModelState = iota
	Loading
	Ready
	Failed
)

func (s ModelState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its lowercase name.
func (s ModelState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AnalysisState tracks whether an analysis is in flight.
type AnalysisState int

const (
	Idle AnalysisState = iota
	Analyzing
)

func (s AnalysisState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Analyzing:
		return "analyzing"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its lowercase name.
func (s AnalysisState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
