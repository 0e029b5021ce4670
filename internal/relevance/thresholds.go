package relevance

const (
	DefaultFullThreshold   = 0.7
	DefaultTitleThreshold  = 0.5
	DefaultCoarseThreshold = 0.3
)

// Thresholds is the per-stage configuration shared by the cascade and every
// classifier backend.
type Thresholds struct {
	Coarse        float64
	Title         float64
	Full          float64
	CoarseEnabled bool
}

// DefaultThresholds mirrors the shipped configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Coarse:        DefaultCoarseThreshold,
		Title:         DefaultTitleThreshold,
		Full:          DefaultFullThreshold,
		CoarseEnabled: true,
	}
}

// ForStage picks the threshold for a classification stage.
func (t Thresholds) ForStage(titleOnly bool) float64 {
	if titleOnly {
		return t.Title
	}
	return t.Full
}

// Clamp bounds a reported score to [0, 1].
func Clamp(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
