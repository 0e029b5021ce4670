package cascade

import (
	"go.uber.org/zap"

	"PaperSieve/internal/domain"
)

// Report summarizes one cascade run and how much classifier work it avoided.
type Report struct {
	Total          int
	PassedCoarse   int
	RejectedCoarse int
	TitleSubmitted int
	PassedTitle    int
	RejectedTitle  int
	FullSubmitted  int
	PassedFull     int
	// AbortedAt is the stage that left no survivors, StageNone when all ran.
	AbortedAt domain.Stage
}

// ClassifierCalls counts papers submitted to the classifier across stages 2 and 3.
func (r Report) ClassifierCalls() int {
	return r.TitleSubmitted + r.FullSubmitted
}

// SkippedFull is the number of papers that never reached full classification.
func (r Report) SkippedFull() int {
	return r.Total - r.FullSubmitted
}

// SavedPercent compares full classifications performed against running stage
// 3 on every paper.
func (r Report) SavedPercent() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.SkippedFull()) / float64(r.Total) * 100
}

func (r Report) log(logger *zap.Logger) {
	logger.Info("cascade finished",
		zap.Int("total", r.Total),
		zap.Int("passed_coarse", r.PassedCoarse),
		zap.Int("passed_title", r.PassedTitle),
		zap.Int("passed_full", r.PassedFull),
		zap.Int("skipped_stage1", r.RejectedCoarse),
		zap.Int("skipped_stage2", r.RejectedTitle),
		zap.Int("classifier_calls", r.ClassifierCalls()),
		zap.Float64("full_saved_pct", r.SavedPercent()),
		zap.Stringer("aborted_at", r.AbortedAt),
	)
}
