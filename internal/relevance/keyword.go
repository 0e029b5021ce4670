// Package relevance holds the local, deterministic scoring used by the
// cascade: keyword matching, stage thresholds and the keyword fallback verdict.
package relevance

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"PaperSieve/internal/domain"
)

// Match is the outcome of scoring a text against a keyword set.
type Match struct {
	Matched []string
	Score   float64
}

// Score matches keywords as case-insensitive substrings of text.
// Blank keywords are ignored and do not count towards the denominator.
func Score(text string, keywords []string) Match {
	folder := cases.Fold()
	folded := folder.String(text)

	var (
		matched   []string
		effective int
	)
	for _, kw := range keywords {
		needle := strings.TrimSpace(kw)
		if needle == "" {
			continue
		}
		effective++
		if strings.Contains(folded, folder.String(needle)) {
			matched = append(matched, kw)
		}
	}

	if len(matched) == 0 {
		return Match{}
	}

	score := float64(len(matched)) / float64(max(effective, 1))
	return Match{Matched: matched, Score: min(score, 1.0)}
}

// PaperText is the text the keyword scorer sees for a paper.
func PaperText(p domain.Paper) string {
	return p.Title + " " + p.Summary
}

// CoarsePass runs the stage-1 pre-screen. A paper passes only when at least
// one keyword matched and the score reaches the threshold.
func CoarsePass(p domain.Paper, keywords []string, threshold float64) domain.StageResult {
	m := Score(PaperText(p), keywords)
	if len(m.Matched) == 0 {
		return domain.StageResult{
			Stage:  domain.StageCoarse,
			Reason: "no keywords matched",
		}
	}
	return domain.StageResult{
		Stage:  domain.StageCoarse,
		Score:  m.Score,
		Passed: m.Score >= threshold,
		Reason: fmt.Sprintf("keywords matched: %s (score %.2f)", strings.Join(m.Matched, ", "), m.Score),
	}
}

// Fallback derives a verdict from keyword matching alone.
func Fallback(p domain.Paper, keywords []string, threshold float64) domain.Verdict {
	m := Score(PaperText(p), keywords)
	if len(m.Matched) == 0 {
		return domain.Verdict{
			PaperID:  p.ID,
			Reason:   "no keywords matched",
			Fallback: true,
		}
	}
	return domain.Verdict{
		PaperID:  p.ID,
		Relevant: m.Score >= threshold,
		Score:    m.Score,
		Reason:   "keywords matched: " + strings.Join(m.Matched, ", "),
		Fallback: true,
	}
}
