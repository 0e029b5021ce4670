package domain

import (
	"fmt"
	"time"
)

// Paper is a core entity describing metadata fetched from providers.
type Paper struct {
	ID         string
	ExternalID string
	Title      string
	Authors    []string
	Summary    string
	Published  time.Time
	Categories []string
	Link       string
	PDFLink    string
	Source     string

	Annotation FilterAnnotation
}

// RelevanceScore is the aggregate score left by the cascade.
func (p Paper) RelevanceScore() float64 {
	return p.Annotation.Score
}

// RelevanceReason is the aggregate reason left by the cascade.
func (p Paper) RelevanceReason() string {
	return p.Annotation.Reason
}

// PrimaryCategory returns the first category tag or an empty string.
func (p Paper) PrimaryCategory() string {
	if len(p.Categories) == 0 {
		return ""
	}
	return p.Categories[0]
}

// Stage enumerates cascade milestones.
type Stage int

const (
	StageNone Stage = iota
	StageCoarse
	StageTitle
	StageFull
)

func (s Stage) String() string {
	switch s {
	case StageCoarse:
		return "coarse"
	case StageTitle:
		return "title"
	case StageFull:
		return "full"
	default:
		return "none"
	}
}

// StageResult records how a paper fared at one stage.
type StageResult struct {
	Stage    Stage
	Score    float64
	Passed   bool
	Reason   string
	Fallback bool
}

// FilterAnnotation accumulates stage results; entries are only ever appended.
type FilterAnnotation struct {
	Stages  []StageResult
	Reached Stage
	Score   float64
	Reason  string
}

// Record appends a stage result and advances Reached.
func (a *FilterAnnotation) Record(res StageResult) {
	a.Stages = append(a.Stages, res)
	if res.Stage > a.Reached {
		a.Reached = res.Stage
	}
}

// Result returns the recorded result for a stage, if any.
func (a FilterAnnotation) Result(stage Stage) (StageResult, bool) {
	for _, res := range a.Stages {
		if res.Stage == stage {
			return res, true
		}
	}
	return StageResult{}, false
}

// Verdict is a single classifier decision for one paper.
type Verdict struct {
	PaperID  string
	Relevant bool
	Score    float64
	Reason   string
	Fallback bool
}

// CacheEntry is the persisted snapshot of a processed paper.
type CacheEntry struct {
	Paper           Paper
	RelevanceScore  float64
	RelevanceReason string
	CreatedAt       time.Time
	SentAt          *time.Time
	LastAccessed    *time.Time
}

// NewCacheEntry snapshots a paper together with its aggregate relevance.
func NewCacheEntry(p Paper) CacheEntry {
	return CacheEntry{
		Paper:           p,
		RelevanceScore:  p.RelevanceScore(),
		RelevanceReason: p.RelevanceReason(),
	}
}

// Notified reports whether the entry was ever sent to a consumer.
func (e CacheEntry) Notified() bool {
	return e.SentAt != nil
}

// CacheStats is a read-only aggregate of the cache.
type CacheStats struct {
	Total         int
	Sent          int
	Unsent        int
	NeverAccessed int
	Capacity      int
	Oldest        []EvictionCandidate
}

// EvictionCandidate describes an entry at the head of the eviction order.
type EvictionCandidate struct {
	ID           string
	ExternalID   string
	Title        string
	LastAccessed *time.Time
	CreatedAt    time.Time
}

// PartialDeliveryError is returned by a notifier that reached its channel
// with some papers before a later send failed.
type PartialDeliveryError struct {
	Delivered []string
	Err       error
}

func (e *PartialDeliveryError) Error() string {
	return fmt.Sprintf("delivered %d papers before failure: %v", len(e.Delivered), e.Err)
}

func (e *PartialDeliveryError) Unwrap() error {
	return e.Err
}
