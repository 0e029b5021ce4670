// Package cascade runs papers through the three relevance stages: a local
// keyword pre-screen, a title-only classification and a full classification.
package cascade

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"PaperSieve/internal/domain"
	"PaperSieve/internal/ports"
	"PaperSieve/internal/relevance"
)

// Deps wires the cascade with its classifier and settings.
type Deps struct {
	Classifier ports.Classifier
	Keywords   []string
	Thresholds relevance.Thresholds
	// BatchSize switches to batch classification when positive.
	BatchSize int
	Logger    *zap.Logger
}

// Filter is the cascade. It holds no per-run state.
type Filter struct {
	classifier ports.Classifier
	keywords   []string
	thresholds relevance.Thresholds
	batchSize  int
	logger     *zap.Logger
}

// Result carries every input paper (annotated) and the relevant subset.
type Result struct {
	All      []domain.Paper
	Relevant []domain.Paper
	Report   Report
}

// NewFilter constructs the cascade.
func NewFilter(deps Deps) *Filter {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Filter{
		classifier: deps.Classifier,
		keywords:   deps.Keywords,
		thresholds: deps.Thresholds,
		batchSize:  deps.BatchSize,
		logger:     log,
	}
}

// Run filters papers. Dropped papers stay in Result.All with an annotation
// explaining where and why they stopped.
func (f *Filter) Run(ctx context.Context, papers []domain.Paper) Result {
	all := make([]domain.Paper, len(papers))
	copy(all, papers)
	for i := range all {
		all[i].Annotation = domain.FilterAnnotation{}
	}

	report := Report{Total: len(all)}
	candidates := make([]int, 0, len(all))
	for i := range all {
		candidates = append(candidates, i)
	}

	if f.thresholds.CoarseEnabled {
		candidates = f.coarse(all, candidates)
		report.PassedCoarse = len(candidates)
		report.RejectedCoarse = report.Total - report.PassedCoarse
		f.logger.Info("stage 1 finished",
			zap.Int("passed", report.PassedCoarse),
			zap.Int("total", report.Total),
		)
		if len(candidates) == 0 {
			report.AbortedAt = domain.StageCoarse
			return f.finish(all, report)
		}
	} else {
		report.PassedCoarse = report.Total
	}

	report.TitleSubmitted = len(candidates)
	survivors := f.classify(ctx, all, candidates, domain.StageTitle)
	report.PassedTitle = len(survivors)
	report.RejectedTitle = len(candidates) - len(survivors)
	f.logger.Info("stage 2 finished",
		zap.Int("passed", report.PassedTitle),
		zap.Int("submitted", report.TitleSubmitted),
	)
	if len(survivors) == 0 {
		report.AbortedAt = domain.StageTitle
		return f.finish(all, report)
	}

	report.FullSubmitted = len(survivors)
	relevant := f.classify(ctx, all, survivors, domain.StageFull)
	report.PassedFull = len(relevant)
	f.logger.Info("stage 3 finished",
		zap.Int("passed", report.PassedFull),
		zap.Int("submitted", report.FullSubmitted),
	)

	return f.finish(all, report)
}

func (f *Filter) coarse(all []domain.Paper, candidates []int) []int {
	var passed []int
	for _, i := range candidates {
		res := relevance.CoarsePass(all[i], f.keywords, f.thresholds.Coarse)
		ann := &all[i].Annotation
		ann.Record(res)
		ann.Score = res.Score
		if res.Passed {
			ann.Reason = res.Reason
			passed = append(passed, i)
			continue
		}
		ann.Reason = "stage 1 rejected: " + res.Reason
	}
	return passed
}

// classify runs one classifier stage over the candidate indexes and returns
// the indexes that passed.
func (f *Filter) classify(ctx context.Context, all []domain.Paper, candidates []int, stage domain.Stage) []int {
	titleOnly := stage == domain.StageTitle
	verdicts := f.verdicts(ctx, all, candidates, titleOnly)

	var passed []int
	for _, i := range candidates {
		ann := &all[i].Annotation
		v, ok := verdicts[all[i].ID]
		if !ok {
			ann.Record(domain.StageResult{Stage: stage, Reason: "not scored by classifier"})
			ann.Reason = fmt.Sprintf("stage %d: not scored by classifier", int(stage))
			continue
		}

		ann.Record(domain.StageResult{
			Stage:    stage,
			Score:    v.Score,
			Passed:   v.Relevant,
			Reason:   v.Reason,
			Fallback: v.Fallback,
		})
		previous := ann.Reason
		ann.Score = v.Score

		switch {
		case stage == domain.StageFull:
			ann.Reason = v.Reason
		case v.Relevant:
			ann.Reason = joinReason(previous, v.Reason)
		default:
			ann.Reason = joinReason(previous, fmt.Sprintf("stage %d rejected: %s", int(stage), v.Reason))
		}

		if v.Relevant {
			passed = append(passed, i)
		}
	}
	return passed
}

func (f *Filter) verdicts(ctx context.Context, all []domain.Paper, candidates []int, titleOnly bool) map[string]domain.Verdict {
	out := make(map[string]domain.Verdict, len(candidates))
	if f.batchSize > 0 {
		batch := make([]domain.Paper, 0, len(candidates))
		for _, i := range candidates {
			batch = append(batch, all[i])
		}
		for _, v := range f.classifier.ClassifyBatch(ctx, batch, titleOnly, f.batchSize) {
			out[v.PaperID] = v
		}
		return out
	}

	for _, i := range candidates {
		v := f.classifier.Classify(ctx, all[i], titleOnly)
		out[all[i].ID] = v
	}
	return out
}

func (f *Filter) finish(all []domain.Paper, report Report) Result {
	var relevant []domain.Paper
	for _, p := range all {
		if res, ok := p.Annotation.Result(domain.StageFull); ok && res.Passed {
			relevant = append(relevant, p)
		}
	}
	report.log(f.logger)
	return Result{All: all, Relevant: relevant, Report: report}
}

func joinReason(previous, next string) string {
	if previous == "" {
		return next
	}
	return previous + " -> " + next
}
