package ports

import (
	"context"
	"time"

	"PaperSieve/internal/domain"
)

// PaperSource pulls fresh papers from upstream providers.
type PaperSource interface {
	FetchRecent(ctx context.Context, since time.Time) ([]domain.Paper, error)
}

// Classifier judges paper relevance. Implementations never fail: provider
// errors degrade to keyword scoring inside the implementation.
type Classifier interface {
	Classify(ctx context.Context, paper domain.Paper, titleOnly bool) domain.Verdict
	// ClassifyBatch returns verdicts only for papers the backend actually scored.
	ClassifyBatch(ctx context.Context, papers []domain.Paper, titleOnly bool, batchSize int) []domain.Verdict
}

// RelevanceCache persists processed papers with an access-ordered capacity bound.
type RelevanceCache interface {
	Exists(ctx context.Context, id string) (bool, error)
	Put(ctx context.Context, entry domain.CacheEntry, markNotified bool) error
	GetRecent(ctx context.Context, windowDays int) ([]domain.CacheEntry, error)
	Stats(ctx context.Context) (domain.CacheStats, error)
}

// PaperStore adds the batch helpers the pipeline uses on top of the cache.
type PaperStore interface {
	RelevanceCache
	FilterNew(ctx context.Context, papers []domain.Paper) ([]domain.Paper, error)
	PutMany(ctx context.Context, papers []domain.Paper, markNotified bool) error
}

// Notifier delivers the final annotated papers to a channel.
type Notifier interface {
	Name() string
	PublishPapers(ctx context.Context, papers []domain.Paper) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
