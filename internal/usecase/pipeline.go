package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"PaperSieve/internal/cascade"
	"PaperSieve/internal/domain"
	"PaperSieve/internal/ports"
)

// PaperFilter narrows a batch to the relevant papers. *cascade.Filter
// implements it.
type PaperFilter interface {
	Run(ctx context.Context, papers []domain.Paper) cascade.Result
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source    ports.PaperSource
	Filter    PaperFilter
	Store     ports.PaperStore
	Notifiers []ports.Notifier
	Logger    *zap.Logger
	// SkipSeen drops papers already in the store before filtering.
	SkipSeen bool
	Days     int
	Now      func() time.Time
}

// Pipeline implements the fetch, filter, notify and persist workflow.
type Pipeline struct {
	source    ports.PaperSource
	filter    PaperFilter
	store     ports.PaperStore
	notifiers []ports.Notifier
	logger    *zap.Logger
	skipSeen  bool
	days      int
	now       func() time.Time
}

// RunOptions tunes a single run.
type RunOptions struct {
	// Days overrides the configured lookback when positive.
	Days int
	// DryRun filters and logs but neither notifies nor persists.
	DryRun bool
}

// RunReport summarizes one pipeline run.
type RunReport struct {
	RunID    string
	Fetched  int
	New      int
	Relevant int
	// Delivered counts notifiers that sent the whole digest.
	Delivered int
	// Sent counts relevant papers stored as sent.
	Sent    int
	Cascade cascade.Report
	Stats   *domain.CacheStats
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	days := deps.Days
	if days <= 0 {
		days = 2
	}
	return &Pipeline{
		source:    deps.Source,
		filter:    deps.Filter,
		store:     deps.Store,
		notifiers: deps.Notifiers,
		logger:    log,
		skipSeen:  deps.SkipSeen,
		days:      days,
		now:       now,
	}
}

// ProcessDay runs the pipeline with configured defaults; it is the scheduler entry point.
func (p *Pipeline) ProcessDay(ctx context.Context, trigger time.Time) error {
	_, err := p.Run(ctx, RunOptions{})
	return err
}

// Run executes one pipeline pass. Only source and store failures abort it;
// notifier failures are logged and the papers are stored as unsent.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (RunReport, error) {
	report := RunReport{RunID: uuid.NewString()}
	if p.source == nil || p.filter == nil {
		return report, eris.New("pipeline: source and filter are required")
	}
	log := p.logger.With(zap.String("run_id", report.RunID))

	days := p.days
	if opts.Days > 0 {
		days = opts.Days
	}
	since := p.now().AddDate(0, 0, -days)
	log.Info("run started", zap.Int("days", days), zap.Bool("dry_run", opts.DryRun))

	papers, err := p.source.FetchRecent(ctx, since)
	if err != nil {
		return report, eris.Wrap(err, "fetch recent")
	}
	report.Fetched = len(papers)
	log.Info("fetched papers", zap.Int("count", len(papers)))
	if len(papers) == 0 {
		log.Info("no papers fetched, nothing to do")
		return report, nil
	}

	if p.skipSeen && p.store != nil {
		papers, err = p.store.FilterNew(ctx, papers)
		if err != nil {
			return report, eris.Wrap(err, "filter seen papers")
		}
		if len(papers) == 0 {
			log.Info("no new papers, nothing to do")
			return report, nil
		}
	}
	report.New = len(papers)

	result := p.filter.Run(ctx, papers)
	report.Cascade = result.Report
	report.Relevant = len(result.Relevant)
	log.Info("filtered papers", zap.Int("relevant", report.Relevant), zap.Int("total", len(result.All)))

	if opts.DryRun {
		for _, paper := range result.Relevant {
			log.Info("relevant paper",
				zap.String("id", paper.ID),
				zap.String("title", paper.Title),
				zap.Float64("score", paper.RelevanceScore()),
				zap.String("reason", paper.RelevanceReason()),
			)
		}
		log.Info("dry run, skipping notification and storage")
		return report, nil
	}

	sent := map[string]bool{}
	if report.Relevant > 0 {
		report.Delivered, sent = p.notify(ctx, log, result.Relevant)
		report.Sent = len(sent)
		if report.Sent == 0 {
			log.Warn("no notifier delivered the digest, papers saved but not sent")
		}
	} else {
		log.Info("no relevant papers, storing all as unsent")
	}

	if err := p.persist(ctx, result, sent); err != nil {
		return report, err
	}

	if p.store != nil {
		stats, err := p.store.Stats(ctx)
		if err != nil {
			log.Warn("cannot read storage stats", zap.Error(err))
		} else {
			report.Stats = &stats
			log.Info("storage stats",
				zap.Int("total", stats.Total),
				zap.Int("sent", stats.Sent),
				zap.Int("unsent", stats.Unsent),
				zap.Int("never_accessed", stats.NeverAccessed),
				zap.Int("capacity", stats.Capacity),
			)
		}
	}

	log.Info("run finished", zap.Int("relevant", report.Relevant), zap.Int("delivered", report.Delivered), zap.Int("sent", report.Sent))
	return report, nil
}

// notify publishes to every channel and returns the number of channels that
// took the whole digest plus the ids that reached at least one channel.
func (p *Pipeline) notify(ctx context.Context, log *zap.Logger, papers []domain.Paper) (int, map[string]bool) {
	delivered := 0
	sent := make(map[string]bool, len(papers))
	for _, n := range p.notifiers {
		err := n.PublishPapers(ctx, papers)
		if err == nil {
			delivered++
			for _, paper := range papers {
				sent[paper.ID] = true
			}
			log.Info("notification sent", zap.String("notifier", n.Name()), zap.Int("papers", len(papers)))
			continue
		}

		var partial *domain.PartialDeliveryError
		if errors.As(err, &partial) {
			for _, id := range partial.Delivered {
				sent[id] = true
			}
			log.Error("notification partially sent",
				zap.String("notifier", n.Name()),
				zap.Int("papers", len(partial.Delivered)),
				zap.Error(err),
			)
			continue
		}
		log.Error("notification failed", zap.String("notifier", n.Name()), zap.Error(err))
	}
	return delivered, sent
}

// persist stores dropped papers first and sent papers last. Every Put
// refreshes last_accessed, so under capacity pressure the sent entries are
// the last to be evicted and stay visible to the next FilterNew.
func (p *Pipeline) persist(ctx context.Context, result cascade.Result, sent map[string]bool) error {
	if p.store == nil {
		return nil
	}

	relevant := make(map[string]struct{}, len(result.Relevant))
	for _, paper := range result.Relevant {
		relevant[paper.ID] = struct{}{}
	}
	var dropped, unsent, delivered []domain.Paper
	for _, paper := range result.All {
		if _, ok := relevant[paper.ID]; !ok {
			dropped = append(dropped, paper)
		}
	}
	for _, paper := range result.Relevant {
		if sent[paper.ID] {
			delivered = append(delivered, paper)
		} else {
			unsent = append(unsent, paper)
		}
	}

	if err := p.store.PutMany(ctx, dropped, false); err != nil {
		return eris.Wrap(err, "persist dropped papers")
	}
	if err := p.store.PutMany(ctx, unsent, false); err != nil {
		return eris.Wrap(err, "persist unsent papers")
	}
	if err := p.store.PutMany(ctx, delivered, true); err != nil {
		return eris.Wrap(err, "persist sent papers")
	}
	return nil
}
