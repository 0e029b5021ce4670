package app

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"PaperSieve/internal/cascade"
	"PaperSieve/internal/classifier"
	"PaperSieve/internal/config"
	"PaperSieve/internal/domain"
	"PaperSieve/internal/infrastructure/mail"
	"PaperSieve/internal/infrastructure/parser"
	"PaperSieve/internal/infrastructure/scheduler"
	"PaperSieve/internal/infrastructure/storage"
	"PaperSieve/internal/infrastructure/telegram"
	"PaperSieve/internal/logging"
	"PaperSieve/internal/ports"
	"PaperSieve/internal/scanner"
	"PaperSieve/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *storage.SQLCache
	pipeline *usecase.Pipeline
}

// New builds a runnable application instance. The caller owns Close.
func New(ctx context.Context, cfg config.Config, baseLogger *zap.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging)
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver:   cfg.Storage.Driver,
		DSN:      cfg.Storage.DSN,
		Capacity: cfg.Storage.Capacity,
		Logger:   baseLogger.With(zap.String("component", "storage")),
	})
	if err != nil {
		return nil, eris.Wrap(err, "open storage")
	}

	cls, err := classifier.New(cfg.Filter, baseLogger.With(zap.String("component", "classifier")))
	if err != nil {
		store.Close()
		return nil, err
	}

	registry := scanner.NewRegistry()
	registry.Register(parser.NewArxivScanner(
		&http.Client{Timeout: 30 * time.Second},
		baseLogger.With(zap.String("component", "scanner.arxiv")),
		parser.WithRetry(cfg.Pipeline.FetchAttempts, cfg.Pipeline.FetchRetryDelay),
	))
	source := parser.NewStrategySource(registry, cfg.Sites, baseLogger.With(zap.String("component", "source")))

	filter := cascade.NewFilter(cascade.Deps{
		Classifier: cls,
		Keywords:   cfg.Filter.Keywords,
		Thresholds: cfg.Filter.Thresholds(),
		BatchSize:  cfg.Filter.BatchSize,
		Logger:     baseLogger.With(zap.String("component", "cascade")),
	})

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:    source,
		Filter:    filter,
		Store:     store,
		Notifiers: notifiers(cfg.Notifications, baseLogger),
		Logger:    baseLogger.With(zap.String("component", "pipeline")),
		SkipSeen:  cfg.Pipeline.SkipSeen,
		Days:      cfg.Pipeline.Days,
	})

	return &Application{cfg: cfg, logger: baseLogger, store: store, pipeline: pipeline}, nil
}

func notifiers(cfg config.NotificationConfig, log *zap.Logger) []ports.Notifier {
	var out []ports.Notifier
	if cfg.Telegram.Enabled() {
		out = append(out, telegram.NewNotifier(
			cfg.Telegram.BotToken,
			cfg.Telegram.ChatID,
			cfg.Telegram.APIBase,
			log.With(zap.String("component", "notifier.telegram")),
		))
	}
	if cfg.Email.Enabled() {
		out = append(out, mail.NewNotifier(cfg.Email, log.With(zap.String("component", "notifier.email"))))
	}
	if len(out) == 0 {
		log.Warn("no notifier configured, relevant papers will be stored as unsent")
	}
	return out
}

// Run performs a single pipeline execution.
func (a *Application) Run(ctx context.Context, opts usecase.RunOptions) (usecase.RunReport, error) {
	if !opts.DryRun && a.cfg.Pipeline.DryRun {
		opts.DryRun = true
	}
	return a.pipeline.Run(ctx, opts)
}

// Schedule runs the pipeline on the configured cron expression until ctx is done.
func (a *Application) Schedule(ctx context.Context) error {
	driver := scheduler.NewCronScheduler(
		a.cfg.Scheduler.CronExpression,
		a.cfg.Scheduler.Location(),
		a.logger.With(zap.String("component", "scheduler")),
	)
	sched := usecase.NewScheduler(driver, a.pipeline, a.logger.With(zap.String("component", "scheduler")))
	if err := sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return sched.Stop(context.Background())
}

// Stats reads the cache aggregate.
func (a *Application) Stats(ctx context.Context) (domain.CacheStats, error) {
	return a.store.Stats(ctx)
}

// Recent lists cached papers published within the last days.
func (a *Application) Recent(ctx context.Context, days int) ([]domain.CacheEntry, error) {
	return a.store.GetRecent(ctx, days)
}

// Close releases storage.
func (a *Application) Close() error {
	return a.store.Close()
}
