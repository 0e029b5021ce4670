// Package classifier implements the relevance classification capability on
// top of chat-completion backends, with a keyword fallback for every failure.
package classifier

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"PaperSieve/internal/domain"
	"PaperSieve/internal/infrastructure/llm"
	"PaperSieve/internal/ports"
	"PaperSieve/internal/relevance"
)

const (
	DefaultBatchSize = 150

	singleTemperature = 0.3
	batchTemperature  = 0.1
)

// Options configures an LLMClassifier independently of the backend.
type Options struct {
	Provider          string
	Keywords          []string
	Thresholds        relevance.Thresholds
	Booster           Booster
	Concurrency       int
	RequestsPerMinute float64
	MemoTTL           time.Duration
}

// LLMClassifier asks a text-generation backend to score papers.
type LLMClassifier struct {
	completer   llm.Completer
	provider    string
	keywords    []string
	thresholds  relevance.Thresholds
	booster     Booster
	concurrency int
	limiter     *rate.Limiter
	memo        *cache.Cache
	logger      *zap.Logger
}

var _ ports.Classifier = (*LLMClassifier)(nil)

// NewLLMClassifier wires a backend with the shared threshold configuration.
func NewLLMClassifier(completer llm.Completer, opts Options, log *zap.Logger) *LLMClassifier {
	if log == nil {
		log = zap.NewNop()
	}
	c := &LLMClassifier{
		completer:   completer,
		provider:    opts.Provider,
		keywords:    opts.Keywords,
		thresholds:  opts.Thresholds,
		booster:     opts.Booster,
		concurrency: max(opts.Concurrency, 1),
		logger:      log,
	}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerMinute/60), 1)
	}
	if opts.MemoTTL > 0 {
		c.memo = cache.New(opts.MemoTTL, 2*opts.MemoTTL)
	}
	return c
}

// Classify scores a single paper. Provider or parse failures fall back to
// keyword matching against the stage threshold.
func (c *LLMClassifier) Classify(ctx context.Context, p domain.Paper, titleOnly bool) domain.Verdict {
	if v, ok := c.recall(p.ID, titleOnly); ok {
		return v
	}

	if err := c.wait(ctx); err != nil {
		return c.fallback(p, titleOnly, err)
	}

	system, user := singlePrompt(p, c.keywords, titleOnly, c.booster)
	text, err := c.completer.Complete(ctx, llm.Request{
		System:      system,
		User:        user,
		Temperature: singleTemperature,
		JSONMode:    true,
	})
	if err != nil {
		return c.fallback(p, titleOnly, err)
	}

	resp, err := parseSingle(text)
	if err != nil {
		return c.fallback(p, titleOnly, err)
	}

	score := relevance.Clamp(float64(*resp.Score))
	v := domain.Verdict{
		PaperID:  p.ID,
		Relevant: *resp.Relevant && score >= c.thresholds.ForStage(titleOnly),
		Score:    score,
		Reason:   resp.Reason,
	}
	c.remember(v, titleOnly)
	return v
}

// ClassifyBatch scores papers in chunks of at most batchSize. Only papers the
// backend returned a score for get a verdict; unknown ids in the response are
// ignored. A failed chunk falls back to keyword matching paper by paper.
func (c *LLMClassifier) ClassifyBatch(ctx context.Context, papers []domain.Paper, titleOnly bool, batchSize int) []domain.Verdict {
	if len(papers) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	chunks := chunk(papers, batchSize)
	results := make([][]domain.Verdict, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, part := range chunks {
		g.Go(func() error {
			c.logger.Info("classifying batch",
				zap.Int("batch", i+1),
				zap.Int("batches", len(chunks)),
				zap.Int("papers", len(part)),
				zap.Bool("title_only", titleOnly),
			)
			results[i] = c.classifyChunk(gctx, part, titleOnly)
			return nil
		})
	}
	_ = g.Wait()

	var out []domain.Verdict
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (c *LLMClassifier) classifyChunk(ctx context.Context, papers []domain.Paper, titleOnly bool) []domain.Verdict {
	verdicts := make(map[string]domain.Verdict, len(papers))
	var pending []domain.Paper
	for _, p := range papers {
		if v, ok := c.recall(p.ID, titleOnly); ok {
			verdicts[p.ID] = v
			continue
		}
		pending = append(pending, p)
	}

	if len(pending) > 0 {
		for id, v := range c.scoreChunk(ctx, pending, titleOnly) {
			verdicts[id] = v
		}
	}

	out := make([]domain.Verdict, 0, len(papers))
	for _, p := range papers {
		v, ok := verdicts[p.ID]
		if !ok {
			c.logger.Debug("paper not scored by classifier", zap.String("paper_id", p.ID))
			continue
		}
		out = append(out, v)
	}
	return out
}

func (c *LLMClassifier) scoreChunk(ctx context.Context, papers []domain.Paper, titleOnly bool) map[string]domain.Verdict {
	fallbackAll := func(err error) map[string]domain.Verdict {
		out := make(map[string]domain.Verdict, len(papers))
		for _, p := range papers {
			out[p.ID] = c.fallback(p, titleOnly, err)
		}
		return out
	}

	if err := c.wait(ctx); err != nil {
		return fallbackAll(err)
	}

	system, user := batchPrompt(papers, c.keywords, titleOnly, c.booster)
	text, err := c.completer.Complete(ctx, llm.Request{
		System:      system,
		User:        user,
		Temperature: batchTemperature,
		JSONMode:    true,
	})
	if err != nil {
		return fallbackAll(err)
	}

	reviews, err := parseBatch(text)
	if err != nil {
		return fallbackAll(err)
	}

	submitted := make(map[string]struct{}, len(papers))
	for _, p := range papers {
		submitted[p.ID] = struct{}{}
	}

	threshold := c.thresholds.ForStage(titleOnly)
	out := make(map[string]domain.Verdict, len(reviews))
	for _, r := range reviews {
		id := string(r.ID)
		if _, ok := submitted[id]; !ok {
			c.logger.Debug("ignoring unknown id in batch response", zap.String("id", id))
			continue
		}
		if r.Score == nil {
			continue
		}
		if _, dup := out[id]; dup {
			continue
		}
		score := relevance.Clamp(float64(*r.Score))
		v := domain.Verdict{
			PaperID:  id,
			Relevant: score >= threshold,
			Score:    score,
			Reason:   r.Reason,
		}
		out[id] = v
		c.remember(v, titleOnly)
	}
	return out
}

func (c *LLMClassifier) fallback(p domain.Paper, titleOnly bool, cause error) domain.Verdict {
	c.logger.Warn("classifier unavailable, falling back to keyword matching",
		zap.String("provider", c.provider),
		zap.String("paper_id", p.ID),
		zap.Bool("title_only", titleOnly),
		zap.Error(cause),
	)
	return relevance.Fallback(p, c.keywords, c.thresholds.ForStage(titleOnly))
}

func (c *LLMClassifier) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *LLMClassifier) memoKey(id string, titleOnly bool) string {
	return fmt.Sprintf("%s|%s|%t|%s", c.provider, c.completer.Model(), titleOnly, id)
}

func (c *LLMClassifier) recall(id string, titleOnly bool) (domain.Verdict, bool) {
	if c.memo == nil {
		return domain.Verdict{}, false
	}
	if x, found := c.memo.Get(c.memoKey(id, titleOnly)); found {
		return x.(domain.Verdict), true
	}
	return domain.Verdict{}, false
}

func (c *LLMClassifier) remember(v domain.Verdict, titleOnly bool) {
	if c.memo == nil || v.Fallback {
		return
	}
	c.memo.Set(c.memoKey(v.PaperID, titleOnly), v, cache.DefaultExpiration)
}

func chunk(papers []domain.Paper, size int) [][]domain.Paper {
	var out [][]domain.Paper
	for start := 0; start < len(papers); start += size {
		end := min(start+size, len(papers))
		out = append(out, papers[start:end])
	}
	return out
}
