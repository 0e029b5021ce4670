package classifier

import (
	"context"

	"go.uber.org/zap"

	"PaperSieve/internal/domain"
	"PaperSieve/internal/ports"
	"PaperSieve/internal/relevance"
)

// KeywordClassifier is used when no text-generation provider is configured.
type KeywordClassifier struct {
	keywords   []string
	thresholds relevance.Thresholds
	logger     *zap.Logger
}

var _ ports.Classifier = (*KeywordClassifier)(nil)

// NewKeywordClassifier builds the deterministic classifier.
func NewKeywordClassifier(keywords []string, thresholds relevance.Thresholds, log *zap.Logger) *KeywordClassifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &KeywordClassifier{keywords: keywords, thresholds: thresholds, logger: log}
}

// Classify scores the paper's title and summary against the keywords.
func (k *KeywordClassifier) Classify(_ context.Context, p domain.Paper, titleOnly bool) domain.Verdict {
	v := relevance.Fallback(p, k.keywords, k.thresholds.ForStage(titleOnly))
	k.logger.Debug("keyword verdict",
		zap.String("paper_id", p.ID),
		zap.Float64("score", v.Score),
		zap.Bool("relevant", v.Relevant),
	)
	return v
}

// ClassifyBatch scores every paper; nothing is ever left unscored.
func (k *KeywordClassifier) ClassifyBatch(ctx context.Context, papers []domain.Paper, titleOnly bool, _ int) []domain.Verdict {
	out := make([]domain.Verdict, 0, len(papers))
	for _, p := range papers {
		out = append(out, k.Classify(ctx, p, titleOnly))
	}
	return out
}
