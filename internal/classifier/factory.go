package classifier

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"PaperSieve/internal/config"
	"PaperSieve/internal/infrastructure/llm"
	"PaperSieve/internal/ports"
)

const (
	ProviderDeepSeek  = "deepseek"
	ProviderQwen      = "qwen"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderKeyword   = "keyword"
)

type preset struct {
	baseURL string
	model   string
}

var presets = map[string]preset{
	ProviderDeepSeek:  {baseURL: "https://api.deepseek.com", model: "deepseek-chat"},
	ProviderQwen:      {baseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", model: "qwen-turbo"},
	ProviderOpenAI:    {baseURL: "https://api.openai.com/v1", model: "gpt-4o-mini"},
	ProviderAnthropic: {model: "claude-haiku-4-5"},
}

// New selects exactly one classifier from configuration. A provider without
// an API key degrades to the keyword classifier; an unknown provider name is
// a configuration error.
func New(cfg config.FilterConfig, log *zap.Logger) (ports.Classifier, error) {
	if log == nil {
		log = zap.NewNop()
	}
	thresholds := cfg.Thresholds()

	if cfg.Provider == "" || cfg.Provider == ProviderKeyword {
		log.Info("using keyword classifier")
		return NewKeywordClassifier(cfg.Keywords, thresholds, log), nil
	}

	p, ok := presets[cfg.Provider]
	if !ok {
		return nil, eris.Errorf("classifier: unknown provider %q", cfg.Provider)
	}

	if cfg.APIKey == "" {
		log.Warn("falling back to keyword classifier",
			zap.String("provider", cfg.Provider),
			zap.Error(ErrNoCredential),
		)
		return NewKeywordClassifier(cfg.Keywords, thresholds, log), nil
	}

	if cfg.BaseURL != "" {
		p.baseURL = cfg.BaseURL
	}
	if cfg.Model != "" {
		p.model = cfg.Model
	}
	retry := llm.RetryPolicy{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelay}

	backendLog := log.With(zap.String("provider", cfg.Provider), zap.String("model", p.model))
	var completer llm.Completer
	switch cfg.Provider {
	case ProviderAnthropic:
		completer = llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:  cfg.APIKey,
			BaseURL: p.baseURL,
			Model:   p.model,
			Retry:   retry,
		}, backendLog)
	default:
		completer = llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL: p.baseURL,
			Model:   p.model,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
			Retry:   retry,
		}, backendLog)
	}

	log.Info("using llm classifier", zap.String("provider", cfg.Provider), zap.String("model", p.model))
	return NewLLMClassifier(completer, Options{
		Provider:   cfg.Provider,
		Keywords:   cfg.Keywords,
		Thresholds: thresholds,
		Booster: Booster{
			Labs:    cfg.Booster.Labs,
			Authors: cfg.Booster.Authors,
			Bonus:   cfg.Booster.Bonus,
		},
		Concurrency:       cfg.Concurrency,
		RequestsPerMinute: cfg.RequestsPerMinute,
		MemoTTL:           cfg.MemoTTL,
	}, log), nil
}
