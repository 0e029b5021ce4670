package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"PaperSieve/internal/config"
	"PaperSieve/internal/domain"
	"PaperSieve/internal/infrastructure/llm"
	"PaperSieve/internal/relevance"
)

type fakeCompleter struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", llm.ErrEmptyResponse
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *fakeCompleter) Model() string { return "fake-model" }

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestClassifier(c llm.Completer, keywords []string, memo time.Duration) *LLMClassifier {
	return NewLLMClassifier(c, Options{
		Provider:   "fake",
		Keywords:   keywords,
		Thresholds: relevance.DefaultThresholds(),
		MemoTTL:    memo,
	}, zap.NewNop())
}

func paper(id, title, summary string) domain.Paper {
	return domain.Paper{ID: id, Title: title, Summary: summary}
}

func TestLLMClassifier_Classify(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		titleOnly bool
		relevant  bool
		score     float64
	}{
		{name: "above full threshold", reply: `{"relevant": true, "score": 0.8, "reason": "r"}`, relevant: true, score: 0.8},
		{name: "below full threshold", reply: `{"relevant": true, "score": 0.6}`, relevant: false, score: 0.6},
		{name: "title threshold is lower", reply: `{"relevant": true, "score": 0.6}`, titleOnly: true, relevant: true, score: 0.6},
		{name: "model says irrelevant", reply: `{"relevant": false, "score": 0.9}`, relevant: false, score: 0.9},
		{name: "score clamped", reply: `{"relevant": true, "score": 1.7}`, relevant: true, score: 1},
		{name: "fenced", reply: "```json\n{\"relevant\": true, \"score\": 0.75}\n```", relevant: true, score: 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeCompleter{replies: []string{tt.reply}}
			c := newTestClassifier(fc, []string{"attention"}, 0)

			v := c.Classify(context.Background(), paper("p1", "Attention", "abstract"), tt.titleOnly)

			assert.Equal(t, "p1", v.PaperID)
			assert.Equal(t, tt.relevant, v.Relevant)
			assert.InDelta(t, tt.score, v.Score, 1e-9)
			assert.False(t, v.Fallback)
			require.Len(t, fc.requests, 1)
			assert.True(t, fc.requests[0].JSONMode)
		})
	}
}

func TestLLMClassifier_ClassifyFallsBackOnProviderError(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("connection refused")}
	c := newTestClassifier(fc, []string{"a", "b", "c", "d", "e"}, 0)

	v := c.Classify(context.Background(), paper("p1", "a b c", ""), false)

	assert.True(t, v.Fallback)
	assert.False(t, v.Relevant)
	assert.InDelta(t, 0.6, v.Score, 1e-9)
	assert.Contains(t, v.Reason, "keywords matched")
}

func TestLLMClassifier_ClassifyFallsBackOnMalformedReply(t *testing.T) {
	fc := &fakeCompleter{replies: []string{"sure, it's relevant"}}
	c := newTestClassifier(fc, []string{"graph"}, 0)

	v := c.Classify(context.Background(), paper("p1", "Graph networks", ""), true)

	assert.True(t, v.Fallback)
	assert.True(t, v.Relevant)
	assert.InDelta(t, 1.0, v.Score, 1e-9)
}

func TestLLMClassifier_ClassifyBatch_IgnoresHallucinatedIDs(t *testing.T) {
	fc := &fakeCompleter{replies: []string{`{"reviews":[{"id":"X","score":0.9},{"id":"Z","score":0.99}]}`}}
	c := newTestClassifier(fc, []string{"kw"}, 0)

	papers := []domain.Paper{paper("X", "x", ""), paper("Y", "y", "")}
	verdicts := c.ClassifyBatch(context.Background(), papers, true, 10)

	require.Len(t, verdicts, 1)
	assert.Equal(t, "X", verdicts[0].PaperID)
	assert.True(t, verdicts[0].Relevant)
	assert.InDelta(t, 0.9, verdicts[0].Score, 1e-9)
}

func TestLLMClassifier_ClassifyBatch_Chunks(t *testing.T) {
	fc := &fakeCompleter{replies: []string{
		`{"reviews":[{"id":"1","score":0.9,"reason":"a"},{"id":"2","score":0.2,"reason":"b"}]}`,
		`{"reviews":[{"id":3,"score":"0.71","reason":"c"}]}`,
	}}
	c := newTestClassifier(fc, []string{"kw"}, 0)

	papers := []domain.Paper{paper("1", "one", ""), paper("2", "two", ""), paper("3", "three", "")}
	verdicts := c.ClassifyBatch(context.Background(), papers, false, 2)

	require.Len(t, verdicts, 3)
	assert.Equal(t, 2, fc.calls())
	assert.Equal(t, []string{"1", "2", "3"}, []string{verdicts[0].PaperID, verdicts[1].PaperID, verdicts[2].PaperID})
	assert.True(t, verdicts[0].Relevant)
	assert.False(t, verdicts[1].Relevant)
	assert.True(t, verdicts[2].Relevant)
	assert.Equal(t, "c", verdicts[2].Reason)
}

func TestLLMClassifier_ClassifyBatch_FallbackOnFailure(t *testing.T) {
	fc := &fakeCompleter{replies: []string{"not json"}}
	c := newTestClassifier(fc, []string{"graph"}, 0)

	papers := []domain.Paper{paper("a", "Graph learning", ""), paper("b", "Protein folding", "")}
	verdicts := c.ClassifyBatch(context.Background(), papers, true, 0)

	require.Len(t, verdicts, 2)
	for _, v := range verdicts {
		assert.True(t, v.Fallback)
	}
	assert.True(t, verdicts[0].Relevant)
	assert.False(t, verdicts[1].Relevant)
}

func TestLLMClassifier_ClassifyBatch_Empty(t *testing.T) {
	fc := &fakeCompleter{}
	c := newTestClassifier(fc, []string{"kw"}, 0)

	assert.Empty(t, c.ClassifyBatch(context.Background(), nil, false, 5))
	assert.Zero(t, fc.calls())
}

func TestLLMClassifier_MemoSkipsRepeatedCalls(t *testing.T) {
	fc := &fakeCompleter{replies: []string{`{"relevant": true, "score": 0.9}`}}
	c := newTestClassifier(fc, []string{"kw"}, time.Hour)
	p := paper("p1", "t", "s")

	first := c.Classify(context.Background(), p, false)
	second := c.Classify(context.Background(), p, false)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fc.calls())

	// title-only verdicts are kept apart from full-text ones
	c.Classify(context.Background(), p, true)
	assert.Equal(t, 2, fc.calls())
}

func TestLLMClassifier_MemoIgnoresFallbacks(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("down")}
	c := newTestClassifier(fc, []string{"kw"}, time.Hour)
	p := paper("p1", "kw", "")

	c.Classify(context.Background(), p, false)
	c.Classify(context.Background(), p, false)
	assert.Equal(t, 2, fc.calls())
}

func TestLLMClassifier_ConcurrentChunks(t *testing.T) {
	var replies []string
	var papers []domain.Paper
	for i := range 6 {
		id := fmt.Sprintf("p%d", i)
		papers = append(papers, paper(id, id, ""))
	}
	// every reply covers all ids; each chunk keeps only its own
	var sb strings.Builder
	sb.WriteString(`{"reviews":[`)
	for i, p := range papers {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"id":%q,"score":0.8}`, p.ID)
	}
	sb.WriteString("]}")
	replies = append(replies, sb.String())

	fc := &fakeCompleter{replies: replies}
	c := NewLLMClassifier(fc, Options{
		Keywords:    []string{"kw"},
		Thresholds:  relevance.DefaultThresholds(),
		Concurrency: 3,
	}, nil)

	verdicts := c.ClassifyBatch(context.Background(), papers, false, 2)
	require.Len(t, verdicts, 6)
	for i, v := range verdicts {
		assert.Equal(t, papers[i].ID, v.PaperID)
	}
	assert.Equal(t, 3, fc.calls())
}

func TestNew_NoCredentialFallsBackToKeywords(t *testing.T) {
	cfg := config.Default().Filter
	cfg.Provider = ProviderDeepSeek
	cfg.Keywords = []string{"a", "b", "c", "d", "e"}

	c, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &KeywordClassifier{}, c)

	v := c.Classify(context.Background(), paper("p", "a b c", ""), false)
	assert.False(t, v.Relevant)
	assert.InDelta(t, 0.6, v.Score, 1e-9)

	v = c.Classify(context.Background(), paper("p", "a b c", ""), true)
	assert.True(t, v.Relevant)
	assert.InDelta(t, 0.6, v.Score, 1e-9)
}

func TestNew_SelectsBackend(t *testing.T) {
	for _, provider := range []string{ProviderDeepSeek, ProviderQwen, ProviderOpenAI, ProviderAnthropic} {
		t.Run(provider, func(t *testing.T) {
			cfg := config.Default().Filter
			cfg.Provider = provider
			cfg.APIKey = "secret"

			c, err := New(cfg, nil)
			require.NoError(t, err)
			llmc, ok := c.(*LLMClassifier)
			require.True(t, ok)
			assert.Equal(t, presets[provider].model, llmc.completer.Model())
		})
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := config.Default().Filter
	cfg.Provider = "bard"
	cfg.APIKey = "secret"

	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestKeywordClassifier_BatchScoresEveryPaper(t *testing.T) {
	k := NewKeywordClassifier([]string{"graph"}, relevance.DefaultThresholds(), nil)
	papers := []domain.Paper{paper("a", "graph", ""), paper("b", "other", "")}

	verdicts := k.ClassifyBatch(context.Background(), papers, false, 1)
	require.Len(t, verdicts, 2)
	assert.True(t, verdicts[0].Relevant)
	assert.False(t, verdicts[1].Relevant)
	assert.Zero(t, verdicts[1].Score)
}
