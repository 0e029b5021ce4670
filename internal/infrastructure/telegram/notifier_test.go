package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PaperSieve/internal/domain"
)

func annotated(id, title string, score float64, reason string) domain.Paper {
	p := domain.Paper{
		ID:      id,
		Title:   title,
		Link:    "https://arxiv.org/abs/" + id,
		Authors: []string{"A", "B", "C", "D"},
	}
	p.Annotation.Score = score
	p.Annotation.Reason = reason
	return p
}

func TestNotifier_PublishPapers(t *testing.T) {
	var got []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.Equal(t, "42", r.PostForm.Get("chat_id"))
		assert.Equal(t, "HTML", r.PostForm.Get("parse_mode"))
		got = append(got, r.PostForm.Get("text"))
	}))
	defer server.Close()

	n := NewNotifier("TOKEN", "42", server.URL, nil)
	err := n.PublishPapers(context.Background(), []domain.Paper{
		annotated("2501.00001", "Graphs <and> Trees", 0.91, "core contribution"),
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Contains(t, got[0], "1 relevant papers")
	assert.Contains(t, got[0], "Graphs &lt;and&gt; Trees")
	assert.Contains(t, got[0], "A, B, C, et al.")
	assert.Contains(t, got[0], "Score: 0.91")
	assert.Contains(t, got[0], "core contribution")
}

func TestNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewNotifier("TOKEN", "42", server.URL, nil)
	err := n.PublishPapers(context.Background(), []domain.Paper{annotated("1", "t", 0.8, "r")})
	require.Error(t, err)
}

func TestNotifier_Misconfigured(t *testing.T) {
	n := NewNotifier("", "", "", nil)
	err := n.PublishPapers(context.Background(), []domain.Paper{annotated("1", "t", 0.8, "r")})
	require.Error(t, err)

	assert.NoError(t, n.PublishPapers(context.Background(), nil))
}

func TestBuildMessages_Splits(t *testing.T) {
	var papers []domain.Paper
	for range 40 {
		papers = append(papers, annotated("id", strings.Repeat("x", 200), 0.8, strings.Repeat("r", 100)))
	}

	msgs := buildMessages(papers)
	require.Greater(t, len(msgs), 1)
	total := 0
	for _, m := range msgs {
		assert.LessOrEqual(t, len(m.text), messageLimit)
		total += len(m.ids)
	}
	assert.Equal(t, len(papers), total)
}

func TestBuildMessages_TruncatesOversizedPaper(t *testing.T) {
	long := annotated("2501.00001", strings.Repeat("<t>", 2000), 0.9, strings.Repeat("\"why\" & ", 1000))

	msgs := buildMessages([]domain.Paper{long})
	require.Len(t, msgs, 1)
	assert.LessOrEqual(t, len(msgs[0].text), messageLimit)
	assert.Contains(t, msgs[0].text, "…")
	assert.Equal(t, []string{"2501.00001"}, msgs[0].ids)
}

func TestNotifier_PartialDelivery(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls > 1 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}
	}))
	defer server.Close()

	var papers []domain.Paper
	for i := range 40 {
		papers = append(papers, annotated(fmt.Sprintf("2501.%05d", i), strings.Repeat("x", 200), 0.8, strings.Repeat("r", 100)))
	}
	msgs := buildMessages(papers)
	require.Greater(t, len(msgs), 1)

	err := NewNotifier("TOKEN", "42", server.URL, nil).PublishPapers(context.Background(), papers)
	require.Error(t, err)

	var partial *domain.PartialDeliveryError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, msgs[0].ids, partial.Delivered)
	assert.Equal(t, 2, calls)
}
