package classifier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSingle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		relevant bool
		score    float64
		reason   string
		wantErr  bool
	}{
		{
			name:     "plain object",
			input:    `{"relevant": true, "score": 0.82, "reason": "on topic"}`,
			relevant: true,
			score:    0.82,
			reason:   "on topic",
		},
		{
			name:     "fenced with language tag",
			input:    "Here you go:\n```json\n{\"relevant\": false, \"score\": 0.1, \"reason\": \"off\"}\n```",
			relevant: false,
			score:    0.1,
			reason:   "off",
		},
		{
			name:     "bare fence",
			input:    "```\n{\"relevant\": true, \"score\": 1}\n```",
			relevant: true,
			score:    1,
		},
		{
			name:     "score as string",
			input:    `{"relevant": true, "score": "0.75"}`,
			relevant: true,
			score:    0.75,
		},
		{name: "missing score", input: `{"relevant": true}`, wantErr: true},
		{name: "missing relevant", input: `{"score": 0.4}`, wantErr: true},
		{name: "not json", input: "I think it is relevant.", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSingle(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedResponse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.relevant, *got.Relevant)
			assert.InDelta(t, tt.score, float64(*got.Score), 1e-9)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestParseBatch(t *testing.T) {
	reviews, err := parseBatch(`{"reviews": [{"id": "2501.00001", "score": 0.9, "reason": "a"}, {"id": 2501.00002, "score": "0.2"}]}`)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, flexID("2501.00001"), reviews[0].ID)
	assert.Equal(t, "a", reviews[0].Reason)
	assert.Equal(t, flexID("2501.00002"), reviews[1].ID)
	assert.InDelta(t, 0.2, float64(*reviews[1].Score), 1e-9)
}

func TestParseBatch_ResultsAlias(t *testing.T) {
	reviews, err := parseBatch("```json\n{\"results\": [{\"id\": \"x\", \"score\": 0.5}]}\n```")
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, flexID("x"), reviews[0].ID)
}

func TestParseBatch_EmptyListIsValid(t *testing.T) {
	reviews, err := parseBatch(`{"reviews": []}`)
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestParseBatch_MissingKey(t *testing.T) {
	_, err := parseBatch(`{"papers": []}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}
