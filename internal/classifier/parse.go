package classifier

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

var fenceExpr = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)\\n?```")

// decodeJSON unmarshals content into T, retrying with the body of a Markdown
// code fence when the model wrapped its answer.
func decodeJSON[T any](content string) (T, error) {
	var result T
	content = strings.TrimSpace(content)

	err := json.Unmarshal([]byte(content), &result)
	if err == nil {
		return result, nil
	}

	if matches := fenceExpr.FindStringSubmatch(content); len(matches) >= 2 {
		var fenced T
		if err = json.Unmarshal([]byte(strings.TrimSpace(matches[1])), &fenced); err == nil {
			return fenced, nil
		}
	}

	return result, eris.Wrapf(ErrMalformedResponse, "decode %q: %v", abbreviate(content, 120), err)
}

// flexScore accepts 0.8 as well as "0.8".
type flexScore float64

func (f *flexScore) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return eris.Wrapf(err, "score %s", string(b))
	}
	*f = flexScore(v)
	return nil
}

// flexID accepts string ids and bare numbers such as 2501.00001, keeping the
// literal text of numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexID(string(b))
	return nil
}

type singleResponse struct {
	Relevant *bool      `json:"relevant"`
	Score    *flexScore `json:"score"`
	Reason   string     `json:"reason"`
}

func parseSingle(text string) (singleResponse, error) {
	resp, err := decodeJSON[singleResponse](text)
	if err != nil {
		return resp, err
	}
	if resp.Relevant == nil {
		return resp, eris.Wrap(ErrMalformedResponse, "missing field relevant")
	}
	if resp.Score == nil {
		return resp, eris.Wrap(ErrMalformedResponse, "missing field score")
	}
	return resp, nil
}

type batchReview struct {
	ID     flexID     `json:"id"`
	Score  *flexScore `json:"score"`
	Reason string     `json:"reason"`
}

type batchResponse struct {
	Reviews *[]batchReview `json:"reviews"`
	Results *[]batchReview `json:"results"`
}

func parseBatch(text string) ([]batchReview, error) {
	resp, err := decodeJSON[batchResponse](text)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.Reviews != nil:
		return *resp.Reviews, nil
	case resp.Results != nil:
		return *resp.Results, nil
	default:
		return nil, eris.Wrap(ErrMalformedResponse, "missing field reviews")
	}
}

func abbreviate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
