package judge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pavelanni/assessor/internal/grading"
)

var ErrBadResponse = errors.New("judge: malformed response")

// wireVerdict is the union of every verdict shape judges have returned.
type wireVerdict struct {
	IsCorrect     json.RawMessage `json:"is_correct"`
	Explanation   *string         `json:"explanation"`
	Verified      *bool           `json:"verified"`
	VerifiedByLLM *bool           `json:"verified_by_llm"`
	Score         *float64        `json:"score"`
}

// decodeVerdicts accepts a bare array of verdicts or an object with a
// "results" array and normalizes each entry:
//   - is_correct may be a bool or a per-blank list of bools (all must hold);
//   - without is_correct, a numeric score of at least 0.5 counts as correct;
//   - verified falls back to verified_by_llm, and a missing flag is false.
func decodeVerdicts(body []byte) ([]grading.JudgeVerdict, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrBadResponse)
	}

	var raw []wireVerdict
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
	case '{':
		var env struct {
			Results *[]wireVerdict `json:"results"`
			Error   string         `json:"error"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		if env.Results == nil {
			if env.Error != "" {
				return nil, fmt.Errorf("judge error: %s", env.Error)
			}
			return nil, fmt.Errorf("%w: no results field", ErrBadResponse)
		}
		raw = *env.Results
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrBadResponse, body[0])
	}

	out := make([]grading.JudgeVerdict, len(raw))
	for i, w := range raw {
		v, err := w.normalize()
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (w wireVerdict) normalize() (grading.JudgeVerdict, error) {
	var v grading.JudgeVerdict

	switch {
	case len(w.IsCorrect) > 0 && string(w.IsCorrect) != "null":
		correct, err := parseCorrect(w.IsCorrect)
		if err != nil {
			return v, err
		}
		v.IsCorrect = correct
	case w.Score != nil:
		v.IsCorrect = *w.Score >= 0.5
	}

	if w.Explanation != nil {
		v.Explanation = *w.Explanation
	}
	switch {
	case w.Verified != nil:
		v.Verified = *w.Verified
	case w.VerifiedByLLM != nil:
		v.Verified = *w.VerifiedByLLM
	}
	return v, nil
}

func parseCorrect(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var blanks []bool
	if err := json.Unmarshal(raw, &blanks); err != nil {
		return false, fmt.Errorf("%w: is_correct %s", ErrBadResponse, string(raw))
	}
	if len(blanks) == 0 {
		return false, nil
	}
	for _, ok := range blanks {
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
