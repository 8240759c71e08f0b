package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/assessor/internal/grading"
	"github.com/pavelanni/assessor/internal/model"
)

var ErrNoQuestions = errors.New("generator returned no usable questions")

// stripCodeFences removes a Markdown code fence some models wrap JSON in.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// parseQuestions decodes generator output: either {"questions": [...]} or a
// bare array. Every question is stamped with the requested kind, and those
// that break the question invariants are dropped.
func parseQuestions(raw string, kind model.Kind) ([]model.Question, error) {
	raw = stripCodeFences(raw)

	var questions []model.Question
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &questions); err != nil {
			return nil, fmt.Errorf("parse generated questions: %w", err)
		}
	} else {
		var env struct {
			Questions []model.Question `json:"questions"`
		}
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, fmt.Errorf("parse generated questions: %w", err)
		}
		questions = env.Questions
	}

	valid := questions[:0]
	for _, q := range questions {
		q.Kind = kind
		q = q.Normalized()
		if err := q.Validate(); err != nil {
			continue
		}
		valid = append(valid, q)
	}
	if len(valid) == 0 {
		return nil, ErrNoQuestions
	}
	return valid, nil
}

// parseVerdicts decodes the judge's JSON answer. The model actually judged
// these items, so each verdict is marked verified.
func parseVerdicts(raw string, want int) ([]grading.JudgeVerdict, error) {
	raw = stripCodeFences(raw)

	var env struct {
		Results []struct {
			IsCorrect   bool   `json:"is_correct"`
			Explanation string `json:"explanation"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("parse judge response: %w (raw: %s)", err, raw)
	}
	if len(env.Results) != want {
		return nil, fmt.Errorf("judge returned %d results for %d items", len(env.Results), want)
	}

	out := make([]grading.JudgeVerdict, len(env.Results))
	for i, r := range env.Results {
		out[i] = grading.JudgeVerdict{
			IsCorrect:   r.IsCorrect,
			Explanation: strings.TrimSpace(r.Explanation),
			Verified:    true,
		}
	}
	return out, nil
}
