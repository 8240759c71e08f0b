package grading

import (
	"fmt"

	"github.com/pavelanni/assessor/internal/model"
)

// Outcome is the aggregated result of one submission.
type Outcome struct {
	Results  []model.EvaluationResult `json:"results"`
	Score    int                      `json:"score"`
	Failures []*BatchFailure          `json:"failures,omitempty"`
}

// Unverified counts results shown as not verified: evaluation errors and
// remote verdicts without the judge's verified flag.
func (o Outcome) Unverified() int {
	n := 0
	for _, r := range o.Results {
		if r.Verdict() == model.VerdictNotVerified {
			n++
		}
	}
	return n
}

// Partial reports whether any remote batch failed.
func (o Outcome) Partial() bool {
	return len(o.Failures) > 0
}

// Aggregate merges local results and remote batch results into one result
// per question index and counts the correct ones. Every index in
// [0, questionCount) must be filled by exactly one source; anything else is
// an ErrIncompleteAggregation. Remote verdicts the judge did not mark as
// verified are not counted. Inputs are not modified.
func Aggregate(questionCount int, local map[int]model.EvaluationResult, batches []BatchResult) (Outcome, error) {
	results := make([]model.EvaluationResult, questionCount)
	filled := make([]bool, questionCount)

	put := func(idx int, r model.EvaluationResult, source string) error {
		if idx < 0 || idx >= questionCount {
			return fmt.Errorf("%w: %s result for index %d out of range [0,%d)", ErrIncompleteAggregation, source, idx, questionCount)
		}
		if filled[idx] {
			return fmt.Errorf("%w: index %d reported twice (%s)", ErrIncompleteAggregation, idx, source)
		}
		results[idx] = r
		filled[idx] = true
		return nil
	}

	for idx, r := range local {
		if err := put(idx, r, "local"); err != nil {
			return Outcome{}, err
		}
	}

	var failures []*BatchFailure
	for _, b := range batches {
		for idx, r := range b.Results {
			if err := put(idx, r, string(b.Kind)); err != nil {
				return Outcome{}, err
			}
		}
		if b.Failure != nil {
			failures = append(failures, b.Failure)
		}
	}

	var missing []int
	for idx, ok := range filled {
		if !ok {
			missing = append(missing, idx)
		}
	}
	if len(missing) > 0 {
		return Outcome{}, fmt.Errorf("%w: no result for indices %v", ErrIncompleteAggregation, missing)
	}

	score := 0
	for _, r := range results {
		if r.Verdict() == model.VerdictCorrect {
			score++
		}
	}
	return Outcome{Results: results, Score: score, Failures: failures}, nil
}
