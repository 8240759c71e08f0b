package grading

import (
	"fmt"

	"github.com/pavelanni/assessor/internal/model"
)

// ScoreLocal scores a question routed to local scoring by exact match
// against the stored correct answer. There is no normalization: case and
// surrounding whitespace are significant, matching what the generator
// produced.
func (r Registry) ScoreLocal(q model.Question, a model.Answer) (model.EvaluationResult, error) {
	strategy, err := r.StrategyFor(q.Kind)
	if err != nil {
		return model.EvaluationResult{}, err
	}
	if strategy != model.StrategyLocal {
		return model.EvaluationResult{}, fmt.Errorf("%w: %q", ErrNotLocal, q.Kind)
	}
	return scoreExact(q, a), nil
}

func scoreExact(q model.Question, a model.Answer) model.EvaluationResult {
	return model.EvaluationResult{
		IsCorrect: a.Equal(q.CorrectAnswer),
		Source:    model.StrategyLocal,
	}
}
