package grading

import (
	"context"
	"fmt"

	"github.com/pavelanni/assessor/internal/model"
)

// JudgeItem is one answer submitted to a remote judge.
type JudgeItem struct {
	QuestionText  string       `json:"question_text"`
	UserAnswer    model.Answer `json:"user_answer"`
	CorrectAnswer model.Answer `json:"correct_answer"`
}

// JudgeVerdict is the judge's normalized response for one item.
type JudgeVerdict struct {
	IsCorrect   bool   `json:"is_correct"`
	Explanation string `json:"explanation,omitempty"`
	Verified    bool   `json:"verified"`
}

// Judge verifies a batch of answers of a single subjective kind. It returns
// one verdict per item, in submission order.
type Judge interface {
	Verify(ctx context.Context, kind model.Kind, items []JudgeItem) ([]JudgeVerdict, error)
}

// Batch is the set of answers of one subjective kind submitted together.
// Indices[i] is the original question index of Items[i].
type Batch struct {
	Kind    model.Kind
	Indices []int
	Items   []JudgeItem
}

// BatchResult is what one batch contributes to aggregation.
type BatchResult struct {
	Kind    model.Kind
	Results map[int]model.EvaluationResult
	Failure *BatchFailure
}

// VerifyBatch submits b to the judge and maps each verdict back to its
// original question index by position, never by text, since two questions
// may share identical wording.
//
// A failed call, or a response of the wrong length, yields an evaluation
// error for every member and a BatchFailure; it never returns an error.
func VerifyBatch(ctx context.Context, judge Judge, b Batch) BatchResult {
	res := BatchResult{
		Kind:    b.Kind,
		Results: make(map[int]model.EvaluationResult, len(b.Indices)),
	}
	if len(b.Items) == 0 {
		return res
	}

	var verdicts []JudgeVerdict
	var err error
	if judge == nil {
		err = ErrNoJudge
	} else {
		verdicts, err = judge.Verify(ctx, b.Kind, b.Items)
		if err == nil && len(verdicts) != len(b.Items) {
			err = fmt.Errorf("%w: sent %d, got %d", ErrResultCountMismatch, len(b.Items), len(verdicts))
		}
	}

	if err != nil {
		res.Failure = &BatchFailure{
			Kind:    b.Kind,
			Indices: append([]int(nil), b.Indices...),
			Err:     err,
		}
		for _, idx := range b.Indices {
			res.Results[idx] = model.EvaluationResult{
				Source: model.StrategyRemote,
				Error:  err.Error(),
			}
		}
		return res
	}

	for pos, idx := range b.Indices {
		v := verdicts[pos]
		res.Results[idx] = model.EvaluationResult{
			IsCorrect:        v.IsCorrect,
			VerifiedRemotely: v.Verified,
			Explanation:      v.Explanation,
			Source:           model.StrategyRemote,
		}
	}
	return res
}

type topicKey struct{}

// WithTopic attaches the assessment topic to ctx for judges that grade in
// context of a subject.
func WithTopic(ctx context.Context, topic string) context.Context {
	return context.WithValue(ctx, topicKey{}, topic)
}

// TopicFrom returns the topic set by WithTopic, or fallback.
func TopicFrom(ctx context.Context, fallback string) string {
	if t, ok := ctx.Value(topicKey{}).(string); ok && t != "" {
		return t
	}
	return fallback
}
