package grading

import (
	"errors"
	"fmt"

	"github.com/pavelanni/assessor/internal/model"
)

var (
	// ErrUnknownQuestionKind means a question declared a kind the registry
	// has no route for. The submission cannot be scored safely.
	ErrUnknownQuestionKind = errors.New("unknown question kind")
	// ErrNotLocal is returned when a remote kind is handed to the local scorer.
	ErrNotLocal = errors.New("question kind is not scored locally")
	// ErrRemoteBatchFailure matches every *BatchFailure.
	ErrRemoteBatchFailure = errors.New("remote batch failure")
	// ErrIncompleteAggregation means a question index never received a result.
	ErrIncompleteAggregation = errors.New("incomplete aggregation")
	// ErrResultCountMismatch is a judge response whose length differs from the batch.
	ErrResultCountMismatch = errors.New("judge returned a different number of results")
	// ErrNoJudge is used when remote kinds are present but no judge is configured.
	ErrNoJudge = errors.New("no remote judge configured")
)

// BatchFailure records a judge call that failed for one subjective kind.
// Its questions are marked as evaluation errors; the rest of the submission
// is still scored.
type BatchFailure struct {
	Kind    model.Kind `json:"type"`
	Indices []int      `json:"indices"`
	Err     error      `json:"-"`
}

func (f *BatchFailure) Error() string {
	return fmt.Sprintf("remote batch %s (%d questions) failed: %v", f.Kind, len(f.Indices), f.Err)
}

func (f *BatchFailure) Unwrap() error { return f.Err }

// Is makes errors.Is(f, ErrRemoteBatchFailure) hold for any batch failure.
func (f *BatchFailure) Is(target error) bool {
	return target == ErrRemoteBatchFailure
}

// IsFatal reports whether err must abort a submission rather than be shown
// as a partial result.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnknownQuestionKind) || errors.Is(err, ErrIncompleteAggregation)
}
