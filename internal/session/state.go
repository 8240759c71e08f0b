// Package session holds the per-attempt state machine: answering, then
// scoring, then showing results, with reattempt as the only way back.
package session

import (
	"errors"
	"fmt"
	"maps"

	"github.com/pavelanni/assessor/internal/grading"
	"github.com/pavelanni/assessor/internal/model"
)

// Phase is the lifecycle phase of an attempt.
type Phase string

const (
	PhaseAnswering      Phase = "answering"
	PhaseScoring        Phase = "scoring"
	PhaseShowingResults Phase = "showing_results"
)

var (
	ErrWrongPhase      = errors.New("operation not allowed in current phase")
	ErrIndexOutOfRange = errors.New("question index out of range")
	ErrMissingAnswer   = errors.New("question has no recorded answer")
	// ErrStaleGeneration is returned when a completion arrives for a
	// submission that a reattempt has already superseded. Callers drop it.
	ErrStaleGeneration = errors.New("stale submission generation")
)

// Ticket identifies one submission. Completions carry it back so the state
// can tell whether they still apply.
type Ticket struct {
	Generation uint64
}

// State is the value-typed state of one attempt. Transitions never modify
// the receiver; they return the next State.
type State struct {
	Generation uint64
	Phase      Phase
	Questions  []model.Question
	Answers    map[int]model.Answer
	Results    []model.EvaluationResult
	Score      int
	Failures   []*grading.BatchFailure
	// LastError is the error of the most recent failed submission.
	LastError string
	// Retryable is false when resubmitting cannot help, such as a question
	// of an unknown kind.
	Retryable bool
}

// New returns the initial state for a question set.
func New(questions []model.Question) State {
	return State{
		Generation: 1,
		Phase:      PhaseAnswering,
		Questions:  questions,
		Answers:    make(map[int]model.Answer),
	}
}

func (s State) clone() State {
	next := s
	next.Answers = maps.Clone(s.Answers)
	if next.Answers == nil {
		next.Answers = make(map[int]model.Answer)
	}
	return next
}

// SetAnswer records the answer for question index i, replacing any
// previous one.
func (s State) SetAnswer(i int, a model.Answer) (State, error) {
	if s.Phase != PhaseAnswering {
		return s, fmt.Errorf("%w: cannot edit answers while %s", ErrWrongPhase, s.Phase)
	}
	if i < 0 || i >= len(s.Questions) {
		return s, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	next := s.clone()
	next.Answers[i] = a
	return next, nil
}

// BeginSubmit moves to scoring. Every question needs an answer entry;
// empty values count as a recorded "no answer".
func (s State) BeginSubmit() (State, Ticket, error) {
	if s.Phase != PhaseAnswering {
		return s, Ticket{}, fmt.Errorf("%w: cannot submit while %s", ErrWrongPhase, s.Phase)
	}
	for i := range s.Questions {
		if _, ok := s.Answers[i]; !ok {
			return s, Ticket{}, fmt.Errorf("%w: %d", ErrMissingAnswer, i)
		}
	}
	next := s.clone()
	next.Phase = PhaseScoring
	next.LastError = ""
	next.Retryable = false
	return next, Ticket{Generation: s.Generation}, nil
}

// Complete applies an aggregated outcome and shows results.
func (s State) Complete(t Ticket, outcome grading.Outcome) (State, error) {
	if t.Generation != s.Generation {
		return s, fmt.Errorf("%w: ticket %d, current %d", ErrStaleGeneration, t.Generation, s.Generation)
	}
	if s.Phase != PhaseScoring {
		return s, fmt.Errorf("%w: cannot complete while %s", ErrWrongPhase, s.Phase)
	}
	next := s.clone()
	next.Phase = PhaseShowingResults
	next.Results = outcome.Results
	next.Score = outcome.Score
	next.Failures = outcome.Failures
	return next, nil
}

// Fail records an evaluation error and returns to answering with the
// answers kept.
func (s State) Fail(t Ticket, cause error) (State, error) {
	if t.Generation != s.Generation {
		return s, fmt.Errorf("%w: ticket %d, current %d", ErrStaleGeneration, t.Generation, s.Generation)
	}
	if s.Phase != PhaseScoring {
		return s, fmt.Errorf("%w: cannot fail while %s", ErrWrongPhase, s.Phase)
	}
	next := s.clone()
	next.Phase = PhaseAnswering
	next.LastError = cause.Error()
	next.Retryable = !grading.IsFatal(cause)
	return next, nil
}

// Reattempt discards answers, results and score and starts a new
// generation in the answering phase. It is valid in any phase; a pending
// submission from the old generation becomes stale.
func (s State) Reattempt() State {
	next := New(s.Questions)
	next.Generation = s.Generation + 1
	return next
}

// Partial reports whether the shown results include remote batch failures.
func (s State) Partial() bool {
	return len(s.Failures) > 0
}
