package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/pavelanni/assessor/internal/grading"
	"github.com/pavelanni/assessor/internal/model"
)

// Evaluator scores a completed answer set.
type Evaluator interface {
	Evaluate(ctx context.Context, questions []model.Question, answers map[int]model.Answer) (grading.Outcome, error)
}

// Attempt owns the State of one assessment attempt and runs submissions in
// the background. All access to the state goes through its mutex; the
// evaluation itself runs outside the lock.
type Attempt struct {
	ID    uuid.UUID
	Topic string

	mu      sync.Mutex
	state   State
	pending chan struct{}

	eval   Evaluator
	logger *slog.Logger
}

// NewAttempt starts an attempt over questions.
func NewAttempt(topic string, questions []model.Question, eval Evaluator, logger *slog.Logger) *Attempt {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	return &Attempt{
		ID:     id,
		Topic:  topic,
		state:  New(questions),
		eval:   eval,
		logger: logger.With("attempt_id", id.String()),
	}
}

// State returns a snapshot of the current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.clone()
}

// SetAnswer records an answer for question index i.
func (a *Attempt) SetAnswer(i int, ans model.Answer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	next, err := a.state.SetAnswer(i, ans)
	if err != nil {
		return err
	}
	a.state = next
	return nil
}

// Submit moves the attempt to scoring and evaluates in the background. It
// returns as soon as the submission is accepted; use Wait to block until it
// settles. The evaluation is detached from ctx's cancellation since there
// is no mid-flight cancel of a submission.
func (a *Attempt) Submit(ctx context.Context) (Ticket, error) {
	a.mu.Lock()
	next, ticket, err := a.state.BeginSubmit()
	if err != nil {
		a.mu.Unlock()
		return Ticket{}, err
	}
	a.state = next
	questions := next.Questions
	answers := next.clone().Answers
	done := make(chan struct{})
	a.pending = done
	a.mu.Unlock()

	a.logger.Info("submission started", "generation", ticket.Generation, "questions", len(questions))

	go func() {
		defer close(done)
		evalCtx := grading.WithTopic(context.WithoutCancel(ctx), a.Topic)
		outcome, err := a.eval.Evaluate(evalCtx, questions, answers)
		a.settle(ticket, outcome, err)
	}()
	return ticket, nil
}

func (a *Attempt) settle(t Ticket, outcome grading.Outcome, evalErr error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var next State
	var err error
	if evalErr != nil {
		next, err = a.state.Fail(t, evalErr)
	} else {
		next, err = a.state.Complete(t, outcome)
	}
	if errors.Is(err, ErrStaleGeneration) {
		a.logger.Debug("discarding stale submission", "generation", t.Generation, "current", a.state.Generation)
		return
	}
	if err != nil {
		a.logger.Error("cannot apply submission result", "generation", t.Generation, "error", err)
		return
	}
	a.state = next

	switch {
	case evalErr != nil:
		a.logger.Error("submission failed", "generation", t.Generation, "retryable", next.Retryable, "error", evalErr)
	case outcome.Partial():
		a.logger.Warn("submission scored with unverified questions",
			"generation", t.Generation, "score", outcome.Score, "failed_batches", len(outcome.Failures))
	default:
		a.logger.Info("submission scored", "generation", t.Generation, "score", outcome.Score)
	}
}

// Wait blocks until the most recent submission has settled (applied or
// discarded) or ctx is done.
func (a *Attempt) Wait(ctx context.Context) error {
	a.mu.Lock()
	done := a.pending
	a.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reattempt resets the attempt to a fresh answering state. Safe to call
// while a submission is still scoring; its result will be dropped.
func (a *Attempt) Reattempt() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = a.state.Reattempt()
	a.logger.Info("reattempt", "generation", a.state.Generation)
	return a.state.clone()
}

// Manager keeps the process-local set of active attempts. Nothing here
// outlives the process.
type Manager struct {
	mu       sync.RWMutex
	attempts map[uuid.UUID]*Attempt
	eval     Evaluator
	logger   *slog.Logger
}

// NewManager creates a Manager that scores with eval.
func NewManager(eval Evaluator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		attempts: make(map[uuid.UUID]*Attempt),
		eval:     eval,
		logger:   logger,
	}
}

// Start creates and registers a new attempt.
func (m *Manager) Start(topic string, questions []model.Question) *Attempt {
	a := NewAttempt(topic, questions, m.eval, m.logger)
	m.mu.Lock()
	m.attempts[a.ID] = a
	m.mu.Unlock()
	return a
}

// ErrAttemptNotFound is returned by Get for unknown ids.
var ErrAttemptNotFound = errors.New("attempt not found")

// Get returns the attempt with the given id.
func (m *Manager) Get(id string) (*Attempt, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttemptNotFound, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[uid]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return a, nil
}

// Remove forgets an attempt.
func (m *Manager) Remove(id uuid.UUID) {
	m.mu.Lock()
	delete(m.attempts, id)
	m.mu.Unlock()
}
