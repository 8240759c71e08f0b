package grading

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/assessor/internal/model"
)

// Evaluator scores a completed set of answers: objective kinds locally,
// subjective kinds through the judge, one concurrent call per kind.
type Evaluator struct {
	registry Registry
	judge    Judge
	logger   *slog.Logger
}

// NewEvaluator creates an Evaluator. A nil registry means DefaultRegistry
// and a nil logger means slog.Default.
func NewEvaluator(registry Registry, judge Judge, logger *slog.Logger) *Evaluator {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{registry: registry, judge: judge, logger: logger}
}

// Partition splits questions into local indices and one batch per remote
// kind. Each batch keeps its members in original relative order. Every
// kind is resolved before anything is returned, so an unknown kind aborts
// the whole submission. A missing answer is submitted as an empty one.
func (e *Evaluator) Partition(questions []model.Question, answers map[int]model.Answer) (local []int, batches []Batch, err error) {
	byKind := make(map[model.Kind]*Batch)
	var order []model.Kind

	for i, q := range questions {
		strategy, err := e.registry.StrategyFor(q.Kind)
		if err != nil {
			return nil, nil, fmt.Errorf("question %d: %w", i, err)
		}
		if strategy == model.StrategyLocal {
			local = append(local, i)
			continue
		}
		b, ok := byKind[q.Kind]
		if !ok {
			b = &Batch{Kind: q.Kind}
			byKind[q.Kind] = b
			order = append(order, q.Kind)
		}
		b.Indices = append(b.Indices, i)
		b.Items = append(b.Items, JudgeItem{
			QuestionText:  q.Text,
			UserAnswer:    answers[i],
			CorrectAnswer: q.CorrectAnswer,
		})
	}

	for _, k := range order {
		batches = append(batches, *byKind[k])
	}
	return local, batches, nil
}

// Evaluate scores every question and aggregates the results. Remote batch
// failures are reported in Outcome.Failures, not as an error; the returned
// error is always fatal (unknown kind or incomplete aggregation).
func (e *Evaluator) Evaluate(ctx context.Context, questions []model.Question, answers map[int]model.Answer) (Outcome, error) {
	localIdx, batches, err := e.Partition(questions, answers)
	if err != nil {
		return Outcome{}, err
	}

	local := make(map[int]model.EvaluationResult, len(localIdx))
	for _, i := range localIdx {
		r, err := e.registry.ScoreLocal(questions[i], answers[i])
		if err != nil {
			return Outcome{}, fmt.Errorf("question %d: %w", i, err)
		}
		local[i] = r
	}

	// Each goroutine owns one slot, so no locking is needed. Failures are
	// carried in BatchResult; the group only provides the join.
	results := make([]BatchResult, len(batches))
	var g errgroup.Group
	for i, b := range batches {
		g.Go(func() error {
			start := time.Now()
			results[i] = VerifyBatch(ctx, e.judge, b)
			if f := results[i].Failure; f != nil {
				e.logger.Warn("remote batch failed",
					"kind", b.Kind, "questions", len(b.Items), "error", f.Err)
				return nil
			}
			e.logger.Debug("remote batch verified",
				"kind", b.Kind, "questions", len(b.Items), "elapsed", time.Since(start))
			return nil
		})
	}
	_ = g.Wait()

	outcome, err := Aggregate(len(questions), local, results)
	if err != nil {
		return Outcome{}, err
	}
	e.logger.Info("submission evaluated",
		"questions", len(questions),
		"local", len(localIdx),
		"remote_batches", len(batches),
		"score", outcome.Score,
		"failed_batches", len(outcome.Failures))
	return outcome, nil
}
