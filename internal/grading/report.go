package grading

import (
	"fmt"

	"github.com/pavelanni/assessor/internal/model"
)

// Report lays out an outcome question by question. Labels are left empty
// for the caller to localize.
func Report(questions []model.Question, answers map[int]model.Answer, outcome Outcome) model.ScoreReport {
	rep := model.ScoreReport{
		Score:      outcome.Score,
		Total:      len(questions),
		Unverified: outcome.Unverified(),
		Partial:    outcome.Partial(),
		Questions:  make([]model.QuestionReport, len(questions)),
	}
	for i, q := range questions {
		var r model.EvaluationResult
		if i < len(outcome.Results) {
			r = outcome.Results[i]
		}
		rep.Questions[i] = model.QuestionReport{
			Index:         i,
			Kind:          q.Kind,
			Text:          q.Text,
			Answer:        answers[i],
			CorrectAnswer: q.CorrectAnswer,
			Result:        r,
			Verdict:       r.Verdict(),
		}
	}
	for _, f := range outcome.Failures {
		rep.Warnings = append(rep.Warnings,
			fmt.Sprintf("%s: questions %v could not be verified: %v", f.Kind, f.Indices, f.Err))
	}
	return rep
}
