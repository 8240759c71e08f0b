package grading

import (
	"fmt"
	"maps"

	"github.com/pavelanni/assessor/internal/model"
)

// Route says how one question kind is evaluated. Endpoint is the judge
// path for remote kinds and empty for local ones.
type Route struct {
	Strategy model.Strategy
	Endpoint string
}

// Registry maps question kinds to their evaluation route. Adding a kind is
// a matter of adding an entry.
type Registry map[model.Kind]Route

var defaultRoutes = Registry{
	model.KindMultipleChoice: {Strategy: model.StrategyLocal},
	model.KindTrueFalse:      {Strategy: model.StrategyLocal},
	model.KindFillInBlank:    {Strategy: model.StrategyRemote, Endpoint: "score-fill-in-the-blanks/"},
	model.KindShortAnswer:    {Strategy: model.StrategyRemote, Endpoint: "score-short-answers/"},
	model.KindLongAnswer:     {Strategy: model.StrategyRemote, Endpoint: "score-long-answers/"},
}

// DefaultRegistry returns a copy of the built-in routes.
func DefaultRegistry() Registry {
	return maps.Clone(defaultRoutes)
}

// Route returns the route for kind.
func (r Registry) Route(kind model.Kind) (Route, error) {
	route, ok := r[kind]
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownQuestionKind, kind)
	}
	return route, nil
}

// StrategyFor returns the evaluation strategy for kind.
func (r Registry) StrategyFor(kind model.Kind) (model.Strategy, error) {
	route, err := r.Route(kind)
	if err != nil {
		return "", err
	}
	return route.Strategy, nil
}

// Endpoint returns the judge path for a remote kind.
func (r Registry) Endpoint(kind model.Kind) (string, error) {
	route, err := r.Route(kind)
	if err != nil {
		return "", err
	}
	if route.Strategy != model.StrategyRemote {
		return "", fmt.Errorf("kind %q has no remote endpoint", kind)
	}
	return route.Endpoint, nil
}

// RemoteKinds returns the remote kinds in model.Kinds order, followed by
// any extra kinds registered on r.
func (r Registry) RemoteKinds() []model.Kind {
	var kinds []model.Kind
	seen := make(map[model.Kind]bool)
	for _, k := range model.Kinds {
		if route, ok := r[k]; ok && route.Strategy == model.StrategyRemote {
			kinds = append(kinds, k)
		}
		seen[k] = true
	}
	for k, route := range r {
		if !seen[k] && route.Strategy == model.StrategyRemote {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Check resolves the kind of every question and returns the first failure.
func (r Registry) Check(questions []model.Question) error {
	for i, q := range questions {
		if _, err := r.Route(q.Kind); err != nil {
			return fmt.Errorf("question %d: %w", i, err)
		}
	}
	return nil
}
