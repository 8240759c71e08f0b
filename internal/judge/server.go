package judge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/assessor/internal/grading"
	"github.com/pavelanni/assessor/internal/model"
)

// Grader judges subjective answers, typically by asking an LLM.
type Grader interface {
	Grade(ctx context.Context, kind model.Kind, topic string, items []grading.JudgeItem) ([]grading.JudgeVerdict, error)
}

// Direct adapts a Grader to grading.Judge so the evaluator can call it
// in-process instead of over HTTP. Topic is used when ctx carries none.
type Direct struct {
	Grader Grader
	Topic  string
}

// Verify implements grading.Judge.
func (d Direct) Verify(ctx context.Context, kind model.Kind, items []grading.JudgeItem) ([]grading.JudgeVerdict, error) {
	return d.Grader.Grade(ctx, kind, grading.TopicFrom(ctx, d.Topic), items)
}

// Server exposes one endpoint per remote kind, each backed by a Grader.
type Server struct {
	grader   Grader
	registry grading.Registry
	maxBatch int
}

// NewServer creates a judge server. maxBatch caps the items accepted in
// one request; zero means no cap.
func NewServer(g Grader, registry grading.Registry, maxBatch int) *Server {
	if registry == nil {
		registry = grading.DefaultRegistry()
	}
	return &Server{grader: g, registry: registry, maxBatch: maxBatch}
}

// Routes registers the judge endpoints.
func (s *Server) Routes(r chi.Router) {
	for _, kind := range s.registry.RemoteKinds() {
		endpoint, _ := s.registry.Endpoint(kind)
		r.Post("/"+endpoint, s.handleScore(kind))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *Server) handleScore(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if len(req.Answers) == 0 {
			writeError(w, http.StatusBadRequest, "Missing required fields")
			return
		}
		if s.maxBatch > 0 && len(req.Answers) > s.maxBatch {
			writeError(w, http.StatusRequestEntityTooLarge, "too many answers in one batch")
			return
		}

		verdicts, err := s.grader.Grade(r.Context(), kind, req.Topic, req.Answers)
		if err != nil {
			slog.Error("grading failed", "kind", kind, "answers", len(req.Answers), "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, Response{Results: verdicts})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
