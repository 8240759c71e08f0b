package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/assessor/internal/grading"
	"github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/llm"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/session"
	"github.com/pavelanni/assessor/internal/store"
)

var errNoGenerator = errors.New("no question generator configured")

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	gen      llm.Generator
	embedder llm.Embedder
	attempts *session.Manager
	registry grading.Registry
	validate *validator.Validate
	config   model.ServerConfig
}

// New creates a new Handler. gen may be nil, in which case generation
// requests fail and attempts can only be started from stored assessments.
// A nil embedder ranks document chunks by topic words.
func New(s *store.Store, gen llm.Generator, embedder llm.Embedder, attempts *session.Manager, registry grading.Registry, cfg model.ServerConfig) (*Handler, error) {
	if registry == nil {
		registry = grading.DefaultRegistry()
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	if cfg.MaxQuestions <= 0 {
		cfg.MaxQuestions = 20
	}
	if cfg.DocumentChunks <= 0 {
		cfg.DocumentChunks = 3
	}
	return &Handler{
		store:    s,
		gen:      gen,
		embedder: embedder,
		attempts: attempts,
		registry: registry,
		validate: newValidator(),
		config:   cfg,
	}, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("question_kind", func(fl validator.FieldLevel) bool {
		return model.ParseKind(fl.Field().String()).Known()
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Routes registers all HTTP routes. Responses are localized for the
// request's Accept-Language, falling back to the configured language.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(i18n.Middleware(h.config.Lang))

		r.Get("/documents", h.handleListDocuments)
		r.Post("/documents", h.handleUploadDocument)
		r.Get("/assessments", h.handleListAssessments)
		r.Post("/assessments", h.handleGenerate)
		r.Get("/assessments/{id}", h.handleGetAssessment)
		r.Post("/attempts", h.handleStartAttempt)
		r.Get("/attempts/{id}", h.handleGetAttempt)
		r.Delete("/attempts/{id}", h.handleDeleteAttempt)
		r.Put("/attempts/{id}/answers/{index}", h.handleAnswer)
		r.Post("/attempts/{id}/submit", h.handleSubmit)
		r.Post("/attempts/{id}/reattempt", h.handleReattempt)
	})
}

type generateRequest struct {
	Topic        string `json:"topic" validate:"required,max=200"`
	Kind         string `json:"assessment_type" validate:"required,question_kind"`
	Count        int    `json:"count" validate:"min=1,max=20"`
	UseDocuments *bool  `json:"use_documents,omitempty"`
}

type startRequest struct {
	AssessmentID int64            `json:"assessment_id" validate:"required_without=Questions"`
	Topic        string           `json:"topic" validate:"max=200"`
	Questions    []model.Question `json:"questions" validate:"max=50"`
}

type answerRequest struct {
	Answer model.Answer `json:"answer"`
}

type questionView struct {
	Index   int        `json:"index"`
	Kind    model.Kind `json:"type"`
	Text    string     `json:"text"`
	Options []string   `json:"options,omitempty"`
	Blanks  int        `json:"blanks,omitempty"`
}

type attemptView struct {
	ID         string               `json:"id"`
	Topic      string               `json:"topic"`
	Phase      session.Phase        `json:"phase"`
	Generation uint64               `json:"generation"`
	Questions  []questionView       `json:"questions"`
	Answers    map[int]model.Answer `json:"answers"`
	Report     *model.ScoreReport   `json:"report,omitempty"`
	Summary    string               `json:"summary,omitempty"`
	Message    string               `json:"message,omitempty"`
	Unverified string               `json:"unverified,omitempty"`
	LastError  string               `json:"last_error,omitempty"`
	Retryable  bool                 `json:"retryable,omitempty"`
}

func (h *Handler) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListAssessments()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if h.gen == nil {
		writeError(w, r, http.StatusServiceUnavailable, "ErrGenerationFailed", errNoGenerator)
		return
	}
	kind := model.ParseKind(req.Kind)
	count := min(req.Count, h.config.MaxQuestions)

	useDocs := h.config.UseDocuments
	if req.UseDocuments != nil {
		useDocs = *req.UseDocuments
	}
	var docContext string
	if useDocs {
		var err error
		docContext, err = h.documentContext(r.Context(), req.Topic)
		if err != nil {
			h.fail(w, r, err)
			return
		}
	}

	questions, err := h.gen.Generate(r.Context(), llm.GenerateRequest{
		Topic:    req.Topic,
		Kind:     kind,
		Count:    count,
		Document: docContext,
	})
	if err != nil {
		slog.Error("generation failed", "topic", req.Topic, "kind", kind, "error", err)
		writeError(w, r, http.StatusBadGateway, "ErrGenerationFailed", err)
		return
	}
	if len(questions) > count {
		questions = questions[:count]
	}

	a := model.Assessment{Topic: req.Topic, Kind: kind, Questions: questions}
	a.ID, err = h.store.InsertAssessment(a)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slog.Info("assessment generated", "id", a.ID, "topic", a.Topic, "kind", kind, "questions", len(questions))
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", fmt.Errorf("invalid assessment ID: %w", err))
		return
	}
	a, err := h.store.GetAssessment(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}

	topic, questions := req.Topic, req.Questions
	if req.AssessmentID != 0 {
		a, err := h.store.GetAssessment(req.AssessmentID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		topic, questions = a.Topic, a.Questions
	}
	if len(questions) == 0 {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", errors.New("assessment has no questions"))
		return
	}
	questions, err := h.checkQuestions(questions)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	a := h.attempts.Start(topic, questions)
	slog.Info("attempt started", "attempt_id", a.ID.String(), "topic", topic, "questions", len(questions))
	writeJSON(w, http.StatusCreated, h.view(r.Context(), a))
}

// checkQuestions rejects kinds the registry cannot grade and malformed
// questions. It returns a copy with fill_in_blank references normalized.
func (h *Handler) checkQuestions(questions []model.Question) ([]model.Question, error) {
	if err := h.registry.Check(questions); err != nil {
		return nil, err
	}
	out := make([]model.Question, len(questions))
	for i, q := range questions {
		q = q.Normalized()
		// Kinds outside the built-in set are the registry's business.
		if err := q.Validate(); err != nil && !errors.Is(err, model.ErrUnknownKind) {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		out[i] = q
	}
	return out, nil
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	a, ok := h.attempt(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(r.Context(), a))
}

func (h *Handler) handleDeleteAttempt(w http.ResponseWriter, r *http.Request) {
	a, ok := h.attempt(w, r)
	if !ok {
		return
	}
	h.attempts.Remove(a.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	a, ok := h.attempt(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", fmt.Errorf("invalid question index: %w", err))
		return
	}
	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := a.SetAnswer(index, req.Answer); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(r.Context(), a))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	a, ok := h.attempt(w, r)
	if !ok {
		return
	}
	if _, err := a.Submit(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.view(r.Context(), a))
}

func (h *Handler) handleReattempt(w http.ResponseWriter, r *http.Request) {
	a, ok := h.attempt(w, r)
	if !ok {
		return
	}
	a.Reattempt()
	writeJSON(w, http.StatusOK, h.view(r.Context(), a))
}

func (h *Handler) attempt(w http.ResponseWriter, r *http.Request) (*session.Attempt, bool) {
	a, err := h.attempts.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return a, true
}

// view renders the attempt for the client. Reference answers stay hidden
// until results are shown.
func (h *Handler) view(ctx context.Context, a *session.Attempt) attemptView {
	st := a.State()
	v := attemptView{
		ID:         a.ID.String(),
		Topic:      a.Topic,
		Phase:      st.Phase,
		Generation: st.Generation,
		Answers:    st.Answers,
		LastError:  st.LastError,
		Retryable:  st.Retryable,
	}
	for i, q := range st.Questions {
		qv := questionView{Index: i, Kind: q.Kind, Text: q.Text, Options: q.Options}
		if q.Kind == model.KindFillInBlank {
			qv.Blanks = model.BlankCount(q.Text)
		}
		v.Questions = append(v.Questions, qv)
	}

	switch st.Phase {
	case session.PhaseScoring:
		v.Message = i18n.T(ctx, "ScoringInProgress")
	case session.PhaseShowingResults:
		rep := grading.Report(st.Questions, st.Answers, grading.Outcome{
			Results:  st.Results,
			Score:    st.Score,
			Failures: st.Failures,
		})
		for i := range rep.Questions {
			rep.Questions[i].Label = i18n.Verdict(ctx, rep.Questions[i].Verdict)
		}
		v.Report = &rep
		v.Summary = i18n.Td(ctx, "ScoreSummary", map[string]any{"Score": rep.Score, "Total": rep.Total})
		if rep.Partial {
			v.Message = i18n.T(ctx, "PartialResults")
			var n int
			for _, f := range st.Failures {
				n += len(f.Indices)
			}
			v.Unverified = i18n.Tp(ctx, "BatchFailed", n)
		}
	}
	return v
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", err)
		return false
	}
	return true
}

// fail maps domain errors to HTTP status codes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrAttemptNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "ErrNotFound", err)
	case errors.Is(err, session.ErrMissingAnswer):
		writeError(w, r, http.StatusConflict, "ErrMissingAnswer", err)
	case errors.Is(err, session.ErrWrongPhase):
		writeError(w, r, http.StatusConflict, "ErrWrongPhase", err)
	case errors.Is(err, grading.ErrUnknownQuestionKind), errors.Is(err, model.ErrUnknownKind):
		writeError(w, r, http.StatusUnprocessableEntity, "ErrUnknownKind", err)
	case errors.Is(err, model.ErrOptionsMismatch), errors.Is(err, model.ErrEmptyQuestionText):
		writeError(w, r, http.StatusUnprocessableEntity, "ErrInvalidQuestion", err)
	case errors.Is(err, session.ErrIndexOutOfRange):
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", err)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", err)
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string, err error) {
	body := errorBody{Error: i18n.T(r.Context(), msgID)}
	if err != nil && status < http.StatusInternalServerError {
		body.Detail = err.Error()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
