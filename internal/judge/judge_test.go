package judge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/assessor/internal/grading"
	"github.com/pavelanni/assessor/internal/model"
)

func TestDecodeVerdicts(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []grading.JudgeVerdict
	}{
		{
			name: "results envelope",
			body: `{"results":[{"is_correct":true,"explanation":"ok","verified":true}]}`,
			want: []grading.JudgeVerdict{{IsCorrect: true, Explanation: "ok", Verified: true}},
		},
		{
			name: "bare array",
			body: `[{"is_correct":false,"verified":true},{"is_correct":true,"verified":true}]`,
			want: []grading.JudgeVerdict{{Verified: true}, {IsCorrect: true, Verified: true}},
		},
		{
			name: "missing verified is false",
			body: `{"results":[{"is_correct":true}]}`,
			want: []grading.JudgeVerdict{{IsCorrect: true}},
		},
		{
			name: "legacy verified_by_llm and score",
			body: `{"total_score":1,"results":[{"score":1,"verified_by_llm":true},{"score":0,"verified_by_llm":false}]}`,
			want: []grading.JudgeVerdict{{IsCorrect: true, Verified: true}, {}},
		},
		{
			name: "per-blank correctness",
			body: `{"results":[{"is_correct":[true,false],"explanation":"blank 2 wrong","verified":true},{"is_correct":[true,true],"verified":true}]}`,
			want: []grading.JudgeVerdict{
				{Explanation: "blank 2 wrong", Verified: true},
				{IsCorrect: true, Verified: true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeVerdicts([]byte(tt.body))
			if err != nil {
				t.Fatalf("decodeVerdicts: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d verdicts, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("verdict %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecodeVerdictsErrors(t *testing.T) {
	for _, body := range []string{``, `"nope"`, `{"foo":1}`, `{"results":[{"is_correct":"yes"}]}`} {
		if _, err := decodeVerdicts([]byte(body)); err == nil {
			t.Errorf("decodeVerdicts(%q) expected error", body)
		}
	}
	_, err := decodeVerdicts([]byte(`{"error":"Missing required fields"}`))
	if err == nil || err.Error() != "judge error: Missing required fields" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/score-short-answers/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Topic != "physics" {
			t.Errorf("topic = %q, want physics", req.Topic)
		}
		_, _ = w.Write([]byte(`{"results":[{"is_correct":true,"verified":true}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", WithRetries(2, time.Millisecond), WithTopic("physics"))
	got, err := c.Verify(context.Background(), model.KindShortAnswer, []grading.JudgeItem{{QuestionText: "Q", UserAnswer: model.Text("A")}})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(got) != 1 || !got[0].IsCorrect {
		t.Errorf("unexpected verdicts %+v", got)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"Missing required fields"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetries(3, time.Millisecond))
	if _, err := c.Verify(context.Background(), model.KindLongAnswer, []grading.JudgeItem{{QuestionText: "Q"}}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}

	if _, err := c.Verify(context.Background(), model.KindTrueFalse, nil); err == nil {
		t.Error("expected error for a local kind")
	}
}

type fakeGrader struct {
	err error
}

func (f fakeGrader) Grade(_ context.Context, kind model.Kind, _ string, items []grading.JudgeItem) ([]grading.JudgeVerdict, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]grading.JudgeVerdict, len(items))
	for i, it := range items {
		out[i] = grading.JudgeVerdict{
			IsCorrect:   it.UserAnswer.Equal(it.CorrectAnswer),
			Explanation: string(kind),
			Verified:    true,
		}
	}
	return out, nil
}

func newJudgeServer(t *testing.T, g Grader) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	NewServer(g, nil, 2).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestServerRoundTrip(t *testing.T) {
	srv := newJudgeServer(t, fakeGrader{})
	c := NewClient(srv.URL, WithRetries(0, 0))

	items := []grading.JudgeItem{
		{QuestionText: "The ___ orbits the ___.", UserAnswer: model.Blanks("Moon", "Earth"), CorrectAnswer: model.Blanks("Moon", "Earth")},
		{QuestionText: "The ___ orbits the ___.", UserAnswer: model.Blanks("Sun", "Earth"), CorrectAnswer: model.Blanks("Moon", "Earth")},
	}
	got, err := c.Verify(context.Background(), model.KindFillInBlank, items)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !got[0].IsCorrect || got[1].IsCorrect {
		t.Errorf("unexpected verdicts %+v", got)
	}
	if got[0].Explanation != string(model.KindFillInBlank) {
		t.Errorf("request routed to wrong kind: %q", got[0].Explanation)
	}

	// Over the batch cap.
	if _, err := c.Verify(context.Background(), model.KindFillInBlank, append(items, items[0])); err == nil {
		t.Error("expected error for oversized batch")
	}
}

func TestServerGraderFailure(t *testing.T) {
	srv := newJudgeServer(t, fakeGrader{err: errors.New("model unavailable")})
	c := NewClient(srv.URL, WithRetries(0, 0))
	if _, err := c.Verify(context.Background(), model.KindShortAnswer, []grading.JudgeItem{{QuestionText: "Q"}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestEvaluatorOverHTTP(t *testing.T) {
	srv := newJudgeServer(t, fakeGrader{})
	eval := grading.NewEvaluator(nil, NewClient(srv.URL), nil)

	questions := []model.Question{
		{Kind: model.KindMultipleChoice, Text: "Capital?", Options: []string{"Paris", "Rome"}, CorrectAnswer: model.Text("Paris")},
		{Kind: model.KindShortAnswer, Text: "Define inertia.", CorrectAnswer: model.Text("resistance")},
		{Kind: model.KindLongAnswer, Text: "Explain gravity.", CorrectAnswer: model.Text("mass attracts mass")},
	}
	answers := map[int]model.Answer{0: model.Text("Paris"), 1: model.Text("resistance"), 2: model.Text("magic")}

	out, err := eval.Evaluate(context.Background(), questions, answers)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Score != 2 {
		t.Errorf("score = %d, want 2", out.Score)
	}
	if !out.Results[1].VerifiedRemotely || out.Results[0].VerifiedRemotely {
		t.Errorf("unexpected verification flags %+v", out.Results)
	}
}

type topicGrader struct{ got string }

func (g *topicGrader) Grade(_ context.Context, _ model.Kind, topic string, items []grading.JudgeItem) ([]grading.JudgeVerdict, error) {
	g.got = topic
	return make([]grading.JudgeVerdict, len(items)), nil
}

func TestDirectTopicFromContext(t *testing.T) {
	g := &topicGrader{}
	d := Direct{Grader: g, Topic: "default"}

	if _, err := d.Verify(context.Background(), model.KindShortAnswer, []grading.JudgeItem{{}}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if g.got != "default" {
		t.Errorf("topic = %q, want default", g.got)
	}

	ctx := grading.WithTopic(context.Background(), "biology")
	if _, err := d.Verify(ctx, model.KindShortAnswer, []grading.JudgeItem{{}}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if g.got != "biology" {
		t.Errorf("topic = %q, want biology", g.got)
	}
}
