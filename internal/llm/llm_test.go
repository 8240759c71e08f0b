package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/assessor/internal/grading"
	"github.com/pavelanni/assessor/internal/model"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n[1]\n```", `[1]`},
		{"  {\"a\":1}  \n", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripCodeFences(tt.in); got != tt.want {
			t.Errorf("stripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseQuestions(t *testing.T) {
	t.Run("object envelope", func(t *testing.T) {
		raw := "```json\n" + `{"questions":[
			{"text":"Capital of France?","options":["Paris","Rome","Oslo","Bern"],"correct_answer":"Paris"},
			{"text":"Capital of Italy?","options":["Paris","Rome"],"correct_answer":"Milan"}
		]}` + "\n```"
		got, err := parseQuestions(raw, model.KindMultipleChoice)
		if err != nil {
			t.Fatalf("parseQuestions: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d questions, want 1 (answer outside options dropped)", len(got))
		}
		if got[0].Kind != model.KindMultipleChoice {
			t.Errorf("kind = %q", got[0].Kind)
		}
	})

	t.Run("bare array with boolean answers", func(t *testing.T) {
		got, err := parseQuestions(`[{"text":"Water is wet.","correct_answer":true}]`, model.KindTrueFalse)
		if err != nil {
			t.Fatalf("parseQuestions: %v", err)
		}
		if got[0].CorrectAnswer.Text != "True" {
			t.Errorf("correct answer = %q, want True", got[0].CorrectAnswer.Text)
		}
	})

	t.Run("fill in blank single answer becomes list", func(t *testing.T) {
		got, err := parseQuestions(`{"questions":[{"text":"The ___ is hot.","correct_answer":"Sun"}]}`, model.KindFillInBlank)
		if err != nil {
			t.Fatalf("parseQuestions: %v", err)
		}
		if !got[0].CorrectAnswer.Equal(model.Blanks("Sun")) {
			t.Errorf("correct answer = %+v", got[0].CorrectAnswer)
		}
	})

	t.Run("nothing usable", func(t *testing.T) {
		if _, err := parseQuestions(`{"questions":[{"text":""}]}`, model.KindShortAnswer); err != ErrNoQuestions {
			t.Errorf("err = %v, want ErrNoQuestions", err)
		}
		if _, err := parseQuestions(`not json`, model.KindShortAnswer); err == nil {
			t.Error("expected error for malformed output")
		}
	})
}

func TestParseVerdicts(t *testing.T) {
	got, err := parseVerdicts(`{"results":[{"is_correct":true,"explanation":" fine "},{"is_correct":false}]}`, 2)
	if err != nil {
		t.Fatalf("parseVerdicts: %v", err)
	}
	want := []grading.JudgeVerdict{
		{IsCorrect: true, Explanation: "fine", Verified: true},
		{Verified: true},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("verdict %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if _, err := parseVerdicts(`{"results":[{"is_correct":true}]}`, 2); err == nil {
		t.Error("expected error on count mismatch")
	}
}

// fakeChat serves a canned chat completion and records the prompt it saw.
func fakeChat(t *testing.T, content string, seen *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) > 0 && seen != nil {
			*seen = req.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientGrade(t *testing.T) {
	var prompt string
	srv := fakeChat(t, `{"results":[{"is_correct":true,"explanation":"matches"}]}`, &prompt)
	c, err := New(srv.URL+"/v1", "test", "test-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	items := []grading.JudgeItem{{QuestionText: "Define inertia.", UserAnswer: model.Text("resistance"), CorrectAnswer: model.Text("resistance to change")}}
	got, err := c.Grade(context.Background(), model.KindShortAnswer, "physics", items)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if len(got) != 1 || !got[0].IsCorrect || !got[0].Verified {
		t.Errorf("unexpected verdicts %+v", got)
	}
	for _, s := range []string{"physics", "Define inertia.", "resistance to change"} {
		if !strings.Contains(prompt, s) {
			t.Errorf("prompt missing %q", s)
		}
	}
}

func TestClientGenerate(t *testing.T) {
	var prompt string
	srv := fakeChat(t, `{"questions":[{"text":"Define mass.","correct_answer":"amount of matter"}]}`, &prompt)
	c, err := New(srv.URL+"/v1", "test", "test-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := c.Generate(context.Background(), GenerateRequest{Topic: "physics", Kind: model.KindShortAnswer, Count: 1, Document: "Mass is the amount of matter."})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(got) != 1 || got[0].Kind != model.KindShortAnswer {
		t.Errorf("unexpected questions %+v", got)
	}
	if !strings.Contains(prompt, "Mass is the amount of matter.") {
		t.Error("prompt should carry the document context")
	}
}

func TestClientEmbed(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel = req.Model
		// Out of order on purpose: vectors are placed by index.
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = map[string]any{"object": "embedding", "index": j, "embedding": []float32{float32(j), 1}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/v1", "test", "test-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.SetEmbeddingModel("nomic-embed-text")

	got, err := c.Embed(context.Background(), []string{"first", "second", "third"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotModel != "nomic-embed-text" {
		t.Errorf("model = %q", gotModel)
	}
	for i, v := range got {
		if len(v) != 2 || v[0] != float32(i) {
			t.Errorf("vector %d = %v", i, v)
		}
	}

	if got, err := c.Embed(context.Background(), nil); err != nil || got != nil {
		t.Errorf("empty input gave %v, %v", got, err)
	}
}
