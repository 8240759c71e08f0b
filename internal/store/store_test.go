package store

import (
	"errors"
	"strings"
	"testing"

	"github.com/pavelanni/assessor/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAssessmentRoundTrip(t *testing.T) {
	s := newTestStore(t)

	a := model.Assessment{
		Topic: "astronomy",
		Kind:  model.KindFillInBlank,
		Questions: []model.Question{
			{Kind: model.KindFillInBlank, Text: "The ___ orbits the ___.", CorrectAnswer: model.Blanks("Moon", "Earth")},
			{Kind: model.KindFillInBlank, Text: "The ___ is a star.", CorrectAnswer: model.Blanks("Sun")},
		},
	}
	id, err := s.InsertAssessment(a)
	if err != nil {
		t.Fatalf("InsertAssessment: %v", err)
	}

	got, err := s.GetAssessment(id)
	if err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if got.ID != id || got.Topic != "astronomy" || got.Kind != model.KindFillInBlank {
		t.Errorf("unexpected assessment header %+v", got)
	}
	if len(got.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(got.Questions))
	}
	if !got.Questions[0].CorrectAnswer.Equal(model.Blanks("Moon", "Earth")) {
		t.Errorf("list answer lost its shape: %+v", got.Questions[0].CorrectAnswer)
	}

	list, err := s.ListAssessments()
	if err != nil {
		t.Fatalf("ListAssessments: %v", err)
	}
	if len(list) != 1 || list[0].Questions != nil {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestGetAssessmentNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetAssessment(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDocumentContext(t *testing.T) {
	s := newTestStore(t)

	docs := []model.Document{
		{Name: "general.txt", Content: "Science uses evidence."},
		{Name: "orbits.txt", Topic: "astronomy", Content: "The Moon orbits the Earth."},
		{Name: "cells.txt", Topic: "biology", Content: "Cells divide."},
	}
	for _, d := range docs {
		if _, err := s.InsertDocument(d); err != nil {
			t.Fatalf("InsertDocument: %v", err)
		}
	}

	list, err := s.ListDocuments()
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(list) != 3 || list[0].Content != "" || list[0].Chunks != 1 {
		t.Errorf("unexpected document list %+v", list)
	}

	tests := []struct {
		name  string
		topic string
		limit int
		want  string
	}{
		{"topic plus untagged", "astronomy", 0, "Science uses evidence.\n\nThe Moon orbits the Earth."},
		{"unknown topic gets untagged only", "chemistry", 0, "Science uses evidence."},
		{"cut to limit", "biology", 7, "Science"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.DocumentContext(tt.topic, nil, 0, tt.limit)
			if err != nil {
				t.Fatalf("DocumentContext: %v", err)
			}
			if got != tt.want {
				t.Errorf("DocumentContext(%q, %d) = %q, want %q", tt.topic, tt.limit, got, tt.want)
			}
		})
	}
}

func TestSplitText(t *testing.T) {
	text := strings.Repeat("word ", 600)
	chunks := SplitText(text, ChunkSize, ChunkOverlap)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c)); n > ChunkSize {
			t.Errorf("chunk %d has %d runes", i, n)
		}
		if strings.HasPrefix(c, "ord") {
			t.Errorf("chunk %d starts mid-word: %q", i, c[:10])
		}
	}
	tail := chunks[0][len(chunks[0])-ChunkOverlap/2:]
	if !strings.Contains(chunks[1], tail) {
		t.Errorf("consecutive chunks do not overlap")
	}

	if got := SplitText("  ", 10, 2); got != nil {
		t.Errorf("blank text gave %q", got)
	}
	if got := SplitText("short", 10, 2); len(got) != 1 || got[0] != "short" {
		t.Errorf("short text gave %q", got)
	}
	if got := SplitText("abcdefghij", 4, 9); strings.Join(got, "") != "abcdefghij" {
		t.Errorf("overlap not below size should be ignored, got %q", got)
	}
}

func TestRelevantChunks(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertDocumentChunks(model.Document{Name: "notes.txt", Topic: "light"}, []model.Chunk{
		{Seq: 0, Text: "History of the laboratory.", Embedding: []float32{0, 1}},
		{Seq: 1, Text: "Lenses bend light.", Embedding: []float32{1, 0}},
		{Seq: 2, Text: "Light travels in straight lines; light reflects.", Embedding: []float32{0.7, 0.7}},
	})
	if err != nil {
		t.Fatalf("InsertDocumentChunks: %v", err)
	}
	if _, err := s.InsertDocument(model.Document{Name: "other.txt", Topic: "biology", Content: "Light drives photosynthesis."}); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}

	tests := []struct {
		name  string
		query []float32
		k     int
		want  []string
	}{
		{"by embedding", []float32{1, 0}, 2, []string{"Lenses bend light.", "Light travels in straight lines; light reflects."}},
		{"by topic words", nil, 2, []string{"Light travels in straight lines; light reflects.", "Lenses bend light."}},
		{"mismatched dimensions fall back to words", []float32{1, 0, 0}, 1, []string{"Light travels in straight lines; light reflects."}},
		{"all in order", nil, 0, []string{"History of the laboratory.", "Lenses bend light.", "Light travels in straight lines; light reflects."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.RelevantChunks("light", tt.query, tt.k)
			if err != nil {
				t.Fatalf("RelevantChunks: %v", err)
			}
			var texts []string
			for _, c := range got {
				texts = append(texts, c.Text)
			}
			if strings.Join(texts, "|") != strings.Join(tt.want, "|") {
				t.Errorf("got %q, want %q", texts, tt.want)
			}
		})
	}
}
