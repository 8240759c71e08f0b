package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/assessor/internal/grading"
	"github.com/pavelanni/assessor/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

var (
	loadOnce      sync.Once
	loadErr       error
	judgeTemplate *template.Template
	genTemplate   *template.Template
)

var kindLabels = map[model.Kind]string{
	model.KindMultipleChoice: "multiple choice",
	model.KindTrueFalse:      "true/false",
	model.KindFillInBlank:    "fill-in-the-blank",
	model.KindShortAnswer:    "short answer",
	model.KindLongAnswer:     "long answer",
}

// Per-kind grading guidance for the judge.
var judgeGuidance = map[model.Kind]string{
	model.KindFillInBlank: "Each answer lists one value per blank, in order. The answer is correct only if every blank " +
		"matches the reference in meaning; minor spelling differences are acceptable. Name the wrong blanks in the explanation.",
	model.KindShortAnswer: "Accept answers that convey the key idea of the reference answer even if worded differently.",
	model.KindLongAnswer: "Judge whether the answer covers the main points of the reference answer with no serious factual " +
		"errors. Completeness matters more than style.",
}

// Per-kind output shape for the generator, matching model.Question.
var generateShape = map[model.Kind]string{
	model.KindMultipleChoice: `Each question has a "text" field, an "options" array with 4 choices, and a "correct_answer" that is exactly one of the options.`,
	model.KindTrueFalse:      `Each question has a "text" field and a "correct_answer" field with "True" or "False".`,
	model.KindFillInBlank:    `Each question has a "text" field using "_____" for every blank and a "correct_answer" array with one entry per blank, in order.`,
	model.KindShortAnswer:    `Each question has a "text" field and a "correct_answer" field with a brief answer.`,
	model.KindLongAnswer:     `Each question has a "text" field and a "correct_answer" field with a detailed answer.`,
}

// Load parses the embedded templates. It runs once.
func Load() error {
	loadOnce.Do(func() {
		judgeTemplate, loadErr = template.ParseFS(templateFS, "templates/judge.tmpl")
		if loadErr != nil {
			loadErr = fmt.Errorf("parse judge template: %w", loadErr)
			return
		}
		genTemplate, loadErr = template.ParseFS(templateFS, "templates/generate.tmpl")
		if loadErr != nil {
			loadErr = fmt.Errorf("parse generate template: %w", loadErr)
		}
	})
	return loadErr
}

// JudgeItem is one item as rendered in a judge prompt.
type JudgeItem struct {
	Question  string
	Reference string
	Answer    string
}

// JudgeData holds template data for judge prompts.
type JudgeData struct {
	Topic     string
	KindLabel string
	Guidance  string
	Items     []JudgeItem
}

// GenerateData holds template data for generation prompts.
type GenerateData struct {
	Topic     string
	KindLabel string
	Count     int
	Context   string
	Shape     string
}

// KindLabel returns the human-readable name of a kind.
func KindLabel(k model.Kind) string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return string(k)
}

// BuildJudgePrompt renders the grading prompt for one batch.
func BuildJudgePrompt(kind model.Kind, topic string, items []grading.JudgeItem) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}
	guidance, ok := judgeGuidance[kind]
	if !ok {
		return "", fmt.Errorf("no judge guidance for kind %q", kind)
	}

	data := JudgeData{
		Topic:     strings.TrimSpace(topic),
		KindLabel: KindLabel(kind),
		Guidance:  guidance,
	}
	for _, it := range items {
		data.Items = append(data.Items, JudgeItem{
			Question:  it.QuestionText,
			Reference: formatAnswer(it.CorrectAnswer),
			Answer:    sanitizeAnswer(formatAnswer(it.UserAnswer)),
		})
	}

	var buf bytes.Buffer
	if err := judgeTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildGeneratePrompt renders the question generation prompt.
func BuildGeneratePrompt(kind model.Kind, topic string, count int, context string) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}
	shape, ok := generateShape[kind]
	if !ok {
		return "", errors.New("invalid question kind: " + string(kind))
	}

	data := GenerateData{
		Topic:     topic,
		KindLabel: KindLabel(kind),
		Count:     count,
		Context:   strings.TrimSpace(context),
		Shape:     shape,
	}

	var buf bytes.Buffer
	if err := genTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatAnswer(a model.Answer) string {
	if !a.IsList {
		return a.Text
	}
	parts := make([]string, len(a.Blanks))
	for i, b := range a.Blanks {
		if strings.TrimSpace(b) == "" {
			b = "(blank)"
		}
		parts[i] = fmt.Sprintf("[%d] %s", i+1, b)
	}
	return strings.Join(parts, "; ")
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
