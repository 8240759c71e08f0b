package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Kind is the declared kind of a generated question.
type Kind string

const (
	KindMultipleChoice Kind = "multiple_choice"
	KindTrueFalse      Kind = "true_false"
	KindFillInBlank    Kind = "fill_in_blank"
	KindShortAnswer    Kind = "short_answer"
	KindLongAnswer     Kind = "long_answer"
)

// Kinds lists every known kind in dispatch order.
var Kinds = []Kind{
	KindMultipleChoice,
	KindTrueFalse,
	KindFillInBlank,
	KindShortAnswer,
	KindLongAnswer,
}

// kindAliases maps names used by older generator prompts to canonical kinds.
var kindAliases = map[string]Kind{
	"mcq": KindMultipleChoice,
}

// ParseKind resolves a kind name, accepting the legacy aliases.
// Unknown names are returned as-is so the caller can reject them where
// the decision belongs.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	if k, ok := kindAliases[s]; ok {
		return k
	}
	return Kind(s)
}

// Known reports whether k is one of the five supported kinds.
func (k Kind) Known() bool {
	return slices.Contains(Kinds, k)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}

// Strategy is how a question kind gets evaluated.
type Strategy string

const (
	// StrategyLocal is exact-match scoring in process.
	StrategyLocal Strategy = "local"
	// StrategyRemote delegates to a remote judge.
	StrategyRemote Strategy = "remote"
)

// Answer is a response to one question: a single value for most kinds, an
// ordered list of blanks for fill_in_blank. The same type carries the
// generator's reference answer.
type Answer struct {
	Text   string
	Blanks []string
	IsList bool
}

// Text returns a single-valued answer.
func Text(s string) Answer {
	return Answer{Text: s}
}

// Blanks returns a list-valued answer, one entry per blank.
func Blanks(values ...string) Answer {
	if values == nil {
		values = []string{}
	}
	return Answer{Blanks: values, IsList: true}
}

// Equal reports exact equality, including shape.
func (a Answer) Equal(b Answer) bool {
	if a.IsList != b.IsList {
		return false
	}
	if a.IsList {
		return slices.Equal(a.Blanks, b.Blanks)
	}
	return a.Text == b.Text
}

func (a Answer) String() string {
	if a.IsList {
		return strings.Join(a.Blanks, ", ")
	}
	return a.Text
}

// MarshalJSON encodes list answers as arrays and the rest as strings.
func (a Answer) MarshalJSON() ([]byte, error) {
	if a.IsList {
		return json.Marshal(a.Blanks)
	}
	return json.Marshal(a.Text)
}

// UnmarshalJSON accepts a string, an array of strings, or a bare scalar
// (booleans and numbers come back from some generators for true/false).
func (a *Answer) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*a = Answer{}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*a = Blanks(list...)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = Text(s)
		return nil
	}
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		if v {
			*a = Text("True")
		} else {
			*a = Text("False")
		}
	case float64:
		*a = Text(strings.TrimSpace(fmt.Sprint(v)))
	default:
		return fmt.Errorf("answer: unsupported JSON value %s", string(b))
	}
	return nil
}

// Question is a generated question. It is never mutated after generation.
type Question struct {
	Kind          Kind     `json:"type"`
	Text          string   `json:"text"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer Answer   `json:"correct_answer"`
}

var blankRun = regexp.MustCompile(`_+`)

// BlankCount returns the number of blank markers (runs of underscores) in text.
func BlankCount(text string) int {
	return len(blankRun.FindAllStringIndex(text, -1))
}

var (
	ErrUnknownKind       = errors.New("unknown question kind")
	ErrOptionsMismatch   = errors.New("correct answer is not one of the options")
	ErrEmptyQuestionText = errors.New("question text is empty")
)

// Normalized returns q with a fill_in_blank reference given as a single
// string turned into a one-blank list.
func (q Question) Normalized() Question {
	if q.Kind == KindFillInBlank && !q.CorrectAnswer.IsList {
		q.CorrectAnswer = Blanks(q.CorrectAnswer.Text)
	}
	return q
}

// Validate checks the generator's invariants.
func (q Question) Validate() error {
	if !q.Kind.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, q.Kind)
	}
	if strings.TrimSpace(q.Text) == "" {
		return ErrEmptyQuestionText
	}
	if q.Kind == KindMultipleChoice && !slices.Contains(q.Options, q.CorrectAnswer.Text) {
		return fmt.Errorf("%w: %q", ErrOptionsMismatch, q.CorrectAnswer.Text)
	}
	return nil
}

// EvaluationResult is the verdict for one question.
type EvaluationResult struct {
	IsCorrect        bool     `json:"is_correct"`
	VerifiedRemotely bool     `json:"verified_remotely"`
	Explanation      string   `json:"explanation,omitempty"`
	Source           Strategy `json:"source"`
	// Error is set when the question could not be evaluated at all; such a
	// result is neither correct nor incorrect.
	Error string `json:"error,omitempty"`
}

// IsError reports whether r is an evaluation error rather than a verdict.
func (r EvaluationResult) IsError() bool {
	return r.Error != ""
}

// Verdict is the display classification of a result.
type Verdict string

const (
	VerdictCorrect     Verdict = "correct"
	VerdictIncorrect   Verdict = "incorrect"
	VerdictNotVerified Verdict = "not_verified"
)

// Verdict classifies r for display. Remote results the judge did not vouch
// for are shown as not verified.
func (r EvaluationResult) Verdict() Verdict {
	switch {
	case r.IsError():
		return VerdictNotVerified
	case r.Source == StrategyRemote && !r.VerifiedRemotely:
		return VerdictNotVerified
	case r.IsCorrect:
		return VerdictCorrect
	default:
		return VerdictIncorrect
	}
}

// Assessment is a generated question set.
type Assessment struct {
	ID        int64      `json:"id"`
	Topic     string     `json:"topic"`
	Kind      Kind       `json:"assessment_type"`
	Questions []Question `json:"questions"`
}

// Document is uploaded source material used as generation context.
type Document struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Topic   string `json:"topic"`
	Chunks  int    `json:"chunks,omitempty"`
	Content string `json:"-"`
}

// Chunk is an overlapping slice of a document's text. Embedding is empty
// when no embedding model was available at upload time.
type Chunk struct {
	DocumentID int64
	Seq        int
	Text       string
	Embedding  []float32
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	Lang           string
	MaxQuestions   int // upper bound for a generation request
	UseDocuments   bool
	DocumentLimit  int // characters of document context passed to the generator
	DocumentChunks int // chunks retrieved per generation request
}
