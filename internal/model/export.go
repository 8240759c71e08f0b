package model

// ScoreInput is the file format read by the offline score command.
// Answers are positional: Answers[i] answers Questions[i].
type ScoreInput struct {
	Topic     string     `json:"topic"`
	Questions []Question `json:"questions"`
	Answers   []Answer   `json:"answers"`
}

// ScoreReport is the JSON structure written by the score command and
// returned by the attempt API once results are available.
type ScoreReport struct {
	Score      int              `json:"score"`
	Total      int              `json:"total"`
	Unverified int              `json:"unverified"`
	Partial    bool             `json:"partial"`
	Questions  []QuestionReport `json:"questions"`
	Warnings   []string         `json:"warnings,omitempty"`
}

// QuestionReport holds per-question data for a report.
type QuestionReport struct {
	Index         int              `json:"index"`
	Kind          Kind             `json:"type"`
	Text          string           `json:"text"`
	Answer        Answer           `json:"user_answer"`
	CorrectAnswer Answer           `json:"correct_answer"`
	Result        EvaluationResult `json:"result"`
	Verdict       Verdict          `json:"verdict"`
	Label         string           `json:"label,omitempty"`
}
