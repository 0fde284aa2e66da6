package quiz

import (
	"fmt"
	"strings"
	"time"
)

// Variant selects how a session draws its questions.
type Variant string

const (
	VariantStandard Variant = "standard"
	VariantTrial    Variant = "trial"
	VariantCustom   Variant = "custom"
)

func (v Variant) Valid() bool {
	switch v {
	case VariantStandard, VariantTrial, VariantCustom:
		return true
	}
	return false
}

// Dataset is the question collection a variant draws from.
type Dataset string

const (
	DatasetStandard Dataset = "standard"
	DatasetTrial    Dataset = "trial"
)

// Dataset returns the question collection backing the variant.
func (v Variant) Dataset() Dataset {
	if v == VariantTrial {
		return DatasetTrial
	}
	return DatasetStandard
}

type Certification struct {
	ID                 string `json:"id" yaml:"id"`
	Name               string `json:"name" yaml:"name"`
	DurationMinutes    int    `json:"duration_minutes" yaml:"duration_minutes"`
	QuestionCount      int    `json:"question_count" yaml:"question_count"`
	TrialQuestionCount int    `json:"trial_question_count" yaml:"trial_question_count"`
}

// Duration is the countdown length of a session; zero means untimed.
func (c Certification) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

type Question struct {
	ID              string   `json:"id" yaml:"id"`
	CertificationID string   `json:"certification_id" yaml:"-"`
	Dataset         Dataset  `json:"dataset,omitempty" yaml:"dataset"`
	Text            string   `json:"text" yaml:"text"`
	Options         []string `json:"options" yaml:"options"`
	CorrectAnswers  []string `json:"correct_answers,omitempty" yaml:"correct_answers"`
	Explanation     string   `json:"explanation,omitempty" yaml:"explanation"`
	SubTopic        string   `json:"sub_topic,omitempty" yaml:"sub_topic"`
	Active          bool     `json:"active" yaml:"-"`
}

// Public strips the answer key and explanation for in-progress delivery.
func (q Question) Public() Question {
	q.CorrectAnswers = nil
	q.Explanation = ""
	return q
}

// Letters returns the letter label of every option, in option order.
func (q Question) Letters() []string {
	out := make([]string, len(q.Options))
	for i, o := range q.Options {
		out[i] = OptionLetter(o, i)
	}
	return out
}

// Validate checks that every correct letter names an existing option.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("question %q: empty text", q.ID)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("question %q: need at least two options", q.ID)
	}
	if len(q.CorrectAnswers) == 0 {
		return fmt.Errorf("question %q: no correct answer", q.ID)
	}
	known := map[string]bool{}
	for _, l := range q.Letters() {
		known[l] = true
	}
	for _, c := range q.CorrectAnswers {
		if !known[NormalizeLetter(c)] {
			return fmt.Errorf("question %q: correct answer %q matches no option", q.ID, c)
		}
	}
	switch q.Dataset {
	case DatasetStandard, DatasetTrial:
	default:
		return fmt.Errorf("question %q: unknown dataset %q", q.ID, q.Dataset)
	}
	return nil
}

// OptionLetter extracts the "A." style prefix of an option. Options without
// a prefix fall back to their position (A for index 0).
func OptionLetter(option string, index int) string {
	s := strings.TrimSpace(option)
	if len(s) >= 2 && s[1] == '.' {
		if c := s[0]; (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
			return strings.ToUpper(s[:1])
		}
	}
	return string(rune('A' + index))
}

func NormalizeLetter(s string) string {
	return strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(s), "."))
}

type Session struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	CertificationID string     `json:"certification_id"`
	Variant         Variant    `json:"variant"`
	CreatedAt       time.Time  `json:"created_at"`
	EndedAt         *time.Time `json:"ended_at"`
	Completed       bool       `json:"completed"`
	Score           *int       `json:"score"`
	RequestedCount  *int       `json:"requested_count,omitempty"`
	IncludeFlagged  *bool      `json:"include_flagged,omitempty"`
	TotalQuestions  int        `json:"total_questions"`
	Cursor          int        `json:"cursor"`
}

// Answer is keyed by (SessionID, QuestionID). Selected is nil for "don't know".
type Answer struct {
	SessionID  string  `json:"session_id"`
	QuestionID string  `json:"question_id"`
	Selected   *string `json:"selected"`
	IsCorrect  bool    `json:"is_correct"`
}

type Flag struct {
	UserID     string    `json:"user_id"`
	QuestionID string    `json:"question_id"`
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// StartParams only matter for the custom variant.
type StartParams struct {
	RequestedCount int  `json:"requested_count"`
	IncludeFlagged bool `json:"include_flagged"`
}

// Position is what the quiz screen needs to render the current step.
type Position struct {
	Session          Session  `json:"session"`
	Index            int      `json:"index"`
	Total            int      `json:"total"`
	Question         Question `json:"question"`
	Selected         *string  `json:"selected"`
	Flagged          bool     `json:"flagged"`
	RemainingSeconds *int     `json:"remaining_seconds,omitempty"`
	Expired          bool     `json:"expired"`
}

type ResultItem struct {
	Position       int      `json:"position"`
	Question       Question `json:"question"`
	Selected       *string  `json:"selected"`
	IsCorrect      bool     `json:"is_correct"`
	CorrectAnswers []string `json:"correct_answers"`
}

type SessionResult struct {
	Session Session      `json:"session"`
	Correct int          `json:"correct"`
	Items   []ResultItem `json:"items"`
}

type SessionListOpts struct {
	UserID          string
	CertificationID string
	Status          string // in_progress|completed
	Limit           int
	Offset          int
}
