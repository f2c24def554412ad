package question

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type Type string

const (
	TypeMultipleChoice Type = "multiple_choice"
	TypeTrueFalse      Type = "true_false"
	TypeOpenEnded      Type = "open_ended"
	TypeFillBlank      Type = "fill_blank"
)

func ParseType(v string) (Type, bool) {
	switch t := Type(strings.ToLower(strings.TrimSpace(v))); t {
	case TypeMultipleChoice, TypeTrueFalse, TypeOpenEnded, TypeFillBlank:
		return t, true
	default:
		return "", false
	}
}

type QuizStatus string

const (
	QuizDraft     QuizStatus = "draft"
	QuizPublished QuizStatus = "published"
)

type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct,omitempty"`
}

type Question struct {
	ID               int64     `json:"id"`
	QuizID           int64     `json:"quiz_id"`
	SeqNo            int       `json:"seq_no"`
	Text             string    `json:"text"`
	Type             Type      `json:"question_type"`
	Options          []Option  `json:"options,omitempty"`
	CorrectAnswer    string    `json:"correct_answer,omitempty"`
	Points           int       `json:"points"`
	TimeLimitSeconds *int      `json:"time_limit_seconds,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type Quiz struct {
	ID               int64      `json:"id"`
	TeacherID        int64      `json:"teacher_id"`
	Title            string     `json:"title"`
	Status           QuizStatus `json:"status"`
	ShuffleQuestions bool       `json:"shuffle_questions"`
	TimeLimitMinutes *int       `json:"time_limit_minutes,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Questions        []Question `json:"questions,omitempty"`
}

// Key is the answer key of one question, one variant per question type.
type Key interface {
	evaluate(answer string) *bool
}

type multipleChoiceKey struct {
	correct string
	defined bool
}

type trueFalseKey struct{ correct string }

type fillBlankKey struct{ correct string }

type openEndedKey struct{}

// Exact, case-sensitive match on the first option flagged correct.
func (k multipleChoiceKey) evaluate(answer string) *bool {
	return verdict(k.defined && answer == k.correct)
}

func (k trueFalseKey) evaluate(answer string) *bool {
	return verdict(strings.ToLower(answer) == strings.ToLower(k.correct))
}

func (k fillBlankKey) evaluate(answer string) *bool {
	return verdict(normalizeBlank(answer) == normalizeBlank(k.correct))
}

// Open answers wait for manual review.
func (openEndedKey) evaluate(string) *bool { return nil }

func (q Question) Key() Key {
	switch q.Type {
	case TypeMultipleChoice:
		for _, opt := range q.Options {
			if opt.IsCorrect {
				return multipleChoiceKey{correct: opt.Text, defined: true}
			}
		}
		return multipleChoiceKey{}
	case TypeTrueFalse:
		return trueFalseKey{correct: q.CorrectAnswer}
	case TypeFillBlank:
		return fillBlankKey{correct: q.CorrectAnswer}
	default:
		return openEndedKey{}
	}
}

// Evaluate reports whether answer is correct; nil means it needs manual review.
func (q Question) Evaluate(answer json.RawMessage) *bool {
	return q.Key().evaluate(AnswerText(answer))
}

// AnswerText flattens a submitted JSON answer to the string it is graded as.
func AnswerText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return string(trimmed)
	}
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	default:
		return string(trimmed)
	}
}

func normalizeBlank(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func verdict(ok bool) *bool {
	return &ok
}

// PublicView strips the answer key for student-facing payloads.
func (q Question) PublicView() Question {
	out := q
	out.CorrectAnswer = ""
	if len(q.Options) > 0 {
		out.Options = make([]Option, len(q.Options))
		for i, opt := range q.Options {
			out.Options[i] = Option{Text: opt.Text}
		}
	}
	return out
}
