package question

import (
	"strings"

	"quizlms/internal/validation"
)

type CreateQuizInput struct {
	Title            string `json:"title"`
	ShuffleQuestions bool   `json:"shuffle_questions"`
	TimeLimitMinutes *int   `json:"time_limit_minutes"`
}

type QuestionInput struct {
	Text             string   `json:"text"`
	Type             string   `json:"question_type"`
	Options          []Option `json:"options"`
	CorrectAnswer    string   `json:"correct_answer"`
	Points           int      `json:"points"`
	TimeLimitSeconds *int     `json:"time_limit_seconds"`
}

func (in *CreateQuizInput) validate() error {
	errs := validation.Errors{}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		errs.Add("title", "is required")
	}
	if in.TimeLimitMinutes != nil && *in.TimeLimitMinutes <= 0 {
		errs.Add("time_limit_minutes", "must be positive")
	}
	return errs.Err()
}

// normalize checks the authoring rules for one question and returns the
// canonical form that gets stored.
func (in QuestionInput) normalize() (Question, error) {
	errs := validation.Errors{}
	out := Question{
		Text:             strings.TrimSpace(in.Text),
		Points:           in.Points,
		TimeLimitSeconds: in.TimeLimitSeconds,
	}
	if out.Text == "" {
		errs.Add("text", "is required")
	}
	if in.Points <= 0 {
		errs.Add("points", "must be a positive integer")
	}
	if in.TimeLimitSeconds != nil && *in.TimeLimitSeconds <= 0 {
		errs.Add("time_limit_seconds", "must be positive")
	}

	qt, ok := ParseType(in.Type)
	if !ok {
		errs.Add("question_type", "must be one of multiple_choice, true_false, open_ended, fill_blank")
		return out, errs.Err()
	}
	out.Type = qt

	switch qt {
	case TypeMultipleChoice:
		if len(in.Options) < 2 {
			errs.Add("options", "multiple_choice needs at least two options")
		}
		correct := 0
		for _, opt := range in.Options {
			if opt.Text == "" {
				errs.Add("options", "option text is required")
			}
			if opt.IsCorrect {
				correct++
			}
		}
		if correct == 0 {
			errs.Add("options", "at least one option must be marked correct")
		}
		out.Options = append([]Option(nil), in.Options...)
	case TypeTrueFalse:
		v := strings.ToLower(strings.TrimSpace(in.CorrectAnswer))
		if v != "true" && v != "false" {
			errs.Add("correct_answer", `must be "true" or "false"`)
		}
		out.CorrectAnswer = v
	case TypeFillBlank:
		if strings.TrimSpace(in.CorrectAnswer) == "" {
			errs.Add("correct_answer", "is required")
		}
		out.CorrectAnswer = in.CorrectAnswer
	case TypeOpenEnded:
		if len(in.Options) > 0 {
			errs.Add("options", "open_ended questions take no options")
		}
	}
	return out, errs.Err()
}
