// Package grading scores submitted answers and folds them into result aggregates.
package grading

import (
	"encoding/json"
	"math"

	"quizlms/internal/question"
)

const gradeScale = 20.0

const (
	ReasonCorrect       = "correct"
	ReasonWrong         = "wrong"
	ReasonPendingReview = "pending_review"
)

type ScoreResult struct {
	QuestionID     int64  `json:"question_id"`
	IsCorrect      *bool  `json:"is_correct"`
	PointsEarned   int    `json:"points_earned"`
	PointsPossible int    `json:"points_possible"`
	Reason         string `json:"reason"`
}

// Grade evaluates one answer. Correct answers earn the question's full points;
// there is no partial credit.
func Grade(q question.Question, answer json.RawMessage) ScoreResult {
	out := ScoreResult{QuestionID: q.ID, PointsPossible: q.Points}

	out.IsCorrect = q.Evaluate(answer)
	switch {
	case out.IsCorrect == nil:
		out.Reason = ReasonPendingReview
	case *out.IsCorrect:
		out.PointsEarned = q.Points
		out.Reason = ReasonCorrect
	default:
		out.Reason = ReasonWrong
	}
	return out
}

// Scored is one stored response as seen by the aggregator.
type Scored struct {
	IsCorrect    *bool
	PointsEarned int
	TimeSpent    int
}

type Summary struct {
	TotalPoints    int     `json:"total_points"`
	MaxPoints      int     `json:"max_points"`
	Percentage     float64 `json:"percentage"`
	Grade          float64 `json:"grade"`
	CorrectAnswers int     `json:"correct_answers"`
	Answered       int     `json:"answered"`
	PendingReview  int     `json:"pending_review"`
	TimeSpentTotal int     `json:"time_spent_total"`
}

// Aggregate folds a response set into a summary against a fixed denominator.
func Aggregate(items []Scored, maxPoints int) Summary {
	out := Summary{MaxPoints: maxPoints, Answered: len(items)}
	for _, it := range items {
		out.TotalPoints += it.PointsEarned
		out.TimeSpentTotal += it.TimeSpent
		switch {
		case it.IsCorrect == nil:
			out.PendingReview++
		case *it.IsCorrect:
			out.CorrectAnswers++
		}
	}
	out.Percentage = Percentage(out.TotalPoints, maxPoints)
	out.Grade = ScaleGrade(out.Percentage)
	return out
}

// Percentage returns total/max*100 rounded to two decimals, or 0 when max is 0.
func Percentage(total, max int) float64 {
	if max <= 0 {
		return 0
	}
	return round2(float64(total) / float64(max) * 100)
}

// ScaleGrade maps a percentage onto the 20-point grading scale.
func ScaleGrade(percentage float64) float64 {
	return round2(percentage / 100 * gradeScale)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
