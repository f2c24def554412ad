package result

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"quizlms/internal/db"
	"quizlms/internal/fsm"
	"quizlms/internal/grading"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusGraded     Status = "graded"
	StatusPublished  Status = "published"
)

var Statuses = []Status{StatusInProgress, StatusSubmitted, StatusGraded, StatusPublished}

// sessionCancelled mirrors the session package's status value; importing it
// here would create a cycle.
const sessionCancelled = "cancelled"

const (
	actionSubmit  = "submit"
	actionGrade   = "grade"
	actionPublish = "publish"
	actionReview  = "review"
)

// Machine is strictly linear: in_progress, submitted, graded, published.
var Machine = fsm.New("result",
	fsm.Action[Status]{Name: actionSubmit, From: []Status{StatusInProgress}, To: StatusSubmitted},
	fsm.Action[Status]{Name: actionGrade, From: []Status{StatusSubmitted}, To: StatusGraded},
	fsm.Action[Status]{Name: actionPublish, From: []Status{StatusSubmitted, StatusGraded}, To: StatusPublished},
	fsm.Action[Status]{Name: actionReview, From: []Status{StatusSubmitted, StatusGraded}},
)

type Result struct {
	ID              int64      `json:"id"`
	SessionID       int64      `json:"session_id"`
	StudentID       int64      `json:"student_id"`
	Status          Status     `json:"status"`
	TotalPoints     int        `json:"total_points"`
	MaxPoints       int        `json:"max_points"`
	Percentage      float64    `json:"percentage"`
	Grade           float64    `json:"grade"`
	TotalQuestions  int        `json:"total_questions"`
	CorrectAnswers  int        `json:"correct_answers"`
	TimeSpentTotal  int        `json:"time_spent_total"`
	TeacherFeedback *string    `json:"teacher_feedback,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	GradedAt        *time.Time `json:"graded_at,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
}

type Response struct {
	ID             int64           `json:"id"`
	QuestionID     int64           `json:"question_id"`
	Answer         json.RawMessage `json:"answer"`
	IsCorrect      *bool           `json:"is_correct"`
	PointsEarned   int             `json:"points_earned"`
	PointsPossible int             `json:"points_possible"`
	TimeSpent      int             `json:"time_spent"`
	AnsweredAt     time.Time       `json:"answered_at"`
	ReviewedAt     *time.Time      `json:"reviewed_at,omitempty"`
	ReviewerID     *int64          `json:"reviewer_id,omitempty"`
	TeacherComment *string         `json:"teacher_comment,omitempty"`
}

type Detail struct {
	Result
	Responses []Response `json:"responses"`
}

// Submission is returned to the student after a final submit.
type Submission struct {
	ResultID       int64     `json:"result_id"`
	Status         Status    `json:"status"`
	TotalQuestions int       `json:"total_questions"`
	SubmittedAt    time.Time `json:"submitted_at"`
	grading.Summary
}

type AnswerInput struct {
	QuestionID int64           `json:"question_id"`
	Answer     json.RawMessage `json:"answer"`
	TimeSpent  int             `json:"time_spent"`
}

type ReviewInput struct {
	TeacherFeedback *string          `json:"teacher_feedback"`
	Responses       []ResponseReview `json:"responses"`
}

type ResponseReview struct {
	QuestionID     int64   `json:"question_id"`
	IsCorrect      *bool   `json:"is_correct"`
	PointsEarned   *int    `json:"points_earned"`
	TeacherComment *string `json:"teacher_comment"`
}

// owned is a result joined with the ownership columns of its session.
type owned struct {
	Result
	TeacherID     int64
	InstitutionID int64
	QuizID        int64
	SessionStatus string
}

const resultColumns = `r.id, r.session_id, r.student_id, r.status, r.total_points, r.max_points,
r.percentage, r.grade, r.total_questions, r.correct_answers, r.time_spent_total, r.teacher_feedback,
r.started_at, r.submitted_at, r.graded_at, r.published_at`

func scanResult(scanner interface{ Scan(dest ...any) error }, extra ...any) (*Result, error) {
	var (
		out      Result
		status   string
		feedback sql.NullString
	)
	var submittedAt, gradedAt, publishedAt sql.NullTime
	dest := []any{
		&out.ID, &out.SessionID, &out.StudentID, &status, &out.TotalPoints, &out.MaxPoints,
		&out.Percentage, &out.Grade, &out.TotalQuestions, &out.CorrectAnswers, &out.TimeSpentTotal, &feedback,
		&out.StartedAt, &submittedAt, &gradedAt, &publishedAt,
	}
	if err := scanner.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	out.Status = Status(status)
	out.TeacherFeedback = db.NullStringPtr(feedback)
	out.StartedAt = out.StartedAt.UTC()
	out.SubmittedAt = db.NullTimePtr(submittedAt)
	out.GradedAt = db.NullTimePtr(gradedAt)
	out.PublishedAt = db.NullTimePtr(publishedAt)
	return &out, nil
}

func scanResponse(scanner interface{ Scan(dest ...any) error }) (*Response, error) {
	var (
		out        Response
		answer     string
		isCorrect  sql.NullBool
		reviewedAt sql.NullTime
		reviewerID sql.NullInt64
		comment    sql.NullString
	)
	if err := scanner.Scan(&out.ID, &out.QuestionID, &answer, &isCorrect, &out.PointsEarned, &out.PointsPossible,
		&out.TimeSpent, &out.AnsweredAt, &reviewedAt, &reviewerID, &comment); err != nil {
		return nil, fmt.Errorf("scan response: %w", err)
	}
	out.Answer = json.RawMessage(answer)
	out.IsCorrect = db.NullBoolPtr(isCorrect)
	out.AnsweredAt = out.AnsweredAt.UTC()
	out.ReviewedAt = db.NullTimePtr(reviewedAt)
	out.ReviewerID = db.NullInt64Ptr(reviewerID)
	out.TeacherComment = db.NullStringPtr(comment)
	return &out, nil
}
