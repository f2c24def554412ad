package session

import (
	"database/sql"
	"time"

	"quizlms/internal/db"
	"quizlms/internal/fsm"
	"quizlms/internal/question"
	"quizlms/internal/result"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(v string) (Status, bool) {
	switch st := Status(v); st {
	case StatusScheduled, StatusActive, StatusCompleted, StatusCancelled:
		return st, true
	default:
		return "", false
	}
}

const (
	actionActivate       = "activate"
	actionComplete       = "complete"
	actionCancel         = "cancel"
	actionUpdate         = "update"
	actionDestroy        = "destroy"
	actionJoin           = "join"
	actionPublishResults = "publish_results"
)

// Machine holds every legal session edge plus the status guards for
// operations that leave the status unchanged.
var Machine = fsm.New("session",
	fsm.Action[Status]{Name: actionActivate, From: []Status{StatusScheduled}, To: StatusActive},
	fsm.Action[Status]{Name: actionComplete, From: []Status{StatusActive}, To: StatusCompleted},
	fsm.Action[Status]{Name: actionCancel, From: []Status{StatusScheduled, StatusActive}, To: StatusCancelled},
	fsm.Action[Status]{Name: actionUpdate, From: []Status{StatusScheduled, StatusCancelled}},
	fsm.Action[Status]{Name: actionDestroy, From: []Status{StatusScheduled, StatusCompleted, StatusCancelled}},
	fsm.Action[Status]{Name: actionJoin, From: []Status{StatusScheduled, StatusActive}},
	fsm.Action[Status]{Name: actionPublishResults, From: []Status{StatusCompleted}},
)

type Session struct {
	ID              int64      `json:"id"`
	QuizID          int64      `json:"quiz_id"`
	TeacherID       int64      `json:"teacher_id"`
	InstitutionID   int64      `json:"institution_id"`
	Code            string     `json:"session_code"`
	Title           string     `json:"title"`
	StartsAt        time.Time  `json:"starts_at"`
	EndsAt          time.Time  `json:"ends_at"`
	Status          Status     `json:"status"`
	MaxParticipants *int       `json:"max_participants,omitempty"`
	AllowedStudents []int64    `json:"allowed_students,omitempty"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type CreateInput struct {
	QuizID          int64     `json:"quiz_id"`
	Title           string    `json:"title"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	MaxParticipants *int      `json:"max_participants"`
	AllowedStudents []int64   `json:"allowed_students"`
}

// UpdateInput patches a session. Nil fields are kept; a zero
// max_participants removes the cap.
type UpdateInput struct {
	QuizID          *int64     `json:"quiz_id"`
	Title           *string    `json:"title"`
	StartsAt        *time.Time `json:"starts_at"`
	EndsAt          *time.Time `json:"ends_at"`
	MaxParticipants *int       `json:"max_participants"`
	AllowedStudents *[]int64   `json:"allowed_students"`
}

type QuizView struct {
	ID               int64               `json:"id"`
	Title            string              `json:"title"`
	QuestionCount    int                 `json:"question_count"`
	ShuffleQuestions bool                `json:"shuffle_questions"`
	TimeLimitMinutes *int                `json:"time_limit_minutes,omitempty"`
	Questions        []question.Question `json:"questions"`
}

// JoinView is what a student receives on join. It never carries the answer key.
type JoinView struct {
	ResultID      int64         `json:"result_id"`
	ResultStatus  result.Status `json:"result_status"`
	SessionID     int64         `json:"session_id"`
	SessionTitle  string        `json:"session_title"`
	SessionStatus Status        `json:"session_status"`
	StartsAt      time.Time     `json:"starts_at"`
	EndsAt        time.Time     `json:"ends_at"`
	Quiz          QuizView      `json:"quiz"`
}

type CompleteOutcome struct {
	Session          *Session `json:"session"`
	PublishedResults int64    `json:"published_results"`
}

type SweepReport struct {
	Activated int `json:"activated"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

const sessionColumns = `id, quiz_id, teacher_id, institution_id, session_code, title, starts_at, ends_at, status,
max_participants, activated_at, completed_at, cancelled_at, created_at, updated_at`

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		out         Session
		status      string
		maxPart     sql.NullInt64
		activatedAt sql.NullTime
		completedAt sql.NullTime
		cancelledAt sql.NullTime
	)
	if err := scanner.Scan(&out.ID, &out.QuizID, &out.TeacherID, &out.InstitutionID, &out.Code, &out.Title,
		&out.StartsAt, &out.EndsAt, &status, &maxPart, &activatedAt, &completedAt, &cancelledAt,
		&out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, err
	}
	out.Status = Status(status)
	out.StartsAt = out.StartsAt.UTC()
	out.EndsAt = out.EndsAt.UTC()
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	out.MaxParticipants = db.NullIntPtr(maxPart)
	out.ActivatedAt = db.NullTimePtr(activatedAt)
	out.CompletedAt = db.NullTimePtr(completedAt)
	out.CancelledAt = db.NullTimePtr(cancelledAt)
	return &out, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
