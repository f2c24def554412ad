package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quizlms/internal/auth"
	"quizlms/internal/db"
	"quizlms/internal/directory"
)

var (
	ErrQuizNotFound  = errors.New("quiz not found")
	ErrQuizNotDraft  = errors.New("quiz is not a draft")
	ErrQuizEmpty     = errors.New("quiz has no questions")
	ErrQuizForbidden = errors.New("quiz not owned by caller")
)

type teacherLookup interface {
	TeacherInstitution(ctx context.Context, teacherID int64) (int64, error)
}

type Service struct {
	db       *sql.DB
	teachers teacherLookup
	now      func() time.Time
}

func NewService(conn *sql.DB) *Service {
	return &Service{db: conn, teachers: directory.New(conn), now: time.Now}
}

func (s *Service) CreateQuiz(ctx context.Context, p auth.Principal, in CreateQuizInput) (*Quiz, error) {
	if p.Role != auth.RoleTeacher {
		return nil, ErrQuizForbidden
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := db.Timestamp(s.now())
	out := Quiz{
		TeacherID:        p.UserID,
		Title:            in.Title,
		Status:           QuizDraft,
		ShuffleQuestions: in.ShuffleQuestions,
		TimeLimitMinutes: in.TimeLimitMinutes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.db.QueryRowContext(ctx, `
INSERT INTO quizzes (teacher_id, title, status, shuffle_questions, time_limit_minutes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
RETURNING id`, out.TeacherID, out.Title, string(out.Status), out.ShuffleQuestions, nullInt(in.TimeLimitMinutes), now).Scan(&out.ID)
	if err != nil {
		return nil, fmt.Errorf("insert quiz: %w", err)
	}
	return &out, nil
}

// AddQuestion appends a question to a draft quiz owned by the caller.
func (s *Service) AddQuestion(ctx context.Context, p auth.Principal, quizID int64, in QuestionInput) (*Question, error) {
	q, err := in.normalize()
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	quiz, err := LoadQuiz(ctx, tx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.TeacherID != p.UserID || p.Role != auth.RoleTeacher {
		return nil, ErrQuizForbidden
	}
	if quiz.Status != QuizDraft {
		return nil, ErrQuizNotDraft
	}

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq_no), 0) + 1 FROM questions WHERE quiz_id = $1`, quizID).Scan(&q.SeqNo); err != nil {
		return nil, fmt.Errorf("next question seq: %w", err)
	}
	q.QuizID = quizID
	q.CreatedAt = db.Timestamp(s.now())

	if err := tx.QueryRowContext(ctx, `
INSERT INTO questions (quiz_id, seq_no, text, question_type, correct_answer, points, time_limit_seconds, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`, q.QuizID, q.SeqNo, q.Text, string(q.Type), q.CorrectAnswer, q.Points, nullInt(q.TimeLimitSeconds), q.CreatedAt).Scan(&q.ID); err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	for i, opt := range q.Options {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO question_options (question_id, seq_no, option_text, is_correct)
VALUES ($1, $2, $3, $4)`, q.ID, i+1, opt.Text, opt.IsCorrect); err != nil {
			return nil, fmt.Errorf("insert question option: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE quizzes SET updated_at = $2 WHERE id = $1`, quizID, q.CreatedAt); err != nil {
		return nil, fmt.Errorf("touch quiz: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &q, nil
}

func (s *Service) PublishQuiz(ctx context.Context, p auth.Principal, quizID int64) (*Quiz, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	quiz, err := LoadQuiz(ctx, tx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.TeacherID != p.UserID || p.Role != auth.RoleTeacher {
		return nil, ErrQuizForbidden
	}
	if quiz.Status == QuizPublished {
		return quiz, nil
	}
	_, count, err := Totals(ctx, tx, quizID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrQuizEmpty
	}

	quiz.Status = QuizPublished
	quiz.UpdatedAt = db.Timestamp(s.now())
	if _, err := tx.ExecContext(ctx, `UPDATE quizzes SET status = $2, updated_at = $3 WHERE id = $1`, quizID, string(quiz.Status), quiz.UpdatedAt); err != nil {
		return nil, fmt.Errorf("publish quiz: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return quiz, nil
}

// GetQuiz returns the quiz with its answer key; callers must be staff with access.
func (s *Service) GetQuiz(ctx context.Context, p auth.Principal, quizID int64) (*Quiz, error) {
	quiz, err := LoadQuiz(ctx, s.db, quizID)
	if err != nil {
		return nil, err
	}
	if err := s.canRead(ctx, p, quiz); err != nil {
		return nil, err
	}
	quiz.Questions, err = LoadQuestions(ctx, s.db, quizID)
	if err != nil {
		return nil, err
	}
	return quiz, nil
}

// canRead allows the owning teacher, admins of the owner's institution and
// the system principal.
func (s *Service) canRead(ctx context.Context, p auth.Principal, quiz *Quiz) error {
	switch p.Role {
	case auth.RoleSystem:
		return nil
	case auth.RoleTeacher:
		if quiz.TeacherID == p.UserID {
			return nil
		}
	case auth.RoleAdmin:
		institutionID, err := s.teachers.TeacherInstitution(ctx, quiz.TeacherID)
		if errors.Is(err, directory.ErrUserNotFound) {
			return ErrQuizForbidden
		}
		if err != nil {
			return err
		}
		if institutionID == p.InstitutionID {
			return nil
		}
	}
	return ErrQuizForbidden
}

func LoadQuiz(ctx context.Context, q db.Querier, quizID int64) (*Quiz, error) {
	var (
		out       Quiz
		status    string
		timeLimit sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
SELECT id, teacher_id, title, status, shuffle_questions, time_limit_minutes, created_at, updated_at
FROM quizzes
WHERE id = $1`, quizID).Scan(&out.ID, &out.TeacherID, &out.Title, &status, &out.ShuffleQuestions, &timeLimit, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	out.Status = QuizStatus(status)
	out.TimeLimitMinutes = db.NullIntPtr(timeLimit)
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	return &out, nil
}

// LoadQuestions returns the quiz's questions in order, options included.
func LoadQuestions(ctx context.Context, q db.Querier, quizID int64) ([]Question, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id, quiz_id, seq_no, text, question_type, correct_answer, points, time_limit_seconds, created_at
FROM questions
WHERE quiz_id = $1
ORDER BY seq_no ASC, id ASC`, quizID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var (
			item      Question
			qType     string
			timeLimit sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.QuizID, &item.SeqNo, &item.Text, &qType, &item.CorrectAnswer, &item.Points, &timeLimit, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		item.Type = Type(qType)
		item.TimeLimitSeconds = db.NullIntPtr(timeLimit)
		item.CreatedAt = item.CreatedAt.UTC()
		index[item.ID] = len(out)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	optRows, err := q.QueryContext(ctx, `
SELECT o.question_id, o.option_text, o.is_correct
FROM question_options o
JOIN questions q ON q.id = o.question_id
WHERE q.quiz_id = $1
ORDER BY o.question_id ASC, o.seq_no ASC`, quizID)
	if err != nil {
		return nil, fmt.Errorf("query question options: %w", err)
	}
	defer optRows.Close()

	for optRows.Next() {
		var (
			questionID int64
			opt        Option
		)
		if err := optRows.Scan(&questionID, &opt.Text, &opt.IsCorrect); err != nil {
			return nil, fmt.Errorf("scan question option: %w", err)
		}
		if i, ok := index[questionID]; ok {
			out[i].Options = append(out[i].Options, opt)
		}
	}
	if err := optRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question options: %w", err)
	}
	return out, nil
}

// Totals returns the sum of question points and the question count for a quiz.
func Totals(ctx context.Context, q db.Querier, quizID int64) (points int, count int, err error) {
	err = q.QueryRowContext(ctx, `
SELECT COALESCE(SUM(points), 0), COUNT(*)
FROM questions
WHERE quiz_id = $1`, quizID).Scan(&points, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("sum quiz points: %w", err)
	}
	return points, count, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
