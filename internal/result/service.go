package result

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"quizlms/internal/auth"
	"quizlms/internal/db"
	"quizlms/internal/grading"
	"quizlms/internal/question"
	"quizlms/internal/validation"
)

var (
	ErrResultNotFound   = errors.New("result not found")
	ErrResultNotVisible = errors.New("result is not published yet")
	ErrAlreadyCompleted = errors.New("result already submitted")
	ErrQuestionNotFound = errors.New("question not found in this quiz")
	ErrResponseNotFound = errors.New("response not found")
	ErrSessionCancelled = errors.New("session was cancelled")
)

type Service struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

func NewService(conn *sql.DB, dialect db.Dialect) *Service {
	return &Service{db: conn, dialect: dialect, now: time.Now}
}

// Start creates the in-progress result for (session, student), or returns the
// existing one. The unique pair makes concurrent joins converge on one row.
func (s *Service) Start(ctx context.Context, q db.Querier, sessionID, studentID int64, maxPoints, totalQuestions int, now time.Time) (*Result, bool, error) {
	res, err := q.ExecContext(ctx, `
INSERT INTO results (session_id, student_id, status, max_points, total_questions, started_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (session_id, student_id) DO NOTHING`, sessionID, studentID, string(StatusInProgress), maxPoints, totalQuestions, db.Timestamp(now))
	if err != nil {
		return nil, false, fmt.Errorf("insert result: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert result rows affected: %w", err)
	}

	out, err := s.FindForStudent(ctx, q, sessionID, studentID)
	if err != nil {
		return nil, false, err
	}
	return out, affected > 0, nil
}

func (s *Service) FindForStudent(ctx context.Context, q db.Querier, sessionID, studentID int64) (*Result, error) {
	row := q.QueryRowContext(ctx, `
SELECT `+resultColumns+`
FROM results r
WHERE r.session_id = $1 AND r.student_id = $2`, sessionID, studentID)
	out, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("load result: %w", err)
	}
	return out, nil
}

func (s *Service) CountBySession(ctx context.Context, q db.Querier, sessionID int64) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM results WHERE session_id = $1`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

func (s *Service) ListBySession(ctx context.Context, q db.Querier, sessionID int64) ([]Result, error) {
	rows, err := q.QueryContext(ctx, `
SELECT `+resultColumns+`
FROM results r
WHERE r.session_id = $1
ORDER BY r.id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := make([]Result, 0)
	for rows.Next() {
		item, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// ParticipantIDs returns the students holding a result in the session.
func (s *Service) ParticipantIDs(ctx context.Context, q db.Querier, sessionID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT student_id FROM results WHERE session_id = $1 ORDER BY student_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return out, nil
}

// PublishAllSubmitted moves every submitted result of the session to
// published. Results in any other status are left alone.
func (s *Service) PublishAllSubmitted(ctx context.Context, q db.Querier, sessionID int64, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `
UPDATE results
SET status = $3, published_at = $4
WHERE session_id = $1 AND status = $2`, sessionID, string(StatusSubmitted), string(StatusPublished), db.Timestamp(now))
	if err != nil {
		return 0, fmt.Errorf("publish submitted results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("publish submitted rows affected: %w", err)
	}
	return n, nil
}

// Submit grades a batch of answers and finalizes the student's attempt.
// Either every answer is stored and the aggregate recomputed, or nothing is.
func (s *Service) Submit(ctx context.Context, p auth.Principal, resultID int64, answers []AnswerInput) (*Submission, error) {
	if err := validateAnswers(answers); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cur, err := s.loadOwned(ctx, tx, resultID, true)
	if err != nil {
		return nil, err
	}
	if !p.IsStudent() || cur.StudentID != p.UserID {
		return nil, auth.ErrForbidden
	}
	if cur.Status != StatusInProgress {
		return nil, ErrAlreadyCompleted
	}
	if cur.SessionStatus == sessionCancelled {
		return nil, ErrSessionCancelled
	}

	questions, err := question.LoadQuestions(ctx, tx, cur.QuizID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]question.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	// Later duplicates of the same question win.
	latest := make(map[int64]AnswerInput, len(answers))
	order := make([]int64, 0, len(answers))
	for _, a := range answers {
		if _, ok := byID[a.QuestionID]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrQuestionNotFound, a.QuestionID)
		}
		if _, seen := latest[a.QuestionID]; !seen {
			order = append(order, a.QuestionID)
		}
		latest[a.QuestionID] = a
	}

	now := db.Timestamp(s.now())
	for _, questionID := range order {
		a := latest[questionID]
		score := grading.Grade(byID[questionID], a.Answer)
		if err := s.upsertResponse(ctx, tx, cur.SessionID, cur.StudentID, a, score, now); err != nil {
			return nil, err
		}
	}

	next, err := Machine.Transition(actionSubmit, cur.Status)
	if err != nil {
		return nil, err
	}
	summary, err := s.recompute(ctx, tx, &cur.Result)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE results
SET status = $2, submitted_at = $3
WHERE id = $1`, cur.ID, string(next), now); err != nil {
		return nil, fmt.Errorf("mark result submitted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &Submission{
		ResultID:       cur.ID,
		Status:         next,
		TotalQuestions: cur.TotalQuestions,
		SubmittedAt:    now,
		Summary:        summary,
	}, nil
}

// Review applies a teacher's manual correction before publication.
func (s *Service) Review(ctx context.Context, p auth.Principal, resultID int64, in ReviewInput) (*Detail, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cur, err := s.loadOwned(ctx, tx, resultID, true)
	if err != nil {
		return nil, err
	}
	if !p.CanManage(cur.TeacherID, cur.InstitutionID) {
		return nil, auth.ErrForbidden
	}
	if _, err := Machine.Transition(actionReview, cur.Status); err != nil {
		return nil, err
	}

	now := db.Timestamp(s.now())
	errs := validation.Errors{}
	for i, rv := range in.Responses {
		field := "responses[" + strconv.Itoa(i) + "]"
		resp, err := s.loadResponse(ctx, tx, cur.SessionID, cur.StudentID, rv.QuestionID)
		if err != nil {
			return nil, err
		}

		isCorrect, points := resp.IsCorrect, resp.PointsEarned
		switch {
		case rv.PointsEarned != nil:
			if *rv.PointsEarned < 0 || *rv.PointsEarned > resp.PointsPossible {
				errs.Add(field+".points_earned", "must be between 0 and "+strconv.Itoa(resp.PointsPossible))
				continue
			}
			points = *rv.PointsEarned
			if rv.IsCorrect != nil {
				isCorrect = rv.IsCorrect
			} else {
				derived := points > 0
				isCorrect = &derived
			}
		case rv.IsCorrect != nil:
			isCorrect = rv.IsCorrect
			points = 0
			if *rv.IsCorrect {
				points = resp.PointsPossible
			}
		}
		comment := resp.TeacherComment
		if rv.TeacherComment != nil {
			comment = rv.TeacherComment
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE student_responses
SET is_correct = $2, points_earned = $3, teacher_comment = $4, reviewed_at = $5, reviewer_id = $6
WHERE id = $1`, resp.ID, nullBool(isCorrect), points, nullString(comment), now, p.UserID); err != nil {
			return nil, fmt.Errorf("update reviewed response: %w", err)
		}
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	if in.TeacherFeedback != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE results SET teacher_feedback = $2 WHERE id = $1`, cur.ID, *in.TeacherFeedback); err != nil {
			return nil, fmt.Errorf("update teacher feedback: %w", err)
		}
	}
	if _, err := s.recompute(ctx, tx, &cur.Result); err != nil {
		return nil, err
	}

	out, err := s.detail(ctx, tx, resultID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

// MarkGraded is idempotent for results that are already graded.
func (s *Service) MarkGraded(ctx context.Context, p auth.Principal, resultID int64) (*Result, error) {
	return s.advance(ctx, p, resultID, actionGrade, StatusGraded, "graded_at")
}

// Publish is idempotent for results that are already published.
func (s *Service) Publish(ctx context.Context, p auth.Principal, resultID int64) (*Result, error) {
	return s.advance(ctx, p, resultID, actionPublish, StatusPublished, "published_at")
}

func (s *Service) advance(ctx context.Context, p auth.Principal, resultID int64, action string, target Status, stampColumn string) (*Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cur, err := s.loadOwned(ctx, tx, resultID, true)
	if err != nil {
		return nil, err
	}
	if !p.CanManage(cur.TeacherID, cur.InstitutionID) {
		return nil, auth.ErrForbidden
	}
	if cur.Status == target {
		return &cur.Result, nil
	}
	next, err := Machine.Transition(action, cur.Status)
	if err != nil {
		return nil, err
	}

	now := db.Timestamp(s.now())
	if _, err := tx.ExecContext(ctx, `UPDATE results SET status = $2, `+stampColumn+` = $3 WHERE id = $1`, cur.ID, string(next), now); err != nil {
		return nil, fmt.Errorf("%s result: %w", action, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	cur.Status = next
	switch target {
	case StatusGraded:
		cur.GradedAt = &now
	case StatusPublished:
		cur.PublishedAt = &now
	}
	return &cur.Result, nil
}

// Get returns a result with its responses. Students only see their own
// result, and only once it is published.
func (s *Service) Get(ctx context.Context, p auth.Principal, resultID int64) (*Detail, error) {
	cur, err := s.loadOwned(ctx, s.db, resultID, false)
	if err != nil {
		return nil, err
	}
	if p.IsStudent() {
		if cur.StudentID != p.UserID {
			return nil, auth.ErrForbidden
		}
		if cur.Status != StatusPublished {
			return nil, ErrResultNotVisible
		}
	} else if !p.CanManage(cur.TeacherID, cur.InstitutionID) {
		return nil, auth.ErrForbidden
	}
	return s.detail(ctx, s.db, resultID)
}

func (s *Service) detail(ctx context.Context, q db.Querier, resultID int64) (*Detail, error) {
	cur, err := s.loadOwned(ctx, q, resultID, false)
	if err != nil {
		return nil, err
	}
	responses, err := s.listResponses(ctx, q, cur.SessionID, cur.StudentID)
	if err != nil {
		return nil, err
	}
	return &Detail{Result: cur.Result, Responses: responses}, nil
}

func (s *Service) loadOwned(ctx context.Context, q db.Querier, resultID int64, lock bool) (*owned, error) {
	query := `
SELECT ` + resultColumns + `, qs.teacher_id, qs.institution_id, qs.quiz_id, qs.status
FROM results r
JOIN quiz_sessions qs ON qs.id = r.session_id
WHERE r.id = $1`
	if lock {
		query += s.dialect.LockRow("r")
	}

	var out owned
	res, err := scanResult(q.QueryRowContext(ctx, query, resultID), &out.TeacherID, &out.InstitutionID, &out.QuizID, &out.SessionStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("load result: %w", err)
	}
	out.Result = *res
	return &out, nil
}

func (s *Service) upsertResponse(ctx context.Context, q db.Querier, sessionID, studentID int64, a AnswerInput, score grading.ScoreResult, now time.Time) error {
	answer := string(a.Answer)
	if len(a.Answer) == 0 {
		answer = "null"
	}
	_, err := q.ExecContext(ctx, `
INSERT INTO student_responses (session_id, student_id, question_id, answer, is_correct, points_earned, points_possible, time_spent, answered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (session_id, student_id, question_id)
DO UPDATE SET
	answer = excluded.answer,
	is_correct = excluded.is_correct,
	points_earned = excluded.points_earned,
	points_possible = excluded.points_possible,
	time_spent = excluded.time_spent,
	answered_at = excluded.answered_at`,
		sessionID, studentID, a.QuestionID, answer, nullBool(score.IsCorrect), score.PointsEarned, score.PointsPossible, a.TimeSpent, now)
	if err != nil {
		return fmt.Errorf("upsert response: %w", err)
	}
	return nil
}

func (s *Service) loadResponse(ctx context.Context, q db.Querier, sessionID, studentID, questionID int64) (*Response, error) {
	row := q.QueryRowContext(ctx, `
SELECT id, question_id, answer, is_correct, points_earned, points_possible, time_spent, answered_at, reviewed_at, reviewer_id, teacher_comment
FROM student_responses
WHERE session_id = $1 AND student_id = $2 AND question_id = $3`, sessionID, studentID, questionID)
	out, err := scanResponse(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: question %d", ErrResponseNotFound, questionID)
		}
		return nil, err
	}
	return out, nil
}

func (s *Service) listResponses(ctx context.Context, q db.Querier, sessionID, studentID int64) ([]Response, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id, question_id, answer, is_correct, points_earned, points_possible, time_spent, answered_at, reviewed_at, reviewer_id, teacher_comment
FROM student_responses
WHERE session_id = $1 AND student_id = $2
ORDER BY question_id ASC`, sessionID, studentID)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	out := make([]Response, 0)
	for rows.Next() {
		item, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return out, nil
}

// recompute refreshes the aggregate columns from the stored responses.
// The denominator stays the max_points frozen at join.
func (s *Service) recompute(ctx context.Context, q db.Querier, cur *Result) (grading.Summary, error) {
	rows, err := q.QueryContext(ctx, `
SELECT is_correct, points_earned, time_spent
FROM student_responses
WHERE session_id = $1 AND student_id = $2`, cur.SessionID, cur.StudentID)
	if err != nil {
		return grading.Summary{}, fmt.Errorf("query scored responses: %w", err)
	}
	defer rows.Close()

	items := make([]grading.Scored, 0)
	for rows.Next() {
		var (
			item      grading.Scored
			isCorrect sql.NullBool
		)
		if err := rows.Scan(&isCorrect, &item.PointsEarned, &item.TimeSpent); err != nil {
			return grading.Summary{}, fmt.Errorf("scan scored response: %w", err)
		}
		item.IsCorrect = db.NullBoolPtr(isCorrect)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return grading.Summary{}, fmt.Errorf("iterate scored responses: %w", err)
	}
	if err := rows.Close(); err != nil {
		return grading.Summary{}, fmt.Errorf("close scored responses: %w", err)
	}

	summary := grading.Aggregate(items, cur.MaxPoints)
	if _, err := q.ExecContext(ctx, `
UPDATE results
SET total_points = $2, percentage = $3, grade = $4, correct_answers = $5, time_spent_total = $6
WHERE id = $1`, cur.ID, summary.TotalPoints, summary.Percentage, summary.Grade, summary.CorrectAnswers, summary.TimeSpentTotal); err != nil {
		return grading.Summary{}, fmt.Errorf("update result aggregate: %w", err)
	}
	return summary, nil
}

func validateAnswers(answers []AnswerInput) error {
	errs := validation.Errors{}
	for i, a := range answers {
		field := "answers[" + strconv.Itoa(i) + "]"
		if a.QuestionID <= 0 {
			errs.Add(field+".question_id", "is required")
		}
		if a.TimeSpent < 0 {
			errs.Add(field+".time_spent", "must not be negative")
		}
	}
	return errs.Err()
}

func nullBool(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
