package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quizlms/internal/auth"
	"quizlms/internal/db"
	"quizlms/internal/notify"
	"quizlms/internal/question"
	"quizlms/internal/result"
	"quizlms/internal/validation"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionNotJoinable = errors.New("session is not open for joining")
	ErrSessionFull        = errors.New("session is full")
	ErrAdmissionDenied    = errors.New("student is not admitted to this session")
	ErrDuplicateSession   = errors.New("a session with the same title and schedule already exists")
	ErrQuizNotPublished   = errors.New("quiz is not published")
	ErrQuizNotOwned       = errors.New("quiz does not belong to this teacher")
	ErrCodeExhausted      = errors.New("could not allocate a unique session code")
)

const defaultCodeAttempts = 10

// Directory answers admission and ownership questions about users managed
// outside this service.
type Directory interface {
	IsActiveStudent(ctx context.Context, institutionID, studentID int64) (bool, error)
	ActiveStudentIDs(ctx context.Context, institutionID int64) ([]int64, error)
	TeacherInstitution(ctx context.Context, teacherID int64) (int64, error)
}

// Dispatcher accepts notification events without blocking the caller.
type Dispatcher interface {
	Dispatch(ev notify.Event)
}

type Config struct {
	// CodeAttempts bounds session-code regeneration on collision.
	CodeAttempts int
	// AutoPublish publishes submitted results in the same transaction that
	// completes the session.
	AutoPublish bool
	Logger      *slog.Logger
}

type Service struct {
	db      *sql.DB
	dialect db.Dialect
	results *result.Service
	dir     Directory
	events  Dispatcher
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	newCode func() (string, error)
}

func NewService(conn *sql.DB, dialect db.Dialect, results *result.Service, dir Directory, events Dispatcher, cfg Config) *Service {
	if cfg.CodeAttempts <= 0 {
		cfg.CodeAttempts = defaultCodeAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = discard{}
	}
	return &Service{
		db:      conn,
		dialect: dialect,
		results: results,
		dir:     dir,
		events:  events,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		newCode: GenerateCode,
	}
}

type discard struct{}

func (discard) Dispatch(notify.Event) {}

func (s *Service) Create(ctx context.Context, p auth.Principal, in CreateInput) (*Session, error) {
	now := db.Timestamp(s.now())
	sc := in.schedule()
	if err := sc.normalize(now); err != nil {
		return nil, err
	}
	quiz, err := question.LoadQuiz(ctx, s.db, sc.QuizID)
	if err != nil {
		return nil, err
	}
	own, err := s.resolveOwner(ctx, p, quiz)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkDuplicate(ctx, tx, own.TeacherID, sc, 0); err != nil {
		return nil, err
	}
	id, err := s.insertSession(ctx, tx, own, sc, now)
	if err != nil {
		return nil, err
	}
	if err := replaceAllowed(ctx, tx, id, sc.AllowedStudents); err != nil {
		return nil, err
	}
	out, err := s.load(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.notifyCreated(ctx, out)
	return out, nil
}

// insertSession stores the row under a fresh code, regenerating the code when
// it collides with an existing one.
func (s *Service) insertSession(ctx context.Context, tx *sql.Tx, own owner, sc schedule, now time.Time) (int64, error) {
	for attempt := 0; attempt < s.cfg.CodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return 0, fmt.Errorf("generate session code: %w", err)
		}

		var id int64
		err = tx.QueryRowContext(ctx, `
INSERT INTO quiz_sessions (quiz_id, teacher_id, institution_id, session_code, title, starts_at, ends_at, status, max_participants, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (session_code) DO NOTHING
RETURNING id`,
			sc.QuizID, own.TeacherID, own.InstitutionID, code, sc.Title, sc.StartsAt, sc.EndsAt,
			string(StatusScheduled), nullInt(sc.MaxParticipants), now).Scan(&id)
		switch {
		case err == nil:
			return id, nil
		case errors.Is(err, sql.ErrNoRows):
			s.logger.DebugContext(ctx, "session code collision", "attempt", attempt+1)
			continue
		case db.IsUniqueViolation(err):
			return 0, ErrDuplicateSession
		default:
			return 0, fmt.Errorf("insert session: %w", err)
		}
	}
	return 0, ErrCodeExhausted
}

func (s *Service) Update(ctx context.Context, p auth.Principal, id int64, in UpdateInput) (*Session, error) {
	cur, err := s.load(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if !p.CanManage(cur.TeacherID, cur.InstitutionID) {
		return nil, auth.ErrForbidden
	}
	if _, err := Machine.Transition(actionUpdate, cur.Status); err != nil {
		return nil, err
	}

	now := db.Timestamp(s.now())
	sc := in.merge(cur)
	if err := sc.normalize(now); err != nil {
		return nil, err
	}
	if sc.QuizID != cur.QuizID {
		quiz, err := question.LoadQuiz(ctx, s.db, sc.QuizID)
		if err != nil {
			return nil, err
		}
		own, err := s.resolveOwner(ctx, p, quiz)
		if err != nil {
			return nil, err
		}
		if own.TeacherID != cur.TeacherID {
			return nil, ErrQuizNotOwned
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	locked, err := s.load(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if _, err := Machine.Transition(actionUpdate, locked.Status); err != nil {
		return nil, err
	}
	if sc.QuizID != locked.QuizID {
		joined, err := s.results.CountBySession(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		// max_points of joined results is fixed to the current quiz.
		if joined > 0 {
			return nil, validation.Single("quiz_id", "cannot change once students have joined")
		}
	}
	if err := checkDuplicate(ctx, tx, locked.TeacherID, sc, id); err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
UPDATE quiz_sessions
SET quiz_id = $2, title = $3, starts_at = $4, ends_at = $5, max_participants = $6, updated_at = $7
WHERE id = $1`, id, sc.QuizID, sc.Title, sc.StartsAt, sc.EndsAt, nullInt(sc.MaxParticipants), now)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateSession
		}
		return nil, fmt.Errorf("update session: %w", err)
	}
	if in.AllowedStudents != nil {
		if err := replaceAllowed(ctx, tx, id, sc.AllowedStudents); err != nil {
			return nil, err
		}
	}
	out, err := s.load(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, p auth.Principal, id int64) (*Session, error) {
	out, err := s.load(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if !p.CanManage(out.TeacherID, out.InstitutionID) {
		return nil, auth.ErrForbidden
	}
	return out, nil
}

// List returns the sessions visible to p, newest start first. An empty
// status lists every status.
func (s *Service) List(ctx context.Context, p auth.Principal, status Status) ([]Session, error) {
	var (
		where []string
		args  []any
	)
	switch p.Role {
	case auth.RoleTeacher:
		args = append(args, p.UserID)
		where = append(where, fmt.Sprintf("teacher_id = $%d", len(args)))
	case auth.RoleAdmin:
		args = append(args, p.InstitutionID)
		where = append(where, fmt.Sprintf("institution_id = $%d", len(args)))
	case auth.RoleSystem:
	default:
		return nil, auth.ErrForbidden
	}
	if status != "" {
		args = append(args, string(status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + sessionColumns + ` FROM quiz_sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY starts_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		item, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *Service) Activate(ctx context.Context, p auth.Principal, id int64) (*Session, error) {
	return s.transition(ctx, p, id, actionActivate, "activated_at", nil)
}

func (s *Service) Cancel(ctx context.Context, p auth.Principal, id int64) (*Session, error) {
	return s.transition(ctx, p, id, actionCancel, "cancelled_at", nil)
}

// Complete closes the session. With AutoPublish, submitted results are
// published in the same transaction; results in other statuses are untouched.
func (s *Service) Complete(ctx context.Context, p auth.Principal, id int64) (*CompleteOutcome, error) {
	var published int64
	out, err := s.transition(ctx, p, id, actionComplete, "completed_at", func(tx *sql.Tx, now time.Time) error {
		if !s.cfg.AutoPublish {
			return nil
		}
		n, err := s.results.PublishAllSubmitted(ctx, tx, id, now)
		if err != nil {
			return err
		}
		published = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyCompleted(ctx, out)
	return &CompleteOutcome{Session: out, PublishedResults: published}, nil
}

// PublishResults publishes every submitted result of a completed session.
func (s *Service) PublishResults(ctx context.Context, p auth.Principal, id int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cur, err := s.load(ctx, tx, id, true)
	if err != nil {
		return 0, err
	}
	if !p.CanManage(cur.TeacherID, cur.InstitutionID) {
		return 0, auth.ErrForbidden
	}
	if _, err := Machine.Transition(actionPublishResults, cur.Status); err != nil {
		return 0, err
	}
	n, err := s.results.PublishAllSubmitted(ctx, tx, id, db.Timestamp(s.now()))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return n, nil
}

func (s *Service) transition(ctx context.Context, p auth.Principal, id int64, action, stampColumn string, after func(tx *sql.Tx, now time.Time) error) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cur, err := s.load(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if !p.CanManage(cur.TeacherID, cur.InstitutionID) {
		return nil, auth.ErrForbidden
	}
	next, err := Machine.Transition(action, cur.Status)
	if err != nil {
		return nil, err
	}

	now := db.Timestamp(s.now())
	_, err = tx.ExecContext(ctx, `
UPDATE quiz_sessions
SET status = $2, `+stampColumn+` = $3, updated_at = $3
WHERE id = $1`, id, string(next), now)
	if err != nil {
		return nil, fmt.Errorf("%s session: %w", action, err)
	}
	if after != nil {
		if err := after(tx, now); err != nil {
			return nil, err
		}
	}
	out, err := s.load(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

// Destroy deletes the session together with its results and responses.
func (s *Service) Destroy(ctx context.Context, p auth.Principal, id int64) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		cur, err := s.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if !p.CanManage(cur.TeacherID, cur.InstitutionID) {
			return auth.ErrForbidden
		}
		if _, err := Machine.Transition(actionDestroy, cur.Status); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM quiz_sessions WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// Join admits a student by session code and returns their in-progress
// result. Joining again returns the same result.
func (s *Service) Join(ctx context.Context, p auth.Principal, code string) (*JoinView, error) {
	if !p.IsStudent() {
		return nil, auth.ErrForbidden
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if !validCode(code) {
		return nil, ErrSessionNotFound
	}
	sess, err := s.loadByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !Machine.Can(actionJoin, sess.Status) {
		return nil, fmt.Errorf("%w: session is %s", ErrSessionNotJoinable, sess.Status)
	}
	if err := s.admit(ctx, sess, p.UserID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	locked, err := s.load(ctx, tx, sess.ID, true)
	if err != nil {
		return nil, err
	}
	if !Machine.Can(actionJoin, locked.Status) {
		return nil, fmt.Errorf("%w: session is %s", ErrSessionNotJoinable, locked.Status)
	}

	res, err := s.results.FindForStudent(ctx, tx, locked.ID, p.UserID)
	switch {
	case err == nil:
	case errors.Is(err, result.ErrResultNotFound):
		if locked.MaxParticipants != nil {
			n, err := s.results.CountBySession(ctx, tx, locked.ID)
			if err != nil {
				return nil, err
			}
			if n >= *locked.MaxParticipants {
				return nil, ErrSessionFull
			}
		}
		points, count, err := question.Totals(ctx, tx, locked.QuizID)
		if err != nil {
			return nil, err
		}
		res, _, err = s.results.Start(ctx, tx, locked.ID, p.UserID, points, count, db.Timestamp(s.now()))
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	quiz, err := s.quizView(ctx, locked.QuizID, res.TotalQuestions)
	if err != nil {
		return nil, err
	}
	return &JoinView{
		ResultID:      res.ID,
		ResultStatus:  res.Status,
		SessionID:     locked.ID,
		SessionTitle:  locked.Title,
		SessionStatus: locked.Status,
		StartsAt:      locked.StartsAt,
		EndsAt:        locked.EndsAt,
		Quiz:          quiz,
	}, nil
}

// admit applies the allow list when one exists, otherwise any active student
// of the session's institution is admitted.
func (s *Service) admit(ctx context.Context, sess *Session, studentID int64) error {
	if len(sess.AllowedStudents) > 0 {
		for _, id := range sess.AllowedStudents {
			if id == studentID {
				return nil
			}
		}
		return ErrAdmissionDenied
	}
	ok, err := s.dir.IsActiveStudent(ctx, sess.InstitutionID, studentID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAdmissionDenied
	}
	return nil
}

func (s *Service) quizView(ctx context.Context, quizID int64, questionCount int) (QuizView, error) {
	quiz, err := question.LoadQuiz(ctx, s.db, quizID)
	if err != nil {
		return QuizView{}, err
	}
	questions, err := question.LoadQuestions(ctx, s.db, quizID)
	if err != nil {
		return QuizView{}, err
	}
	public := make([]question.Question, 0, len(questions))
	for _, q := range questions {
		public = append(public, q.PublicView())
	}
	return QuizView{
		ID:               quiz.ID,
		Title:            quiz.Title,
		QuestionCount:    questionCount,
		ShuffleQuestions: quiz.ShuffleQuestions,
		TimeLimitMinutes: quiz.TimeLimitMinutes,
		Questions:        public,
	}, nil
}

func (s *Service) Results(ctx context.Context, p auth.Principal, id int64) ([]result.Result, error) {
	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, err
	}
	return s.results.ListBySession(ctx, s.db, id)
}

func (s *Service) Statistics(ctx context.Context, p auth.Principal, id int64) (*result.Statistics, error) {
	list, err := s.Results(ctx, p, id)
	if err != nil {
		return nil, err
	}
	stats := result.ComputeStatistics(list)
	return &stats, nil
}

func (s *Service) load(ctx context.Context, q db.Querier, id int64, lock bool) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM quiz_sessions WHERE id = $1`
	if lock {
		query += s.dialect.LockRow("")
	}
	out, err := scanSession(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	out.AllowedStudents, err = loadAllowed(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) loadByCode(ctx context.Context, code string) (*Session, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM quiz_sessions WHERE session_code = $1`, code).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("find session by code: %w", err)
	}
	return s.load(ctx, s.db, id, false)
}

func loadAllowed(ctx context.Context, q db.Querier, sessionID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
SELECT student_id
FROM quiz_session_allowed_students
WHERE session_id = $1
ORDER BY student_id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query allowed students: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan allowed student: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allowed students: %w", err)
	}
	return out, nil
}

func replaceAllowed(ctx context.Context, q db.Querier, sessionID int64, studentIDs []int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM quiz_session_allowed_students WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear allowed students: %w", err)
	}
	for _, id := range studentIDs {
		if _, err := q.ExecContext(ctx, `
INSERT INTO quiz_session_allowed_students (session_id, student_id)
VALUES ($1, $2)`, sessionID, id); err != nil {
			return fmt.Errorf("insert allowed student: %w", err)
		}
	}
	return nil
}

func (s *Service) notifyCreated(ctx context.Context, sess *Session) {
	recipients := sess.AllowedStudents
	if len(recipients) == 0 {
		ids, err := s.dir.ActiveStudentIDs(ctx, sess.InstitutionID)
		if err != nil {
			s.logger.WarnContext(ctx, "resolve session recipients failed", "session_id", sess.ID, "err", err)
			return
		}
		recipients = ids
	}
	expires := sess.EndsAt
	s.events.Dispatch(notify.Event{
		Type:      notify.EventSessionCreated,
		UserIDs:   recipients,
		Title:     "New quiz session",
		Message:   fmt.Sprintf("%s starts at %s", sess.Title, sess.StartsAt.Format(time.RFC3339)),
		Payload:   map[string]any{"session_id": sess.ID, "session_code": sess.Code, "quiz_id": sess.QuizID},
		ExpiresAt: &expires,
	})
}

func (s *Service) notifyCompleted(ctx context.Context, sess *Session) {
	ids, err := s.results.ParticipantIDs(ctx, s.db, sess.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "resolve session participants failed", "session_id", sess.ID, "err", err)
		return
	}
	s.events.Dispatch(notify.Event{
		Type:    notify.EventSessionCompleted,
		UserIDs: ids,
		Title:   "Quiz session completed",
		Message: fmt.Sprintf("%s has ended", sess.Title),
		Payload: map[string]any{"session_id": sess.ID},
	})
}
