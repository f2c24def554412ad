package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quizlms/internal/auth"
	"quizlms/internal/db"
	"quizlms/internal/directory"
	"quizlms/internal/question"
	"quizlms/internal/validation"
)

const maxTitleLength = 200

// schedule is the validated shape of a session before it is stored.
type schedule struct {
	QuizID          int64
	Title           string
	StartsAt        time.Time
	EndsAt          time.Time
	MaxParticipants *int
	AllowedStudents []int64
}

func (in CreateInput) schedule() schedule {
	return schedule{
		QuizID:          in.QuizID,
		Title:           in.Title,
		StartsAt:        in.StartsAt,
		EndsAt:          in.EndsAt,
		MaxParticipants: in.MaxParticipants,
		AllowedStudents: in.AllowedStudents,
	}
}

// merge applies a patch on top of the stored session.
func (in UpdateInput) merge(cur *Session) schedule {
	out := schedule{
		QuizID:          cur.QuizID,
		Title:           cur.Title,
		StartsAt:        cur.StartsAt,
		EndsAt:          cur.EndsAt,
		MaxParticipants: cur.MaxParticipants,
		AllowedStudents: cur.AllowedStudents,
	}
	if in.QuizID != nil {
		out.QuizID = *in.QuizID
	}
	if in.Title != nil {
		out.Title = *in.Title
	}
	if in.StartsAt != nil {
		out.StartsAt = *in.StartsAt
	}
	if in.EndsAt != nil {
		out.EndsAt = *in.EndsAt
	}
	if in.MaxParticipants != nil {
		if *in.MaxParticipants == 0 {
			out.MaxParticipants = nil
		} else {
			out.MaxParticipants = in.MaxParticipants
		}
	}
	if in.AllowedStudents != nil {
		out.AllowedStudents = *in.AllowedStudents
	}
	return out
}

// normalize checks the timing rules and canonicalizes the schedule.
func (s *schedule) normalize(now time.Time) error {
	errs := validation.Errors{}

	s.Title = strings.TrimSpace(s.Title)
	switch {
	case s.Title == "":
		errs.Add("title", "is required")
	case len(s.Title) > maxTitleLength:
		errs.Add("title", "must be at most "+strconv.Itoa(maxTitleLength)+" characters")
	}
	if s.QuizID <= 0 {
		errs.Add("quiz_id", "is required")
	}

	s.StartsAt = db.Timestamp(s.StartsAt)
	s.EndsAt = db.Timestamp(s.EndsAt)
	switch {
	case s.StartsAt.IsZero():
		errs.Add("starts_at", "is required")
	case !s.StartsAt.After(now):
		errs.Add("starts_at", "must be in the future")
	}
	switch {
	case s.EndsAt.IsZero():
		errs.Add("ends_at", "is required")
	case !s.EndsAt.After(s.StartsAt):
		errs.Add("ends_at", "must be after starts_at")
	}

	if s.MaxParticipants != nil && *s.MaxParticipants <= 0 {
		errs.Add("max_participants", "must be positive")
	}

	seen := make(map[int64]struct{}, len(s.AllowedStudents))
	allowed := make([]int64, 0, len(s.AllowedStudents))
	for _, id := range s.AllowedStudents {
		if id <= 0 {
			errs.Add("allowed_students", "must contain positive student ids")
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		allowed = append(allowed, id)
	}
	s.AllowedStudents = allowed

	return errs.Err()
}

type owner struct {
	TeacherID     int64
	InstitutionID int64
}

// resolveOwner checks that the quiz can be scheduled by p and returns the
// teacher who will own the session.
func (s *Service) resolveOwner(ctx context.Context, p auth.Principal, quiz *question.Quiz) (owner, error) {
	if quiz.Status != question.QuizPublished {
		return owner{}, ErrQuizNotPublished
	}
	switch p.Role {
	case auth.RoleTeacher:
		if quiz.TeacherID != p.UserID {
			return owner{}, ErrQuizNotOwned
		}
		return owner{TeacherID: p.UserID, InstitutionID: p.InstitutionID}, nil
	case auth.RoleAdmin:
		institutionID, err := s.dir.TeacherInstitution(ctx, quiz.TeacherID)
		if err != nil {
			if errors.Is(err, directory.ErrUserNotFound) {
				return owner{}, ErrQuizNotOwned
			}
			return owner{}, err
		}
		if institutionID != p.InstitutionID {
			return owner{}, ErrQuizNotOwned
		}
		return owner{TeacherID: quiz.TeacherID, InstitutionID: institutionID}, nil
	default:
		return owner{}, auth.ErrForbidden
	}
}

// checkDuplicate rejects an exact (teacher, title, starts_at, ends_at) match.
// The unique index on those columns backs this check under concurrency.
func checkDuplicate(ctx context.Context, q db.Querier, teacherID int64, sc schedule, excludeID int64) error {
	rows, err := q.QueryContext(ctx, `
SELECT id, starts_at, ends_at
FROM quiz_sessions
WHERE teacher_id = $1 AND title = $2 AND id <> $3`, teacherID, sc.Title, excludeID)
	if err != nil {
		return fmt.Errorf("query duplicate sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id               int64
			startsAt, endsAt time.Time
		)
		if err := rows.Scan(&id, &startsAt, &endsAt); err != nil {
			return fmt.Errorf("scan duplicate session: %w", err)
		}
		if startsAt.Equal(sc.StartsAt) && endsAt.Equal(sc.EndsAt) {
			return ErrDuplicateSession
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate duplicate sessions: %w", err)
	}
	return nil
}
