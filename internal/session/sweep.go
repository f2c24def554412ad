package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quizlms/internal/auth"
	"quizlms/internal/db"
	"quizlms/internal/fsm"
)

type sweepCandidate struct {
	id       int64
	status   Status
	startsAt time.Time
	endsAt   time.Time
}

// Sweep activates scheduled sessions whose start time has passed and
// completes active sessions whose end time has passed. It goes through the
// regular transitions, so running it twice is harmless.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	candidates, err := s.sweepCandidates(ctx)
	if err != nil {
		return report, err
	}

	now := db.Timestamp(s.now())
	system := auth.System()
	for _, c := range candidates {
		status := c.status
		if status == StatusScheduled && !now.Before(c.startsAt) {
			if _, err := s.Activate(ctx, system, c.id); err != nil {
				s.sweepFailed(ctx, &report, c.id, actionActivate, err)
				continue
			}
			report.Activated++
			status = StatusActive
		}
		if status == StatusActive && !now.Before(c.endsAt) {
			if _, err := s.Complete(ctx, system, c.id); err != nil {
				s.sweepFailed(ctx, &report, c.id, actionComplete, err)
				continue
			}
			report.Completed++
		}
	}
	return report, nil
}

func (s *Service) sweepFailed(ctx context.Context, report *SweepReport, id int64, action string, err error) {
	// Another caller moved the session first.
	if errors.Is(err, fsm.ErrInvalidTransition) {
		return
	}
	report.Failed++
	s.logger.ErrorContext(ctx, "session sweep failed", "session_id", id, "action", action, "err", err)
}

func (s *Service) sweepCandidates(ctx context.Context) ([]sweepCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, status, starts_at, ends_at
FROM quiz_sessions
WHERE status IN ($1, $2)
ORDER BY id ASC`, string(StatusScheduled), string(StatusActive))
	if err != nil {
		return nil, fmt.Errorf("query sweep candidates: %w", err)
	}
	defer rows.Close()

	var out []sweepCandidate
	for rows.Next() {
		var (
			c      sweepCandidate
			status string
		)
		if err := rows.Scan(&c.id, &status, &c.startsAt, &c.endsAt); err != nil {
			return nil, fmt.Errorf("scan sweep candidate: %w", err)
		}
		c.status = Status(status)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sweep candidates: %w", err)
	}
	return out, nil
}
