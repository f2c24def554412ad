// Package notify hands session events to the notification subsystem.
// Delivery is best effort; callers never wait on or fail because of it.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventSessionCreated   = "session_created"
	EventSessionCompleted = "session_completed"
)

type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"event_type"`
	UserIDs   []int64        `json:"user_ids"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Outbox appends events to notification_outbox for the delivery worker.
type Outbox struct {
	db *sql.DB
}

func NewOutbox(conn *sql.DB) *Outbox {
	return &Outbox{db: conn}
}

func (o *Outbox) Notify(ctx context.Context, ev Event) error {
	userIDs, err := json.Marshal(ev.UserIDs)
	if err != nil {
		return fmt.Errorf("encode user ids: %w", err)
	}
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	var expiresAt any
	if ev.ExpiresAt != nil {
		expiresAt = ev.ExpiresAt.UTC().Truncate(time.Second)
	}
	_, err = o.db.ExecContext(ctx, `
INSERT INTO notification_outbox (event_id, event_type, user_ids, title, message, payload, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.Type, string(userIDs), ev.Title, ev.Message, string(rawPayload), expiresAt, ev.CreatedAt.UTC().Truncate(time.Second))
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, ev Event) error {
	l.logger.InfoContext(ctx, "notification",
		"event_id", ev.ID, "event_type", ev.Type, "recipients", len(ev.UserIDs), "title", ev.Title)
	return nil
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher sends events asynchronously and only logs failures.
type Dispatcher struct {
	next    Notifier
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewDispatcher(next Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{next: next, logger: logger, timeout: 10 * time.Second, now: time.Now}
}

func (d *Dispatcher) Dispatch(ev Event) {
	if len(ev.UserIDs) == 0 {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = d.now()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.next.Notify(ctx, ev); err != nil {
			d.logger.Warn("notification dispatch failed",
				"event_id", ev.ID, "event_type", ev.Type, "recipients", len(ev.UserIDs), "err", err)
		}
	}()
}

// Wait blocks until in-flight dispatches finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
