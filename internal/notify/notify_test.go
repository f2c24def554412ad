package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"quizlms/internal/db/dbtest"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestDispatcherAssignsIDAndDelivers(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, nil)

	d.Dispatch(Event{Type: EventSessionCreated, UserIDs: []int64{1, 2}, Title: "New quiz"})
	d.Dispatch(Event{Type: EventSessionCreated, Title: "nobody"})
	d.Wait()

	if len(rec.events) != 1 {
		t.Fatalf("delivered %d events, want 1", len(rec.events))
	}
	ev := rec.events[0]
	if len(ev.ID) != 36 || ev.CreatedAt.IsZero() {
		t.Fatalf("event id/created_at not assigned: %+v", ev)
	}
}

func TestDispatcherLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	d := NewDispatcher(&recordingNotifier{err: errors.New("smtp down")}, logger)

	d.Dispatch(Event{ID: "evt-1", Type: EventSessionCompleted, UserIDs: []int64{3}})
	d.Wait()

	if !strings.Contains(buf.String(), "smtp down") || !strings.Contains(buf.String(), "evt-1") {
		t.Fatalf("failure not logged: %s", buf.String())
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{err: errors.New("b failed")}
	err := Fanout{a, b}.Notify(context.Background(), Event{ID: "x"})
	if err == nil || !strings.Contains(err.Error(), "b failed") {
		t.Fatalf("err = %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("every notifier should be called")
	}
}

func TestOutboxPersistsEvent(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	expires := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	err := NewOutbox(conn).Notify(ctx, Event{
		ID:        "0b5a1c36-4f1e-4a8e-9d55-5f1f2f7f8c11",
		Type:      EventSessionCreated,
		UserIDs:   []int64{4, 5},
		Title:     "New quiz session",
		Message:   "Geography starts soon",
		Payload:   map[string]any{"session_id": 9},
		ExpiresAt: &expires,
		CreatedAt: expires.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	var userIDs, payload string
	var gotExpires time.Time
	if err := conn.QueryRowContext(ctx, `
SELECT user_ids, payload, expires_at FROM notification_outbox WHERE event_id = $1`, "0b5a1c36-4f1e-4a8e-9d55-5f1f2f7f8c11").Scan(&userIDs, &payload, &gotExpires); err != nil {
		t.Fatalf("load outbox row: %v", err)
	}
	var ids []int64
	if err := json.Unmarshal([]byte(userIDs), &ids); err != nil || len(ids) != 2 {
		t.Fatalf("user ids = %s", userIDs)
	}
	if payload != `{"session_id":9}` {
		t.Fatalf("payload = %s", payload)
	}
	if !gotExpires.Equal(expires) {
		t.Fatalf("expires_at = %v, want %v", gotExpires, expires)
	}
}
