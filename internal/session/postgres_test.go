package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"quizlms/internal/auth"
	"quizlms/internal/db"
	"quizlms/internal/db/dbtest"
	"quizlms/internal/directory"
	"quizlms/internal/question"
	"quizlms/internal/result"
)

// Runs against a real Postgres when QUIZLMS_INTEGRATION=1 and
// QUIZLMS_TEST_DSN are set.
func TestPostgresConcurrentJoinsConverge(t *testing.T) {
	if os.Getenv("QUIZLMS_INTEGRATION") != "1" {
		t.Skip("set QUIZLMS_INTEGRATION=1 to run postgres integration tests")
	}
	dsn := os.Getenv("QUIZLMS_TEST_DSN")
	if dsn == "" {
		t.Fatal("QUIZLMS_TEST_DSN is required for integration tests")
	}

	ctx := context.Background()
	conn, dialect, err := db.Open(ctx, db.Config{Driver: "postgres", DSN: dsn, Pool: db.DefaultPoolConfig()})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := db.Migrate(ctx, conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// A fresh institution keeps reruns independent of earlier data.
	institution := time.Now().UnixNano()
	teacher := auth.Principal{UserID: dbtest.SeedUser(t, conn, "teacher", institution, true), Role: auth.RoleTeacher, InstitutionID: institution}
	students := make([]auth.Principal, 4)
	for i := range students {
		students[i] = auth.Principal{UserID: dbtest.SeedUser(t, conn, "student", institution, true), Role: auth.RoleStudent, InstitutionID: institution}
	}

	quizzes := question.NewService(conn)
	quiz, err := quizzes.CreateQuiz(ctx, teacher, question.CreateQuizInput{Title: "Integration"})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	if _, err := quizzes.AddQuestion(ctx, teacher, quiz.ID, question.QuestionInput{
		Text: "2 + 2 = 4", Type: "true_false", CorrectAnswer: "true", Points: 1,
	}); err != nil {
		t.Fatalf("add question: %v", err)
	}
	if _, err := quizzes.PublishQuiz(ctx, teacher, quiz.ID); err != nil {
		t.Fatalf("publish quiz: %v", err)
	}

	limit := 3
	svc := NewService(conn, dialect, result.NewService(conn, dialect), directory.New(conn), nil, Config{AutoPublish: true})
	sess, err := svc.Create(ctx, teacher, CreateInput{
		QuizID:          quiz.ID,
		Title:           fmt.Sprintf("Concurrent %d", institution),
		StartsAt:        time.Now().Add(time.Hour),
		EndsAt:          time.Now().Add(2 * time.Hour),
		MaxParticipants: &limit,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	const attempts = 8
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[int64]int64)
		rej int
	)
	for i := 0; i < attempts; i++ {
		student := students[i%len(students)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			view, err := svc.Join(ctx, student, sess.Code)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rej++
				return
			}
			if prev, ok := ids[student.UserID]; ok && prev != view.ResultID {
				t.Errorf("student %d got results %d and %d", student.UserID, prev, view.ResultID)
			}
			ids[student.UserID] = view.ResultID
		}()
	}
	wg.Wait()

	if len(ids) > limit {
		t.Fatalf("%d students admitted past a cap of %d", len(ids), limit)
	}
	n, err := result.NewService(conn, dialect).CountBySession(ctx, conn, sess.ID)
	if err != nil {
		t.Fatalf("count results: %v", err)
	}
	if n != len(ids) {
		t.Fatalf("results = %d, admitted students = %d", n, len(ids))
	}
	if rej == 0 {
		t.Fatalf("expected one student to be turned away by the cap")
	}
}
