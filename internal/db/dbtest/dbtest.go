// Package dbtest provides migrated in-memory databases for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"quizlms/internal/db"
)

// Open returns a migrated in-memory SQLite handle that is closed on cleanup.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := db.Migrate(ctx, conn, db.DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// SeedUser inserts a directory row and returns its id.
func SeedUser(t testing.TB, conn *sql.DB, role string, institutionID int64, active bool) int64 {
	t.Helper()

	var id int64
	err := conn.QueryRowContext(context.Background(), `
INSERT INTO users (full_name, role, institution_id, is_active)
VALUES ($1, $2, $3, $4)
RETURNING id`, role+" user", role, institutionID, active).Scan(&id)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}
