package validation

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsKeepsFirstMessagePerField(t *testing.T) {
	errs := Errors{}
	errs.Add("title", "is required")
	errs.Add("title", "is too long")
	errs.Add("ends_at", "must be after starts_at")

	if errs["title"] != "is required" {
		t.Fatalf("title message = %q", errs["title"])
	}
	want := "validation failed: ends_at: must be after starts_at; title: is required"
	if got := errs.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestErrReturnsNilWhenEmpty(t *testing.T) {
	if err := (Errors{}).Err(); err != nil {
		t.Fatalf("empty Errors.Err() = %v, want nil", err)
	}
}

func TestFieldsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("create session: %w", Single("title", "is required"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("wrapped validation error should match ErrInvalid")
	}
	fields, ok := Fields(err)
	if !ok || fields["title"] != "is required" {
		t.Fatalf("Fields() = %v, %v", fields, ok)
	}
	if _, ok := Fields(errors.New("other")); ok {
		t.Fatalf("Fields() on plain error should be false")
	}
}
