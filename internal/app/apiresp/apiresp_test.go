package apiresp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/sessions", nil)
	rr := httptest.NewRecorder()

	WriteFields(rr, req, http.StatusBadRequest, "", map[string]string{"title": "is required"})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	var env Envelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.OK || env.Error == nil {
		t.Fatalf("expected error envelope, got %+v", env)
	}
	if env.Error.Code != "invalid_request" || env.Error.Message != "Bad Request" {
		t.Fatalf("unexpected error payload: %+v", env.Error)
	}
	if env.Error.Fields["title"] != "is required" {
		t.Fatalf("fields not propagated: %+v", env.Error.Fields)
	}
}

func TestWriteOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	WriteOK(rr, req, http.StatusCreated, map[string]int{"id": 9})

	var env struct {
		OK    bool            `json:"ok"`
		Data  map[string]int  `json:"data"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rr.Code != http.StatusCreated || !env.OK || env.Data["id"] != 9 || env.Error != nil {
		t.Fatalf("unexpected response: %d %+v", rr.Code, env)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
}
