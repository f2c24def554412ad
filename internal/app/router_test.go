package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"quizlms/internal/auth"
	"quizlms/internal/db"
	"quizlms/internal/db/dbtest"
)

type apiResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

type testClient struct {
	t *testing.T
	h http.Handler
}

func (c testClient) do(method, path, token string, body any) (int, apiResult) {
	c.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	c.h.ServeHTTP(w, req)

	var out apiResult
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			c.t.Fatalf("%s %s: decode response: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w.Code, out
}

func (c testClient) expect(want int, method, path, token string, body any) apiResult {
	c.t.Helper()
	status, out := c.do(method, path, token, body)
	if status != want {
		c.t.Fatalf("%s %s: expected %d, got %d (%+v)", method, path, want, status, out.Error)
	}
	return out
}

func decodeData[T any](t *testing.T, res apiResult) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(res.Data, &out); err != nil {
		t.Fatalf("decode data: %v (%s)", err, res.Data)
	}
	return out
}

func signToken(t *testing.T, p auth.Principal) string {
	t.Helper()
	tok, err := auth.NewVerifier("test-secret", "").Sign(p, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func newTestServer(t *testing.T) (*Server, testClient, *seededUsers) {
	t.Helper()
	conn := dbtest.Open(t)
	users := &seededUsers{
		teacher: dbtest.SeedUser(t, conn, "teacher", 1, true),
		student: dbtest.SeedUser(t, conn, "student", 1, true),
	}

	srv := NewServer(Config{
		JWTSecret:             "test-secret",
		RateLimitPerMin:       60,
		SessionCodeAttempts:   10,
		AutoPublishOnComplete: true,
	}, conn, db.DialectSQLite, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(srv.Dispatcher.Wait)

	return srv, testClient{t: t, h: srv.Handler}, users
}

type seededUsers struct {
	teacher int64
	student int64
}

func TestHealthzIsPublic(t *testing.T) {
	_, c, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	c.h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestMetricsRequiresAdmin(t *testing.T) {
	_, c, users := newTestServer(t)
	teacher := signToken(t, auth.Principal{UserID: users.teacher, Role: auth.RoleTeacher, InstitutionID: 1})
	admin := signToken(t, auth.Principal{UserID: 1, Role: auth.RoleAdmin, InstitutionID: 1})

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{name: "anonymous", want: http.StatusUnauthorized},
		{name: "teacher", token: teacher, want: http.StatusForbidden},
		{name: "admin", token: admin, want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			w := httptest.NewRecorder()
			c.h.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestAPIRequiresToken(t *testing.T) {
	_, c, _ := newTestServer(t)

	out := c.expect(http.StatusUnauthorized, http.MethodGet, "/api/v1/sessions", "", nil)
	if out.Error == nil || out.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized envelope, got %+v", out.Error)
	}
}

func TestStudentCannotReachStaffRoutes(t *testing.T) {
	_, c, users := newTestServer(t)
	student := signToken(t, auth.Principal{UserID: users.student, Role: auth.RoleStudent, InstitutionID: 1})

	c.expect(http.StatusForbidden, http.MethodPost, "/api/v1/quizzes", student, map[string]any{"title": "Nope"})
	c.expect(http.StatusForbidden, http.MethodGet, "/api/v1/sessions", student, nil)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	_, c, users := newTestServer(t)
	teacher := signToken(t, auth.Principal{UserID: users.teacher, Role: auth.RoleTeacher, InstitutionID: 1})
	student := signToken(t, auth.Principal{UserID: users.student, Role: auth.RoleStudent, InstitutionID: 1})

	quiz := decodeData[struct {
		ID int64 `json:"id"`
	}](t, c.expect(http.StatusCreated, http.MethodPost, "/api/v1/quizzes", teacher, map[string]any{
		"title": "Fractions",
	}))
	quizPath := "/api/v1/quizzes/" + strconv.FormatInt(quiz.ID, 10)

	q := decodeData[struct {
		ID int64 `json:"id"`
	}](t, c.expect(http.StatusCreated, http.MethodPost, quizPath+"/questions", teacher, map[string]any{
		"text":           "Is 1/2 equal to 2/4?",
		"question_type":  "true_false",
		"correct_answer": "true",
		"points":         2,
	}))
	c.expect(http.StatusOK, http.MethodPost, quizPath+"/publish", teacher, nil)

	startsAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	sessionBody := map[string]any{
		"quiz_id":   quiz.ID,
		"title":     "Period 1",
		"starts_at": startsAt,
		"ends_at":   startsAt.Add(time.Hour),
	}
	sess := decodeData[struct {
		ID     int64  `json:"id"`
		Code   string `json:"session_code"`
		Status string `json:"status"`
	}](t, c.expect(http.StatusCreated, http.MethodPost, "/api/v1/sessions", teacher, sessionBody))
	if sess.Status != "scheduled" || len(sess.Code) != 6 {
		t.Fatalf("unexpected session %+v", sess)
	}
	sessionPath := "/api/v1/sessions/" + strconv.FormatInt(sess.ID, 10)

	dup := c.expect(http.StatusUnprocessableEntity, http.MethodPost, "/api/v1/sessions", teacher, sessionBody)
	if dup.Error == nil || dup.Error.Fields["title"] == "" {
		t.Fatalf("expected title field error, got %+v", dup.Error)
	}

	c.expect(http.StatusOK, http.MethodPatch, sessionPath+"/activate", teacher, nil)

	joined := decodeData[struct {
		ResultID int64 `json:"result_id"`
		Quiz     struct {
			Questions []map[string]any `json:"questions"`
		} `json:"quiz"`
	}](t, c.expect(http.StatusOK, http.MethodPost, "/api/v1/sessions/join", student, map[string]any{
		"session_code": sess.Code,
	}))
	if len(joined.Quiz.Questions) != 1 {
		t.Fatalf("expected one question, got %d", len(joined.Quiz.Questions))
	}
	if _, leaked := joined.Quiz.Questions[0]["correct_answer"]; leaked {
		t.Fatalf("answer key leaked to student: %+v", joined.Quiz.Questions[0])
	}
	resultPath := "/api/v1/results/" + strconv.FormatInt(joined.ResultID, 10)

	sub := decodeData[struct {
		Status      string  `json:"status"`
		TotalPoints int     `json:"total_points"`
		MaxPoints   int     `json:"max_points"`
		Percentage  float64 `json:"percentage"`
	}](t, c.expect(http.StatusOK, http.MethodPost, resultPath+"/responses", student, map[string]any{
		"answers": []map[string]any{{"question_id": q.ID, "answer": "true", "time_spent": 12}},
	}))
	if sub.Status != "submitted" || sub.TotalPoints != 2 || sub.MaxPoints != 2 || sub.Percentage != 100 {
		t.Fatalf("unexpected submission %+v", sub)
	}

	c.expect(http.StatusForbidden, http.MethodGet, resultPath, student, nil)

	done := decodeData[struct {
		PublishedResults int64 `json:"published_results"`
	}](t, c.expect(http.StatusOK, http.MethodPatch, sessionPath+"/complete", teacher, nil))
	if done.PublishedResults != 1 {
		t.Fatalf("expected one published result, got %d", done.PublishedResults)
	}

	visible := decodeData[struct {
		Status string `json:"status"`
	}](t, c.expect(http.StatusOK, http.MethodGet, resultPath, student, nil))
	if visible.Status != "published" {
		t.Fatalf("expected published result, got %s", visible.Status)
	}

	c.expect(http.StatusOK, http.MethodGet, sessionPath+"/statistics", teacher, nil)
	c.expect(http.StatusBadRequest, http.MethodPatch, sessionPath+"/cancel", teacher, nil)
}
