package result

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"quizlms/internal/auth"
	"quizlms/internal/fsm"
	"quizlms/internal/grading"

	"github.com/go-chi/chi/v5"
)

type mockResultService struct {
	submitFn     func(ctx context.Context, p auth.Principal, resultID int64, answers []AnswerInput) (*Submission, error)
	getFn        func(ctx context.Context, p auth.Principal, resultID int64) (*Detail, error)
	reviewFn     func(ctx context.Context, p auth.Principal, resultID int64, in ReviewInput) (*Detail, error)
	markGradedFn func(ctx context.Context, p auth.Principal, resultID int64) (*Result, error)
	publishFn    func(ctx context.Context, p auth.Principal, resultID int64) (*Result, error)
}

func (m *mockResultService) Submit(ctx context.Context, p auth.Principal, resultID int64, answers []AnswerInput) (*Submission, error) {
	if m.submitFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.submitFn(ctx, p, resultID, answers)
}

func (m *mockResultService) Get(ctx context.Context, p auth.Principal, resultID int64) (*Detail, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, p, resultID)
}

func (m *mockResultService) Review(ctx context.Context, p auth.Principal, resultID int64, in ReviewInput) (*Detail, error) {
	if m.reviewFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.reviewFn(ctx, p, resultID, in)
}

func (m *mockResultService) MarkGraded(ctx context.Context, p auth.Principal, resultID int64) (*Result, error) {
	if m.markGradedFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.markGradedFn(ctx, p, resultID)
}

func (m *mockResultService) Publish(ctx context.Context, p auth.Principal, resultID int64) (*Result, error) {
	if m.publishFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.publishFn(ctx, p, resultID)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func asPrincipal(r *http.Request, p auth.Principal) *http.Request {
	return r.WithContext(auth.ContextWithPrincipal(r.Context(), p))
}

func TestSubmitResponsesPassesAnswers(t *testing.T) {
	var got []AnswerInput
	h := NewHandler(&mockResultService{
		submitFn: func(ctx context.Context, p auth.Principal, resultID int64, answers []AnswerInput) (*Submission, error) {
			if resultID != 12 || p.UserID != 7 {
				t.Fatalf("unexpected call result=%d principal=%+v", resultID, p)
			}
			got = answers
			return &Submission{ResultID: resultID, Status: StatusSubmitted, Summary: grading.Summary{TotalPoints: 2, MaxPoints: 2, Percentage: 100, Grade: 20}}, nil
		},
	}, nil)

	body := bytes.NewBufferString(`{"answers":[{"question_id":3,"answer":"Paris","time_spent":12}]}`)
	req := withChiParam(httptest.NewRequest(http.MethodPost, "/results/12/responses", body), "id", "12")
	req = asPrincipal(req, auth.Principal{UserID: 7, Role: auth.RoleStudent, InstitutionID: 1})
	rr := httptest.NewRecorder()

	h.SubmitResponses(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if len(got) != 1 || got[0].QuestionID != 3 || string(got[0].Answer) != `"Paris"` || got[0].TimeSpent != 12 {
		t.Fatalf("answers not decoded: %+v", got)
	}
	data, _ := decodeBody(t, rr)["data"].(map[string]interface{})
	if data["grade"] != float64(20) || data["status"] != "submitted" {
		t.Fatalf("unexpected data: %v", data)
	}
}

func TestResultHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "already completed", err: ErrAlreadyCompleted, want: http.StatusConflict},
		{name: "session cancelled", err: ErrSessionCancelled, want: http.StatusConflict},
		{name: "question not found", err: ErrQuestionNotFound, want: http.StatusNotFound},
		{name: "result not found", err: ErrResultNotFound, want: http.StatusNotFound},
		{name: "forbidden", err: auth.ErrForbidden, want: http.StatusForbidden},
		{name: "not visible", err: ErrResultNotVisible, want: http.StatusForbidden},
		{name: "transition", err: &fsm.TransitionError{Entity: "result", Action: "grade", Current: "published", Allowed: []string{"submitted"}}, want: http.StatusBadRequest},
		{name: "internal", err: errors.New("connection reset"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewHandler(&mockResultService{
			markGradedFn: func(ctx context.Context, p auth.Principal, resultID int64) (*Result, error) {
				return nil, tc.err
			},
		}, nil)
		req := withChiParam(httptest.NewRequest(http.MethodPost, "/results/5/mark-graded", nil), "id", "5")
		req = asPrincipal(req, auth.Principal{UserID: 1, Role: auth.RoleTeacher, InstitutionID: 1})
		rr := httptest.NewRecorder()

		h.MarkGraded(rr, req)

		if rr.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, rr.Code, tc.want)
		}
	}
}

func TestSubmitResponsesRejectsBadBody(t *testing.T) {
	h := NewHandler(&mockResultService{}, nil)
	req := withChiParam(httptest.NewRequest(http.MethodPost, "/results/1/responses", bytes.NewBufferString(`{`)), "id", "1")
	req = asPrincipal(req, auth.Principal{UserID: 7, Role: auth.RoleStudent})
	rr := httptest.NewRecorder()

	h.SubmitResponses(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}
