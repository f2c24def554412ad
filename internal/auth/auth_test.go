package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestVerifierRoundTrip(t *testing.T) {
	v := NewVerifier("secret", "quizlms-test")
	want := Principal{UserID: 42, Role: RoleTeacher, InstitutionID: 7}

	token, err := v.Sign(want, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := v.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("principal = %+v, want %+v", got, want)
	}
}

func TestVerifierRejects(t *testing.T) {
	v := NewVerifier("secret", "quizlms-test")
	good, _ := v.Sign(Principal{UserID: 1, Role: RoleStudent, InstitutionID: 1}, time.Hour)
	expired, _ := v.Sign(Principal{UserID: 1, Role: RoleStudent, InstitutionID: 1}, -time.Minute)
	otherIssuer, _ := NewVerifier("secret", "elsewhere").Sign(Principal{UserID: 1, Role: RoleStudent}, time.Hour)
	otherKey, _ := NewVerifier("other", "quizlms-test").Sign(Principal{UserID: 1, Role: RoleStudent}, time.Hour)
	badRole, _ := v.Sign(Principal{UserID: 1, Role: RoleSystem}, time.Hour)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{Subject: "1", Issuer: "quizlms-test"}})
	noneToken, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"tampered":    good + "x",
		"expired":     expired,
		"issuer":      otherIssuer,
		"key":         otherKey,
		"system role": badRole,
		"alg none":    noneToken,
		"not a token": "abc",
	}
	for name, token := range cases {
		if _, err := v.Parse(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestCanManage(t *testing.T) {
	cases := []struct {
		name string
		p    Principal
		want bool
	}{
		{name: "owning teacher", p: Principal{UserID: 5, Role: RoleTeacher, InstitutionID: 1}, want: true},
		{name: "other teacher", p: Principal{UserID: 6, Role: RoleTeacher, InstitutionID: 1}, want: false},
		{name: "admin same institution", p: Principal{UserID: 9, Role: RoleAdmin, InstitutionID: 1}, want: true},
		{name: "admin other institution", p: Principal{UserID: 9, Role: RoleAdmin, InstitutionID: 2}, want: false},
		{name: "student", p: Principal{UserID: 5, Role: RoleStudent, InstitutionID: 1}, want: false},
		{name: "system", p: System(), want: true},
	}
	for _, tc := range cases {
		if got := tc.p.CanManage(5, 1); got != tc.want {
			t.Fatalf("%s: CanManage = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret", "")
	teacherToken, _ := v.Sign(Principal{UserID: 3, Role: RoleTeacher, InstitutionID: 1}, time.Hour)
	studentToken, _ := v.Sign(Principal{UserID: 4, Role: RoleStudent, InstitutionID: 1}, time.Hour)

	var seen Principal
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CurrentPrincipal(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireAuth(v)(RequireRoles(RoleTeacher, RoleAdmin)(final))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer " + studentToken, want: http.StatusForbidden},
		{name: "teacher", header: "Bearer " + teacherToken, want: http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, rr.Code, tc.want)
		}
	}
	if seen.UserID != 3 || seen.Role != RoleTeacher {
		t.Fatalf("principal not propagated: %+v", seen)
	}
}
