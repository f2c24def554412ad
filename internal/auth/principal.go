package auth

import (
	"context"
	"errors"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	// RoleSystem is used by the sweeper for caller-less transitions.
	RoleSystem Role = "system"
)

var ErrForbidden = errors.New("forbidden")

// Principal is the acting identity passed explicitly into every core operation.
type Principal struct {
	UserID        int64 `json:"user_id"`
	Role          Role  `json:"role"`
	InstitutionID int64 `json:"institution_id"`
}

func System() Principal {
	return Principal{Role: RoleSystem}
}

func (p Principal) IsStudent() bool { return p.Role == RoleStudent }

// CanManage reports whether p may mutate or inspect records owned by the
// given teacher within the given institution.
func (p Principal) CanManage(teacherID, institutionID int64) bool {
	switch p.Role {
	case RoleSystem:
		return true
	case RoleTeacher:
		return p.UserID == teacherID
	case RoleAdmin:
		return p.InstitutionID == institutionID
	default:
		return false
	}
}

type contextKey string

const principalContextKey contextKey = "auth_principal"

func CurrentPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

// ContextWithPrincipal injects an authenticated principal into context.
// Useful for tests and internal handlers.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}
