// Package directory reads user records owned by the institution management
// side of the platform. It never writes.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrUserNotFound = errors.New("user not found")

type Directory struct {
	db *sql.DB
}

func New(conn *sql.DB) *Directory {
	return &Directory{db: conn}
}

func (d *Directory) IsActiveStudent(ctx context.Context, institutionID, studentID int64) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM users
WHERE id = $1 AND institution_id = $2 AND role = 'student' AND is_active = TRUE`, studentID, institutionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check student: %w", err)
	}
	return n > 0, nil
}

func (d *Directory) ActiveStudentIDs(ctx context.Context, institutionID int64) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, `
SELECT id
FROM users
WHERE institution_id = $1 AND role = 'student' AND is_active = TRUE
ORDER BY id ASC`, institutionID)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return out, nil
}

// TeacherInstitution returns the institution of an active teacher.
func (d *Directory) TeacherInstitution(ctx context.Context, teacherID int64) (int64, error) {
	var institutionID int64
	err := d.db.QueryRowContext(ctx, `
SELECT institution_id
FROM users
WHERE id = $1 AND role = 'teacher' AND is_active = TRUE`, teacherID).Scan(&institutionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("load teacher: %w", err)
	}
	return institutionID, nil
}
