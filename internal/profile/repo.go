package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("profile not found")

// Profile is a person (student or lecturer).
type Profile struct {
	ID          int64     `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	StudentCode string    `json:"student_code,omitempty"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
}

// Lecturer is the dropdown view of a lecturer.
type Lecturer struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Repository persists profiles and lecturers in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateLecturer creates the profile and its lecturer row in one
// transaction.
func (r *Repository) CreateLecturer(ctx context.Context, name string) (Lecturer, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Lecturer{}, err
	}
	defer tx.Rollback()

	var profileID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO profiles (user_id, name, role)
		VALUES ($1, $2, 'lecturer')
		RETURNING id
	`, uuid.New(), name).Scan(&profileID)
	if err != nil {
		return Lecturer{}, fmt.Errorf("insert profile: %w", err)
	}

	var lecturerID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO lecturers (profile_id)
		VALUES ($1)
		RETURNING id
	`, profileID).Scan(&lecturerID)
	if err != nil {
		return Lecturer{}, fmt.Errorf("insert lecturer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Lecturer{}, err
	}
	return Lecturer{ID: lecturerID, Name: name}, nil
}

// ListLecturers returns (lecturer id, name) pairs for dropdowns.
func (r *Repository) ListLecturers(ctx context.Context) ([]Lecturer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.id, p.name
		FROM lecturers l
		JOIN profiles p ON p.id = l.profile_id
		ORDER BY l.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lecturers := []Lecturer{}
	for rows.Next() {
		var l Lecturer
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			return nil, err
		}
		lecturers = append(lecturers, l)
	}
	return lecturers, rows.Err()
}

// GetByStudentCode returns the profile with the given external code.
func (r *Repository) GetByStudentCode(ctx context.Context, code string) (Profile, error) {
	var p Profile
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, COALESCE(student_code, ''), name, role
		FROM profiles
		WHERE student_code = $1
	`, code).Scan(&p.ID, &p.UserID, &p.StudentCode, &p.Name, &p.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	return p, err
}
