package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Profile is a person known to the system.
type Profile struct {
	ID          int64     `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	StudentCode string    `json:"student_code,omitempty"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
}

// Repository persists attendance data in Postgres. It implements both the
// engine's Store and, via the pgvector index, its Matcher.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Match runs the nearest-neighbor query over enrolled embeddings and
// returns the best hit at or above threshold, or nil when none clears it.
func (r *Repository) Match(ctx context.Context, embedding []float32, threshold float64, topK int) (*Match, error) {
	if topK <= 0 {
		topK = 1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.name, COALESCE(p.student_code, ''), 1 - (fe.embedding <=> $1) AS score
		FROM face_embeddings fe
		JOIN profiles p ON p.id = fe.profile_id
		ORDER BY fe.embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ProfileID, &m.Name, &m.StudentCode, &m.Score); err != nil {
			return nil, err
		}
		if m.Score >= threshold {
			return &m, nil
		}
	}
	return nil, rows.Err()
}

// IsEnrolled reports whether the profile is enrolled in the course.
func (r *Repository) IsEnrolled(ctx context.Context, courseID, profileID int64) (bool, error) {
	var enrolled bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM enrollments WHERE course_id = $1 AND profile_id = $2
		)
	`, courseID, profileID).Scan(&enrolled)
	return enrolled, err
}

// ActiveSession returns the session of the course whose time window
// contains now. With overlapping schedules the earliest start wins.
func (r *Repository) ActiveSession(ctx context.Context, courseID int64, now time.Time) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, course_id, start_time, end_time, COALESCE(room, '')
		FROM schedules
		WHERE course_id = $1 AND start_time <= $2 AND end_time >= $2
		ORDER BY start_time ASC, id ASC
		LIMIT 1
	`, courseID, now)
	var s Session
	if err := row.Scan(&s.ID, &s.CourseID, &s.StartTime, &s.EndTime, &s.Room); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// InsertAttendance writes one attendance record. The unique constraint on
// (schedule_id, profile_id) makes the existence check and the insert a
// single test-and-set; a conflict reports false with no error.
func (r *Repository) InsertAttendance(ctx context.Context, sessionID, profileID int64, status string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_logs (schedule_id, profile_id, status, check_in_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (schedule_id, profile_id) DO NOTHING
	`, sessionID, profileID, status, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// EnrollFace creates the profile for studentCode if needed and stores its
// embedding, overwriting any previous one.
func (r *Repository) EnrollFace(ctx context.Context, studentCode, name string, embedding []float32) (Profile, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Profile{}, err
	}
	defer tx.Rollback()

	var p Profile
	err = tx.QueryRowContext(ctx, `
		INSERT INTO profiles (user_id, student_code, name, role)
		VALUES ($1, $2, $3, 'student')
		ON CONFLICT (student_code) DO UPDATE SET
			name = CASE WHEN profiles.name = '' THEN EXCLUDED.name ELSE profiles.name END
		RETURNING id, user_id, COALESCE(student_code, ''), name, role
	`, uuid.New(), studentCode, name).Scan(&p.ID, &p.UserID, &p.StudentCode, &p.Name, &p.Role)
	if err != nil {
		return Profile{}, fmt.Errorf("upsert profile: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO face_embeddings (profile_id, embedding)
		VALUES ($1, $2)
		ON CONFLICT (profile_id) DO UPDATE SET embedding = EXCLUDED.embedding
	`, p.ID, pgvector.NewVector(embedding))
	if err != nil {
		return Profile{}, fmt.Errorf("upsert embedding: %w", err)
	}

	return p, tx.Commit()
}

// UpsertKiosk ensures a kiosk record exists.
func (r *Repository) UpsertKiosk(ctx context.Context, kioskID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kiosks (kiosk_id)
		VALUES ($1)
		ON CONFLICT (kiosk_id) DO NOTHING
	`, kioskID)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, kioskID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (kiosk_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, kioskID, token, expiresAt)
	return err
}
