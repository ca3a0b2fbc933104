package enrollment

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"classattend/internal/ingest"
)

// Enrollee is one roster entry.
type Enrollee struct {
	EnrollmentID int64     `json:"enrollment_id"`
	ProfileID    int64     `json:"profile_id"`
	StudentCode  string    `json:"student_id"`
	StudentName  string    `json:"student_name"`
	JoinedAt     time.Time `json:"joined_at"`
}

// SearchFilter narrows the enrollment search. Zero values are ignored.
type SearchFilter struct {
	CourseID    int64  `json:"course_id"`
	StudentCode string `json:"student_id"`
	StudentName string `json:"student_name"`
	Page        int    `json:"page"`
	PageSize    int    `json:"page_size"`
}

// SearchRow is one search hit with its attendance summary.
type SearchRow struct {
	EnrollmentID   int64   `json:"enrollment_id"`
	CourseID       int64   `json:"course_id"`
	ProfileID      int64   `json:"profile_id"`
	StudentCode    string  `json:"student_id"`
	StudentName    string  `json:"student_name"`
	AttendedCount  int     `json:"attended_count"`
	TotalSessions  int     `json:"total_sessions"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// SearchResult is a page of search hits.
type SearchResult struct {
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
	Rows       []SearchRow `json:"data"`
}

// Repository persists enrollments in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindProfilesByCodes maps existing student codes to profile ids.
func (r *Repository) FindProfilesByCodes(ctx context.Context, codes []string) (map[string]int64, error) {
	out := make(map[string]int64, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_code, id
		FROM profiles
		WHERE student_code = ANY($1)
	`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		var id int64
		if err := rows.Scan(&code, &id); err != nil {
			return nil, err
		}
		out[code] = id
	}
	return out, rows.Err()
}

// CreateProfiles inserts new student profiles, tolerating races on the
// student_code unique constraint. Returns the number actually created.
func (r *Repository) CreateProfiles(ctx context.Context, records []ingest.StudentRecord) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	created := 0
	for _, rec := range records {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO profiles (user_id, student_code, name, role)
			VALUES ($1, $2, $3, 'student')
			ON CONFLICT (student_code) DO NOTHING
		`, uuid.New(), rec.Code, rec.Name)
		if err != nil {
			return 0, fmt.Errorf("insert profile %s: %w", rec.Code, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		created += int(n)
	}
	return created, tx.Commit()
}

// InsertEnrollments enrolls the profiles into the course, skipping pairs
// that already exist. Returns the number of new enrollment rows.
func (r *Repository) InsertEnrollments(ctx context.Context, courseID int64, profileIDs []int64) (int, error) {
	if len(profileIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO enrollments (profile_id, course_id)
		SELECT unnest($1::bigint[]), $2
		ON CONFLICT (profile_id, course_id) DO NOTHING
	`, profileIDs, courseID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetOrCreateProfile resolves a student code to a profile id, creating the
// profile atomically when absent. An existing profile with an empty name
// picks up the provided one.
func (r *Repository) GetOrCreateProfile(ctx context.Context, code, name string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO profiles (user_id, student_code, name, role)
		VALUES ($1, $2, $3, 'student')
		ON CONFLICT (student_code) DO UPDATE SET
			name = CASE WHEN profiles.name = '' THEN EXCLUDED.name ELSE profiles.name END
		RETURNING id
	`, uuid.New(), code, name).Scan(&id)
	return id, err
}

// ListByCourse returns the course roster.
func (r *Repository) ListByCourse(ctx context.Context, courseID int64) ([]Enrollee, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, p.id, COALESCE(p.student_code, ''), p.name, e.joined_at
		FROM enrollments e
		JOIN profiles p ON p.id = e.profile_id
		WHERE e.course_id = $1
		ORDER BY p.name
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	enrollees := []Enrollee{}
	for rows.Next() {
		var e Enrollee
		if err := rows.Scan(&e.EnrollmentID, &e.ProfileID, &e.StudentCode, &e.StudentName, &e.JoinedAt); err != nil {
			return nil, err
		}
		enrollees = append(enrollees, e)
	}
	return enrollees, rows.Err()
}

// Search pages through enrollments with per-student attendance counts for
// the filtered course.
func (r *Repository) Search(ctx context.Context, f SearchFilter) (SearchResult, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 200 {
		f.PageSize = 20
	}

	where := `
		WHERE ($1 = 0 OR e.course_id = $1)
		  AND ($2 = '' OR p.student_code ILIKE '%' || $2 || '%')
		  AND ($3 = '' OR p.name ILIKE '%' || $3 || '%')`

	var total int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM enrollments e
		JOIN profiles p ON p.id = e.profile_id`+where,
		f.CourseID, f.StudentCode, f.StudentName).Scan(&total)
	if err != nil {
		return SearchResult{}, err
	}

	var totalSessions int
	if f.CourseID != 0 {
		err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schedules WHERE course_id = $1`, f.CourseID).Scan(&totalSessions)
		if err != nil {
			return SearchResult{}, err
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.course_id, p.id, COALESCE(p.student_code, ''), p.name,
		       COALESCE((
			SELECT COUNT(*)
			FROM attendance_logs al
			JOIN schedules s ON s.id = al.schedule_id
			WHERE al.profile_id = p.id
			  AND s.course_id = e.course_id
			  AND al.status IN ('present', 'late')
		       ), 0)
		FROM enrollments e
		JOIN profiles p ON p.id = e.profile_id`+where+`
		ORDER BY e.id
		LIMIT $4 OFFSET $5
	`, f.CourseID, f.StudentCode, f.StudentName, f.PageSize, (f.Page-1)*f.PageSize)
	if err != nil {
		return SearchResult{}, err
	}
	defer rows.Close()

	result := SearchResult{
		Total:      total,
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(f.PageSize))),
		Rows:       []SearchRow{},
	}
	for rows.Next() {
		var row SearchRow
		if err := rows.Scan(&row.EnrollmentID, &row.CourseID, &row.ProfileID, &row.StudentCode, &row.StudentName, &row.AttendedCount); err != nil {
			return SearchResult{}, err
		}
		row.TotalSessions = totalSessions
		if totalSessions > 0 {
			row.AttendanceRate = math.Round(float64(row.AttendedCount)/float64(totalSessions)*1000) / 10
		}
		result.Rows = append(result.Rows, row)
	}
	return result, rows.Err()
}
