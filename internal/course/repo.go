package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Course is a subject offering with its scheduled sessions.
type Course struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	CourseCode   string     `json:"course_code,omitempty"`
	LecturerID   *int64     `json:"lecturer_id,omitempty"`
	LecturerName string     `json:"lecturer_name,omitempty"`
	Schedules    []Schedule `json:"schedules"`
}

// Schedule is one session row as exposed over the API.
type Schedule struct {
	ID        int64     `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Room      string    `json:"room,omitempty"`
}

// Attendee is one recorded check-in within a session.
type Attendee struct {
	LogID       int64     `json:"id"`
	ProfileID   int64     `json:"profile_id"`
	Name        string    `json:"name"`
	StudentCode string    `json:"student_code"`
	Status      string    `json:"status"`
	CheckInTime time.Time `json:"check_in_time"`
}

// Absentee is an enrolled student with no check-in for the session.
type Absentee struct {
	ProfileID   int64  `json:"profile_id"`
	Name        string `json:"name"`
	StudentCode string `json:"student_code"`
}

// SessionDetail is the roster view of one session.
type SessionDetail struct {
	Schedule
	CourseID   int64      `json:"course_id"`
	CourseName string     `json:"course_name"`
	Attendees  []Attendee `json:"attendees"`
	Absentees  []Absentee `json:"absentees"`
}

// Repository persists courses and schedules in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts the course and its materialized sessions in one
// transaction, so a failed schedule insert never leaves a bare course.
func (r *Repository) Create(ctx context.Context, in CreateInput, sessions []Window) (Course, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Course{}, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO courses (name, course_code, lecturer_id, template_start_time, template_end_time, template_room, number_of_sessions)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING id
	`, in.Name, in.CourseCode, in.LecturerID, in.TemplateStartTime, in.TemplateEndTime, in.TemplateRoom, in.NumberOfSessions).Scan(&id)
	if err != nil {
		return Course{}, fmt.Errorf("insert course: %w", err)
	}

	schedules := make([]Schedule, 0, len(sessions))
	for _, w := range sessions {
		var sid int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO schedules (course_id, start_time, end_time, room)
			VALUES ($1, $2, $3, NULLIF($4, ''))
			RETURNING id
		`, id, w.StartTime, w.EndTime, w.Room).Scan(&sid)
		if err != nil {
			return Course{}, fmt.Errorf("insert schedule: %w", err)
		}
		schedules = append(schedules, Schedule{ID: sid, StartTime: w.StartTime, EndTime: w.EndTime, Room: w.Room})
	}

	if err := tx.Commit(); err != nil {
		return Course{}, err
	}

	return Course{
		ID:         id,
		Name:       in.Name,
		CourseCode: in.CourseCode,
		LecturerID: in.LecturerID,
		Schedules:  schedules,
	}, nil
}

// List returns all courses with lecturer names and schedules.
func (r *Repository) List(ctx context.Context) ([]Course, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.name, COALESCE(c.course_code, ''), c.lecturer_id, COALESCE(p.name, '')
		FROM courses c
		LEFT JOIN lecturers l ON l.id = c.lecturer_id
		LEFT JOIN profiles p ON p.id = l.profile_id
		ORDER BY c.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courses []Course
	index := make(map[int64]int)
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Name, &c.CourseCode, &c.LecturerID, &c.LecturerName); err != nil {
			return nil, err
		}
		c.Schedules = []Schedule{}
		index[c.ID] = len(courses)
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	srows, err := r.db.QueryContext(ctx, `
		SELECT course_id, id, start_time, end_time, COALESCE(room, '')
		FROM schedules
		ORDER BY course_id, start_time
	`)
	if err != nil {
		return nil, err
	}
	defer srows.Close()

	for srows.Next() {
		var courseID int64
		var s Schedule
		if err := srows.Scan(&courseID, &s.ID, &s.StartTime, &s.EndTime, &s.Room); err != nil {
			return nil, err
		}
		if i, ok := index[courseID]; ok {
			courses[i].Schedules = append(courses[i].Schedules, s)
		}
	}
	return courses, srows.Err()
}

// Get returns one course with its schedules.
func (r *Repository) Get(ctx context.Context, id int64) (Course, error) {
	var c Course
	err := r.db.QueryRowContext(ctx, `
		SELECT c.id, c.name, COALESCE(c.course_code, ''), c.lecturer_id, COALESCE(p.name, '')
		FROM courses c
		LEFT JOIN lecturers l ON l.id = c.lecturer_id
		LEFT JOIN profiles p ON p.id = l.profile_id
		WHERE c.id = $1
	`, id).Scan(&c.ID, &c.Name, &c.CourseCode, &c.LecturerID, &c.LecturerName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Course{}, ErrCourseNotFound
		}
		return Course{}, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, start_time, end_time, COALESCE(room, '')
		FROM schedules
		WHERE course_id = $1
		ORDER BY start_time
	`, id)
	if err != nil {
		return Course{}, err
	}
	defer rows.Close()

	c.Schedules = []Schedule{}
	for rows.Next() {
		var s Schedule
		if err := rows.Scan(&s.ID, &s.StartTime, &s.EndTime, &s.Room); err != nil {
			return Course{}, err
		}
		c.Schedules = append(c.Schedules, s)
	}
	return c, rows.Err()
}

// SessionDetail returns a session with its attendees and absentees.
func (r *Repository) SessionDetail(ctx context.Context, scheduleID int64) (SessionDetail, error) {
	var d SessionDetail
	err := r.db.QueryRowContext(ctx, `
		SELECT s.id, s.start_time, s.end_time, COALESCE(s.room, ''), s.course_id, c.name
		FROM schedules s
		JOIN courses c ON c.id = s.course_id
		WHERE s.id = $1
	`, scheduleID).Scan(&d.ID, &d.StartTime, &d.EndTime, &d.Room, &d.CourseID, &d.CourseName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionDetail{}, ErrSessionNotFound
		}
		return SessionDetail{}, err
	}

	arows, err := r.db.QueryContext(ctx, `
		SELECT al.id, al.profile_id, p.name, COALESCE(p.student_code, ''), al.status, al.check_in_time
		FROM attendance_logs al
		JOIN profiles p ON p.id = al.profile_id
		WHERE al.schedule_id = $1
		ORDER BY al.check_in_time
	`, scheduleID)
	if err != nil {
		return SessionDetail{}, err
	}
	defer arows.Close()

	d.Attendees = []Attendee{}
	for arows.Next() {
		var a Attendee
		if err := arows.Scan(&a.LogID, &a.ProfileID, &a.Name, &a.StudentCode, &a.Status, &a.CheckInTime); err != nil {
			return SessionDetail{}, err
		}
		d.Attendees = append(d.Attendees, a)
	}
	if err := arows.Err(); err != nil {
		return SessionDetail{}, err
	}

	brows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.name, COALESCE(p.student_code, '')
		FROM enrollments e
		JOIN profiles p ON p.id = e.profile_id
		WHERE e.course_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM attendance_logs al
			WHERE al.schedule_id = $2 AND al.profile_id = p.id
		  )
		ORDER BY p.name
	`, d.CourseID, scheduleID)
	if err != nil {
		return SessionDetail{}, err
	}
	defer brows.Close()

	d.Absentees = []Absentee{}
	for brows.Next() {
		var a Absentee
		if err := brows.Scan(&a.ProfileID, &a.Name, &a.StudentCode); err != nil {
			return SessionDetail{}, err
		}
		d.Absentees = append(d.Absentees, a)
	}
	return d, brows.Err()
}
