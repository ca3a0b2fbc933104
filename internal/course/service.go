package course

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCourseNotFound  = errors.New("course not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidTemplate = errors.New("template start time must be before end time")
	ErrNameRequired    = errors.New("course name required")
)

// CreateInput is the admin request to create a course. The template fields
// are only used at creation time to materialize the weekly sessions.
type CreateInput struct {
	Name              string     `json:"name" binding:"required"`
	CourseCode        string     `json:"course_code"`
	LecturerID        *int64     `json:"lecturer_id"`
	TemplateStartTime *time.Time `json:"template_start_time"`
	TemplateEndTime   *time.Time `json:"template_end_time"`
	TemplateRoom      string     `json:"template_room"`
	NumberOfSessions  int        `json:"number_of_sessions"`
}

// Window is one generated session slot.
type Window struct {
	StartTime time.Time
	EndTime   time.Time
	Room      string
}

// Service owns course CRUD and session materialization.
type Service struct {
	repo *Repository
	log  *zap.Logger
}

// NewService creates a course service.
func NewService(repo *Repository, log *zap.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Create persists the course and, when the recurrence template is present,
// one session per week for NumberOfSessions weeks. Sessions are immutable
// after this point.
func (s *Service) Create(ctx context.Context, in CreateInput) (Course, error) {
	if in.Name == "" {
		return Course{}, ErrNameRequired
	}
	sessions, err := materializeSessions(in)
	if err != nil {
		return Course{}, err
	}

	c, err := s.repo.Create(ctx, in, sessions)
	if err != nil {
		return Course{}, err
	}
	s.log.Info("course created",
		zap.Int64("course_id", c.ID),
		zap.String("course_code", c.CourseCode),
		zap.Int("sessions", len(sessions)),
	)
	return c, nil
}

// materializeSessions expands the recurrence template into weekly windows.
func materializeSessions(in CreateInput) ([]Window, error) {
	if in.NumberOfSessions <= 0 || in.TemplateStartTime == nil || in.TemplateEndTime == nil {
		return nil, nil
	}
	if !in.TemplateStartTime.Before(*in.TemplateEndTime) {
		return nil, ErrInvalidTemplate
	}

	sessions := make([]Window, 0, in.NumberOfSessions)
	for i := 0; i < in.NumberOfSessions; i++ {
		offset := time.Duration(i) * 7 * 24 * time.Hour
		sessions = append(sessions, Window{
			StartTime: in.TemplateStartTime.Add(offset),
			EndTime:   in.TemplateEndTime.Add(offset),
			Room:      in.TemplateRoom,
		})
	}
	return sessions, nil
}

// List returns all courses with lecturer and schedule summaries.
func (s *Service) List(ctx context.Context) ([]Course, error) {
	return s.repo.List(ctx)
}

// Get returns one course with its schedules.
func (s *Service) Get(ctx context.Context, id int64) (Course, error) {
	return s.repo.Get(ctx, id)
}

// SessionDetail returns one session with its attendees and the enrolled
// students who did not check in.
func (s *Service) SessionDetail(ctx context.Context, scheduleID int64) (SessionDetail, error) {
	return s.repo.SessionDetail(ctx, scheduleID)
}
