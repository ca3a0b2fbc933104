package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Attendance statuses. A check-in within the grace period after session
// start is present, anything after that (up to session end) is late.
const (
	StatusPresent = "present"
	StatusLate    = "late"
)

// DefaultGracePeriod is the window after session start during which a
// check-in still counts as present. The boundary instant is inclusive.
const DefaultGracePeriod = 10 * time.Minute

// Match is the best-scoring enrolled profile for an embedding.
type Match struct {
	ProfileID   int64
	Name        string
	StudentCode string
	Score       float64
}

// Session is one scheduled meeting of a course.
type Session struct {
	ID        int64
	CourseID  int64
	StartTime time.Time
	EndTime   time.Time
	Room      string
}

// CheckInResult is returned to the kiosk after a successful check-in.
type CheckInResult struct {
	ProfileName string    `json:"name"`
	StudentCode string    `json:"student_code"`
	Status      string    `json:"status"`
	SessionID   int64     `json:"schedule_id"`
	CheckInTime time.Time `json:"check_in_time"`
}

// Matcher resolves a face embedding to the nearest enrolled profile above
// a similarity threshold. A nil result with nil error means nothing
// cleared the threshold; that is a normal outcome, not a failure.
type Matcher interface {
	Match(ctx context.Context, embedding []float32, threshold float64, topK int) (*Match, error)
}

// Store is the persistence surface the engine needs for one check-in.
// InsertAttendance must be an atomic conditional insert: it reports false,
// without error, when a record for (session, profile) already exists.
type Store interface {
	IsEnrolled(ctx context.Context, courseID, profileID int64) (bool, error)
	ActiveSession(ctx context.Context, courseID int64, now time.Time) (*Session, error)
	InsertAttendance(ctx context.Context, sessionID, profileID int64, status string, now time.Time) (bool, error)
	UpsertKiosk(ctx context.Context, kioskID string) error
}

// Engine runs the check-in decision pipeline: match, enrollment check,
// session lookup, lateness classification, conditional insert.
type Engine struct {
	matcher      Matcher
	store        Store
	threshold    float64
	topK         int
	matchTimeout time.Duration
	grace        time.Duration
	log          *zap.Logger
}

// NewEngine wires the engine. Zero grace or timeout fall back to defaults.
func NewEngine(matcher Matcher, store Store, threshold float64, topK int, matchTimeout, grace time.Duration, log *zap.Logger) *Engine {
	if topK <= 0 {
		topK = 1
	}
	if matchTimeout <= 0 {
		matchTimeout = 10 * time.Second
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Engine{
		matcher:      matcher,
		store:        store,
		threshold:    threshold,
		topK:         topK,
		matchTimeout: matchTimeout,
		grace:        grace,
		log:          log,
	}
}

// CheckIn decides and records a single attendance event. Exactly one
// attendance row is written on success; every failure path writes nothing.
func (e *Engine) CheckIn(ctx context.Context, courseID int64, embedding []float32, now time.Time) (CheckInResult, error) {
	mctx, cancel := context.WithTimeout(ctx, e.matchTimeout)
	defer cancel()

	match, err := e.matcher.Match(mctx, embedding, e.threshold, e.topK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return CheckInResult{}, fmt.Errorf("%w: %v", ErrMatcherTimeout, err)
		}
		return CheckInResult{}, fmt.Errorf("%w: %v", ErrMatcherUnavailable, err)
	}
	if match == nil {
		return CheckInResult{}, ErrNoMatch
	}

	enrolled, err := e.store.IsEnrolled(ctx, courseID, match.ProfileID)
	if err != nil {
		return CheckInResult{}, fmt.Errorf("enrollment check: %w", err)
	}
	if !enrolled {
		return CheckInResult{}, fmt.Errorf("%w: %s (%s)", ErrNotEnrolled, match.Name, match.StudentCode)
	}

	session, err := e.store.ActiveSession(ctx, courseID, now)
	if err != nil {
		return CheckInResult{}, fmt.Errorf("session lookup: %w", err)
	}
	if session == nil {
		return CheckInResult{}, ErrNoActiveSession
	}

	status := StatusPresent
	if now.After(session.StartTime.Add(e.grace)) {
		status = StatusLate
	}

	inserted, err := e.store.InsertAttendance(ctx, session.ID, match.ProfileID, status, now)
	if err != nil {
		return CheckInResult{}, fmt.Errorf("record attendance: %w", err)
	}
	if !inserted {
		return CheckInResult{}, ErrAlreadyCheckedIn
	}

	e.log.Info("check-in recorded",
		zap.Int64("course_id", courseID),
		zap.Int64("schedule_id", session.ID),
		zap.Int64("profile_id", match.ProfileID),
		zap.String("status", status),
		zap.Float64("score", match.Score),
	)

	return CheckInResult{
		ProfileName: match.Name,
		StudentCode: match.StudentCode,
		Status:      status,
		SessionID:   session.ID,
		CheckInTime: now,
	}, nil
}

// RegisterKiosk validates and persists kiosk metadata.
func (e *Engine) RegisterKiosk(ctx context.Context, kioskID string) error {
	if kioskID == "" {
		return errors.New("kiosk id required")
	}
	return e.store.UpsertKiosk(ctx, kioskID)
}
