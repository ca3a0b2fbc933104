package attendance

import "errors"

// Check-in failure taxonomy. Each is a distinct user-facing condition: the
// kiosk renders "face not recognized" very differently from "recognized
// but not enrolled" or "already checked in".
var (
	ErrNoMatch            = errors.New("no enrolled face matched above threshold")
	ErrNotEnrolled        = errors.New("student is not enrolled in this course")
	ErrNoActiveSession    = errors.New("no session is currently in progress for this course")
	ErrAlreadyCheckedIn   = errors.New("student already checked in for this session")
	ErrMatcherUnavailable = errors.New("similarity matcher unavailable")
	ErrMatcherTimeout     = errors.New("similarity matcher timed out")
)
