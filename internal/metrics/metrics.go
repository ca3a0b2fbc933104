package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CheckinsTotal counts check-in attempts by outcome (present, late,
// no_match, not_enrolled, no_active_session, already_checked_in,
// matcher_unavailable, matcher_timeout, error).
var CheckinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classattend_checkins_total",
	Help: "Check-in attempts by outcome.",
}, []string{"outcome"})

// IngestRecordsTotal counts student records recovered from uploads.
var IngestRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "classattend_ingest_records_total",
	Help: "Student records recovered from enrollment uploads.",
})

// IngestProfilesCreatedTotal counts profiles created by enrollment uploads.
var IngestProfilesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "classattend_ingest_profiles_created_total",
	Help: "New profiles created during enrollment uploads.",
})
