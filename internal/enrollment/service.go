package enrollment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"classattend/internal/ingest"
	"classattend/internal/metrics"
)

var (
	ErrInvalidFileType        = errors.New("only .csv, .xls, .xlsx and image files are supported")
	ErrClassifierNotLoaded    = errors.New("cell classifier model not loaded")
	ErrNoResolvableEnrollment = errors.New("no students could be resolved for enrollment")
)

// Upload is a raw enrollment file as received from the admin UI.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Summary reports what an upload did.
type Summary struct {
	Records     int `json:"records"`
	NewProfiles int `json:"new_profiles"`
	Enrolled    int `json:"enrolled"`
}

// OCR extracts student codes from a photographed class list.
type OCR interface {
	ExtractIDs(ctx context.Context, filename string, data []byte) ([]string, error)
}

// Repo is the persistence surface for enrollment materialization. Profile
// creation and enrollment insert commit independently, so a failed
// enrollment batch never discards already-created profiles.
type Repo interface {
	FindProfilesByCodes(ctx context.Context, codes []string) (map[string]int64, error)
	CreateProfiles(ctx context.Context, records []ingest.StudentRecord) (int, error)
	InsertEnrollments(ctx context.Context, courseID int64, profileIDs []int64) (int, error)
	GetOrCreateProfile(ctx context.Context, code, name string) (int64, error)
}

// Service turns uploaded class lists into profiles and enrollments.
type Service struct {
	repo Repo
	ocr  OCR
	clf  ingest.CellClassifier
	log  *zap.Logger
}

// NewService wires the enrollment service. clf may be nil when the cell
// model is not available; tabular uploads then fail with
// ErrClassifierNotLoaded while the image path keeps working.
func NewService(repo Repo, ocr OCR, clf ingest.CellClassifier, log *zap.Logger) *Service {
	return &Service{repo: repo, ocr: ocr, clf: clf, log: log}
}

// EnrollFromUpload recovers (code, name) pairs from the file and enrolls
// them into the course. Re-uploading the same file is idempotent: existing
// profiles and enrollments are skipped, not errors.
func (s *Service) EnrollFromUpload(ctx context.Context, courseID int64, up Upload) (Summary, error) {
	records, err := s.extractRecords(ctx, up)
	if err != nil {
		return Summary{}, err
	}
	metrics.IngestRecordsTotal.Add(float64(len(records)))
	return s.materialize(ctx, courseID, records)
}

// extractRecords dispatches on the upload type.
func (s *Service) extractRecords(ctx context.Context, up Upload) ([]ingest.StudentRecord, error) {
	ct := strings.ToLower(up.ContentType)
	name := strings.ToLower(up.Filename)

	switch {
	case strings.Contains(ct, "image"):
		ids, err := s.ocr.ExtractIDs(ctx, up.Filename, up.Data)
		if err != nil {
			return nil, err
		}
		records := make([]ingest.StudentRecord, 0, len(ids))
		for _, id := range ids {
			records = append(records, ingest.StudentRecord{Code: strings.ToUpper(id)})
		}
		if len(records) == 0 {
			return nil, ingest.ErrNoValidRecords
		}
		return records, nil

	case strings.Contains(ct, "csv") || strings.HasSuffix(name, ".csv"):
		if s.clf == nil {
			return nil, ErrClassifierNotLoaded
		}
		rows, err := ingest.ReadCSV(up.Data)
		if err != nil {
			return nil, err
		}
		return ingest.ExtractStudentRecords(rows, s.clf)

	case strings.Contains(ct, "sheet") || strings.Contains(ct, "excel") ||
		strings.HasSuffix(name, ".xlsx") || strings.HasSuffix(name, ".xls"):
		if s.clf == nil {
			return nil, ErrClassifierNotLoaded
		}
		rows, err := ingest.ReadXLSX(up.Data)
		if err != nil {
			return nil, err
		}
		return ingest.ExtractStudentRecords(rows, s.clf)

	default:
		return nil, ErrInvalidFileType
	}
}

// materialize runs the two-phase commit: create missing profiles, then
// enroll everyone. Both phases use conflict-as-success inserts so
// concurrent uploads of the same students cannot duplicate rows.
func (s *Service) materialize(ctx context.Context, courseID int64, records []ingest.StudentRecord) (Summary, error) {
	unique := dedupe(records)
	codes := make([]string, 0, len(unique))
	for _, rec := range unique {
		codes = append(codes, rec.Code)
	}

	existing, err := s.repo.FindProfilesByCodes(ctx, codes)
	if err != nil {
		return Summary{}, fmt.Errorf("find profiles: %w", err)
	}

	var missing []ingest.StudentRecord
	for _, rec := range unique {
		if _, ok := existing[rec.Code]; !ok {
			missing = append(missing, rec)
		}
	}

	created := 0
	if len(missing) > 0 {
		created, err = s.repo.CreateProfiles(ctx, missing)
		if err != nil {
			return Summary{}, fmt.Errorf("create profiles: %w", err)
		}
		metrics.IngestProfilesCreatedTotal.Add(float64(created))

		// Re-resolve after the insert: a concurrent upload may have
		// created some of these codes first, which is success here.
		existing, err = s.repo.FindProfilesByCodes(ctx, codes)
		if err != nil {
			return Summary{}, fmt.Errorf("resolve profiles: %w", err)
		}
	}

	profileIDs := make([]int64, 0, len(codes))
	for _, code := range codes {
		if id, ok := existing[code]; ok {
			profileIDs = append(profileIDs, id)
		}
	}
	if len(profileIDs) == 0 {
		return Summary{}, ErrNoResolvableEnrollment
	}

	enrolled, err := s.repo.InsertEnrollments(ctx, courseID, profileIDs)
	if err != nil {
		return Summary{}, fmt.Errorf("insert enrollments: %w", err)
	}

	s.log.Info("enrollment upload processed",
		zap.Int64("course_id", courseID),
		zap.Int("records", len(unique)),
		zap.Int("new_profiles", created),
		zap.Int("enrolled", enrolled),
	)
	return Summary{Records: len(unique), NewProfiles: created, Enrolled: enrolled}, nil
}

// AddStudent enrolls a single student, creating the profile if needed.
// Duplicate enrollment is a no-op.
func (s *Service) AddStudent(ctx context.Context, courseID int64, code, name string) (int64, error) {
	if code == "" {
		return 0, errors.New("student code required")
	}
	profileID, err := s.repo.GetOrCreateProfile(ctx, code, name)
	if err != nil {
		return 0, fmt.Errorf("resolve profile: %w", err)
	}
	if _, err := s.repo.InsertEnrollments(ctx, courseID, []int64{profileID}); err != nil {
		return 0, fmt.Errorf("enroll: %w", err)
	}
	return profileID, nil
}

// dedupe keeps the first record per student code, preserving input order.
func dedupe(records []ingest.StudentRecord) []ingest.StudentRecord {
	seen := make(map[string]bool, len(records))
	out := make([]ingest.StudentRecord, 0, len(records))
	for _, rec := range records {
		if seen[rec.Code] {
			continue
		}
		seen[rec.Code] = true
		out = append(out, rec)
	}
	return out
}
