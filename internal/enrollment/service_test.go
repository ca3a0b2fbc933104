package enrollment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"classattend/internal/ingest"
)

type fakeRepo struct {
	profiles map[string]int64
	nextID   int64

	enrolled   map[int64]map[int64]bool // courseID -> profileID
	failEnroll bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		profiles: map[string]int64{},
		nextID:   1,
		enrolled: map[int64]map[int64]bool{},
	}
}

func (r *fakeRepo) FindProfilesByCodes(ctx context.Context, codes []string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, code := range codes {
		if id, ok := r.profiles[code]; ok {
			out[code] = id
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateProfiles(ctx context.Context, records []ingest.StudentRecord) (int, error) {
	created := 0
	for _, rec := range records {
		if _, ok := r.profiles[rec.Code]; ok {
			continue
		}
		r.profiles[rec.Code] = r.nextID
		r.nextID++
		created++
	}
	return created, nil
}

func (r *fakeRepo) InsertEnrollments(ctx context.Context, courseID int64, profileIDs []int64) (int, error) {
	if r.failEnroll {
		return 0, errors.New("enrollments insert failed")
	}
	if r.enrolled[courseID] == nil {
		r.enrolled[courseID] = map[int64]bool{}
	}
	inserted := 0
	for _, id := range profileIDs {
		if r.enrolled[courseID][id] {
			continue
		}
		r.enrolled[courseID][id] = true
		inserted++
	}
	return inserted, nil
}

func (r *fakeRepo) GetOrCreateProfile(ctx context.Context, code, name string) (int64, error) {
	if id, ok := r.profiles[code]; ok {
		return id, nil
	}
	id := r.nextID
	r.nextID++
	r.profiles[code] = id
	return id, nil
}

type fakeOCR struct {
	ids []string
	err error
}

func (o *fakeOCR) ExtractIDs(ctx context.Context, filename string, data []byte) ([]string, error) {
	return o.ids, o.err
}

// ruleClassifier mirrors the decision surface of the trained cell model
// closely enough for fixture rows.
type ruleClassifier struct{}

func (ruleClassifier) Classify(f [ingest.FeatureCount]float64) ingest.Label {
	switch {
	case f[3] == 1 && f[2] == 1:
		return ingest.LabelID
	case f[2] == 0 && f[1] >= 2:
		return ingest.LabelFullname
	default:
		return ingest.LabelOther
	}
}

func newTestService(repo Repo, ocr OCR) *Service {
	return NewService(repo, ocr, ruleClassifier{}, zap.NewNop())
}

var csvUpload = Upload{
	Filename:    "students.csv",
	ContentType: "text/csv",
	Data:        []byte("1,B21DCAT007,Nguyen Van A\n2,B22DCPT090,Tran Thi B\n"),
}

func TestEnrollFromUpload_CSV(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeOCR{})

	summary, err := svc.EnrollFromUpload(context.Background(), 1, csvUpload)
	assert.NoError(t, err)
	assert.Equal(t, Summary{Records: 2, NewProfiles: 2, Enrolled: 2}, summary)
	assert.Len(t, repo.enrolled[1], 2)
}

func TestEnrollFromUpload_Idempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeOCR{})

	_, err := svc.EnrollFromUpload(context.Background(), 1, csvUpload)
	assert.NoError(t, err)

	// Re-uploading the same file creates nothing and errors nothing.
	summary, err := svc.EnrollFromUpload(context.Background(), 1, csvUpload)
	assert.NoError(t, err)
	assert.Equal(t, Summary{Records: 2, NewProfiles: 0, Enrolled: 0}, summary)
	assert.Len(t, repo.enrolled[1], 2)
}

func TestEnrollFromUpload_ExistingProfilesReused(t *testing.T) {
	repo := newFakeRepo()
	repo.profiles["B21DCAT007"] = 99
	repo.nextID = 100
	svc := newTestService(repo, &fakeOCR{})

	summary, err := svc.EnrollFromUpload(context.Background(), 1, csvUpload)
	assert.NoError(t, err)
	assert.Equal(t, Summary{Records: 2, NewProfiles: 1, Enrolled: 2}, summary)
	assert.True(t, repo.enrolled[1][99])
}

func TestEnrollFromUpload_ImagePath(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeOCR{ids: []string{"b21dcat007", "B22DCPT090"}})

	summary, err := svc.EnrollFromUpload(context.Background(), 3, Upload{
		Filename:    "list.jpg",
		ContentType: "image/jpeg",
		Data:        []byte{0xff, 0xd8},
	})
	assert.NoError(t, err)
	assert.Equal(t, Summary{Records: 2, NewProfiles: 2, Enrolled: 2}, summary)
	// OCR codes are upper-cased before materialization.
	_, ok := repo.profiles["B21DCAT007"]
	assert.True(t, ok)
}

func TestEnrollFromUpload_InvalidFileType(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeOCR{})

	_, err := svc.EnrollFromUpload(context.Background(), 1, Upload{
		Filename:    "notes.pdf",
		ContentType: "application/pdf",
	})
	assert.ErrorIs(t, err, ErrInvalidFileType)
}

func TestEnrollFromUpload_NoValidRecords(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeOCR{})

	_, err := svc.EnrollFromUpload(context.Background(), 1, Upload{
		Filename:    "empty.csv",
		ContentType: "text/csv",
		Data:        []byte("just,a,header\nno,ids,here\n"),
	})
	assert.ErrorIs(t, err, ingest.ErrNoValidRecords)
}

func TestEnrollFromUpload_ClassifierNotLoaded(t *testing.T) {
	svc := NewService(newFakeRepo(), &fakeOCR{}, nil, zap.NewNop())

	_, err := svc.EnrollFromUpload(context.Background(), 1, csvUpload)
	assert.ErrorIs(t, err, ErrClassifierNotLoaded)
}

func TestEnrollFromUpload_EnrollFailureKeepsProfiles(t *testing.T) {
	repo := newFakeRepo()
	repo.failEnroll = true
	svc := newTestService(repo, &fakeOCR{})

	_, err := svc.EnrollFromUpload(context.Background(), 1, csvUpload)
	assert.Error(t, err)
	// Phase one committed independently: the created profiles survive the
	// failed enrollment batch.
	assert.Len(t, repo.profiles, 2)
}

func TestEnrollFromUpload_DuplicateCodesInFile(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeOCR{})

	summary, err := svc.EnrollFromUpload(context.Background(), 1, Upload{
		Filename:    "dup.csv",
		ContentType: "text/csv",
		Data:        []byte("B21DCAT007,Nguyen Van A\nB21DCAT007,Nguyen Van A\n"),
	})
	assert.NoError(t, err)
	assert.Equal(t, Summary{Records: 1, NewProfiles: 1, Enrolled: 1}, summary)
}

func TestAddStudent(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeOCR{})

	id, err := svc.AddStudent(context.Background(), 1, "B21DCAT007", "Nguyen Van A")
	assert.NoError(t, err)
	assert.True(t, repo.enrolled[1][id])

	// Enrolling the same student again is a no-op, not an error.
	again, err := svc.AddStudent(context.Background(), 1, "B21DCAT007", "Nguyen Van A")
	assert.NoError(t, err)
	assert.Equal(t, id, again)

	_, err = svc.AddStudent(context.Background(), 1, "", "No Code")
	assert.Error(t, err)
}
