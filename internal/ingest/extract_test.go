package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ruleClassifier stands in for the trained model. It decides from the same
// feature vector the real model sees: id-prefixed digit strings are IDs,
// multi-word digit-free cells are full names, single digit-free words are
// surnames or firstnames by length.
type ruleClassifier struct{}

func (ruleClassifier) Classify(f [FeatureCount]float64) Label {
	switch {
	case f[3] == 1 && f[2] == 1:
		return LabelID
	case f[2] == 0 && f[1] >= 2:
		return LabelFullname
	case f[2] == 0 && f[1] == 1 && f[0] >= 4:
		return LabelSurname
	case f[2] == 0 && f[1] == 1:
		return LabelFirstname
	default:
		return LabelOther
	}
}

func extract(t *testing.T, rows [][]string) []StudentRecord {
	t.Helper()
	records, err := ExtractStudentRecords(rows, ruleClassifier{})
	assert.NoError(t, err)
	return records
}

func TestExtract_IDAndFullname(t *testing.T) {
	records := extract(t, [][]string{
		{"B21DCAT007", "Nguyen Van A", "", "99"},
	})
	assert.Equal(t, []StudentRecord{{Code: "B21DCAT007", Name: "Nguyen Van A"}}, records)
}

func TestExtract_SurnameFirstnameAssembly(t *testing.T) {
	records := extract(t, [][]string{
		{"B22DCPT090", "Nguyen", "An"},
	})
	assert.Equal(t, []StudentRecord{{Code: "B22DCPT090", Name: "Nguyen An"}}, records)
}

func TestExtract_StrictCodeRegex(t *testing.T) {
	// Looks like an ID to the classifier but fails the strict pattern.
	_, err := ExtractStudentRecords([][]string{
		{"B1DC007", "Nguyen Van A"},
	}, ruleClassifier{})
	assert.ErrorIs(t, err, ErrNoValidRecords)
}

func TestExtract_CodeUppercased(t *testing.T) {
	records := extract(t, [][]string{
		{"b21dcat007", "Nguyen Van A"},
	})
	assert.Equal(t, "B21DCAT007", records[0].Code)
}

func TestExtract_NameNormalized(t *testing.T) {
	records := extract(t, [][]string{
		{"B21DCAT007", "NGUYEN   VAN    A"},
	})
	assert.Equal(t, "Nguyen Van A", records[0].Name)
}

func TestExtract_FirstMatchWins(t *testing.T) {
	records := extract(t, [][]string{
		{"B21DCAT007", "B22DCPT090", "Nguyen Van A", "Tran Thi B"},
	})
	assert.Equal(t, []StudentRecord{{Code: "B21DCAT007", Name: "Nguyen Van A"}}, records)
}

func TestExtract_RowWithoutNameDropped(t *testing.T) {
	records := extract(t, [][]string{
		{"B21DCAT007", "42"},
		{"B22DCPT090", "Nguyen Van A"},
	})
	assert.Equal(t, []StudentRecord{{Code: "B22DCPT090", Name: "Nguyen Van A"}}, records)
}

func TestExtract_SurnameAloneInsufficient(t *testing.T) {
	// A surname with no firstname (and no fullname) cannot resolve a name.
	_, err := ExtractStudentRecords([][]string{
		{"B21DCAT007", "Nguyen"},
	}, ruleClassifier{})
	assert.ErrorIs(t, err, ErrNoValidRecords)
}

func TestExtract_SkipsBlankShortAndNanCells(t *testing.T) {
	records := extract(t, [][]string{
		{"", " ", "x", "nan", "NaN", "B21DCAT007", "Nguyen Van A"},
	})
	assert.Len(t, records, 1)
}

func TestExtract_ScanBoundedToTwentyColumns(t *testing.T) {
	row := make([]string, 22)
	row[0] = "Nguyen Van A"
	row[21] = "B21DCAT007" // beyond the scan bound
	_, err := ExtractStudentRecords([][]string{row}, ruleClassifier{})
	assert.ErrorIs(t, err, ErrNoValidRecords)
}

func TestExtract_EmptyUpload(t *testing.T) {
	_, err := ExtractStudentRecords(nil, ruleClassifier{})
	assert.ErrorIs(t, err, ErrNoValidRecords)
}

func TestExtract_MultipleRows(t *testing.T) {
	records := extract(t, [][]string{
		{"1", "B21DCAT007", "Nguyen Van A"},
		{"2", "bad-code", "Tran Thi B"},
		{"3", "B22DCPT090", "Tran", "An"},
	})
	assert.Equal(t, []StudentRecord{
		{Code: "B21DCAT007", Name: "Nguyen Van A"},
		{Code: "B22DCPT090", Name: "Tran An"},
	}, records)
}
