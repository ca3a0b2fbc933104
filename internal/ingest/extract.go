package ingest

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrNoValidRecords means the upload produced no (code, name) pair at all.
// Individual malformed rows are dropped silently; only a fully empty
// result is an error.
var ErrNoValidRecords = errors.New("no valid student records found in file")

// maxScanColumns bounds the per-row scan so files padded with empty
// columns stay cheap.
const maxScanColumns = 20

var studentCodeRE = regexp.MustCompile(`(?i)^B\d{2}[A-Z]{2,6}\d{3}$`)

// StudentRecord is one recovered (student code, display name) pair.
type StudentRecord struct {
	Code string
	Name string
}

// ExtractStudentRecords scans a raw table for student rows. Column order
// and headers are unknown, so every cell is classified independently and
// the first hit of each kind in a row wins. A row yields a record only if
// it produced both a code and a resolvable name: a direct fullname cell,
// or a surname plus a firstname cell.
func ExtractStudentRecords(rows [][]string, clf CellClassifier) ([]StudentRecord, error) {
	var records []StudentRecord

	for _, row := range rows {
		var code, fullname, surname, firstname string

		for i, cell := range row {
			if i >= maxScanColumns {
				break
			}
			val := strings.TrimSpace(cell)
			if utf8.RuneCountInString(val) < 2 || strings.EqualFold(val, "nan") {
				continue
			}

			switch clf.Classify(CellFeatures(val)) {
			case LabelID:
				if code == "" && studentCodeRE.MatchString(val) {
					code = strings.ToUpper(val)
				}
			case LabelFullname:
				if fullname == "" && !containsDigit(val) {
					fullname = val
				}
			case LabelSurname:
				if surname == "" && !containsDigit(val) {
					surname = val
				}
			case LabelFirstname:
				if firstname == "" && !containsDigit(val) {
					firstname = val
				}
			}
		}

		if code == "" {
			continue
		}

		name := fullname
		if name == "" && surname != "" && firstname != "" {
			name = surname + " " + firstname
		}
		if name == "" {
			continue
		}

		records = append(records, StudentRecord{
			Code: code,
			Name: normalizeName(name),
		})
	}

	if len(records) == 0 {
		return nil, ErrNoValidRecords
	}
	return records, nil
}

// normalizeName collapses whitespace and title-cases each word.
func normalizeName(name string) string {
	collapsed := strings.Join(strings.Fields(name), " ")
	return cases.Title(language.Und).String(collapsed)
}
