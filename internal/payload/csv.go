// Package payload turns a resolved answer set into the encrypted string
// carried by the QR code, and back again for consumers holding the private key.
//
// Stages, in order: Serialize (two-line CSV), ToShiftJIS, Compress (raw
// deflate), Gate (base64 + size ceiling), Encrypt (RSA PKCS#1 v1.5, base64).
package payload

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/hpungsan/qrform/internal/questionnaire"
)

// Field is a decoded name/value pair of the CSV format.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Serialize renders answers as exactly two lines: a header row of question ids
// and a row of values. Every field is double quoted with embedded quotes
// doubled; choices are joined with "|"; points are "x,y"; bitmasks are decimal.
//
// Columns follow template question order; ids unknown to the template come
// last in sorted order. The same input always produces the same output.
func Serialize(t *questionnaire.Template, answers questionnaire.AnswerSet) string {
	ids := columnOrder(t, answers)

	header := make([]string, len(ids))
	values := make([]string, len(ids))
	for i, id := range ids {
		header[i] = escapeField(id)
		values[i] = escapeField(FormatAnswer(answers[id]))
	}
	return strings.Join(header, ",") + "\n" + strings.Join(values, ",")
}

// FormatAnswer renders one answer as unescaped CSV text.
func FormatAnswer(a questionnaire.Answer) string {
	switch v := a.(type) {
	case questionnaire.Text:
		return string(v)
	case questionnaire.Choice:
		return strings.Join(v, "|")
	case questionnaire.Bitmask:
		return strconv.FormatUint(uint64(v), 10)
	case questionnaire.Point:
		return formatFloat(v.X) + "," + formatFloat(v.Y)
	}
	return ""
}

func columnOrder(t *questionnaire.Template, answers questionnaire.AnswerSet) []string {
	ids := make([]string, 0, len(answers))
	known := make(map[string]bool)
	if t != nil {
		for _, q := range t.Questions {
			known[q.ID] = true
			if _, ok := answers[q.ID]; ok {
				ids = append(ids, q.ID)
			}
		}
	}
	for _, id := range answers.Keys() {
		if !known[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

func escapeField(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// formatFloat writes the shortest representation that round-trips; no
// precision is dropped.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseCSV reads the two-line format back into ordered fields.
func ParseCSV(text string) ([]Field, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	if len(records) != 2 {
		return nil, fmt.Errorf("parse csv: expected 2 lines, got %d", len(records))
	}
	header, values := records[0], records[1]
	if len(header) != len(values) {
		return nil, fmt.Errorf("parse csv: %d names but %d values", len(header), len(values))
	}
	fields := make([]Field, len(header))
	for i := range header {
		fields[i] = Field{Name: header[i], Value: values[i]}
	}
	return fields, nil
}
