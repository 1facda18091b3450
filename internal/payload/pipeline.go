package payload

import (
	"strconv"
	"time"

	"github.com/hpungsan/qrform/internal/errors"
	"github.com/hpungsan/qrform/internal/questionnaire"
)

// Prepared is the result of the deterministic half of the pipeline: every
// stage up to and including the size gate.
type Prepared struct {
	Answers questionnaire.AnswerSet
	CSV     string
	Gated
}

// Prepare resolves, serializes, transcodes, compresses and gates answers.
//
// On PAYLOAD_TOO_LARGE the returned Prepared is still populated so the caller
// can report the measured size. On any other error it is nil.
func Prepare(t *questionnaire.Template, answers questionnaire.AnswerSet) (*Prepared, error) {
	if t == nil {
		return nil, errors.NewInvalidRequest("template is required")
	}
	resolved, err := questionnaire.Resolve(t, answers)
	if err != nil {
		return nil, err
	}

	text := Serialize(t, resolved)
	sjis, err := ToShiftJIS(text)
	if err != nil {
		return nil, err
	}
	compressed, err := Compress(sjis)
	if err != nil {
		return nil, err
	}

	p := &Prepared{
		Answers: resolved,
		CSV:     text,
		Gated:   Gate(compressed, t.MaxPayloadBytes),
	}
	if p.Over {
		return p, p.Gated.Err()
	}
	return p, nil
}

// LogRecord is the telemetry entry emitted once per confirm attempt.
type LogRecord struct {
	Timestamp    string   `json:"timestamp"`
	DepartmentID int      `json:"department_id"`
	PayloadSize  int      `json:"payload_size"`
	PayloadOver  bool     `json:"payload_over"`
	Errors       []string `json:"errors"`
}

// NewLogRecord builds a record stamped with now in UTC ISO-8601. A department
// that is not numeric is recorded as 0. Errors is never nil.
func NewLogRecord(now time.Time, department string, size int, over bool, errs ...string) LogRecord {
	id, err := strconv.Atoi(department)
	if err != nil {
		id = 0
	}
	if errs == nil {
		errs = []string{}
	}
	return LogRecord{
		Timestamp:    now.UTC().Format("2006-01-02T15:04:05.000Z"),
		DepartmentID: id,
		PayloadSize:  size,
		PayloadOver:  over,
		Errors:       errs,
	}
}
