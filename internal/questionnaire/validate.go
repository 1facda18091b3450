package questionnaire

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hpungsan/qrform/internal/errors"
)

// Validation reasons.
const (
	ReasonRequired        = "this field is required"
	ReasonPattern         = "does not match the required format"
	ReasonNotNumber       = "must be a number"
	ReasonNotDate         = "must be a date (YYYY-MM-DD)"
	ReasonUnknownOption   = "must be one of the listed options"
	ReasonCoordinateAxes  = "both coordinates are required"
	ReasonCoordinateRange = "coordinates must be between 0 and 1"
	ReasonWrongShape      = "unexpected answer type"
)

// Report is the outcome of validating an answer set.
type Report struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors"`
}

// Err returns VALIDATION_FAILED when the report is invalid, nil otherwise.
func (r Report) Err() error {
	if r.Valid {
		return nil
	}
	return errors.NewValidationFailed(r.Errors)
}

// Validate checks every visible question. Hidden questions are never
// validated. Validity is the AND over all per-question results.
func Validate(t *Template, answers AnswerSet) Report {
	resolved, err := Resolve(t, answers)
	if err != nil {
		// Not reachable (see Resolve). Fall back to the raw answers so hidden
		// questions are still skipped by Visible below.
		resolved = answers
	}

	report := Report{Valid: true, Errors: map[string]string{}}
	for i := range t.Questions {
		q := &t.Questions[i]
		if !Visible(resolved, q) {
			continue
		}
		if reason := ValidateQuestion(q, resolved[q.ID]); reason != "" {
			report.Errors[q.ID] = reason
			report.Valid = false
		}
	}
	return report
}

// ValidateQuestion returns the reason a single answer is invalid, or "".
// A nil answer means unanswered.
func ValidateQuestion(q *Question, a Answer) string {
	if isEmpty(a) {
		if q.Required {
			return ReasonRequired
		}
		return ""
	}

	switch q.Type {
	case TypeText, TypeTextarea:
		s, ok := a.(Text)
		if !ok {
			return ReasonWrongShape
		}
		return checkText(q, string(s))
	case TypeNumber:
		s, ok := a.(Text)
		if !ok {
			return ReasonWrongShape
		}
		return checkNumber(q, string(s))
	case TypeDate:
		s, ok := a.(Text)
		if !ok {
			return ReasonWrongShape
		}
		if _, err := time.Parse(time.DateOnly, strings.TrimSpace(string(s))); err != nil {
			return ReasonNotDate
		}
	case TypeSelect:
		s, ok := a.(Text)
		if !ok {
			return ReasonWrongShape
		}
		if !hasOption(q, string(s)) {
			return ReasonUnknownOption
		}
	case TypeMultiSelect:
		return checkMulti(q, a)
	case TypeCoordinate:
		p, ok := a.(Point)
		if !ok {
			return ReasonWrongShape
		}
		if !p.HasX() || !p.HasY() {
			return ReasonCoordinateAxes
		}
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return ReasonCoordinateRange
		}
	}
	return ""
}

func checkText(q *Question, s string) string {
	if q.MaxLength != nil && utf8.RuneCountInString(s) > *q.MaxLength {
		return fmt.Sprintf("must be at most %d characters", *q.MaxLength)
	}
	re, err := q.Pattern()
	if err != nil {
		return ReasonPattern
	}
	if re != nil {
		ok, err := re.MatchString(s)
		if err != nil || !ok {
			return ReasonPattern
		}
	}
	return ""
}

func checkNumber(q *Question, s string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return ReasonNotNumber
	}
	if q.Min != nil && v < *q.Min {
		return fmt.Sprintf("must be at least %s", formatBound(*q.Min))
	}
	if q.Max != nil && v > *q.Max {
		return fmt.Sprintf("must be at most %s", formatBound(*q.Max))
	}
	return ""
}

func checkMulti(q *Question, a Answer) string {
	switch v := a.(type) {
	case Choice:
		if q.Bitflag {
			return ReasonWrongShape
		}
		for _, id := range v {
			if !hasOption(q, id) {
				return ReasonUnknownOption
			}
		}
	case Bitmask:
		if !q.Bitflag {
			return ReasonWrongShape
		}
		var allowed Bitmask
		for i := range q.Options {
			bit, err := q.BitFor(i)
			if err != nil {
				return ReasonUnknownOption
			}
			allowed |= 1 << bit
		}
		if v&^allowed != 0 {
			return ReasonUnknownOption
		}
	default:
		return ReasonWrongShape
	}
	return ""
}

// isEmpty treats absent, "", [] and a zero bitmask as unanswered.
// A Point is never empty; missing axes are reported separately.
func isEmpty(a Answer) bool {
	switch v := a.(type) {
	case nil:
		return true
	case Text:
		return v == ""
	case Choice:
		return len(v) == 0
	case Bitmask:
		return v == 0
	}
	return false
}

func hasOption(q *Question, id string) bool {
	if len(q.Options) == 0 {
		return true
	}
	return slices.ContainsFunc(q.Options, func(o Option) bool { return o.ID == id })
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
