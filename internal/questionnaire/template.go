// Package questionnaire holds the template model and the pure rules that
// operate on an answer set: conditional visibility, validation and
// multi-select toggling.
package questionnaire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/go-playground/validator/v10"

	"github.com/hpungsan/qrform/internal/errors"
)

// QuestionType enumerates the supported input kinds.
type QuestionType string

const (
	TypeText        QuestionType = "text"
	TypeTextarea    QuestionType = "textarea"
	TypeNumber      QuestionType = "number"
	TypeDate        QuestionType = "date"
	TypeSelect      QuestionType = "select"
	TypeMultiSelect QuestionType = "multi_select"
	TypeCoordinate  QuestionType = "coordinate"
)

// MaxBitflagBit is the highest bit a bitflag option may occupy.
const MaxBitflagBit = 63

// Template is a questionnaire as served for one department.
// It is treated as immutable once parsed.
type Template struct {
	ID              string     `json:"id" validate:"required"`
	Name            string     `json:"name"`
	Questions       []Question `json:"questions" validate:"required,min=1,dive"`
	MaxPayloadBytes int        `json:"max_payload_bytes" validate:"gt=0"`
}

// Question describes a single input of a template.
type Question struct {
	ID              string       `json:"id" validate:"required"`
	Label           string       `json:"label,omitempty"`
	Text            string       `json:"text,omitempty"`
	Type            QuestionType `json:"type" validate:"required,oneof=text textarea number date select multi_select coordinate"`
	Options         []Option     `json:"options,omitempty"`
	Image           string       `json:"image,omitempty"`
	Required        bool         `json:"required,omitempty"`
	MaxLength       *int         `json:"maxLength,omitempty" validate:"omitempty,gt=0"`
	Min             *float64     `json:"min,omitempty"`
	Max             *float64     `json:"max,omitempty"`
	ValidationRegex string       `json:"validationRegex,omitempty"`
	ConditionalOn   *Conditional `json:"conditional_on,omitempty"`
	Bitflag         bool         `json:"bitflag,omitempty"`

	pattern *regexp2.Regexp
}

// DisplayLabel returns the label, falling back to the older "text" key.
func (q *Question) DisplayLabel() string {
	if q.Label != "" {
		return q.Label
	}
	if q.Text != "" {
		return q.Text
	}
	return q.ID
}

// Option is a selectable choice. Templates declare options either as bare
// strings (Plain) or as {id, label} objects.
type Option struct {
	ID    string
	Label string
	Plain bool

	numeric bool
}

// UnmarshalJSON accepts both option styles.
func (o *Option) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = Option{ID: s, Label: s, Plain: true}
		return nil
	}

	var raw struct {
		ID    json.RawMessage `json:"id"`
		Label string          `json:"label"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if len(raw.ID) == 0 {
		return fmt.Errorf("option is missing id")
	}

	var id any
	idDec := json.NewDecoder(bytes.NewReader(raw.ID))
	idDec.UseNumber()
	if err := idDec.Decode(&id); err != nil {
		return err
	}
	switch v := id.(type) {
	case string:
		*o = Option{ID: v, Label: raw.Label}
	case json.Number:
		*o = Option{ID: v.String(), Label: raw.Label, numeric: true}
	default:
		return fmt.Errorf("option id must be a string or number")
	}
	if o.Label == "" {
		o.Label = o.ID
	}
	return nil
}

// MarshalJSON writes the option back in the style it was declared in.
func (o Option) MarshalJSON() ([]byte, error) {
	if o.Plain {
		return json.Marshal(o.ID)
	}
	if o.numeric {
		return []byte(fmt.Sprintf(`{"id":%s,"label":%s}`, o.ID, mustJSON(o.Label))), nil
	}
	return json.Marshal(struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}{o.ID, o.Label})
}

// Conditional makes a question visible only while Field's answer equals Value.
type Conditional struct {
	Field string `json:"field"`
	Value Answer `json:"-"`
}

// UnmarshalJSON decodes value as Text for strings and Bitmask for non-negative integers.
func (c *Conditional) UnmarshalJSON(data []byte) error {
	var raw struct {
		Field string          `json:"field"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Field == "" {
		return fmt.Errorf("conditional_on.field is required")
	}
	value, err := decodeScalar(raw.Value)
	if err != nil {
		return fmt.Errorf("conditional_on.value: %w", err)
	}
	c.Field = raw.Field
	c.Value = value
	return nil
}

// MarshalJSON writes the conditional in template form.
func (c Conditional) MarshalJSON() ([]byte, error) {
	var value any
	switch v := c.Value.(type) {
	case Text:
		value = string(v)
	case Bitmask:
		value = uint64(v)
	default:
		value = nil
	}
	return json.Marshal(struct {
		Field string `json:"field"`
		Value any    `json:"value"`
	}{c.Field, value})
}

// Question returns the question with the given id.
func (t *Template) Question(id string) (*Question, bool) {
	for i := range t.Questions {
		if t.Questions[i].ID == id {
			return &t.Questions[i], true
		}
	}
	return nil, false
}

// BitFor returns the bit a bitflag option occupies: the option's own id for
// object style options, its index for plain string options.
func (q *Question) BitFor(index int) (uint, error) {
	if index < 0 || index >= len(q.Options) {
		return 0, fmt.Errorf("option index %d out of range for question %s", index, q.ID)
	}
	opt := q.Options[index]
	if opt.Plain {
		if index > MaxBitflagBit {
			return 0, fmt.Errorf("question %s has more than %d bitflag options", q.ID, MaxBitflagBit+1)
		}
		return uint(index), nil
	}
	bit, err := strconv.ParseUint(opt.ID, 10, 8)
	if err != nil || bit > MaxBitflagBit {
		return 0, fmt.Errorf("question %s option %q is not a bit number between 0 and %d", q.ID, opt.ID, MaxBitflagBit)
	}
	return uint(bit), nil
}

// Pattern returns the compiled validationRegex, or nil when none is set.
// Patterns use ECMAScript syntax because templates are authored for browsers.
func (q *Question) Pattern() (*regexp2.Regexp, error) {
	if q.ValidationRegex == "" {
		return nil, nil
	}
	if q.pattern != nil {
		return q.pattern, nil
	}
	return regexp2.Compile(q.ValidationRegex, regexp2.ECMAScript)
}

var templateValidate = validator.New()

// ParseTemplate decodes and checks a template document. Any structural
// problem is reported as INVALID_TEMPLATE (or CONDITIONAL_CYCLE).
func ParseTemplate(data []byte) (*Template, error) {
	var t Template
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&t); err != nil {
		return nil, errors.NewInvalidTemplate(fmt.Sprintf("malformed template: %v", err))
	}
	if err := t.Check(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Check validates a decoded template and compiles its patterns.
func (t *Template) Check() error {
	if err := templateValidate.Struct(t); err != nil {
		return errors.NewInvalidTemplate(describeValidation(err))
	}

	seen := make(map[string]bool, len(t.Questions))
	for i := range t.Questions {
		q := &t.Questions[i]
		if seen[q.ID] {
			return errors.NewInvalidTemplate(fmt.Sprintf("duplicate question id %q", q.ID))
		}
		seen[q.ID] = true

		if err := checkQuestion(q); err != nil {
			return err
		}
	}

	for i := range t.Questions {
		q := &t.Questions[i]
		if q.ConditionalOn == nil {
			continue
		}
		if !seen[q.ConditionalOn.Field] {
			return errors.NewInvalidTemplate(fmt.Sprintf("question %q depends on unknown question %q", q.ID, q.ConditionalOn.Field))
		}
		target, _ := t.Question(q.ConditionalOn.Field)
		if !conditionalCanMatch(target, q.ConditionalOn.Value) {
			return errors.NewInvalidTemplate(fmt.Sprintf("question %q: conditional value can never equal an answer to %s question %q", q.ID, target.Type, target.ID))
		}
	}

	return checkConditionalGraph(t)
}

// conditionalCanMatch reports whether value has the same shape as answers to
// target. Bitflag questions store a Bitmask; multi-select without bitflag and
// coordinates have no scalar form; everything else is stored as Text.
func conditionalCanMatch(target *Question, value Answer) bool {
	switch value.(type) {
	case Bitmask:
		return target.Type == TypeMultiSelect && target.Bitflag
	case Text:
		return target.Type != TypeMultiSelect && target.Type != TypeCoordinate
	}
	return false
}

func checkQuestion(q *Question) error {
	if q.Min != nil && q.Max != nil && *q.Min > *q.Max {
		return errors.NewInvalidTemplate(fmt.Sprintf("question %q has min greater than max", q.ID))
	}

	if q.ValidationRegex != "" {
		re, err := regexp2.Compile(q.ValidationRegex, regexp2.ECMAScript)
		if err != nil {
			return errors.NewInvalidTemplate(fmt.Sprintf("question %q has invalid validationRegex: %v", q.ID, err))
		}
		q.pattern = re
	}

	switch q.Type {
	case TypeSelect, TypeMultiSelect:
		if len(q.Options) == 0 {
			return errors.NewInvalidTemplate(fmt.Sprintf("question %q has no options", q.ID))
		}
		plain := q.Options[0].Plain
		ids := make(map[string]bool, len(q.Options))
		for _, opt := range q.Options {
			if opt.Plain != plain {
				return errors.NewInvalidTemplate(fmt.Sprintf("question %q mixes string and object options", q.ID))
			}
			if ids[opt.ID] {
				return errors.NewInvalidTemplate(fmt.Sprintf("question %q has duplicate option %q", q.ID, opt.ID))
			}
			ids[opt.ID] = true
		}
	}

	if q.Bitflag {
		if q.Type != TypeMultiSelect {
			return errors.NewInvalidTemplate(fmt.Sprintf("question %q: bitflag is only valid for multi_select", q.ID))
		}
		bits := make(map[uint]bool, len(q.Options))
		for i := range q.Options {
			bit, err := q.BitFor(i)
			if err != nil {
				return errors.NewInvalidTemplate(err.Error())
			}
			if bits[bit] {
				return errors.NewInvalidTemplate(fmt.Sprintf("question %q maps two options to bit %d", q.ID, bit))
			}
			bits[bit] = true
		}
	}
	return nil
}

// checkConditionalGraph rejects templates whose "depends on" relation has a cycle.
func checkConditionalGraph(t *Template) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(t.Questions))
	deps := make(map[string]string, len(t.Questions))
	for _, q := range t.Questions {
		if q.ConditionalOn != nil {
			deps[q.ID] = q.ConditionalOn.Field
		}
	}

	for _, q := range t.Questions {
		var path []string
		id := q.ID
		for {
			if state[id] == done {
				break
			}
			if state[id] == visiting {
				path = append(path[slices.Index(path, id):], id)
				err := errors.NewConditionalCycle(len(t.Questions) + 1)
				err.Message = "conditional questions form a cycle: " + strings.Join(path, " -> ")
				err.Details["cycle"] = path
				return err
			}
			state[id] = visiting
			path = append(path, id)
			next, ok := deps[id]
			if !ok {
				break
			}
			id = next
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return "invalid template: " + strings.Join(parts, "; ")
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
