package questionnaire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"

	"github.com/hpungsan/qrform/internal/errors"
)

// Answer is one of Text, Choice, Bitmask or Point.
type Answer interface {
	isAnswer()
}

// Text answers text, textarea, number, date and select questions.
type Text string

// Choice is an array-mode multi_select answer: selected option ids.
type Choice []string

// Bitmask is a bitflag-mode multi_select answer.
type Bitmask uint64

// Point is a coordinate normalized to the image bounding box.
// A missing axis is NaN.
type Point struct {
	X float64
	Y float64
}

func (Text) isAnswer()    {}
func (Choice) isAnswer()  {}
func (Bitmask) isAnswer() {}
func (Point) isAnswer()   {}

// HasX reports whether the x axis was supplied.
func (p Point) HasX() bool { return !math.IsNaN(p.X) }

// HasY reports whether the y axis was supplied.
func (p Point) HasY() bool { return !math.IsNaN(p.Y) }

// MarshalJSON omits missing axes.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(answerJSON(p))
}

// Equal is deep equality over answer variants.
func Equal(a, b Answer) bool {
	switch av := a.(type) {
	case Text:
		bv, ok := b.(Text)
		return ok && av == bv
	case Choice:
		bv, ok := b.(Choice)
		return ok && slices.Equal(av, bv)
	case Bitmask:
		bv, ok := b.(Bitmask)
		return ok && av == bv
	case Point:
		bv, ok := b.(Point)
		return ok && av == bv
	case nil:
		return b == nil
	}
	return false
}

// AnswerSet maps question ids to answers. Only answered questions have keys.
type AnswerSet map[string]Answer

// Clone returns a shallow copy; Choice slices are copied too.
func (s AnswerSet) Clone() AnswerSet {
	out := make(AnswerSet, len(s))
	for k, v := range s {
		if c, ok := v.(Choice); ok {
			v = slices.Clone(c)
		}
		out[k] = v
	}
	return out
}

// Keys returns the answered ids in sorted order.
func (s AnswerSet) Keys() []string {
	return slices.Sorted(maps.Keys(s))
}

// MarshalJSON renders answers in the same shape ParseAnswers accepts.
func (s AnswerSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = answerJSON(v)
	}
	return json.Marshal(out)
}

func answerJSON(a Answer) any {
	switch v := a.(type) {
	case Text:
		return string(v)
	case Choice:
		if v == nil {
			return []string{}
		}
		return []string(v)
	case Bitmask:
		return uint64(v)
	case Point:
		p := map[string]any{}
		if v.HasX() {
			p["x"] = v.X
		}
		if v.HasY() {
			p["y"] = v.Y
		}
		return p
	}
	return nil
}

// ParseAnswers decodes a JSON object of answers. Values are decoded according
// to the type of the question they answer; keys unknown to the template are
// decoded by shape. null values are treated as unanswered.
func ParseAnswers(t *Template, data []byte) (AnswerSet, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewInvalidAnswers(fmt.Sprintf("malformed answers: %v", err))
	}

	set := make(AnswerSet, len(raw))
	for _, id := range slices.Sorted(maps.Keys(raw)) {
		msg := bytes.TrimSpace(raw[id])
		if bytes.Equal(msg, []byte("null")) {
			continue
		}
		var q *Question
		if t != nil {
			q, _ = t.Question(id)
		}
		a, err := DecodeAnswer(q, msg)
		if err != nil {
			return nil, errors.NewInvalidAnswers(fmt.Sprintf("answer %q: %v", id, err))
		}
		set[id] = a
	}
	return set, nil
}

// DecodeAnswer decodes one answer value for q (which may be nil).
func DecodeAnswer(q *Question, msg json.RawMessage) (Answer, error) {
	if q == nil {
		return decodeByShape(msg)
	}

	switch q.Type {
	case TypeText, TypeTextarea, TypeDate, TypeSelect:
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return nil, fmt.Errorf("expected a string")
		}
		return Text(s), nil
	case TypeNumber:
		var v any
		dec := json.NewDecoder(bytes.NewReader(msg))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		switch n := v.(type) {
		case string:
			return Text(n), nil
		case json.Number:
			return Text(n.String()), nil
		}
		return nil, fmt.Errorf("expected a number or numeric string")
	case TypeMultiSelect:
		if q.Bitflag {
			return decodeBitmask(msg)
		}
		var c []string
		if err := json.Unmarshal(msg, &c); err != nil {
			return nil, fmt.Errorf("expected an array of option ids")
		}
		return Choice(c), nil
	case TypeCoordinate:
		return decodePoint(msg)
	}
	return nil, fmt.Errorf("unsupported question type %q", q.Type)
}

func decodeByShape(msg json.RawMessage) (Answer, error) {
	if len(msg) == 0 {
		return nil, fmt.Errorf("empty value")
	}
	switch msg[0] {
	case '[':
		var c []string
		if err := json.Unmarshal(msg, &c); err != nil {
			return nil, fmt.Errorf("expected an array of strings")
		}
		return Choice(c), nil
	case '{':
		return decodePoint(msg)
	}
	return decodeScalar(msg)
}

// decodeScalar maps a JSON string to Text and a non-negative integer to Bitmask.
func decodeScalar(msg json.RawMessage) (Answer, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) > 0 && msg[0] == '"' {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return nil, err
		}
		return Text(s), nil
	}
	return decodeBitmask(msg)
}

func decodeBitmask(msg json.RawMessage) (Answer, error) {
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("expected a string or non-negative integer")
	}
	v, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("expected a non-negative integer, got %s", n)
	}
	return Bitmask(v), nil
}

func decodePoint(msg json.RawMessage) (Answer, error) {
	var raw struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, fmt.Errorf("expected an {x, y} object")
	}
	p := Point{X: math.NaN(), Y: math.NaN()}
	if raw.X != nil {
		p.X = *raw.X
	}
	if raw.Y != nil {
		p.Y = *raw.Y
	}
	return p, nil
}
