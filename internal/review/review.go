// Package review renders the confirmation summary a respondent checks before
// the payload is sealed.
package review

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/qrform/internal/questionnaire"
)

// Item is one visible question and its answer as displayed.
type Item struct {
	ID       string                     `json:"id"`
	Label    string                     `json:"label"`
	Type     questionnaire.QuestionType `json:"type"`
	Answered bool                       `json:"answered"`
	Display  string                     `json:"display"`
	Image    string                     `json:"image,omitempty"`
	Point    *questionnaire.Point       `json:"point,omitempty"`
}

// Build lists the visible questions of t in template order with their
// answers formatted for display. Answers are resolved first.
func Build(t *questionnaire.Template, answers questionnaire.AnswerSet) ([]Item, error) {
	resolved, err := questionnaire.Resolve(t, answers)
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, q := range questionnaire.VisibleQuestions(t, resolved) {
		item := Item{ID: q.ID, Label: q.DisplayLabel(), Type: q.Type, Image: q.Image}
		if a, ok := resolved[q.ID]; ok {
			item.Answered = true
			item.Display = Format(q, a)
			if p, ok := a.(questionnaire.Point); ok {
				item.Point = &p
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// Format renders a single answer for people: option ids become labels,
// bitmasks are expanded, coordinates are shown to two decimals.
func Format(q *questionnaire.Question, a questionnaire.Answer) string {
	switch v := a.(type) {
	case questionnaire.Text:
		if q.Type == questionnaire.TypeSelect {
			return optionLabel(q, string(v))
		}
		return string(v)
	case questionnaire.Choice:
		labels := make([]string, len(v))
		for i, id := range v {
			labels[i] = optionLabel(q, id)
		}
		return strings.Join(labels, ", ")
	case questionnaire.Bitmask:
		var labels []string
		for i := range q.Options {
			if questionnaire.Selected(q, v, i) {
				labels = append(labels, q.Options[i].Label)
			}
		}
		return strings.Join(labels, ", ")
	case questionnaire.Point:
		return "(" + axis(v.X) + ", " + axis(v.Y) + ")"
	}
	return ""
}

func axis(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func optionLabel(q *questionnaire.Question, id string) string {
	for _, o := range q.Options {
		if o.ID == id {
			return o.Label
		}
	}
	return id
}

// Markdown renders items as a bulleted list under the template name.
func Markdown(t *questionnaire.Template, items []Item) string {
	var b strings.Builder
	title := t.Name
	if title == "" {
		title = t.ID
	}
	fmt.Fprintf(&b, "# %s\n\n", escape(title))
	for _, it := range items {
		value := it.Display
		if !it.Answered {
			value = "-"
		}
		fmt.Fprintf(&b, "- **%s:** %s\n", escape(it.Label), escape(value))
	}
	return b.String()
}

// HTML renders the markdown summary with goldmark. Raw HTML in answers is
// never passed through.
func HTML(t *questionnaire.Template, items []Item) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(t, items)), &buf); err != nil {
		return "", fmt.Errorf("render review: %w", err)
	}
	return buf.String(), nil
}

// escape backslash-escapes characters with markdown meaning.
func escape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' {
			b.WriteByte(' ')
			continue
		}
		if strings.ContainsRune("\\`*_{}[]()<>#+-.!|~&", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
