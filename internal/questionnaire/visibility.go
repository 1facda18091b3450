package questionnaire

import (
	"github.com/hpungsan/qrform/internal/errors"
)

// Visible reports whether q is shown given answers. A conditional question
// is shown only while the answer to its field deep-equals the declared value.
func Visible(answers AnswerSet, q *Question) bool {
	if q.ConditionalOn == nil {
		return true
	}
	target, ok := answers[q.ConditionalOn.Field]
	if !ok {
		return false
	}
	return Equal(target, q.ConditionalOn.Value)
}

// Resolve returns a copy of answers with every answer to a hidden question
// removed. Removing one answer can hide further questions, so scans repeat
// until one produces no removal. The input is not modified.
//
// Every scan except the last deletes at least one answered id and nothing
// is ever added back, so a template with n questions settles within n+1
// scans even if its conditional graph has a cycle. The CONDITIONAL_CYCLE
// return after that many scans is a guard and is not expected to fire.
func Resolve(t *Template, answers AnswerSet) (AnswerSet, error) {
	result := answers.Clone()
	if t == nil {
		return result, nil
	}

	limit := len(t.Questions) + 1
	for pass := 1; pass <= limit; pass++ {
		removed := false
		for i := range t.Questions {
			q := &t.Questions[i]
			if _, answered := result[q.ID]; !answered {
				continue
			}
			if !Visible(result, q) {
				delete(result, q.ID)
				removed = true
			}
		}
		if !removed {
			return result, nil
		}
	}
	return nil, errors.NewConditionalCycle(limit)
}

// VisibleQuestions lists the questions shown for the given (resolved) answers,
// in template order.
func VisibleQuestions(t *Template, answers AnswerSet) []*Question {
	out := make([]*Question, 0, len(t.Questions))
	for i := range t.Questions {
		if Visible(answers, &t.Questions[i]) {
			out = append(out, &t.Questions[i])
		}
	}
	return out
}
