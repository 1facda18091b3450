package wizard

import (
	"time"

	"github.com/hpungsan/qrform/internal/errors"
	"github.com/hpungsan/qrform/internal/payload"
	"github.com/hpungsan/qrform/internal/questionnaire"
)

// LogPayloadOver is the error text logged when the size gate rejects a payload.
const LogPayloadOver = "payload size over"

// Reduce applies ev to s and returns the next state together with the
// commands to run. Events that do not apply to the current step, and
// async results whose token is no longer pending, leave s unchanged.
func Reduce(s State, ev Event) (State, []Command) {
	switch e := ev.(type) {
	case AcknowledgeNotice:
		if s.Step != StepNotice {
			return s, nil
		}
		s = s.clearAlert()
		s.NoticeChecked = true
		s.Step = StepDepartment
		return s, nil

	case SelectDepartment:
		if s.Step != StepDepartment || e.DepartmentID == "" {
			return s, nil
		}
		var token uint64
		s, token = s.clearAlert().issue()
		return s, []Command{FetchTemplate{Token: token, DepartmentID: e.DepartmentID}}

	case TemplateLoaded:
		if !s.settles(StepDepartment, e.Token) || e.Template == nil {
			return s, nil
		}
		s = s.clearAlert()
		s.Pending = 0
		s.DepartmentID = e.DepartmentID
		s.Template = e.Template
		s.Answers = questionnaire.AnswerSet{}
		s.Errors = nil
		s.QRData = ""
		s.Step = StepForm
		return s, nil

	case TemplateFailed:
		if !s.settles(StepDepartment, e.Token) {
			return s, nil
		}
		s.Pending = 0
		s = s.fail(AlertTemplateUnavailable, e.Err)
		return s, nil

	case SetAnswer:
		if e.Answer == nil {
			return Reduce(s, ClearAnswer{QuestionID: e.QuestionID})
		}
		return s.mutate(e.QuestionID, func(_ *questionnaire.Question, answers questionnaire.AnswerSet) error {
			answers[e.QuestionID] = e.Answer
			return nil
		})

	case ClearAnswer:
		return s.mutate(e.QuestionID, func(_ *questionnaire.Question, answers questionnaire.AnswerSet) error {
			delete(answers, e.QuestionID)
			return nil
		})

	case ToggleOption:
		return s.mutate(e.QuestionID, func(q *questionnaire.Question, answers questionnaire.AnswerSet) error {
			next, err := questionnaire.ToggleOption(q, answers[q.ID], e.Index, e.On)
			if err != nil {
				return err
			}
			answers[q.ID] = next
			return nil
		})

	case Proceed:
		if s.Step != StepForm || s.Template == nil {
			return s, nil
		}
		report := questionnaire.Validate(s.Template, s.Answers)
		if !report.Valid {
			s.Errors = report.Errors
			s.Alert = AlertInvalid
			s.AlertDetail = ""
			s.Err = report.Err()
			return s, nil
		}
		s = s.clearAlert()
		s.Errors = nil
		s.Step = StepConfirm
		return s, nil

	case Confirm:
		if s.Step != StepConfirm || s.Busy() || s.Template == nil {
			return s, nil
		}
		return s.confirm(e.At)

	case PayloadSealed:
		if !s.settles(StepConfirm, e.Token) {
			return s, nil
		}
		size := s.PendingSize
		s = s.clearAlert()
		s.Pending = 0
		s.PendingSize = 0
		s.QRData = e.QRData
		s.Step = StepQRCode
		return s, []Command{SendLog{Record: payload.NewLogRecord(e.At, s.DepartmentID, size, false)}}

	case PayloadFailed:
		if !s.settles(StepConfirm, e.Token) {
			return s, nil
		}
		size := s.PendingSize
		s.Pending = 0
		s.PendingSize = 0
		s = s.fail(AlertRestart, e.Err)
		return s, []Command{SendLog{Record: payload.NewLogRecord(e.At, s.DepartmentID, size, false, logText(e.Err))}}

	case Back:
		return s.back(), nil

	case Restart:
		next := Initial()
		next.LastToken = s.LastToken
		return next, nil
	}
	return s, nil
}

// settles reports whether a result carrying token may be applied: the state
// must still be at step and the token must be the one pending.
func (s State) settles(step Step, token uint64) bool {
	return s.Step == step && s.Pending != 0 && s.Pending == token
}

// mutate applies fn to a copy of the answers and re-resolves visibility, so
// no answer to a hidden question survives any mutation.
func (s State) mutate(id string, fn func(*questionnaire.Question, questionnaire.AnswerSet) error) (State, []Command) {
	if s.Step != StepForm || s.Template == nil {
		return s, nil
	}
	q, ok := s.Template.Question(id)
	if !ok {
		return s, nil
	}

	next := s.clone()
	if err := fn(q, next.Answers); err != nil {
		next.Alert = AlertInvalid
		next.AlertDetail = err.Error()
		next.Err = err
		return next, nil
	}
	resolved, err := questionnaire.Resolve(next.Template, next.Answers)
	if err != nil {
		next = s.clone()
		next = next.fail(AlertRestart, err)
		return next, nil
	}
	next.Answers = resolved

	if next.Errors != nil {
		delete(next.Errors, id)
		for qid := range next.Errors {
			if other, ok := next.Template.Question(qid); ok && !questionnaire.Visible(resolved, other) {
				delete(next.Errors, qid)
			}
		}
	}
	if next.Alert == AlertInvalid && len(next.Errors) == 0 {
		next = next.clearAlert()
	}
	return next, nil
}

// confirm runs the deterministic pipeline stages. Only encryption, which
// needs a fetched key, is left to a command.
func (s State) confirm(at time.Time) (State, []Command) {
	s = s.clearAlert()
	prepared, err := payload.Prepare(s.Template, s.Answers)
	switch {
	case errors.Is(err, errors.ErrPayloadTooLarge):
		s = s.fail(AlertTooLarge, err)
		rec := payload.NewLogRecord(at, s.DepartmentID, prepared.Size, true, LogPayloadOver)
		return s, []Command{SendLog{Record: rec}}
	case err != nil:
		s = s.fail(AlertRestart, err)
		rec := payload.NewLogRecord(at, s.DepartmentID, 0, false, logText(err))
		return s, []Command{SendLog{Record: rec}}
	}

	s.Answers = prepared.Answers
	var token uint64
	s, token = s.issue()
	s.PendingSize = prepared.Size
	return s, []Command{SealPayload{Token: token, Encoded: prepared.Encoded}}
}

func (s State) back() State {
	switch s.Step {
	case StepDepartment:
		s.Step = StepNotice
	case StepForm:
		s.Step = StepDepartment
		s.Errors = nil
	case StepConfirm:
		s.Step = StepForm
		s.PendingSize = 0
	case StepQRCode:
		s.Step = StepConfirm
		s.QRData = ""
	default:
		return s
	}
	s.Pending = 0
	return s.clearAlert()
}

// fail raises alert for err.
func (s State) fail(alert Alert, err error) State {
	s.Alert = alert
	s.AlertDetail = detail(err)
	s.Err = err
	return s
}

// detail renders err for display without exposing wrapped low-level causes.
func detail(err error) string {
	if err == nil {
		return ""
	}
	return errors.As(err).Message
}

func logText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
