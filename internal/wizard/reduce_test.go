package wizard

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/qrform/internal/errors"
	"github.com/hpungsan/qrform/internal/questionnaire"
)

const clinicTemplate = `{
  "id": "3",
  "name": "Clinic",
  "max_payload_bytes": 500,
  "questions": [
    {"id": "q1", "label": "Name", "type": "text", "required": true},
    {"id": "fever", "label": "Fever?", "type": "select", "options": ["yes", "no"]},
    {"id": "temp", "label": "Temperature", "type": "number",
     "conditional_on": {"field": "fever", "value": "yes"}},
    {"id": "symptoms", "label": "Symptoms", "type": "multi_select", "bitflag": true,
     "options": ["cough", "headache", "nausea"]}
  ]
}`

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func parse(t *testing.T, body string) *questionnaire.Template {
	t.Helper()
	tmpl, err := questionnaire.ParseTemplate([]byte(body))
	require.NoError(t, err)
	return tmpl
}

func withMax(t *testing.T, max int) *questionnaire.Template {
	tmpl := parse(t, clinicTemplate)
	tmpl.MaxPayloadBytes = max
	return tmpl
}

// atForm drives a fresh state to the form step with tmpl loaded.
func atForm(t *testing.T, tmpl *questionnaire.Template) State {
	t.Helper()
	s, _ := Reduce(Initial(), AcknowledgeNotice{})
	s, cmds := Reduce(s, SelectDepartment{DepartmentID: "3"})
	require.Len(t, cmds, 1)
	fetch := cmds[0].(FetchTemplate)
	s, _ = Reduce(s, TemplateLoaded{Token: fetch.Token, DepartmentID: "3", Template: tmpl})
	require.Equal(t, StepForm, s.Step)
	return s
}

func TestReduce_HappyPath(t *testing.T) {
	s := Initial()
	require.Equal(t, StepNotice, s.Step)

	s, cmds := Reduce(s, AcknowledgeNotice{})
	require.Empty(t, cmds)
	require.Equal(t, StepDepartment, s.Step)
	require.True(t, s.NoticeChecked)

	s, cmds = Reduce(s, SelectDepartment{DepartmentID: "3"})
	require.Len(t, cmds, 1)
	fetch, ok := cmds[0].(FetchTemplate)
	require.True(t, ok)
	require.Equal(t, "3", fetch.DepartmentID)
	require.Equal(t, StepDepartment, s.Step, "step waits for the fetch to settle")
	require.True(t, s.Busy())

	s, cmds = Reduce(s, TemplateLoaded{Token: fetch.Token, DepartmentID: "3", Template: parse(t, clinicTemplate)})
	require.Empty(t, cmds)
	require.Equal(t, StepForm, s.Step)
	require.False(t, s.Busy())
	require.Equal(t, "3", s.DepartmentID)

	s, _ = Reduce(s, SetAnswer{QuestionID: "q1", Answer: questionnaire.Text("abc")})
	s, _ = Reduce(s, Proceed{})
	require.Equal(t, StepConfirm, s.Step)

	s, cmds = Reduce(s, Confirm{At: at})
	require.Len(t, cmds, 1)
	seal, ok := cmds[0].(SealPayload)
	require.True(t, ok)
	require.NotEmpty(t, seal.Encoded)
	require.Equal(t, len(seal.Encoded), s.PendingSize)
	require.Equal(t, StepConfirm, s.Step)

	s, cmds = Reduce(s, PayloadSealed{Token: seal.Token, QRData: "sealed", At: at})
	require.Equal(t, StepQRCode, s.Step)
	require.Equal(t, "sealed", s.QRData)
	require.Len(t, cmds, 1)
	log := cmds[0].(SendLog).Record
	require.False(t, log.PayloadOver)
	require.Equal(t, 3, log.DepartmentID)
	require.Equal(t, len(seal.Encoded), log.PayloadSize)
	require.Empty(t, log.Errors)
}

func TestReduce_TemplateFailed(t *testing.T) {
	s, _ := Reduce(Initial(), AcknowledgeNotice{})
	s, cmds := Reduce(s, SelectDepartment{DepartmentID: "9"})
	token := cmds[0].(FetchTemplate).Token

	s, cmds = Reduce(s, TemplateFailed{Token: token, Err: errors.NewTimeout("template")})
	require.Empty(t, cmds)
	require.Equal(t, StepDepartment, s.Step)
	require.Equal(t, AlertTemplateUnavailable, s.Alert)
	require.True(t, errors.Is(s.Err, errors.ErrTimeout))
	require.Equal(t, "template request timed out", s.AlertDetail)
	require.False(t, s.Busy())

	// retry clears the alert
	s, cmds = Reduce(s, SelectDepartment{DepartmentID: "9"})
	require.Len(t, cmds, 1)
	require.Equal(t, AlertNone, s.Alert)
}

func TestReduce_StaleResultsIgnored(t *testing.T) {
	tmpl := parse(t, clinicTemplate)

	t.Run("back during fetch", func(t *testing.T) {
		s, _ := Reduce(Initial(), AcknowledgeNotice{})
		s, cmds := Reduce(s, SelectDepartment{DepartmentID: "3"})
		token := cmds[0].(FetchTemplate).Token

		s, _ = Reduce(s, Back{})
		require.Equal(t, StepNotice, s.Step)
		s, _ = Reduce(s, AcknowledgeNotice{})

		s, _ = Reduce(s, TemplateLoaded{Token: token, DepartmentID: "3", Template: tmpl})
		require.Equal(t, StepDepartment, s.Step)
		require.Nil(t, s.Template)
	})

	t.Run("superseded selection", func(t *testing.T) {
		s, _ := Reduce(Initial(), AcknowledgeNotice{})
		s, first := Reduce(s, SelectDepartment{DepartmentID: "1"})
		s, second := Reduce(s, SelectDepartment{DepartmentID: "3"})

		s, _ = Reduce(s, TemplateFailed{Token: first[0].(FetchTemplate).Token, Err: fmt.Errorf("late")})
		require.Equal(t, AlertNone, s.Alert)
		require.True(t, s.Busy())

		s, _ = Reduce(s, TemplateLoaded{Token: second[0].(FetchTemplate).Token, DepartmentID: "3", Template: tmpl})
		require.Equal(t, StepForm, s.Step)
	})

	t.Run("back during seal", func(t *testing.T) {
		s := atForm(t, tmpl)
		s, _ = Reduce(s, SetAnswer{QuestionID: "q1", Answer: questionnaire.Text("abc")})
		s, _ = Reduce(s, Proceed{})
		s, cmds := Reduce(s, Confirm{At: at})
		token := cmds[0].(SealPayload).Token

		s, _ = Reduce(s, Back{})
		require.Equal(t, StepForm, s.Step)
		s, _ = Reduce(s, Proceed{})

		s, cmds = Reduce(s, PayloadSealed{Token: token, QRData: "late", At: at})
		require.Empty(t, cmds)
		require.Equal(t, StepConfirm, s.Step)
		require.Empty(t, s.QRData)
	})

	t.Run("restart", func(t *testing.T) {
		s, _ := Reduce(Initial(), AcknowledgeNotice{})
		s, cmds := Reduce(s, SelectDepartment{DepartmentID: "3"})
		old := cmds[0].(FetchTemplate).Token

		s, _ = Reduce(s, Restart{})
		s, _ = Reduce(s, AcknowledgeNotice{})
		s, cmds = Reduce(s, SelectDepartment{DepartmentID: "3"})
		require.Greater(t, cmds[0].(FetchTemplate).Token, old)

		s, _ = Reduce(s, TemplateLoaded{Token: old, DepartmentID: "3", Template: tmpl})
		require.Equal(t, StepDepartment, s.Step)
	})
}

func TestReduce_AnswersStayResolved(t *testing.T) {
	s := atForm(t, parse(t, clinicTemplate))

	s, _ = Reduce(s, SetAnswer{QuestionID: "fever", Answer: questionnaire.Text("yes")})
	s, _ = Reduce(s, SetAnswer{QuestionID: "temp", Answer: questionnaire.Text("38.5")})
	require.Contains(t, s.Answers, "temp")

	before := s
	s, _ = Reduce(s, SetAnswer{QuestionID: "fever", Answer: questionnaire.Text("no")})
	require.NotContains(t, s.Answers, "temp")
	require.Contains(t, before.Answers, "temp", "previous state must not change")

	// answers to hidden questions are dropped immediately
	s, _ = Reduce(s, SetAnswer{QuestionID: "temp", Answer: questionnaire.Text("39")})
	require.NotContains(t, s.Answers, "temp")

	s, _ = Reduce(s, SetAnswer{QuestionID: "fever", Answer: nil})
	require.NotContains(t, s.Answers, "fever")

	// unknown question ids are ignored
	s2, _ := Reduce(s, SetAnswer{QuestionID: "nope", Answer: questionnaire.Text("x")})
	require.Equal(t, s.Answers, s2.Answers)
}

func TestReduce_ToggleOption(t *testing.T) {
	s := atForm(t, parse(t, clinicTemplate))

	s, _ = Reduce(s, ToggleOption{QuestionID: "symptoms", Index: 2, On: true})
	s, _ = Reduce(s, ToggleOption{QuestionID: "symptoms", Index: 0, On: true})
	require.Equal(t, questionnaire.Bitmask(5), s.Answers["symptoms"])

	s, _ = Reduce(s, ToggleOption{QuestionID: "symptoms", Index: 2, On: false})
	s, _ = Reduce(s, ToggleOption{QuestionID: "symptoms", Index: 0, On: false})
	require.Equal(t, questionnaire.Bitmask(0), s.Answers["symptoms"])

	s, _ = Reduce(s, ToggleOption{QuestionID: "symptoms", Index: 7, On: true})
	require.Equal(t, AlertInvalid, s.Alert)
}

func TestReduce_ProceedRequiresValidity(t *testing.T) {
	s := atForm(t, parse(t, clinicTemplate))

	s, cmds := Reduce(s, Proceed{})
	require.Empty(t, cmds)
	require.Equal(t, StepForm, s.Step)
	require.Equal(t, AlertInvalid, s.Alert)
	require.Equal(t, questionnaire.ReasonRequired, s.Errors["q1"])

	s, _ = Reduce(s, SetAnswer{QuestionID: "q1", Answer: questionnaire.Text("Hanako")})
	require.NotContains(t, s.Errors, "q1")
	require.Equal(t, AlertNone, s.Alert)

	s, _ = Reduce(s, Proceed{})
	require.Equal(t, StepConfirm, s.Step)
	require.Nil(t, s.Errors)
}

func TestReduce_ConfirmOversize(t *testing.T) {
	s := atForm(t, withMax(t, 1))
	s, _ = Reduce(s, SetAnswer{QuestionID: "q1", Answer: questionnaire.Text("a non-trivial answer")})
	s, _ = Reduce(s, Proceed{})

	s, cmds := Reduce(s, Confirm{At: at})
	require.Equal(t, StepConfirm, s.Step)
	require.Equal(t, AlertTooLarge, s.Alert)
	require.True(t, errors.Is(s.Err, errors.ErrPayloadTooLarge))
	require.False(t, s.Busy())
	require.Len(t, cmds, 1, "no SealPayload is issued")

	log := cmds[0].(SendLog).Record
	require.True(t, log.PayloadOver)
	require.Greater(t, log.PayloadSize, 1)
	require.Equal(t, []string{LogPayloadOver}, log.Errors)
}

func TestReduce_ConfirmTranscodeFailure(t *testing.T) {
	s := atForm(t, parse(t, clinicTemplate))
	s, _ = Reduce(s, SetAnswer{QuestionID: "q1", Answer: questionnaire.Text("🙂")})
	s, _ = Reduce(s, Proceed{})

	s, cmds := Reduce(s, Confirm{At: at})
	require.Equal(t, AlertRestart, s.Alert)
	require.Len(t, cmds, 1)
	log := cmds[0].(SendLog).Record
	require.False(t, log.PayloadOver)
	require.Zero(t, log.PayloadSize)
	require.Len(t, log.Errors, 1)
	require.Contains(t, log.Errors[0], string(errors.ErrTranscodeFailed))
}

func TestReduce_PayloadFailed(t *testing.T) {
	s := atForm(t, parse(t, clinicTemplate))
	s, _ = Reduce(s, SetAnswer{QuestionID: "q1", Answer: questionnaire.Text("abc")})
	s, _ = Reduce(s, Proceed{})
	s, cmds := Reduce(s, Confirm{At: at})
	seal := cmds[0].(SealPayload)

	// a second confirm while sealing is ignored
	_, again := Reduce(s, Confirm{At: at})
	require.Empty(t, again)

	s, cmds = Reduce(s, PayloadFailed{Token: seal.Token, Err: errors.NewKeyUnavailable(fmt.Errorf("dial tcp")), At: at})
	require.Equal(t, StepConfirm, s.Step)
	require.Equal(t, AlertRestart, s.Alert)
	require.Equal(t, "failed to fetch public key", s.AlertDetail)

	log := cmds[0].(SendLog).Record
	require.False(t, log.PayloadOver)
	require.Equal(t, len(seal.Encoded), log.PayloadSize)
	require.Contains(t, log.Errors[0], "KEY_UNAVAILABLE")
}

func TestReduce_Back(t *testing.T) {
	s, _ := Reduce(Initial(), Back{})
	require.Equal(t, StepNotice, s.Step, "notice has no backward transition")

	s = atForm(t, parse(t, clinicTemplate))
	s, _ = Reduce(s, SetAnswer{QuestionID: "q1", Answer: questionnaire.Text("abc")})
	s, _ = Reduce(s, Proceed{})
	s, cmds := Reduce(s, Confirm{At: at})
	s, _ = Reduce(s, PayloadSealed{Token: cmds[0].(SealPayload).Token, QRData: "qr", At: at})
	require.Equal(t, StepQRCode, s.Step)

	want := []Step{StepConfirm, StepForm, StepDepartment, StepNotice, StepNotice}
	for _, step := range want {
		s, _ = Reduce(s, Back{})
		require.Equal(t, step, s.Step)
	}
	require.Empty(t, s.QRData)
}

func TestReduce_IgnoresEventsForOtherSteps(t *testing.T) {
	s := Initial()
	for _, ev := range []Event{
		SelectDepartment{DepartmentID: "3"},
		SetAnswer{QuestionID: "q1", Answer: questionnaire.Text("x")},
		Proceed{},
		Confirm{At: at},
		PayloadSealed{Token: 1, QRData: "x"},
	} {
		next, cmds := Reduce(s, ev)
		require.Empty(t, cmds, "%T", ev)
		require.Equal(t, s, next, "%T", ev)
	}
}

func TestStep_String(t *testing.T) {
	require.Equal(t, "qrcode", StepQRCode.String())
	require.Equal(t, "unknown", Step(42).String())
	require.NotEmpty(t, AlertTooLarge.Message())
}
