// Package wizard drives a questionnaire session from notice to QR code.
//
// Reduce is a pure transition function over State. Side effects are not
// performed by Reduce; they are returned as Commands for a Session (or any
// other runner) to execute, and their results come back as Events tagged
// with the token that was issued with the command.
package wizard

import (
	"maps"

	"github.com/hpungsan/qrform/internal/questionnaire"
)

// Step is a position in the wizard.
type Step int

const (
	StepNotice Step = iota
	StepDepartment
	StepForm
	StepConfirm
	StepQRCode
)

var stepNames = [...]string{"notice", "department", "form", "confirm", "qrcode"}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return "unknown"
	}
	return stepNames[s]
}

// Alert is the user-facing condition attached to a state.
type Alert string

const (
	AlertNone                Alert = ""
	AlertTemplateUnavailable Alert = "template_unavailable"
	AlertInvalid             Alert = "invalid"
	AlertTooLarge            Alert = "too_large"
	AlertRestart             Alert = "restart"
)

// Message returns the text shown for the alert.
func (a Alert) Message() string {
	switch a {
	case AlertTemplateUnavailable:
		return "Failed to load the questionnaire. Please try again."
	case AlertInvalid:
		return "Some answers need attention before continuing."
	case AlertTooLarge:
		return "Your answers are too large to fit in a QR code."
	case AlertRestart:
		return "The QR code could not be generated. Please start over."
	}
	return ""
}

// State is the complete wizard state. It is a value; Reduce never modifies
// the State it is given.
type State struct {
	Step          Step
	NoticeChecked bool
	DepartmentID  string
	Template      *questionnaire.Template
	Answers       questionnaire.AnswerSet
	Errors        map[string]string
	QRData        string

	Alert       Alert
	AlertDetail string
	// Err is the error that raised Alert, when there was one.
	Err error

	// Pending is the token of the outstanding asynchronous command, or zero.
	Pending uint64
	// PendingSize is the gated payload size awaiting encryption.
	PendingSize int
	// LastToken is the most recently issued token. Tokens only grow, even
	// across Restart, so a late result can never match a newer command.
	LastToken uint64
}

// Initial returns the state a new session starts in.
func Initial() State {
	return State{Step: StepNotice, Answers: questionnaire.AnswerSet{}}
}

// Busy reports whether an asynchronous command is outstanding.
func (s State) Busy() bool {
	return s.Pending != 0
}

func (s State) clone() State {
	s.Answers = s.Answers.Clone()
	s.Errors = maps.Clone(s.Errors)
	return s
}

func (s State) issue() (State, uint64) {
	s.LastToken++
	s.Pending = s.LastToken
	return s, s.LastToken
}

func (s State) clearAlert() State {
	s.Alert = AlertNone
	s.AlertDetail = ""
	s.Err = nil
	return s
}
