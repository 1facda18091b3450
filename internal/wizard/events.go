package wizard

import (
	"time"

	"github.com/hpungsan/qrform/internal/payload"
	"github.com/hpungsan/qrform/internal/questionnaire"
)

// Event is an input to Reduce.
type Event interface {
	isEvent()
}

// AcknowledgeNotice confirms the notice and moves on to department selection.
type AcknowledgeNotice struct{}

// SelectDepartment starts a template fetch for the department.
type SelectDepartment struct {
	DepartmentID string
}

// TemplateLoaded settles a FetchTemplate command successfully.
type TemplateLoaded struct {
	Token        uint64
	DepartmentID string
	Template     *questionnaire.Template
}

// TemplateFailed settles a FetchTemplate command with an error.
type TemplateFailed struct {
	Token uint64
	Err   error
}

// SetAnswer replaces the answer to one question.
type SetAnswer struct {
	QuestionID string
	Answer     questionnaire.Answer
}

// ClearAnswer removes the answer to one question.
type ClearAnswer struct {
	QuestionID string
}

// ToggleOption selects or deselects one option of a multi_select question.
type ToggleOption struct {
	QuestionID string
	Index      int
	On         bool
}

// Proceed asks to move from the form to confirmation.
type Proceed struct{}

// Confirm runs the payload pipeline for the current answers.
type Confirm struct {
	At time.Time
}

// PayloadSealed settles a SealPayload command successfully.
type PayloadSealed struct {
	Token  uint64
	QRData string
	At     time.Time
}

// PayloadFailed settles a SealPayload command with an error.
type PayloadFailed struct {
	Token uint64
	Err   error
	At    time.Time
}

// Back moves one step back along the chain.
type Back struct{}

// Restart discards the session and returns to the notice.
type Restart struct{}

func (AcknowledgeNotice) isEvent() {}
func (SelectDepartment) isEvent()  {}
func (TemplateLoaded) isEvent()    {}
func (TemplateFailed) isEvent()    {}
func (SetAnswer) isEvent()         {}
func (ClearAnswer) isEvent()       {}
func (ToggleOption) isEvent()      {}
func (Proceed) isEvent()           {}
func (Confirm) isEvent()           {}
func (PayloadSealed) isEvent()     {}
func (PayloadFailed) isEvent()     {}
func (Back) isEvent()              {}
func (Restart) isEvent()           {}

// Command is a side effect requested by Reduce.
type Command interface {
	isCommand()
}

// FetchTemplate asks for the department's template. The result is reported
// as TemplateLoaded or TemplateFailed carrying Token.
type FetchTemplate struct {
	Token        uint64
	DepartmentID string
}

// SealPayload asks for the gated payload to be encrypted. The result is
// reported as PayloadSealed or PayloadFailed carrying Token.
type SealPayload struct {
	Token   uint64
	Encoded string
}

// SendLog asks for a LogRecord to be delivered. It produces no event.
type SendLog struct {
	Record payload.LogRecord
}

func (FetchTemplate) isCommand() {}
func (SealPayload) isCommand()   {}
func (SendLog) isCommand()       {}
