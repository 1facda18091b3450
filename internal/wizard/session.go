package wizard

import (
	"context"
	"log/slog"
	"time"

	"github.com/hpungsan/qrform/internal/errors"
	"github.com/hpungsan/qrform/internal/payload"
	"github.com/hpungsan/qrform/internal/questionnaire"
)

// Effects performs the side effects named by Commands.
type Effects interface {
	FetchTemplate(ctx context.Context, department string) (*questionnaire.Template, error)
	Seal(ctx context.Context, encoded string) (string, error)
	SendLog(ctx context.Context, rec payload.LogRecord) error
}

// TemplateSource fetches templates by department.
type TemplateSource interface {
	FetchTemplate(ctx context.Context, department string) (*questionnaire.Template, error)
}

// LogSender delivers LogRecords.
type LogSender interface {
	SendLog(ctx context.Context, rec payload.LogRecord) error
}

// Services assembles Effects from its parts. A nil Logs drops records.
type Services struct {
	Templates TemplateSource
	Keys      payload.KeySource
	Logs      LogSender
}

func (s Services) FetchTemplate(ctx context.Context, department string) (*questionnaire.Template, error) {
	if s.Templates == nil {
		return nil, errors.NewTemplateUnavailable(department, nil)
	}
	return s.Templates.FetchTemplate(ctx, department)
}

func (s Services) Seal(ctx context.Context, encoded string) (string, error) {
	sealer := &payload.Sealer{Keys: s.Keys}
	return sealer.Seal(ctx, encoded)
}

func (s Services) SendLog(ctx context.Context, rec payload.LogRecord) error {
	if s.Logs == nil {
		return nil
	}
	return s.Logs.SendLog(ctx, rec)
}

// Session owns a State and runs the commands Reduce emits, one at a time.
// It is not safe for concurrent use.
type Session struct {
	Effects Effects
	Logger  *slog.Logger
	// Now stamps Confirm and result events. Defaults to time.Now.
	Now func() time.Time

	state State
}

// NewSession returns a session in the initial state.
func NewSession(effects Effects, logger *slog.Logger) *Session {
	return &Session{Effects: effects, Logger: logger, state: Initial()}
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Dispatch applies ev and then runs every resulting command, feeding async
// results back through Reduce, until no command is left. SendLog failures
// are logged and swallowed; Dispatch still waits for the send to finish.
func (s *Session) Dispatch(ctx context.Context, ev Event) State {
	if c, ok := ev.(Confirm); ok && c.At.IsZero() {
		ev = Confirm{At: s.now()}
	}

	var queue []Command
	s.state, queue = Reduce(s.state, ev)
	for len(queue) > 0 {
		cmd := queue[0]
		queue = queue[1:]

		next := s.run(ctx, cmd)
		if next == nil {
			continue
		}
		var more []Command
		s.state, more = Reduce(s.state, next)
		queue = append(queue, more...)
	}
	return s.state
}

// run executes one command and returns the event that settles it, if any.
func (s *Session) run(ctx context.Context, cmd Command) Event {
	switch c := cmd.(type) {
	case FetchTemplate:
		tmpl, err := s.Effects.FetchTemplate(ctx, c.DepartmentID)
		if err != nil {
			s.logger().Warn("template unavailable", "department", c.DepartmentID, "code", errors.CodeOf(err))
			return TemplateFailed{Token: c.Token, Err: err}
		}
		return TemplateLoaded{Token: c.Token, DepartmentID: c.DepartmentID, Template: tmpl}

	case SealPayload:
		qr, err := s.Effects.Seal(ctx, c.Encoded)
		if err != nil {
			s.logger().Warn("seal failed", "code", errors.CodeOf(err))
			return PayloadFailed{Token: c.Token, Err: err, At: s.now()}
		}
		return PayloadSealed{Token: c.Token, QRData: qr, At: s.now()}

	case SendLog:
		if err := s.Effects.SendLog(ctx, c.Record); err != nil {
			s.logger().Warn("log not delivered", "error", err)
		} else {
			s.logger().Debug("log delivered", "payload_size", c.Record.PayloadSize, "payload_over", c.Record.PayloadOver)
		}
	}
	return nil
}

func (s *Session) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Session) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
