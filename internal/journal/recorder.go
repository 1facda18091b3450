package journal

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/hpungsan/qrform/internal/payload"
)

// Sender delivers a LogRecord to the log endpoint.
type Sender interface {
	SendLog(ctx context.Context, rec payload.LogRecord) error
}

// Recorder journals every record it is handed, then returns the delivery
// outcome of the wrapped Sender. A nil Sender journals without delivering.
type Recorder struct {
	DB     *sql.DB
	Sender Sender
	Logger *slog.Logger
}

// SendLog implements Sender.
func (r *Recorder) SendLog(ctx context.Context, rec payload.LogRecord) error {
	var sendErr error
	if r.Sender != nil {
		sendErr = r.Sender.SendLog(ctx, rec)
	} else {
		sendErr = errNotSent
	}

	if r.DB != nil {
		if _, err := Insert(context.WithoutCancel(ctx), r.DB, rec, sendErr); err != nil {
			r.logger().Warn("journal write failed", "error", err)
		}
	}
	if sendErr == errNotSent {
		return nil
	}
	return sendErr
}

func (r *Recorder) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

var errNotSent = errors.New("delivery disabled")
