package journal

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/qrform/internal/errors"
	"github.com/hpungsan/qrform/internal/payload"
)

// DefaultListLimit applies when List is called with a non-positive limit.
const DefaultListLimit = 20

// Entry is a journaled LogRecord and its delivery outcome.
type Entry struct {
	ID            string            `json:"id"`
	Record        payload.LogRecord `json:"record"`
	Delivered     bool              `json:"delivered"`
	DeliveryError string            `json:"delivery_error,omitempty"`
	CreatedAt     int64             `json:"created_at"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a fresh ULID string. IDs minted within the same millisecond
// still sort in creation order.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Insert stores rec with the outcome of its delivery. A nil deliveryErr
// marks the record delivered.
func Insert(ctx context.Context, db *sql.DB, rec payload.LogRecord, deliveryErr error) (*Entry, error) {
	errs := rec.Errors
	if errs == nil {
		errs = []string{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	e := &Entry{
		ID:        NewID(),
		Record:    rec,
		Delivered: deliveryErr == nil,
		CreatedAt: time.Now().UnixMilli(),
	}
	var deliveryMsg sql.NullString
	if deliveryErr != nil {
		e.DeliveryError = deliveryErr.Error()
		deliveryMsg = sql.NullString{String: e.DeliveryError, Valid: true}
	}

	query := `
		INSERT INTO log_records (
			id, timestamp, department_id, payload_size, payload_over,
			errors_json, delivered, delivery_error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		e.ID, rec.Timestamp, rec.DepartmentID, rec.PayloadSize, boolToInt(rec.PayloadOver),
		string(errsJSON), boolToInt(e.Delivered), deliveryMsg, e.CreatedAt,
	)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return e, nil
}

// List returns up to limit entries, newest first.
func List(ctx context.Context, db *sql.DB, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, timestamp, department_id, payload_size, payload_over,
			errors_json, delivered, delivery_error, created_at
		FROM log_records
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return entries, nil
}

// CountUndelivered returns how many records never reached the endpoint.
func CountUndelivered(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM log_records WHERE delivered = 0`).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e           Entry
		over        int
		delivered   int
		errsJSON    string
		deliveryErr sql.NullString
	)
	if err := s.Scan(
		&e.ID, &e.Record.Timestamp, &e.Record.DepartmentID, &e.Record.PayloadSize, &over,
		&errsJSON, &delivered, &deliveryErr, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Record.PayloadOver = over != 0
	e.Delivered = delivered != 0
	e.DeliveryError = deliveryErr.String
	if err := json.Unmarshal([]byte(errsJSON), &e.Record.Errors); err != nil {
		return nil, err
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
