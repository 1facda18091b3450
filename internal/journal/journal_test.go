package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/qrform/internal/payload"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInit(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested", ".qrform")

	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(tmpDir, FileName)); os.IsNotExist(err) {
		t.Errorf("journal file not created")
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	version, err := GetUserVersion(db)
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion, version)
}

func TestInit_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}
	dir := filepath.Join(t.TempDir(), ".qrform")
	db, err := Init(dir)
	require.NoError(t, err)
	defer db.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0700), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestInit_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Init(dir)
	require.NoError(t, err)
	_, err = Insert(context.Background(), db, payload.NewLogRecord(time.Now(), "1", 10, false), nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Init(dir)
	require.NoError(t, err)
	defer db.Close()

	entries, err := List(context.Background(), db, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestInsertAndList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := payload.NewLogRecord(time.Now(), "3", 612, true, "PAYLOAD_TOO_LARGE: payload exceeds maximum size: 612 bytes (max 500)")
	second := payload.NewLogRecord(time.Now(), "3", 120, false)

	e1, err := Insert(ctx, db, first, fmt.Errorf("connection refused"))
	require.NoError(t, err)
	require.False(t, e1.Delivered)

	e2, err := Insert(ctx, db, second, nil)
	require.NoError(t, err)
	require.True(t, e2.Delivered)
	require.NotEqual(t, e1.ID, e2.ID)

	entries, err := List(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// newest first
	require.Equal(t, e2.ID, entries[0].ID)
	require.Equal(t, second, entries[0].Record)

	got := entries[1]
	require.Equal(t, first, got.Record)
	require.False(t, got.Delivered)
	require.Equal(t, "connection refused", got.DeliveryError)

	n, err := CountUndelivered(ctx, db)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	limited, err := List(ctx, db, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

type stubSender struct {
	err   error
	calls int
}

func (s *stubSender) SendLog(context.Context, payload.LogRecord) error {
	s.calls++
	return s.err
}

func TestRecorder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := payload.NewLogRecord(time.Now(), "5", 88, false)

	ok := &stubSender{}
	r := &Recorder{DB: db, Sender: ok}
	require.NoError(t, r.SendLog(ctx, rec))
	require.Equal(t, 1, ok.calls)

	failing := &stubSender{err: fmt.Errorf("status 500")}
	r = &Recorder{DB: db, Sender: failing}
	require.Error(t, r.SendLog(ctx, rec))

	r = &Recorder{DB: db}
	require.NoError(t, r.SendLog(ctx, rec), "journal-only mode never fails")

	entries, err := List(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	n, err := CountUndelivered(ctx, db)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestRecorder_NoDB(t *testing.T) {
	s := &stubSender{}
	r := &Recorder{Sender: s}
	require.NoError(t, r.SendLog(context.Background(), payload.NewLogRecord(time.Now(), "1", 1, false)))
	require.Equal(t, 1, s.calls)
}
