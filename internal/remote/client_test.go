package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/qrform/internal/config"
	"github.com/hpungsan/qrform/internal/errors"
	"github.com/hpungsan/qrform/internal/payload"
)

const templateBody = `{"template": {
  "id": "7", "name": "Dermatology", "max_payload_bytes": 300,
  "questions": [{"id": "q1", "label": "Name", "type": "text", "required": true}]
}}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	cfg := config.DefaultConfig()
	cfg.APIBaseURL = ts.URL
	c := New(cfg, nil)
	c.HTTP = ts.Client()
	return c
}

func TestFetchTemplate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/api/templates/7" {
			_, _ = io.WriteString(w, templateBody)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	tmpl, err := c.FetchTemplate(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, "Dermatology", tmpl.Name)
	require.Equal(t, 300, tmpl.MaxPayloadBytes)

	_, err = c.FetchTemplate(context.Background(), "8")
	require.True(t, errors.Is(err, errors.ErrTemplateUnavailable), "got %v", err)

	_, err = c.FetchTemplate(context.Background(), " ")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestFetchTemplate_InvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"no envelope", `{"id": "7"}`},
		{"null template", `{"template": null}`},
		{"bad template", `{"template": {"id": "7", "max_payload_bytes": 0, "questions": []}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.FetchTemplate(context.Background(), "7")
			require.True(t, errors.Is(err, errors.ErrInvalidTemplate), "got %v", err)
		})
	}
}

func TestFetchTemplate_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c.Timeout = 20 * time.Millisecond

	_, err := c.FetchTemplate(context.Background(), "7")
	require.True(t, errors.Is(err, errors.ErrTimeout), "got %v", err)
	require.Contains(t, err.Error(), "request timed out")
}

func TestFetchPublicKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/public-key", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"public_key": "-----BEGIN PUBLIC KEY-----"})
	})
	key, err := c.FetchPublicKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "-----BEGIN PUBLIC KEY-----", key)
}

func TestFetchPublicKey_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{}`},
		{"empty key", http.StatusOK, `{"public_key": ""}`},
		{"not json", http.StatusOK, `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.FetchPublicKey(context.Background())
			require.True(t, errors.Is(err, errors.ErrKeyUnavailable), "got %v", err)
		})
	}
}

func TestSendLog(t *testing.T) {
	var got payload.LogRecord
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/logs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	rec := payload.NewLogRecord(time.Now(), "7", 120, false)
	require.NoError(t, c.SendLog(context.Background(), rec))
	require.Equal(t, rec, got)
}

func TestSendLog_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"ok json", http.StatusOK, `{"status":"ok"}`, false},
		{"created", http.StatusCreated, ``, false},
		{"status ok on error code", http.StatusBadRequest, `{"status":"ok"}`, false},
		{"rejected", http.StatusBadRequest, `{"status":"error"}`, true},
		{"server error", http.StatusInternalServerError, ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			err := c.SendLog(context.Background(), payload.NewLogRecord(time.Now(), "7", 0, false))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestEndpoint(t *testing.T) {
	c := &Client{BaseURL: "http://host/base/"}
	require.Equal(t, "http://host/base/api/templates/a%2Fb", c.endpoint("/api/templates", "a/b"))
	require.Equal(t, "http://host/base/keys", c.endpoint("keys"))

	c.BaseURL = ""
	require.Equal(t, "/api/logs", c.endpoint("/api/logs"))
}
