// Package remote talks to the three collaborator endpoints: template fetch,
// public-key fetch and log send. Every request is bounded by a timeout and a
// deadline surfaces as TIMEOUT rather than a transport error.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hpungsan/qrform/internal/config"
	"github.com/hpungsan/qrform/internal/errors"
	"github.com/hpungsan/qrform/internal/payload"
	"github.com/hpungsan/qrform/internal/questionnaire"
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// Client is an HTTP client for the collaborator endpoints. Paths are joined
// onto BaseURL; nothing is hardcoded.
type Client struct {
	BaseURL      string
	TemplatePath string
	KeyPath      string
	LogPath      string
	Timeout      time.Duration

	HTTP   *http.Client
	Logger *slog.Logger
}

// New builds a client from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Client {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Client{
		BaseURL:      cfg.APIBaseURL,
		TemplatePath: cfg.TemplatePath,
		KeyPath:      cfg.KeyPath,
		LogPath:      cfg.LogPath,
		Timeout:      cfg.Timeout(),
		HTTP:         &http.Client{},
		Logger:       logger,
	}
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 5 * time.Second
	}
	return c.Timeout
}

func (c *Client) endpoint(path string, segments ...string) string {
	u := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	for _, s := range segments {
		u = strings.TrimRight(u, "/") + "/" + url.PathEscape(s)
	}
	return u
}

// do sends req under the client timeout and returns the status and body.
// what names the request in a TIMEOUT error.
func (c *Client) do(ctx context.Context, what string, method, target string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s request: %w", what, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return 0, nil, errors.NewTimeout(what)
		}
		return 0, nil, fmt.Errorf("%s request: %w", what, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		if isTimeout(ctx, err) {
			return 0, nil, errors.NewTimeout(what)
		}
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", what, err)
	}
	return resp.StatusCode, data, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return stderrors.As(err, &ne) && ne.Timeout()
}

func ok(status int) bool {
	return status >= 200 && status < 300
}

// FetchTemplate retrieves and strictly parses the template for department.
func (c *Client) FetchTemplate(ctx context.Context, department string) (*questionnaire.Template, error) {
	if strings.TrimSpace(department) == "" {
		return nil, errors.NewInvalidRequest("department is required")
	}
	start := time.Now()
	status, body, err := c.do(ctx, "template", http.MethodGet, c.endpoint(c.TemplatePath, department), nil)
	if err != nil {
		c.logger().Warn("template fetch failed", "department", department, "error", err)
		if errors.Is(err, errors.ErrTimeout) {
			return nil, err
		}
		return nil, errors.NewTemplateUnavailable(department, err)
	}
	if !ok(status) {
		c.logger().Warn("template fetch rejected", "department", department, "status", status)
		return nil, errors.NewTemplateUnavailable(department, fmt.Errorf("status %d", status))
	}

	var envelope struct {
		Template json.RawMessage `json:"template"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.NewInvalidTemplate(fmt.Sprintf("invalid template response: %v", err))
	}
	if len(envelope.Template) == 0 || string(envelope.Template) == "null" {
		return nil, errors.NewInvalidTemplate("response has no template")
	}
	tmpl, err := questionnaire.ParseTemplate(envelope.Template)
	if err != nil {
		return nil, err
	}
	c.logger().Debug("template fetched", "department", department, "questions", len(tmpl.Questions), "elapsed", time.Since(start))
	return tmpl, nil
}

// FetchPublicKey retrieves the PEM encoded public key.
func (c *Client) FetchPublicKey(ctx context.Context) (string, error) {
	status, body, err := c.do(ctx, "public key", http.MethodGet, c.endpoint(c.KeyPath), nil)
	if err != nil {
		c.logger().Warn("public key fetch failed", "error", err)
		if errors.Is(err, errors.ErrTimeout) {
			return "", err
		}
		return "", errors.NewKeyUnavailable(err)
	}
	if !ok(status) {
		return "", errors.NewKeyUnavailable(fmt.Errorf("status %d", status))
	}

	var envelope struct {
		PublicKey string `json:"public_key"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", errors.NewKeyUnavailable(fmt.Errorf("decode response: %w", err))
	}
	if strings.TrimSpace(envelope.PublicKey) == "" {
		return "", errors.NewKeyUnavailable(fmt.Errorf("response has no public_key"))
	}
	return envelope.PublicKey, nil
}

// SendLog posts rec. Any 2xx is success, as is a body of {"status":"ok"}.
// Failures are logged here and returned so callers may record them; they
// are never meant to reach the user.
func (c *Client) SendLog(ctx context.Context, rec payload.LogRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.NewInternal(err)
	}
	status, body, err := c.do(ctx, "log", http.MethodPost, c.endpoint(c.LogPath), data)
	if err != nil {
		c.logger().Warn("log send failed", "error", err)
		return err
	}
	if ok(status) || statusOK(body) {
		return nil
	}
	c.logger().Warn("log send rejected", "status", status)
	return fmt.Errorf("log endpoint returned status %d", status)
}

func statusOK(body []byte) bool {
	var res struct {
		Status string `json:"status"`
	}
	return json.Unmarshal(body, &res) == nil && res.Status == "ok"
}
