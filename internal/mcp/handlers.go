package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/qrform/internal/config"
	"github.com/hpungsan/qrform/internal/errors"
	"github.com/hpungsan/qrform/internal/payload"
	"github.com/hpungsan/qrform/internal/questionnaire"
	"github.com/hpungsan/qrform/internal/review"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	cfg  *config.Config
	keys payload.KeySource
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *config.Config, keys payload.KeySource) *Handlers {
	return &Handlers{cfg: cfg, keys: keys}
}

// FormRequest carries a template and its answers as raw JSON objects.
type FormRequest struct {
	Template json.RawMessage `json:"template"`
	Answers  json.RawMessage `json:"answers,omitempty"`
}

// ReviewRequest represents the arguments for form_review.
type ReviewRequest struct {
	FormRequest
	HTML bool `json:"html,omitempty"`
}

// EncodeRequest represents the arguments for form_encode.
type EncodeRequest struct {
	FormRequest
	PublicKey string `json:"public_key,omitempty"`
}

// ResolveOutput is the form_resolve result.
type ResolveOutput struct {
	Answers questionnaire.AnswerSet `json:"answers"`
	Visible []string                `json:"visible"`
}

// ReviewOutput is the form_review result.
type ReviewOutput struct {
	Items    []review.Item `json:"items"`
	Markdown string        `json:"markdown"`
	HTML     string        `json:"html,omitempty"`
}

// EncodeOutput is the form_encode result.
type EncodeOutput struct {
	QRData      string `json:"qr_data"`
	CSV         string `json:"csv"`
	PayloadSize int    `json:"payload_size"`
	MaxBytes    int    `json:"max_bytes"`
}

// parse decodes the template and answers of a request.
func (r FormRequest) parse() (*questionnaire.Template, questionnaire.AnswerSet, error) {
	if len(r.Template) == 0 || string(r.Template) == "null" {
		return nil, nil, errors.NewInvalidRequest("template is required")
	}
	t, err := questionnaire.ParseTemplate(r.Template)
	if err != nil {
		return nil, nil, err
	}
	if len(r.Answers) == 0 || string(r.Answers) == "null" {
		return t, questionnaire.AnswerSet{}, nil
	}
	answers, err := questionnaire.ParseAnswers(t, r.Answers)
	if err != nil {
		return nil, nil, err
	}
	return t, answers, nil
}

// HandleResolve handles the form_resolve tool call.
func (h *Handlers) HandleResolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FormRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	t, answers, err := input.parse()
	if err != nil {
		return errorResult(err), nil
	}

	resolved, err := questionnaire.Resolve(t, answers)
	if err != nil {
		return errorResult(err), nil
	}

	out := ResolveOutput{Answers: resolved, Visible: []string{}}
	for _, q := range questionnaire.VisibleQuestions(t, resolved) {
		out.Visible = append(out.Visible, q.ID)
	}
	return successResult(out)
}

// HandleValidate handles the form_validate tool call.
func (h *Handlers) HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FormRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	t, answers, err := input.parse()
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(questionnaire.Validate(t, answers))
}

// HandleReview handles the form_review tool call.
func (h *Handlers) HandleReview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReviewRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	t, answers, err := input.parse()
	if err != nil {
		return errorResult(err), nil
	}

	items, err := review.Build(t, answers)
	if err != nil {
		return errorResult(err), nil
	}
	out := ReviewOutput{Items: items, Markdown: review.Markdown(t, items)}
	if out.Items == nil {
		out.Items = []review.Item{}
	}
	if input.HTML {
		html, err := review.HTML(t, items)
		if err != nil {
			return errorResult(err), nil
		}
		out.HTML = html
	}
	return successResult(out)
}

// HandleEncode handles the form_encode tool call.
func (h *Handlers) HandleEncode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[EncodeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	t, answers, err := input.parse()
	if err != nil {
		return errorResult(err), nil
	}

	if report := questionnaire.Validate(t, answers); !report.Valid {
		return errorResult(report.Err()), nil
	}

	prepared, err := payload.Prepare(t, answers)
	if err != nil {
		return errorResult(err), nil
	}

	keys := h.keys
	if input.PublicKey != "" {
		keys = payload.StaticKey(input.PublicKey)
	}
	sealer := &payload.Sealer{Keys: keys}
	qr, err := sealer.Seal(ctx, prepared.Encoded)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(EncodeOutput{
		QRData:      qr,
		CSV:         prepared.CSV,
		PayloadSize: prepared.Size,
		MaxBytes:    prepared.Limit,
	})
}

// errorResult creates an MCP error result from an error.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if qrErr := errors.As(err); qrErr != nil && qrErr.Code != errors.ErrInternal {
		errorObj := map[string]any{
			"code":    qrErr.Code,
			"message": qrErr.Message,
			"status":  qrErr.Status,
		}
		if qrErr.Details != nil {
			errorObj["details"] = qrErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		// Internal messages may carry file paths or key material.
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
