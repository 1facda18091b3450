package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/qrform/internal/config"
	"github.com/hpungsan/qrform/internal/payload"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"form_resolve": {
		def:     resolveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleResolve },
	},
	"form_validate": {
		def:     validateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleValidate },
	},
	"form_review": {
		def:     reviewToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReview },
	},
	"form_encode": {
		def:     encodeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleEncode },
	},
}

var (
	resolveToolDef = mcp.NewTool("form_resolve",
		mcp.WithDescription("Drop answers to questions hidden by their conditions, repeating until nothing changes."),
		templateArg(),
		answersArg(),
	)

	validateToolDef = mcp.NewTool("form_validate",
		mcp.WithDescription("Validate every visible question. Returns {valid, errors} keyed by question id."),
		templateArg(),
		answersArg(),
	)

	reviewToolDef = mcp.NewTool("form_review",
		mcp.WithDescription("Summarize visible questions and their answers for confirmation, as items and markdown."),
		templateArg(),
		answersArg(),
		mcp.WithBoolean("html", mcp.Description("Also render the summary as HTML.")),
	)

	encodeToolDef = mcp.NewTool("form_encode",
		mcp.WithDescription("Validate, then serialize, compress and encrypt answers into the QR payload string. "+
			"Fails with VALIDATION_FAILED on invalid answers and PAYLOAD_TOO_LARGE when the compressed payload exceeds the template limit. No log is sent."),
		templateArg(),
		answersArg(),
		mcp.WithString("public_key", mcp.Description("PEM encoded RSA public key. Fetched from the configured endpoint when omitted.")),
	)
)

func templateArg() mcp.ToolOption {
	return mcp.WithObject("template", mcp.Required(), mcp.Description("Questionnaire template object."))
}

func answersArg() mcp.ToolOption {
	return mcp.WithObject("answers", mcp.Description("Answers keyed by question id."))
}

// AllToolNames returns a sorted list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with the form tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
// keys supplies the public key for form_encode when a call carries none.
func NewServer(cfg *config.Config, keys payload.KeySource, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"qrform",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(cfg, keys)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(cfg *config.Config, keys payload.KeySource, version string) error {
	s := NewServer(cfg, keys, version)
	return server.ServeStdio(s)
}
