package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/namecall/internal/config"
	"github.com/hpungsan/namecall/internal/errors"
	"github.com/hpungsan/namecall/internal/ops"
	"github.com/hpungsan/namecall/internal/store"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	store *store.Store
	cfg   *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st *store.Store, cfg *config.Config) *Handlers {
	return &Handlers{store: st, cfg: cfg}
}

// Request types for each tool

// TokenRequest represents the arguments for lookup, forget and classify.
type TokenRequest struct {
	Token string `json:"token"`
}

// LearnRequest represents the arguments for learn.
type LearnRequest struct {
	Token      string  `json:"token"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ListRequest represents the arguments for list.
type ListRequest struct {
	Source string `json:"source,omitempty"`
	Query  string `json:"query,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ExportRequest represents the arguments for export.
type ExportRequest struct {
	Path  string `json:"path,omitempty"`
	Label string `json:"label,omitempty"`
}

// ImportRequest represents the arguments for import.
type ImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// ExtractRequest represents the arguments for extract.
type ExtractRequest struct {
	Text string `json:"text"`
}

// Handler implementations

// HandleLookup handles the lookup tool call.
func (h *Handlers) HandleLookup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TokenRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Lookup(h.store, ops.LookupInput{Token: input.Token})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleLearn handles the learn tool call.
func (h *Handlers) HandleLearn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LearnRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Learn(ctx, h.store, ops.LearnInput{
		Token:      input.Token,
		Name:       input.Name,
		Confidence: input.Confidence,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleForget handles the forget tool call.
func (h *Handlers) HandleForget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TokenRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Forget(ctx, h.store, ops.ForgetInput{Token: input.Token})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleList handles the list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(h.store, ops.ListInput{
		Source: input.Source,
		Query:  input.Query,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStats handles the stats tool call.
func (h *Handlers) HandleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.Stats(h.store))
}

// HandleExport handles the export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.store, h.cfg, ops.ExportInput{
		Path:  input.Path,
		Label: input.Label,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleImport handles the import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Import(ctx, h.store, h.cfg, ops.ImportInput{
		Path: input.Path,
		Mode: ops.ImportMode(input.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExtract handles the extract tool call.
func (h *Handlers) HandleExtract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExtractRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Extract(h.store, ops.ExtractInput{Text: input.Text})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleClassify handles the classify tool call.
func (h *Handlers) HandleClassify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TokenRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Classify(h.store, ops.ClassifyInput{Token: input.Token})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result with IsError set. Internal error
// details are never exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var botErr *errors.BotError
	if stderrors.As(err, &botErr) {
		message := botErr.Message
		if botErr.Code != errors.ErrInternal && err != error(botErr) {
			message = err.Error()
		}
		errorObj := map[string]any{
			"code":    botErr.Code,
			"message": message,
			"status":  botErr.Status,
		}
		// Internal details may carry file paths or SQL errors.
		if botErr.Code != errors.ErrInternal && botErr.Details != nil {
			errorObj["details"] = botErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
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
