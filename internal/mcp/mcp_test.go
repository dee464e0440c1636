package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap/zaptest"

	"github.com/hpungsan/namecall/internal/config"
	"github.com/hpungsan/namecall/internal/errors"
	"github.com/hpungsan/namecall/internal/store"
)

// testSetup creates a file-backed store and config for testing.
func testSetup(t *testing.T) (*store.Store, *config.Config) {
	t.Helper()

	file := store.NewJSONFile(filepath.Join(t.TempDir(), "character-mappings.json"))
	st := store.New(file, zaptest.NewLogger(t))
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("failed to load store: %v", err)
	}
	st.Seed(map[string]string{"ناروتو": "Naruto Uzumaki"})

	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true // Allow temp dirs in tests

	return st, cfg
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandleLookup(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		result, err := h.HandleLookup(ctx, makeRequest(map[string]any{"token": "ناروتو"}))
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		output := parseOutput(t, result)
		if output["name"] != "Naruto Uzumaki" {
			t.Errorf("name = %v, want Naruto Uzumaki", output["name"])
		}
		if output["source"] != store.SourceStatic {
			t.Errorf("source = %v, want %s", output["source"], store.SourceStatic)
		}
	})

	t.Run("not found", func(t *testing.T) {
		result, _ := h.HandleLookup(ctx, makeRequest(map[string]any{"token": "غوكو"}))
		if !result.IsError {
			t.Fatal("expected error result")
		}
		assertErrorCode(t, result, string(errors.ErrNotFound))
	})

	t.Run("missing token", func(t *testing.T) {
		result, _ := h.HandleLookup(ctx, makeRequest(map[string]any{}))
		assertErrorCode(t, result, string(errors.ErrInvalidRequest))
	})

	t.Run("wrong type", func(t *testing.T) {
		result, _ := h.HandleLookup(ctx, makeRequest(map[string]any{"token": 42}))
		assertErrorCode(t, result, string(errors.ErrInvalidRequest))
	})
}

func TestHandleLearnAndForget(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg)
	ctx := context.Background()

	result, err := h.HandleLearn(ctx, makeRequest(map[string]any{
		"token":      "غوكو",
		"name":       "Son Goku",
		"confidence": 0.9,
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	output := parseOutput(t, result)
	if output["replaced"] != false {
		t.Errorf("replaced = %v, want false", output["replaced"])
	}

	rec, ok := st.Lookup("غوكو")
	if !ok || rec.Name != "Son Goku" || rec.Source != store.SourceManual {
		t.Fatalf("Lookup() = %+v, %v", rec, ok)
	}

	result, _ = h.HandleForget(ctx, makeRequest(map[string]any{"token": "غوكو"}))
	output = parseOutput(t, result)
	if output["forgotten"] != true {
		t.Errorf("forgotten = %v, want true", output["forgotten"])
	}

	result, _ = h.HandleForget(ctx, makeRequest(map[string]any{"token": "ناروتو"}))
	assertErrorCode(t, result, string(errors.ErrInvalidRequest))
}

func TestHandleList(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg)
	st.Remember("غوكو", store.Record{Name: "Goku", Confidence: 0.9, Source: "jikan"})
	st.Remember("لوفي", store.Record{Name: "Luffy", Confidence: 0.8, Source: "kitsu"})

	result, _ := h.HandleList(context.Background(), makeRequest(map[string]any{"limit": 2}))
	output := parseOutput(t, result)

	items := output["items"].([]any)
	if len(items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(items))
	}
	pagination := output["pagination"].(map[string]any)
	if pagination["total"] != float64(3) {
		t.Errorf("total = %v, want 3", pagination["total"])
	}
	if pagination["has_more"] != true {
		t.Errorf("has_more = %v, want true", pagination["has_more"])
	}

	result, _ = h.HandleList(context.Background(), makeRequest(map[string]any{"source": "kitsu"}))
	output = parseOutput(t, result)
	if got := len(output["items"].([]any)); got != 1 {
		t.Errorf("len(items) with source filter = %d, want 1", got)
	}
}

func TestHandleStats(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg)
	st.Remember("غوكو", store.Record{Name: "Goku", Confidence: 0.9, Source: "jikan"})

	result, _ := h.HandleStats(context.Background(), makeRequest(nil))
	output := parseOutput(t, result)
	if output["static"] != float64(1) || output["learned"] != float64(1) {
		t.Errorf("stats = %v", output)
	}
}

func TestHandleExtractAndClassify(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg)
	ctx := context.Background()

	result, _ := h.HandleExtract(ctx, makeRequest(map[string]any{"text": "*ناروتو ضد ساسكي*"}))
	output := parseOutput(t, result)
	if output["tournament"] != true {
		t.Errorf("tournament = %v, want true", output["tournament"])
	}
	tokens := output["tokens"].([]any)
	if len(tokens) != 3 {
		t.Fatalf("len(tokens) = %d, want 3", len(tokens))
	}
	first := tokens[0].(map[string]any)
	if first["known"] != true || first["name"] != "Naruto Uzumaki" {
		t.Errorf("first token = %v", first)
	}

	result, _ = h.HandleClassify(ctx, makeRequest(map[string]any{"token": "ساسكي"}))
	output = parseOutput(t, result)
	if output["candidate"] != true {
		t.Errorf("candidate = %v, want true", output["candidate"])
	}

	result, _ = h.HandleExtract(ctx, makeRequest(map[string]any{"text": ""}))
	assertErrorCode(t, result, string(errors.ErrInvalidRequest))
}

func TestHandleExportImport(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg)
	ctx := context.Background()
	st.Remember("غوكو", store.Record{Name: "Goku", Confidence: 0.9, Source: "jikan"})

	exportPath := filepath.Join(t.TempDir(), "export.json")
	exportResult, err := h.HandleExport(ctx, makeRequest(map[string]any{"path": exportPath}))
	if err != nil {
		t.Fatalf("export handler returned error: %v", err)
	}
	if exportResult.IsError {
		t.Fatalf("export failed: %v", extractErrorMessage(exportResult))
	}
	if _, err := os.Stat(exportPath); os.IsNotExist(err) {
		t.Fatal("export file not created")
	}

	st2, cfg2 := testSetup(t)
	h2 := NewHandlers(st2, cfg2)

	importResult, err := h2.HandleImport(ctx, makeRequest(map[string]any{
		"path": exportPath,
		"mode": "replace",
	}))
	if err != nil {
		t.Fatalf("import handler returned error: %v", err)
	}
	if importResult.IsError {
		t.Fatalf("import failed: %v", extractErrorMessage(importResult))
	}

	if _, ok := st2.Lookup("غوكو"); !ok {
		t.Error("imported mapping not found")
	}

	badMode, _ := h2.HandleImport(ctx, makeRequest(map[string]any{"path": exportPath, "mode": "rename"}))
	assertErrorCode(t, badMode, string(errors.ErrInvalidRequest))
}

func TestServerRegistration(t *testing.T) {
	st, cfg := testSetup(t)

	s := NewServer(st, cfg, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"names_lookup",
		"names_learn",
		"names_forget",
		"names_list",
		"names_stats",
		"names_export",
		"names_import",
		"text_extract",
		"text_classify",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	st, cfg := testSetup(t)

	cfg.DisabledTools = []string{"names_import", "names_forget", "names_forget"}
	s := NewServer(st, cfg, "test")
	tools := s.ListTools()

	if len(tools) != len(toolRegistry)-2 {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(toolRegistry)-2)
	}
	for _, name := range []string{"names_import", "names_forget"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	st, cfg := testSetup(t)

	cfg.DisabledTools = AllToolNames()
	s := NewServer(st, cfg, "test")
	if tools := s.ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"names_import", "text_extract"}, 0},
		{"one unknown", []string{"names_import", "fake_tool"}, 1},
		{"all unknown", []string{"foo", "bar", "baz"}, 3},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestGetTypeForTool(t *testing.T) {
	if got := GetTypeForTool("names_lookup"); got != "names" {
		t.Errorf("GetTypeForTool() = %q, want names", got)
	}
	if got := GetTypeForTool("plain"); got != "" {
		t.Errorf("GetTypeForTool() = %q, want empty", got)
	}
}

func TestToolDefsMatchRegistry(t *testing.T) {
	for name, entry := range toolRegistry {
		if entry.def.Name != name {
			t.Errorf("registry key %q has tool def named %q", name, entry.def.Name)
		}
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj := payload["error"].(map[string]any)

	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrappedErr := fmt.Errorf("entry 2: %w", errors.NewNotFound("غوكو"))

	r := errorResult(wrappedErr)
	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj := payload["error"].(map[string]any)

	if errObj["code"] != string(errors.ErrNotFound) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if msg := errObj["message"].(string); !strings.Contains(msg, "entry 2") {
		t.Errorf("message should contain wrapper context, got: %s", msg)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
}

func TestErrorResult_PlainError(t *testing.T) {
	r := errorResult(fmt.Errorf("boom"))
	assertErrorCode(t, r, "INTERNAL")
	if strings.Contains(extractErrorMessage(r), "boom") {
		t.Error("plain errors must not leak their message")
	}
}

// Helper functions

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Errorf("content is not TextContent")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Errorf("failed to unmarshal error payload: %v", err)
		return
	}

	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Errorf("no error object in payload")
		return
	}

	if code, _ := errorObj["code"].(string); code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
