package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/ellbridge/internal/backend"
	"github.com/kalambet/ellbridge/internal/cache"
	"github.com/kalambet/ellbridge/internal/composer"
	"github.com/kalambet/ellbridge/internal/dispatch"
	"github.com/kalambet/ellbridge/internal/extract"
	"github.com/kalambet/ellbridge/internal/ratelimit"
	"github.com/kalambet/ellbridge/internal/service"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T, policy ratelimit.Policy) (MCPDeps, *fakeBackend, *fakeDecoder) {
	t.Helper()
	primary := &fakeBackend{name: "anthropic", res: backend.Result{Text: "adapted", InputTokens: 3, OutputTokens: 2}}
	secondary := &fakeBackend{name: "openai", res: backend.Result{Text: "adapted by openai"}}
	dec := &fakeDecoder{pages: [][]string{{"Read", "the", "text."}}}

	comp, err := composer.New(0)
	if err != nil {
		t.Fatalf("composer.New: %v", err)
	}
	ctrl := dispatch.New(primary, secondary, nil, dispatch.Config{}, nil)
	svc := service.New(cache.New(), ratelimit.New(), ctrl, comp, service.Config{Policy: policy}, nil)

	return MCPDeps{Service: svc, Extractor: extract.New(dec, nil)}, primary, dec
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func adaptArgs() map[string]interface{} {
	return map[string]interface{}{
		"content":           "Water boils at 100 degrees Celsius.",
		"subject":           "Science",
		"material_type":     "reading",
		"proficiency_level": "developing",
	}
}

// --- tests ---

func TestMCPTool_AdaptMaterial(t *testing.T) {
	deps, primary, _ := newTestMCPDeps(t, ratelimit.DefaultPolicy())
	handler := mcpAdaptMaterial(deps)

	result, err := handler(context.Background(), makeCallToolRequest("adapt_material", adaptArgs()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var resp adaptationResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Result.Text != "adapted" || resp.Backend != "anthropic" || resp.Cached {
		t.Errorf("resp = %+v", resp)
	}

	// Same request is served from cache.
	result, _ = handler(context.Background(), makeCallToolRequest("adapt_material", adaptArgs()))
	if !strings.Contains(toolText(t, result), `"cached":true`) {
		t.Errorf("second call not cached: %s", toolText(t, result))
	}
	if primary.calls != 1 {
		t.Errorf("backend calls = %d, want 1", primary.calls)
	}
}

func TestMCPTool_AdaptMaterial_SecondaryBackend(t *testing.T) {
	deps, primary, _ := newTestMCPDeps(t, ratelimit.DefaultPolicy())
	args := adaptArgs()
	args["backend"] = "openai"

	result, err := mcpAdaptMaterial(deps)(context.Background(), makeCallToolRequest("adapt_material", args))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(toolText(t, result), `"backend":"openai"`) {
		t.Errorf("result = %s", toolText(t, result))
	}
	if primary.calls != 0 {
		t.Error("primary was called")
	}
}

func TestMCPTool_AdaptMaterial_Invalid(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, ratelimit.DefaultPolicy())
	handler := mcpAdaptMaterial(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("adapt_material", map[string]interface{}{}))
	if !result.IsError || toolText(t, result) != "content is required" {
		t.Errorf("missing content: %+v", result)
	}

	args := adaptArgs()
	args["proficiency_level"] = "fluent"
	result, _ = handler(context.Background(), makeCallToolRequest("adapt_material", args))
	if !result.IsError || !strings.Contains(toolText(t, result), "proficiencyLevel") {
		t.Errorf("bad level: %s", toolText(t, result))
	}
}

func TestMCPTool_AdaptMaterial_RateLimited(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, ratelimit.Policy{MaxRequests: 1, Window: time.Minute})
	handler := mcpAdaptMaterial(deps)

	handler(context.Background(), makeCallToolRequest("adapt_material", adaptArgs()))
	args := adaptArgs()
	args["subject"] = "Chemistry"
	result, _ := handler(context.Background(), makeCallToolRequest("adapt_material", args))
	if !result.IsError || !strings.HasPrefix(toolText(t, result), "rate limited") {
		t.Errorf("result = %s", toolText(t, result))
	}
}

func TestMCPTool_ExtractText(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, ratelimit.DefaultPolicy())
	data := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 test"))

	result, err := mcpExtractText(deps)(context.Background(), makeCallToolRequest("extract_text", map[string]interface{}{
		"base64_data": data,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError || toolText(t, result) != "Read the text." {
		t.Errorf("result = %s", toolText(t, result))
	}
}

func TestMCPTool_ExtractText_Failure(t *testing.T) {
	deps, _, dec := newTestMCPDeps(t, ratelimit.DefaultPolicy())
	dec.openErr = extract.ErrEncrypted
	data := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 test"))

	result, _ := mcpExtractText(deps)(context.Background(), makeCallToolRequest("extract_text", map[string]interface{}{
		"base64_data": data,
	}))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	text := toolText(t, result)
	if !strings.HasPrefix(text, string(extract.KindPasswordProtected)) || !strings.Contains(text, "transcribe") {
		t.Errorf("text = %q", text)
	}
}
