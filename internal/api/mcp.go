package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/ellbridge/internal/adapt"
	"github.com/kalambet/ellbridge/internal/extract"
	"github.com/kalambet/ellbridge/internal/service"
)

// mcpIdentity is the rate-limit identity shared by all MCP callers.
const mcpIdentity = "mcp"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service   *service.Service
	Extractor *extract.Pipeline
}

// NewMCPServer creates an MCP server exposing adaptation and extraction
// as tools.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"ellbridge",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("ellbridge adapts classroom materials for English language learners."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("adapt_material",
			mcp.WithDescription("Adapt classroom material for an English language learner at a given proficiency level."),
			mcp.WithString("content", mcp.Description("The material to adapt"), mcp.Required()),
			mcp.WithString("subject", mcp.Description("Subject area, e.g. Science"), mcp.Required()),
			mcp.WithString("material_type", mcp.Description("worksheet, reading, test, homework, lesson_plan or other"), mcp.Required()),
			mcp.WithString("proficiency_level", mcp.Description("entering, emerging, developing, expanding, bridging or reaching"), mcp.Required()),
			mcp.WithString("grade_level", mcp.Description("Grade level, e.g. 5")),
			mcp.WithString("learning_objectives", mcp.Description("Objectives the adaptation must preserve")),
			mcp.WithBoolean("bilingual_support", mcp.Description("Add native-language support")),
			mcp.WithString("native_language", mcp.Description("Student's native language; required with bilingual_support")),
			mcp.WithNumber("max_output_tokens", mcp.Description("Output token budget")),
			mcp.WithString("backend", mcp.Description("primary (default) or secondary")),
		),
		mcpAdaptMaterial(deps),
	)

	s.AddTool(
		mcp.NewTool("extract_text",
			mcp.WithDescription("Extract plain text from a base64-encoded PDF."),
			mcp.WithString("base64_data", mcp.Description("The PDF bytes, base64 encoded"), mcp.Required()),
		),
		mcpExtractText(deps),
	)

	return s
}

func mcpAdaptMaterial(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		target, err := parseTarget(req.GetString("backend", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		ar := adapt.Request{
			Content:            content,
			Subject:            req.GetString("subject", ""),
			MaterialType:       adapt.MaterialType(req.GetString("material_type", "")),
			ProficiencyLevel:   adapt.ProficiencyLevel(req.GetString("proficiency_level", "")),
			GradeLevel:         req.GetString("grade_level", ""),
			LearningObjectives: req.GetString("learning_objectives", ""),
			BilingualSupport:   req.GetBool("bilingual_support", false),
			NativeLanguage:     req.GetString("native_language", ""),
			MaxOutputTokens:    req.GetInt("max_output_tokens", 0),
		}

		out, err := deps.Service.Adapt(ctx, mcpIdentity, true, ar, service.Options{Backend: target, AllowFallback: true})
		if err != nil {
			var rl *service.RateLimitedError
			if errors.As(err, &rl) {
				return mcpError(fmt.Sprintf("rate limited until %s", rl.ResetTime.UTC().Format("15:04:05"))), nil
			}
			return mcpError(fmt.Sprintf("adaptation failed: %v", err)), nil
		}

		b, err := json.Marshal(adaptationResponse{
			Result:   out.Result,
			Cached:   out.Cached,
			Backend:  out.Backend,
			FellBack: out.FellBack,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpExtractText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("base64_data")
		if err != nil {
			return mcpError("base64_data is required"), nil
		}
		data, err := decodeBase64(raw)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid base64: %v", err)), nil
		}

		text, err := deps.Extractor.Extract(ctx, data)
		if err != nil {
			kind := extract.KindOf(err)
			return mcpError(fmt.Sprintf("%s: %s", kind, kind.Remedy())), nil
		}
		return mcpText(text), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
