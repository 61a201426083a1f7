// Package mcpadapter exposes the QA pipeline as an MCP tool.
package mcpadapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/core/ports"
)

const toolAskArchive = "ask_archive"

// NewServer registers ask_archive on a fresh MCP server.
func NewServer(version string, qa ports.QuestionAnswerer) *server.MCPServer {
	s := server.NewMCPServer(
		"archive-qa",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Answer questions about the document archive. "+
			"When ask_archive asks for clarification, call it again with the returned session_id and the user's clarification."),
	)
	tool := NewAskTool(qa)
	s.AddTool(tool.Definition(), tool.Handle)
	return s
}

type AskTool struct {
	qa ports.QuestionAnswerer
}

func NewAskTool(qa ports.QuestionAnswerer) *AskTool {
	return &AskTool{qa: qa}
}

func (t *AskTool) Definition() mcp.Tool {
	return mcp.NewTool(toolAskArchive,
		mcp.WithDescription("Search the classified document archive and answer a question with cited documents."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question to answer."),
		),
		mcp.WithNumber("scope_id",
			mcp.Required(),
			mcp.Description("Classification template id that scopes the search."),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Optional full-text result size."),
		),
		mcp.WithString("session_id",
			mcp.Description("Session id returned by a previous call that asked for clarification."),
		),
		mcp.WithString("clarification",
			mcp.Description("The user's answer to the clarification request."),
		),
	)
}

func (t *AskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	scopeID, err := req.RequireInt("scope_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := t.qa.Ask(ctx, domain.AskRequest{
		Query:         query,
		ScopeID:       int64(scopeID),
		TopK:          req.GetInt("top_k", 0),
		SessionID:     strings.TrimSpace(req.GetString("session_id", "")),
		Clarification: strings.TrimSpace(req.GetString("clarification", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ask_archive failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatResult(result)), nil
}

func formatResult(result *domain.AskResult) string {
	var b strings.Builder
	if result.AmbiguityMessage != "" {
		b.WriteString(result.AmbiguityMessage)
		if len(result.MissingFields) > 0 {
			fmt.Fprintf(&b, "\n\nMissing: %s", strings.Join(result.MissingFields, ", "))
		}
		fmt.Fprintf(&b, "\n\nsession_id: %s", result.SessionID)
		return b.String()
	}

	if result.Answer != nil {
		b.WriteString(result.Answer.Text)
		if len(result.Answer.References) > 0 {
			b.WriteString("\n\nSources:")
			for _, ref := range result.Answer.References {
				fmt.Fprintf(&b, "\n- [%d] %s", ref.DocumentID, ref.Title)
			}
		}
	}
	return b.String()
}
