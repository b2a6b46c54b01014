package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/shopchat/internal/chat"
	"github.com/kalambet/shopchat/internal/session"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Chat    Conversation
	Version string
}

// NewMCPServer creates an MCP server exposing the product assistant.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"shopchat",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("shopchat: ask the product catalog in natural language, look up barcodes, and read the running conversation."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_catalog",
			mcp.WithDescription("Send a message to the product assistant and return its reply with any suggested products."),
			mcp.WithString("text", mcp.Description("Product name, question, or description"), mcp.Required()),
		),
		mcpAskCatalog(deps),
	)

	s.AddTool(
		mcp.NewTool("lookup_barcode",
			mcp.WithDescription("Look up a product by its EAN/UPC barcode."),
			mcp.WithString("code", mcp.Description("Barcode digits"), mcp.Required()),
		),
		mcpLookupBarcode(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_conversation",
			mcp.WithDescription("Clear the conversation and start over with the greeting."),
		),
		mcpResetConversation(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"chat://snapshot",
			"Conversation",
			mcp.WithResourceDescription("Current conversation snapshot (draft input and messages) as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSnapshot(deps),
	)

	return s
}

func mcpAskCatalog(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcpError("text is required"), nil
		}
		msg, err := deps.Chat.Submit(ctx, text)
		return mcpMessage(msg, err), nil
	}
}

func mcpLookupBarcode(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		code, err := req.RequireString("code")
		if err != nil || strings.TrimSpace(code) == "" {
			return mcpError("code is required"), nil
		}
		msg, err := deps.Chat.LookupBarcode(ctx, code)
		return mcpMessage(msg, err), nil
	}
}

func mcpResetConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Chat.Reset(); err != nil {
			return mcpFailure(err), nil
		}
		return mcpText("Conversation cleared"), nil
	}
}

func mcpResourceSnapshot(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Chat.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// mcpMessage renders a bot message as the reply text followed by one line
// per suggested product.
func mcpMessage(msg session.Message, err error) *mcp.CallToolResult {
	if err != nil {
		return mcpFailure(err)
	}

	var b strings.Builder
	b.WriteString(msg.Text)
	for _, s := range msg.Suggestions {
		fmt.Fprintf(&b, "\n- [%d] %s", s.ID, s.Name)
		if s.Price != "" {
			fmt.Fprintf(&b, " · %s", s.Price)
		}
		if s.Rating > 0 {
			fmt.Fprintf(&b, " · %.1f★", s.Rating)
		}
	}
	return mcpText(b.String())
}

func mcpFailure(err error) *mcp.CallToolResult {
	if errors.Is(err, chat.ErrBusy) {
		return mcpError("another message is still being answered, try again shortly")
	}
	return mcpError(err.Error())
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
