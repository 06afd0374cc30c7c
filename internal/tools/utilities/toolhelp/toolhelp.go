// Package toolhelp implements get_tool_help, which returns the extended
// examples and troubleshooting of other registered tools.
package toolhelp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/sammcj/mcp-workspace/internal/tools"
)

// Lookup is the slice of the registry get_tool_help reads from.
type Lookup interface {
	GetTool(name string) (tools.Tool, bool)
	GetToolNamesWithExtendedHelp() []string
}

// ToolHelpTool must be registered after the tools it describes, since the
// tool_name enum is fixed when the definition is built.
type ToolHelpTool struct {
	lookup Lookup
}

func New(lookup Lookup) *ToolHelpTool {
	return &ToolHelpTool{lookup: lookup}
}

// Response is the get_tool_help result.
type Response struct {
	ToolName    string              `json:"tool_name"`
	Description string              `json:"description"`
	InputSchema mcp.ToolInputSchema `json:"input_schema"`
	Extended    *tools.ExtendedHelp `json:"extended_info,omitempty"`
}

func (t *ToolHelpTool) Definition() mcp.Tool {
	names := t.lookup.GetToolNamesWithExtendedHelp()
	description := "Get detailed usage examples and troubleshooting for mcp-workspace tools, for example when a patch keeps failing to match."
	if len(names) == 0 {
		description = "No tools currently provide extended help information."
	}

	return mcp.NewTool(
		"get_tool_help",
		mcp.WithDescription(description),
		mcp.WithString("tool_name",
			mcp.Required(),
			mcp.Description("Name of the tool to get help for"),
			mcp.Enum(names...),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)
}

func (t *ToolHelpTool) Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]any) (*mcp.CallToolResult, error) {
	name, err := tools.RequiredString(args, "tool_name")
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	tool, ok := t.lookup.GetTool(name)
	provider, hasHelp := tool.(tools.ExtendedHelpProvider)
	if !ok || !hasHelp {
		return nil, fmt.Errorf("tool '%s' not found or has no extended help. Tools with extended help: %s",
			name, strings.Join(t.lookup.GetToolNamesWithExtendedHelp(), ", "))
	}

	def := tool.Definition()
	return tools.JSONResult(Response{
		ToolName:    def.Name,
		Description: def.Description,
		InputSchema: def.InputSchema,
		Extended:    provider.ProvideExtendedInfo(),
	})
}
