package toolhelp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammcj/mcp-workspace/internal/tools"
)

type plainTool struct{ name string }

func (p plainTool) Definition() mcp.Tool {
	return mcp.NewTool(p.name, mcp.WithDescription("plain"))
}

func (p plainTool) Execute(context.Context, *logrus.Logger, *sync.Map, map[string]any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText("ok"), nil
}

type helpfulTool struct{ plainTool }

func (helpfulTool) ProvideExtendedInfo() *tools.ExtendedHelp {
	return &tools.ExtendedHelp{WhenToUse: "always"}
}

type fakeLookup map[string]tools.Tool

func (f fakeLookup) GetTool(name string) (tools.Tool, bool) {
	t, ok := f[name]
	return t, ok
}

func (f fakeLookup) GetToolNamesWithExtendedHelp() []string {
	var names []string
	for name, t := range f {
		if _, ok := t.(tools.ExtendedHelpProvider); ok {
			names = append(names, name)
		}
	}
	return names
}

func TestToolHelp(t *testing.T) {
	lookup := fakeLookup{
		"script_patch": helpfulTool{plainTool{"script_patch"}},
		"plain":        plainTool{"plain"},
	}
	tool := New(lookup)
	logger := logrus.New()

	def := tool.Definition()
	assert.Equal(t, "get_tool_help", def.Name)

	result, err := tool.Execute(t.Context(), logger, &sync.Map{}, map[string]any{"tool_name": "script_patch"})
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &resp))
	assert.Equal(t, "script_patch", resp.ToolName)
	require.NotNil(t, resp.Extended)
	assert.Equal(t, "always", resp.Extended.WhenToUse)

	_, err = tool.Execute(t.Context(), logger, &sync.Map{}, map[string]any{"tool_name": "plain"})
	assert.ErrorContains(t, err, "script_patch")

	_, err = tool.Execute(t.Context(), logger, &sync.Map{}, map[string]any{"tool_name": "nope"})
	assert.Error(t, err)

	_, err = tool.Execute(t.Context(), logger, &sync.Map{}, map[string]any{})
	assert.ErrorContains(t, err, "invalid parameters")
}
