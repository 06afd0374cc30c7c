package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type stubTool struct{ name string }

func (s stubTool) Definition() mcp.Tool { return mcp.NewTool(s.name) }

func (s stubTool) Execute(context.Context, *logrus.Logger, *sync.Map, map[string]any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.name), nil
}

func TestRegister_Defaults(t *testing.T) {
	t.Setenv("DISABLED_TOOLS", "")
	t.Setenv("ENABLE_ADDITIONAL_TOOLS", "")
	Init(nil)

	Register(stubTool{"script_patch"})
	Register(stubTool{"sheets"})

	_, ok := GetTool("script_patch")
	assert.True(t, ok)
	_, ok = GetTool("sheets")
	assert.False(t, ok, "sheets requires ENABLE_ADDITIONAL_TOOLS")
	assert.Equal(t, []string{"script_patch"}, GetEnabledToolNames())
	assert.NotNil(t, GetCache())
}

func TestRegister_DisabledWinsOverEnabled(t *testing.T) {
	t.Setenv("DISABLED_TOOLS", "script_files, sheets")
	t.Setenv("ENABLE_ADDITIONAL_TOOLS", "all")
	Init(nil)

	Register(stubTool{"script_files"})
	Register(stubTool{"sheets"})
	Register(stubTool{"script_anchors"})

	assert.Equal(t, []string{"script_anchors"}, GetEnabledToolNames())
}

func TestEnablementNormalisesNames(t *testing.T) {
	t.Setenv("DISABLED_TOOLS", "")
	t.Setenv("ENABLE_ADDITIONAL_TOOLS", " Sheets ")
	Init(nil)

	assert.True(t, requiresEnablement("SHEETS"))
	assert.True(t, ShouldRegisterTool("sheets"))
	assert.True(t, ShouldRegisterTool("script_patch"))
	assert.Len(t, GetEnabledTools(), 0)
	assert.Empty(t, View{}.GetToolNamesWithExtendedHelp())
}
