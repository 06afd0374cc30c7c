// Package registry holds the set of tools exposed by the server, filtered by
// DISABLED_TOOLS and ENABLE_ADDITIONAL_TOOLS.
package registry

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sammcj/mcp-workspace/internal/tools"
)

var (
	mu            sync.RWMutex
	toolRegistry  = make(map[string]tools.Tool)
	disabledTools = make(map[string]bool)
	logger        *logrus.Logger
	cache         *sync.Map
)

// additionalTools are registered only when named in ENABLE_ADDITIONAL_TOOLS.
// Names compare case-insensitively with underscores and hyphens treated alike.
var additionalTools = []string{
	"sheets",
}

// Init resets the registry and reads DISABLED_TOOLS.
func Init(l *logrus.Logger) {
	mu.Lock()
	defer mu.Unlock()

	logger = l
	cache = &sync.Map{}
	toolRegistry = make(map[string]tools.Tool)
	disabledTools = make(map[string]bool)
	for name := range strings.SplitSeq(os.Getenv("DISABLED_TOOLS"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			disabledTools[name] = true
		}
	}
	if logger != nil && len(disabledTools) > 0 {
		logger.WithField("count", len(disabledTools)).Debug("Parsed disabled tools from environment")
	}
}

func normalise(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-"))
}

func requiresEnablement(toolName string) bool {
	n := normalise(toolName)
	return slices.ContainsFunc(additionalTools, func(t string) bool { return normalise(t) == n })
}

func isToolEnabled(toolName string) bool {
	raw := os.Getenv("ENABLE_ADDITIONAL_TOOLS")
	if raw == "" {
		return false
	}
	if normalise(raw) == "all" {
		return true
	}
	n := normalise(toolName)
	for name := range strings.SplitSeq(raw, ",") {
		if normalise(name) == n {
			return true
		}
	}
	return false
}

// ShouldRegisterTool applies DISABLED_TOOLS first, then the enablement
// requirement for additional tools. Everything else is on by default.
func ShouldRegisterTool(toolName string) bool {
	mu.RLock()
	disabled := disabledTools[toolName]
	mu.RUnlock()

	if disabled {
		debug(toolName, "Tool disabled via DISABLED_TOOLS")
		return false
	}
	if requiresEnablement(toolName) {
		enabled := isToolEnabled(toolName)
		if !enabled {
			debug(toolName, "Tool requires ENABLE_ADDITIONAL_TOOLS")
		}
		return enabled
	}
	return true
}

// Register adds tool unless it is disabled or requires enablement.
func Register(tool tools.Tool) {
	name := tool.Definition().Name
	if !ShouldRegisterTool(name) {
		return
	}
	mu.Lock()
	toolRegistry[name] = tool
	mu.Unlock()
	debug(name, "Tool registered")
}

// GetTool returns a registered tool by name.
func GetTool(name string) (tools.Tool, bool) {
	mu.RLock()
	defer mu.RUnlock()
	tool, ok := toolRegistry[name]
	return tool, ok
}

// GetEnabledTools returns a copy of the registered tools.
func GetEnabledTools() map[string]tools.Tool {
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[string]tools.Tool, len(toolRegistry))
	for name, tool := range toolRegistry {
		out[name] = tool
	}
	return out
}

// GetEnabledToolNames returns the registered tool names, sorted.
func GetEnabledToolNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetToolNamesWithExtendedHelp returns the sorted names of registered tools
// implementing tools.ExtendedHelpProvider.
func GetToolNamesWithExtendedHelp() []string {
	mu.RLock()
	defer mu.RUnlock()
	var names []string
	for name, tool := range toolRegistry {
		if _, ok := tool.(tools.ExtendedHelpProvider); ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func GetLogger() *logrus.Logger {
	return logger
}

// GetCache returns the cache handed to every tool call.
func GetCache() *sync.Map {
	return cache
}

func debug(toolName, msg string) {
	if logger != nil {
		logger.WithField("tool", toolName).Debug(msg)
	}
}

// View exposes the package-level registry as a value, for consumers that
// take an interface.
type View struct{}

func (View) GetTool(name string) (tools.Tool, bool) { return GetTool(name) }

func (View) GetToolNamesWithExtendedHelp() []string { return GetToolNamesWithExtendedHelp() }
