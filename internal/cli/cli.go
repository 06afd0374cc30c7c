// Package cli implements the offline commands of mcp-workspace: anchor
// generation and validation of local script files, and direct invocation of
// registered tools without an MCP client.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/sammcj/mcp-workspace/internal/anchors"
	"github.com/sammcj/mcp-workspace/internal/registry"
	"github.com/sammcj/mcp-workspace/internal/validate"
)

// OutputFormat controls how results are rendered.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
)

// Runner executes CLI commands.
type Runner struct {
	logger    *logrus.Logger
	cache     *sync.Map
	output    OutputFormat
	validator *validate.Validator
	out       io.Writer
}

// NewRunner creates a Runner writing to stdout.
func NewRunner(logger *logrus.Logger, cache *sync.Map, output OutputFormat, validator *validate.Validator) *Runner {
	if validator == nil {
		validator = validate.New(validate.DefaultOptions())
	}
	return &Runner{logger: logger, cache: cache, output: output, validator: validator, out: os.Stdout}
}

// anchorsOutput is the JSON shape of the anchors command.
type anchorsOutput struct {
	File    string          `json:"file"`
	Written bool            `json:"written"`
	Result  anchors.Result  `json:"result"`
	Check   validate.Result `json:"validation"`
}

// Anchors generates anchor markers for a local file. Without write the file
// is left untouched and the planned anchors are printed. With write the
// anchored content must validate before it replaces the file.
func (r *Runner) Anchors(path string, write bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	lang := validate.LanguageForExtension(filepath.Ext(path))
	mode, err := anchors.ModeFor(lang)
	if err != nil {
		return err
	}

	content := string(data)
	var res anchors.Result
	if write {
		res = anchors.Generate(content, mode)
	} else {
		res = anchors.Preview(content, mode)
	}

	check := r.validator.Validate(lang, res.Content, content)
	out := anchorsOutput{File: path, Result: res, Check: check}

	if write && len(res.Anchors) > 0 {
		if !check.IsValid {
			return fmt.Errorf("anchored content did not validate, %s left unchanged: %w", path, check.Err(lang))
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if err := os.WriteFile(path, []byte(res.Content), info.Mode().Perm()); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		out.Written = true
		r.logger.WithFields(logrus.Fields{"file": path, "anchors": len(res.Anchors)}).Debug("Anchors written")
	}

	if r.output == OutputJSON {
		return writeJSON(r.out, out)
	}

	fmt.Fprintln(r.out, res.Summary)
	if len(res.Anchors) > 0 {
		w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		for _, a := range res.Anchors {
			fmt.Fprintf(w, "  %s\t%s\tlines %d-%d\n", a.Name, a.Kind, a.StartLine, a.EndLine)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	yellow := color.New(color.FgYellow).SprintFunc()
	for _, s := range res.Skipped {
		fmt.Fprintf(r.out, "  %s %s\n", yellow("skipped:"), s)
	}
	if out.Written {
		fmt.Fprintf(r.out, "%s %s\n", color.New(color.FgGreen).Sprint("Wrote"), path)
	}
	return nil
}

// Validate checks a local file. against, when set, is the previous version
// of the file and enables the size sanity check. An invalid file is
// reported and returned as an error so the exit status is non-zero.
func (r *Runner) Validate(path, against string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	var original string
	if against != "" {
		old, err := os.ReadFile(against)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", against, err)
		}
		original = string(old)
	}

	lang := validate.LanguageForExtension(filepath.Ext(path))
	res := r.validator.Validate(lang, string(data), original)

	if r.output == OutputJSON {
		if err := writeJSON(r.out, map[string]any{"file": path, "language": lang.String(), "result": res}); err != nil {
			return err
		}
		return res.Err(lang)
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	if res.IsValid {
		fmt.Fprintf(r.out, "%s: %s\n", path, green("valid "+lang.String()))
	} else {
		loc := path
		if res.Line > 0 {
			loc = fmt.Sprintf("%s:%d", path, res.Line)
			if res.Column > 0 {
				loc = fmt.Sprintf("%s:%d", loc, res.Column)
			}
		}
		fmt.Fprintf(r.out, "%s: %s\n", loc, red(res.Error))
		for _, s := range res.Suggestions {
			fmt.Fprintf(r.out, "  suggestion: %s\n", s)
		}
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(r.out, "  %s %s\n", yellow("warning:"), w)
	}
	return res.Err(lang)
}

// ListTools prints all registered tools with their descriptions.
func (r *Runner) ListTools() error {
	names := registry.GetEnabledToolNames()

	type entry struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	entries := make([]entry, 0, len(names))
	for _, name := range names {
		tool, ok := registry.GetTool(name)
		if !ok {
			continue
		}
		entries = append(entries, entry{Name: name, Description: firstLine(tool.Definition().Description)})
	}

	if r.output == OutputJSON {
		return writeJSON(r.out, entries)
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Description)
	}
	return w.Flush()
}

// HelpTool prints the schema and usage information for a single tool.
func (r *Runner) HelpTool(name string) error {
	resolved, found := resolveTool(name)
	if !found {
		return fmt.Errorf("unknown tool: %s", name)
	}
	tool, _ := registry.GetTool(resolved)
	def := tool.Definition()

	if r.output == OutputJSON {
		return writeJSON(r.out, def)
	}

	fmt.Fprintf(r.out, "Tool: %s\n\n", def.Name)
	if def.Description != "" {
		fmt.Fprintf(r.out, "%s\n\n", def.Description)
	}

	props := def.InputSchema.Properties
	if len(props) == 0 {
		fmt.Fprintln(r.out, "No parameters.")
		return nil
	}

	fmt.Fprintln(r.out, "Parameters:")

	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	slices.Sort(names)

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, pName := range names {
		pMap, ok := props[pName].(map[string]any)
		if !ok {
			continue
		}
		pType, _ := pMap["type"].(string)
		pDesc, _ := pMap["description"].(string)

		reqMark := ""
		if slices.Contains(def.InputSchema.Required, pName) {
			reqMark = " (required)"
		}
		fmt.Fprintf(w, "  --%s\t%s\t%s%s%s\n", toFlagName(pName), pType, firstLine(pDesc), reqMark, formatEnum(pMap))
	}
	return w.Flush()
}

// RunTool executes a tool by name. args can be a JSON object, --key=value
// flags, or both, with flags taking precedence.
func (r *Runner) RunTool(ctx context.Context, name string, args []string) error {
	resolved, found := resolveTool(name)
	if !found {
		return fmt.Errorf("unknown tool: %s (run 'mcp-workspace tools list' to see available tools)", name)
	}
	tool, _ := registry.GetTool(resolved)

	params, err := parseArgs(args, tool.Definition())
	if err != nil {
		return fmt.Errorf("argument error: %w", err)
	}

	result, err := tool.Execute(ctx, r.logger, r.cache, params)
	if err != nil {
		return fmt.Errorf("tool error: %w", err)
	}
	return r.renderResult(result)
}

// parseArgs converts CLI arguments into tool arguments.
func parseArgs(args []string, def mcp.Tool) (map[string]any, error) {
	params := make(map[string]any)
	schema := buildSchemaInfo(def)

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "{") {
			var obj map[string]any
			if err := json.Unmarshal([]byte(arg), &obj); err != nil {
				return nil, fmt.Errorf("invalid JSON argument: %w", err)
			}
			for k, v := range obj {
				if _, exists := params[k]; !exists {
					params[k] = v
				}
			}
			continue
		}

		if strings.HasPrefix(arg, "--") {
			key, val, err := parseFlag(arg, args, &i, schema)
			if err != nil {
				return nil, err
			}
			params[key] = val
			continue
		}

		return nil, fmt.Errorf("unexpected argument: %s (use --key=value flags or pass a JSON object)", arg)
	}

	return params, nil
}

type schemaInfo struct {
	// typeMap maps parameter names to their JSON Schema types
	typeMap map[string]string
	// flagToParam maps kebab-case flag names to parameter names
	flagToParam map[string]string
}

// parseFlag parses --key=value, --key value or a bare boolean --flag.
func parseFlag(arg string, args []string, idx *int, schema schemaInfo) (string, any, error) {
	stripped := strings.TrimPrefix(arg, "--")

	if flagName, rawVal, found := strings.Cut(stripped, "="); found {
		paramName := schema.resolveParam(flagName)
		return paramName, coerceValue(rawVal, schema.typeMap[paramName]), nil
	}

	paramName := schema.resolveParam(stripped)
	if schema.typeMap[paramName] == "boolean" {
		return paramName, true, nil
	}

	*idx++
	if *idx >= len(args) {
		return "", nil, fmt.Errorf("flag --%s requires a value", stripped)
	}
	return paramName, coerceValue(args[*idx], schema.typeMap[paramName]), nil
}

func (s schemaInfo) resolveParam(flagName string) string {
	if actual, ok := s.flagToParam[flagName]; ok {
		return actual
	}
	return strings.ReplaceAll(flagName, "-", "_")
}

func buildSchemaInfo(def mcp.Tool) schemaInfo {
	info := schemaInfo{
		typeMap:     make(map[string]string, len(def.InputSchema.Properties)),
		flagToParam: make(map[string]string, len(def.InputSchema.Properties)),
	}
	for name, prop := range def.InputSchema.Properties {
		if pm, ok := prop.(map[string]any); ok {
			if t, ok := pm["type"].(string); ok {
				info.typeMap[name] = t
			}
		}
		info.flagToParam[toFlagName(name)] = name
	}
	return info
}

// coerceValue converts a flag value using its JSON Schema type. Values that
// do not parse are passed through as strings for the tool to reject.
func coerceValue(raw, schemaType string) any {
	switch schemaType {
	case "number", "integer":
		var f float64
		if err := json.Unmarshal([]byte(raw), &f); err == nil {
			return f
		}
		return raw
	case "boolean":
		switch strings.ToLower(raw) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
		return raw
	case "array":
		var arr []any
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			return arr
		}
		return strings.Split(raw, ",")
	case "object":
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			return obj
		}
		return raw
	default:
		return raw
	}
}

// renderResult prints the text content of a tool result.
func (r *Runner) renderResult(result *mcp.CallToolResult) error {
	if result == nil {
		return nil
	}
	if r.output == OutputJSON {
		return writeJSON(r.out, result)
	}

	for _, content := range result.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			fmt.Fprintln(r.out, c.Text)
		default:
			data, err := json.MarshalIndent(c, "", "  ")
			if err != nil {
				fmt.Fprintf(r.out, "%+v\n", c)
			} else {
				fmt.Fprintln(r.out, string(data))
			}
		}
	}

	if result.IsError {
		return fmt.Errorf("tool returned an error")
	}
	return nil
}

// resolveTool accepts kebab-case names for snake_case tools.
func resolveTool(name string) (string, bool) {
	if _, ok := registry.GetTool(name); ok {
		return name, true
	}
	snakeName := strings.ReplaceAll(name, "-", "_")
	if _, ok := registry.GetTool(snakeName); ok {
		return snakeName, true
	}
	return name, false
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstLine(s string) string {
	before, _, _ := strings.Cut(s, "\n")
	return before
}

func toFlagName(s string) string {
	return strings.ReplaceAll(s, "_", "-")
}

func formatEnum(pMap map[string]any) string {
	var vals []string
	switch enum := pMap["enum"].(type) {
	case []string:
		vals = enum
	case []any:
		for _, v := range enum {
			vals = append(vals, fmt.Sprint(v))
		}
	}
	if len(vals) == 0 {
		return ""
	}
	return " [" + strings.Join(vals, "|") + "]"
}
