package appscript

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/sammcj/mcp-workspace/internal/telemetry"
	"github.com/sammcj/mcp-workspace/internal/tools"
)

// AnchorsTool implements script_anchors.
type AnchorsTool struct {
	editor Editor
}

func NewAnchorsTool(editor Editor) *AnchorsTool {
	return &AnchorsTool{editor: editor}
}

func (t *AnchorsTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"script_anchors",
		mcp.WithDescription(`Insert anchor comment markers around top-level functions and classes (.gs) or divs, forms and inputs (.html) of an Apps Script file.

Markers look like "// >>>BEGIN_name<<<" / "// >>>END_name<<<" and are what script_patch's anchor_start and anchor_end refer to. Existing markers are left alone, so running this again is safe.

With preview (the default) nothing is written and the planned markers are returned with a diff.`),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Apps Script project (script) ID"),
		),
		mcp.WithString("file_name",
			mcp.Required(),
			mcp.Description("Script (.gs) or HTML file to anchor"),
		),
		mcp.WithBoolean("preview",
			mcp.Description("Only report the markers that would be inserted (default true)"),
			mcp.DefaultBool(true),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)
}

func (t *AnchorsTool) Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]any) (*mcp.CallToolResult, error) {
	projectID, err := tools.RequiredString(args, "project_id")
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	fileName, err := tools.RequiredString(args, "file_name")
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	preview, err := tools.OptionalBool(args, "preview", true)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	result, err := t.editor.GenerateAnchors(ctx, projectID, fileName, preview)
	if err != nil {
		return nil, wrapError(err, "anchor", fileName)
	}

	logger.WithFields(logrus.Fields{
		"project_id": projectID,
		"file":       result.FileName,
		"anchors":    len(result.Anchors),
		"committed":  result.Committed,
	}).Debug("script_anchors finished")
	telemetry.AnnotatePatch(ctx, telemetry.PatchAttributes{
		FileName:   result.FileName,
		Method:     "anchors",
		Success:    true,
		SyntaxOK:   result.Validation == nil || result.Validation.IsValid,
		DryRun:     preview,
		Committed:  result.Committed,
		SnapshotID: result.SnapshotID,
	})

	return tools.JSONResult(result)
}

func (t *AnchorsTool) ProvideExtendedInfo() *tools.ExtendedHelp {
	return &tools.ExtendedHelp{
		WhenToUse:    "Before making several edits to the same functions or HTML sections, so later patches can use reliable anchor replacement.",
		WhenNotToUse: "JSON manifests (appsscript.json) or files you do not want comment markers added to.",
		Examples: []tools.ToolExample{
			{
				Description:    "See which anchors would be added",
				Arguments:      map[string]any{"project_id": "1AbC...xyz", "file_name": "Code.gs"},
				ExpectedResult: "anchors with names and marker lines, a preview_diff, committed false",
			},
			{
				Description:    "Write the anchors",
				Arguments:      map[string]any{"project_id": "1AbC...xyz", "file_name": "Sidebar.html", "preview": false},
				ExpectedResult: "committed true with a snapshot_id",
			},
		},
		Troubleshooting: []tools.TroubleshootingTip{
			{Problem: "anchor generation is not supported for json files", Solution: "Only script and HTML files can be anchored; patch JSON with find/replace."},
			{Problem: "anchored content did not validate", Solution: "The file already has a syntax problem; run script_files validate_file and fix it first."},
			{Problem: "An element was skipped", Solution: "HTML elements are only anchored when their start tag begins a line and their end tag ends a line."},
		},
	}
}
