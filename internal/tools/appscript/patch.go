// Package appscript exposes the Apps Script patch engine, anchor generator
// and project file operations as MCP tools.
package appscript

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/sammcj/mcp-workspace/internal/google/drive"
	"github.com/sammcj/mcp-workspace/internal/patch"
	"github.com/sammcj/mcp-workspace/internal/scriptedit"
	"github.com/sammcj/mcp-workspace/internal/snapshot"
	"github.com/sammcj/mcp-workspace/internal/telemetry"
	"github.com/sammcj/mcp-workspace/internal/tools"
)

// Editor is the part of scriptedit.Service the tools drive.
type Editor interface {
	Patch(ctx context.Context, req scriptedit.PatchRequest) (*scriptedit.PatchResult, error)
	GenerateAnchors(ctx context.Context, projectID, fileName string, preview bool) (*scriptedit.AnchorsResult, error)
	ListFiles(ctx context.Context, projectID string) ([]scriptedit.FileInfo, error)
	GetFile(ctx context.Context, projectID, fileName string, startLine, endLine int) (*scriptedit.FileContent, error)
	ValidateFile(ctx context.Context, projectID, fileName string) (*scriptedit.ValidationReport, error)
	ListSnapshots(ctx context.Context, projectID, fileName string) ([]snapshot.Snapshot, error)
	RestoreSnapshot(ctx context.Context, projectID, fileName, snapshotID string) (*scriptedit.RestoreResult, error)
}

// ProjectLister finds script projects the credentials can see.
type ProjectLister interface {
	List(ctx context.Context, nameContains string, limit int) ([]drive.Project, error)
}

// PatchTool implements script_patch.
type PatchTool struct {
	editor Editor
}

func NewPatchTool(editor Editor) *PatchTool {
	return &PatchTool{editor: editor}
}

func (t *PatchTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"script_patch",
		mcp.WithDescription(`Edit one file of a Google Apps Script project without resending the whole file.

Methods, tried in order and stopping at the first that succeeds:
• anchor: anchor_start + anchor_end + replace. Replaces everything between two marker lines, keeping the markers. Most reliable; add markers first with script_anchors.
• fuzzy: find + replace. Locates find even when whitespace or small details differ; rejects matches below min_accuracy.
• unified_diff: a unified diff against the current file. Hunks apply at the line numbers in their @@ headers, so diff against the latest content; removed lines that do not match are reported in diff_mismatches.

The result is syntax-checked before anything is written. On any failure the file is left untouched and the report explains why. Use dry_run to preview the change as a diff.`),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Apps Script project (script) ID"),
		),
		mcp.WithString("file_name",
			mcp.Required(),
			mcp.Description("File to patch, e.g. Code.gs, Code or Sidebar.html"),
		),
		mcp.WithString("anchor_start",
			mcp.Description("Exact start marker line content, e.g. // >>>BEGIN_main<<<"),
		),
		mcp.WithString("anchor_end",
			mcp.Description("Exact end marker line content, e.g. // >>>END_main<<<"),
		),
		mcp.WithString("find",
			mcp.Description("Existing text to locate for a fuzzy replacement"),
		),
		mcp.WithString("replace",
			mcp.Description("Replacement text for the anchor region or the found text. Empty string deletes."),
		),
		mcp.WithString("unified_diff",
			mcp.Description("Unified diff (---/+++ headers optional) to apply"),
		),
		mcp.WithNumber("min_accuracy",
			mcp.Description("Minimum fuzzy match accuracy percentage, 0-100 (default 50)"),
			mcp.Min(0),
			mcp.Max(100),
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("Run the patch and validation but do not write; returns a preview diff"),
			mcp.DefaultBool(false),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)
}

func (t *PatchTool) Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]any) (*mcp.CallToolResult, error) {
	req, err := parsePatchRequest(args)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"project_id": req.ProjectID,
		"file":       req.FileName,
		"dry_run":    req.DryRun,
	}).Debug("script_patch called")

	result, err := t.editor.Patch(ctx, req)
	if err != nil {
		return nil, wrapError(err, "patch", req.FileName)
	}

	outcome := telemetry.PatchAttributes{
		FileName:   result.FileName,
		Method:     string(result.Method),
		Success:    result.Success,
		SyntaxOK:   result.SyntaxOK,
		ByteDelta:  result.ByteDelta,
		DryRun:     result.DryRun,
		Committed:  result.Committed,
		SnapshotID: result.SnapshotID,
	}
	if result.Accuracy != nil {
		outcome.Accuracy = *result.Accuracy
	}
	telemetry.AnnotatePatch(ctx, outcome)
	telemetry.RecordPatch(ctx, outcome)

	return tools.JSONResult(result)
}

func parsePatchRequest(args map[string]any) (scriptedit.PatchRequest, error) {
	var req scriptedit.PatchRequest
	var err error

	if req.ProjectID, err = tools.RequiredString(args, "project_id"); err != nil {
		return req, err
	}
	if req.FileName, err = tools.RequiredString(args, "file_name"); err != nil {
		return req, err
	}
	if req.AnchorStart, err = tools.OptionalString(args, "anchor_start"); err != nil {
		return req, err
	}
	if req.AnchorEnd, err = tools.OptionalString(args, "anchor_end"); err != nil {
		return req, err
	}
	if req.Find, err = tools.OptionalString(args, "find"); err != nil {
		return req, err
	}
	if req.Replace, err = tools.OptionalStringPtr(args, "replace"); err != nil {
		return req, err
	}
	if req.UnifiedDiff, err = tools.OptionalString(args, "unified_diff"); err != nil {
		return req, err
	}
	if req.MinAccuracy, err = tools.OptionalNumber(args, "min_accuracy", 0); err != nil {
		return req, err
	}
	if req.MinAccuracy < 0 || req.MinAccuracy > 100 {
		return req, fmt.Errorf("min_accuracy must be between 0 and 100, got %v", req.MinAccuracy)
	}
	if req.DryRun, err = tools.OptionalBool(args, "dry_run", false); err != nil {
		return req, err
	}
	return req, nil
}

// wrapError marks request problems as invalid parameters so callers can
// tell them from remote failures.
func wrapError(err error, op, fileName string) error {
	if patch.IsUserInput(err) || isNotFound(err) {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return fmt.Errorf("failed to %s %s: %w", op, fileName, err)
}

func (t *PatchTool) ProvideExtendedInfo() *tools.ExtendedHelp {
	return &tools.ExtendedHelp{
		WhenToUse:    "Any change to an existing Apps Script file. Prefer anchors for repeated edits to the same function; use find/replace for one-off small edits; use unified_diff for changes spread over several places.",
		WhenNotToUse: "Creating or deleting files, or editing files outside Apps Script projects.",
		Examples: []tools.ToolExample{
			{
				Description: "Replace a function body between anchors",
				Arguments: map[string]any{
					"project_id":   "1AbC...xyz",
					"file_name":    "Code.gs",
					"anchor_start": "// >>>BEGIN_onOpen<<<",
					"anchor_end":   "// >>>END_onOpen<<<",
					"replace":      "function onOpen() {\n  SpreadsheetApp.getUi().createMenu('Tools').addToUi();\n}",
				},
				ExpectedResult: "method_used anchor, committed true, snapshot_id of the previous content",
			},
			{
				Description: "Small fuzzy edit, previewed first",
				Arguments: map[string]any{
					"project_id": "1AbC...xyz",
					"file_name":  "Code",
					"find":       "const LIMIT = 10;",
					"replace":    "const LIMIT = 25;",
					"dry_run":    true,
				},
				ExpectedResult: "method_used fuzzy with accuracy and a preview_diff; nothing written",
			},
		},
		ParameterDetails: map[string]string{
			"anchor_start": "Matched as an exact substring; the first occurrence wins. Must be paired with anchor_end, whose first occurrence after the start is used.",
			"replace":      "Required with anchors or find. Re-indented to the start marker's indentation for anchor patches.",
			"min_accuracy": "Only affects fuzzy matching. Raise it to avoid surprising matches in repetitive code.",
			"unified_diff": "Context and removed lines should match the current file; mismatches are reported as warnings in diff_mismatches.",
		},
		Troubleshooting: []tools.TroubleshootingTip{
			{Problem: "anchor start marker not found", Solution: "Run script_anchors with preview true to see marker names, or script_files get_file to read the file."},
			{Problem: "fuzzy accuracy below minimum", Solution: "Copy find verbatim from get_file output, include fewer lines, or lower min_accuracy."},
			{Problem: "syntax_ok false / rolled_back", Solution: "The patched file failed validation; check validation.error, validation.line and validation.column for the location and fix unbalanced brackets or strings in replace."},
			{Problem: "file not found (did you mean ...)", Solution: "Use one of the suggested names or list_files to see the project's files."},
		},
	}
}
