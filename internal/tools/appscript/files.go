package appscript

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/sammcj/mcp-workspace/internal/snapshot"
	"github.com/sammcj/mcp-workspace/internal/source"
	"github.com/sammcj/mcp-workspace/internal/tools"
)

const defaultProjectLimit = 50

// FilesTool implements script_files.
type FilesTool struct {
	editor   Editor
	projects ProjectLister
}

// NewFilesTool creates script_files. projects may be nil, in which case
// list_projects reports that project discovery is unavailable.
func NewFilesTool(editor Editor, projects ProjectLister) *FilesTool {
	return &FilesTool{editor: editor, projects: projects}
}

func (t *FilesTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"script_files",
		mcp.WithDescription(`Browse and inspect Google Apps Script projects.

Functions and their parameters:

• list_projects: options.name_contains (o), options.limit (o)
• list_files: project_id (r)
• get_file: project_id (r), file_name (r), options.start_line (o), options.end_line (o)
• validate_file: project_id (r), file_name (r)
• list_snapshots: project_id (r), file_name (r) - local copies saved before each write
• restore_snapshot: project_id (r), file_name (r), options.snapshot_id (r)

(o) = optional
(r) = required`),
		mcp.WithString("function",
			mcp.Required(),
			mcp.Description("Function to execute"),
			mcp.Enum("list_projects", "list_files", "get_file", "validate_file", "list_snapshots", "restore_snapshot"),
		),
		mcp.WithString("project_id",
			mcp.Description("Apps Script project (script) ID"),
		),
		mcp.WithString("file_name",
			mcp.Description("File name as shown by list_files, with or without extension"),
		),
		mcp.WithObject("options",
			mcp.Description("Function-specific options - see function description for parameters"),
			mcp.Properties(map[string]any{
				"name_contains": map[string]any{
					"type":        "string",
					"description": "Only projects whose name contains this text (list_projects)",
				},
				"limit": map[string]any{
					"type":        "number",
					"description": "Maximum number of projects (list_projects, default 50)",
					"default":     defaultProjectLimit,
				},
				"start_line": map[string]any{
					"type":        "number",
					"description": "First line to return, 1-based (get_file)",
				},
				"end_line": map[string]any{
					"type":        "number",
					"description": "Last line to return, inclusive (get_file)",
				},
				"snapshot_id": map[string]any{
					"type":        "string",
					"description": "Snapshot to restore, from list_snapshots (restore_snapshot)",
				},
			}),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)
}

type filesRequest struct {
	Function  string
	ProjectID string
	FileName  string
	Options   map[string]any
}

func (t *FilesTool) Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]any) (*mcp.CallToolResult, error) {
	req, err := parseFilesRequest(args)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	logger.WithFields(logrus.Fields{"function": req.Function, "project_id": req.ProjectID}).Debug("script_files called")

	switch req.Function {
	case "list_projects":
		return t.handleListProjects(ctx, req)
	case "list_files":
		return t.handleListFiles(ctx, req)
	case "get_file":
		return t.handleGetFile(ctx, req)
	case "validate_file":
		return t.handleValidateFile(ctx, req)
	case "list_snapshots":
		return t.handleListSnapshots(ctx, req)
	case "restore_snapshot":
		return t.handleRestoreSnapshot(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported function: %s", req.Function)
	}
}

func parseFilesRequest(args map[string]any) (*filesRequest, error) {
	function, err := tools.RequiredString(args, "function")
	if err != nil {
		return nil, err
	}
	projectID, err := tools.OptionalString(args, "project_id")
	if err != nil {
		return nil, err
	}
	fileName, err := tools.OptionalString(args, "file_name")
	if err != nil {
		return nil, err
	}
	options := map[string]any{}
	if opts, ok := args["options"].(map[string]any); ok {
		options = opts
	}
	return &filesRequest{Function: function, ProjectID: projectID, FileName: fileName, Options: options}, nil
}

func (r *filesRequest) require(project, file bool) error {
	if project && r.ProjectID == "" {
		return fmt.Errorf("invalid parameters: project_id is required for %s", r.Function)
	}
	if file && r.FileName == "" {
		return fmt.Errorf("invalid parameters: file_name is required for %s", r.Function)
	}
	return nil
}

func (t *FilesTool) handleListProjects(ctx context.Context, req *filesRequest) (*mcp.CallToolResult, error) {
	if t.projects == nil {
		return nil, fmt.Errorf("project discovery is not configured")
	}
	nameContains, err := tools.OptionalString(req.Options, "name_contains")
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	limit, err := tools.OptionalNumber(req.Options, "limit", defaultProjectLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	projects, err := t.projects.List(ctx, nameContains, int(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return tools.JSONResult(map[string]any{"projects": projects, "count": len(projects)})
}

func (t *FilesTool) handleListFiles(ctx context.Context, req *filesRequest) (*mcp.CallToolResult, error) {
	if err := req.require(true, false); err != nil {
		return nil, err
	}
	files, err := t.editor.ListFiles(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return tools.JSONResult(map[string]any{"project_id": req.ProjectID, "files": files})
}

func (t *FilesTool) handleGetFile(ctx context.Context, req *filesRequest) (*mcp.CallToolResult, error) {
	if err := req.require(true, true); err != nil {
		return nil, err
	}
	start, err := tools.OptionalNumber(req.Options, "start_line", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	end, err := tools.OptionalNumber(req.Options, "end_line", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	content, err := t.editor.GetFile(ctx, req.ProjectID, req.FileName, int(start), int(end))
	if err != nil {
		return nil, wrapError(err, "read", req.FileName)
	}
	return tools.JSONResult(content)
}

func (t *FilesTool) handleValidateFile(ctx context.Context, req *filesRequest) (*mcp.CallToolResult, error) {
	if err := req.require(true, true); err != nil {
		return nil, err
	}
	report, err := t.editor.ValidateFile(ctx, req.ProjectID, req.FileName)
	if err != nil {
		return nil, wrapError(err, "validate", req.FileName)
	}
	return tools.JSONResult(report)
}

func (t *FilesTool) handleListSnapshots(ctx context.Context, req *filesRequest) (*mcp.CallToolResult, error) {
	if err := req.require(true, true); err != nil {
		return nil, err
	}
	snaps, err := t.editor.ListSnapshots(ctx, req.ProjectID, req.FileName)
	if err != nil {
		return nil, wrapError(err, "list snapshots of", req.FileName)
	}
	return tools.JSONResult(map[string]any{"file_name": req.FileName, "snapshots": snaps})
}

func (t *FilesTool) handleRestoreSnapshot(ctx context.Context, req *filesRequest) (*mcp.CallToolResult, error) {
	if err := req.require(true, true); err != nil {
		return nil, err
	}
	id, err := tools.RequiredString(req.Options, "snapshot_id")
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	result, err := t.editor.RestoreSnapshot(ctx, req.ProjectID, req.FileName, id)
	if err != nil {
		return nil, wrapError(err, "restore", req.FileName)
	}
	return tools.JSONResult(result)
}

func isNotFound(err error) bool {
	var nf *source.FileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, snapshot.ErrNotFound)
}

func (t *FilesTool) ProvideExtendedInfo() *tools.ExtendedHelp {
	return &tools.ExtendedHelp{
		WhenToUse:    "Finding a project ID, reading file contents before writing a patch, checking a file for syntax errors, or undoing a patch.",
		WhenNotToUse: "Changing code; use script_patch.",
		Examples: []tools.ToolExample{
			{
				Description:    "Find a project by name",
				Arguments:      map[string]any{"function": "list_projects", "options": map[string]any{"name_contains": "Invoices"}},
				ExpectedResult: "projects with id, name and modified_time",
			},
			{
				Description:    "Read part of a file",
				Arguments:      map[string]any{"function": "get_file", "project_id": "1AbC...xyz", "file_name": "Code.gs", "options": map[string]any{"start_line": 1, "end_line": 40}},
				ExpectedResult: "content of lines 1-40 plus total_lines",
			},
			{
				Description:    "Undo the last patch",
				Arguments:      map[string]any{"function": "restore_snapshot", "project_id": "1AbC...xyz", "file_name": "Code.gs", "options": map[string]any{"snapshot_id": "<id from list_snapshots>"}},
				ExpectedResult: "restored_snapshot_id and the snapshot_id of the content that was replaced",
			},
		},
		ParameterDetails: map[string]string{
			"file_name":  "Resolved like script_patch: Code, Code.gs and code.gs all name the same server script when unambiguous.",
			"start_line": "1-based and inclusive; omit start_line and end_line for the whole file.",
		},
		Troubleshooting: []tools.TroubleshootingTip{
			{Problem: "list_projects returns nothing", Solution: "Container-bound scripts are not visible in Drive search; open the script editor and copy the project ID from Project Settings."},
			{Problem: "not authenticated", Solution: "Run `mcp-workspace auth login` or set GOOGLE_SERVICE_ACCOUNT_FILE, then restart the server."},
			{Problem: "snapshots are disabled", Solution: "Remove snapshots.disabled from the config file."},
		},
	}
}
