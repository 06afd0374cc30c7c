// Package sheets exposes spreadsheet reads and writes for Apps Script
// projects bound to Google Sheets.
package sheets

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	gsheets "github.com/sammcj/mcp-workspace/internal/google/sheets"
	"github.com/sammcj/mcp-workspace/internal/tools"
)

// Client is the subset of the Sheets client used by the tool.
type Client interface {
	GetMetadata(ctx context.Context, spreadsheetID string) (*gsheets.Metadata, error)
	ReadRange(ctx context.Context, spreadsheetID, rng string, formulas bool) (*gsheets.Values, error)
	WriteRange(ctx context.Context, spreadsheetID, rng string, values [][]any) (*gsheets.UpdateResult, error)
	AppendRows(ctx context.Context, spreadsheetID, rng string, values [][]any) (*gsheets.UpdateResult, error)
	ClearRange(ctx context.Context, spreadsheetID, rng string) (string, error)
}

// SheetsTool implements the sheets tool.
type SheetsTool struct {
	client Client
}

func NewSheetsTool(client Client) *SheetsTool {
	return &SheetsTool{client: client}
}

func (t *SheetsTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"sheets",
		mcp.WithDescription(`Read and write Google Sheets cell values, typically the spreadsheet a script is bound to.

Functions and their parameters:

• get_metadata: spreadsheet_id (r)
• read_range: spreadsheet_id (r), range (r), options.formulas (o)
• write_range: spreadsheet_id (r), range (r), options.values (r)
• append_rows: spreadsheet_id (r), range (r), options.values (r)
• clear_range: spreadsheet_id (r), range (r)

Ranges use A1 notation, e.g. "Sheet1!A1:C10". Written values are parsed as if typed by a user, so "=SUM(A1:A3)" becomes a formula.

(o) = optional
(r) = required`),
		mcp.WithString("function",
			mcp.Required(),
			mcp.Description("Function to execute"),
			mcp.Enum("get_metadata", "read_range", "write_range", "append_rows", "clear_range"),
		),
		mcp.WithString("spreadsheet_id",
			mcp.Required(),
			mcp.Description("Spreadsheet ID from its URL"),
		),
		mcp.WithString("range",
			mcp.Description("A1 range, required for everything except get_metadata"),
		),
		mcp.WithObject("options",
			mcp.Description("Function-specific options - see function description for parameters"),
			mcp.Properties(map[string]any{
				"formulas": map[string]any{
					"type":        "boolean",
					"description": "Return formulas instead of computed values (read_range)",
					"default":     false,
				},
				"values": map[string]any{
					"type":        "array",
					"description": "Rows of cell values (write_range, append_rows)",
					"items":       map[string]any{"type": "array"},
				},
			}),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)
}

type sheetsRequest struct {
	Function      string
	SpreadsheetID string
	Range         string
	Options       map[string]any
}

func (t *SheetsTool) Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]any) (*mcp.CallToolResult, error) {
	req, err := parseRequest(args)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	logger.WithFields(logrus.Fields{"function": req.Function, "range": req.Range}).Debug("sheets called")

	if req.Function != "get_metadata" && req.Range == "" {
		return nil, fmt.Errorf("invalid parameters: range is required for %s", req.Function)
	}

	switch req.Function {
	case "get_metadata":
		meta, err := t.client.GetMetadata(ctx, req.SpreadsheetID)
		if err != nil {
			return nil, fmt.Errorf("failed to get spreadsheet metadata: %w", err)
		}
		return tools.JSONResult(meta)
	case "read_range":
		formulas, err := tools.OptionalBool(req.Options, "formulas", false)
		if err != nil {
			return nil, fmt.Errorf("invalid parameters: %w", err)
		}
		values, err := t.client.ReadRange(ctx, req.SpreadsheetID, req.Range, formulas)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", req.Range, err)
		}
		return tools.JSONResult(values)
	case "write_range", "append_rows":
		rows, err := parseRows(req.Options)
		if err != nil {
			return nil, fmt.Errorf("invalid parameters: %w", err)
		}
		var result *gsheets.UpdateResult
		if req.Function == "write_range" {
			result, err = t.client.WriteRange(ctx, req.SpreadsheetID, req.Range, rows)
		} else {
			result, err = t.client.AppendRows(ctx, req.SpreadsheetID, req.Range, rows)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", req.Range, err)
		}
		return tools.JSONResult(result)
	case "clear_range":
		cleared, err := t.client.ClearRange(ctx, req.SpreadsheetID, req.Range)
		if err != nil {
			return nil, fmt.Errorf("failed to clear %s: %w", req.Range, err)
		}
		return tools.JSONResult(map[string]any{"cleared_range": cleared})
	default:
		return nil, fmt.Errorf("unsupported function: %s", req.Function)
	}
}

func parseRequest(args map[string]any) (*sheetsRequest, error) {
	function, err := tools.RequiredString(args, "function")
	if err != nil {
		return nil, err
	}
	id, err := tools.RequiredString(args, "spreadsheet_id")
	if err != nil {
		return nil, err
	}
	rng, err := tools.OptionalString(args, "range")
	if err != nil {
		return nil, err
	}
	options := map[string]any{}
	if opts, ok := args["options"].(map[string]any); ok {
		options = opts
	}
	return &sheetsRequest{Function: function, SpreadsheetID: id, Range: rng, Options: options}, nil
}

// parseRows converts options.values into rows, rejecting anything that is
// not a list of lists.
func parseRows(options map[string]any) ([][]any, error) {
	raw, ok := options["values"]
	if !ok || raw == nil {
		return nil, fmt.Errorf("options.values is required")
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("options.values must be an array of rows")
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("options.values must contain at least one row")
	}
	rows := make([][]any, len(list))
	for i, r := range list {
		row, ok := r.([]any)
		if !ok {
			return nil, fmt.Errorf("options.values[%d] must be an array", i)
		}
		rows[i] = row
	}
	return rows, nil
}

func (t *SheetsTool) ProvideExtendedInfo() *tools.ExtendedHelp {
	return &tools.ExtendedHelp{
		WhenToUse:    "Checking or seeding the data a bound script works on, e.g. reading header rows before writing code that indexes columns.",
		WhenNotToUse: "Formatting, charts or sheet structure changes; only cell values are supported.",
		Examples: []tools.ToolExample{
			{
				Description:    "List the tabs of a spreadsheet",
				Arguments:      map[string]any{"function": "get_metadata", "spreadsheet_id": "1BxiM...upms"},
				ExpectedResult: "title and sheets with row and column counts",
			},
			{
				Description:    "Read a header row",
				Arguments:      map[string]any{"function": "read_range", "spreadsheet_id": "1BxiM...upms", "range": "Sheet1!1:1"},
				ExpectedResult: "range and values",
			},
			{
				Description: "Append test rows",
				Arguments: map[string]any{
					"function":       "append_rows",
					"spreadsheet_id": "1BxiM...upms",
					"range":          "Orders!A:C",
					"options":        map[string]any{"values": []any{[]any{"2024-01-01", "Widget", 3}}},
				},
				ExpectedResult: "updated_range and updated_rows",
			},
		},
		ParameterDetails: map[string]string{
			"range":   "A1 notation. Quote sheet names containing spaces: 'Order Log'!A1:D.",
			"options": "values is a list of rows, each a list of cells. Cells may be strings, numbers or booleans.",
		},
		Troubleshooting: []tools.TroubleshootingTip{
			{Problem: "Unable to parse range", Solution: "Check the sheet name with get_metadata; names are case-sensitive."},
			{Problem: "The caller does not have permission", Solution: "Share the spreadsheet with the service account or re-run auth login with the sheets scope."},
		},
	}
}
