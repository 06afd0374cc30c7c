// Package sheets is a thin pass-through to the Sheets API values endpoints.
package sheets

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/sheets/v4"
)

// ServiceFunc returns the API service, creating it if needed.
type ServiceFunc func(ctx context.Context) (*sheets.Service, error)

// Client wraps the Sheets service.
type Client struct {
	service ServiceFunc
	logger  *logrus.Logger
}

// New creates a client.
func New(service ServiceFunc, logger *logrus.Logger) *Client {
	return &Client{service: service, logger: logger}
}

// SheetInfo is one tab of a spreadsheet.
type SheetInfo struct {
	SheetID     int64  `json:"sheet_id"`
	Title       string `json:"title"`
	Index       int64  `json:"index"`
	RowCount    int64  `json:"row_count"`
	ColumnCount int64  `json:"column_count"`
}

// Metadata describes a spreadsheet.
type Metadata struct {
	SpreadsheetID string      `json:"spreadsheet_id"`
	Title         string      `json:"title"`
	URL           string      `json:"url,omitempty"`
	Sheets        []SheetInfo `json:"sheets"`
}

// Values is a range of cell values.
type Values struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

// UpdateResult reports the cells a write touched.
type UpdateResult struct {
	UpdatedRange string `json:"updated_range"`
	UpdatedRows  int64  `json:"updated_rows"`
	UpdatedCells int64  `json:"updated_cells"`
}

// GetMetadata returns the title and tabs of a spreadsheet.
func (c *Client) GetMetadata(ctx context.Context, spreadsheetID string) (*Metadata, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	ss, err := svc.Spreadsheets.Get(spreadsheetID).
		Fields("spreadsheetId,spreadsheetUrl,properties.title,sheets(properties(sheetId,title,index,gridProperties))").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	md := &Metadata{SpreadsheetID: ss.SpreadsheetId, URL: ss.SpreadsheetUrl, Sheets: []SheetInfo{}}
	if ss.Properties != nil {
		md.Title = ss.Properties.Title
	}
	for _, sh := range ss.Sheets {
		if sh.Properties == nil {
			continue
		}
		info := SheetInfo{SheetID: sh.Properties.SheetId, Title: sh.Properties.Title, Index: sh.Properties.Index}
		if gp := sh.Properties.GridProperties; gp != nil {
			info.RowCount = gp.RowCount
			info.ColumnCount = gp.ColumnCount
		}
		md.Sheets = append(md.Sheets, info)
	}
	return md, nil
}

// ReadRange returns formatted values, or formulas when formulas is set.
func (c *Client) ReadRange(ctx context.Context, spreadsheetID, rng string, formulas bool) (*Values, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	render := "FORMATTED_VALUE"
	if formulas {
		render = "FORMULA"
	}
	vr, err := svc.Spreadsheets.Values.Get(spreadsheetID, rng).ValueRenderOption(render).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read range %s: %w", rng, err)
	}
	values := vr.Values
	if values == nil {
		values = [][]any{}
	}
	return &Values{Range: vr.Range, Values: values}, nil
}

// WriteRange overwrites rng with values as if typed by a user.
func (c *Client) WriteRange(ctx context.Context, spreadsheetID, rng string, values [][]any) (*UpdateResult, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	res, err := svc.Spreadsheets.Values.Update(spreadsheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to write range %s: %w", rng, err)
	}
	c.logger.WithFields(logrus.Fields{"spreadsheet_id": spreadsheetID, "range": res.UpdatedRange}).Debug("Range written")
	return &UpdateResult{UpdatedRange: res.UpdatedRange, UpdatedRows: res.UpdatedRows, UpdatedCells: res.UpdatedCells}, nil
}

// AppendRows inserts values after the last row of the table at rng.
func (c *Client) AppendRows(ctx context.Context, spreadsheetID, rng string, values [][]any) (*UpdateResult, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	res, err := svc.Spreadsheets.Values.Append(spreadsheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to append to %s: %w", rng, err)
	}
	out := &UpdateResult{}
	if u := res.Updates; u != nil {
		out.UpdatedRange, out.UpdatedRows, out.UpdatedCells = u.UpdatedRange, u.UpdatedRows, u.UpdatedCells
	}
	return out, nil
}

// ClearRange removes values (not formatting) from rng.
func (c *Client) ClearRange(ctx context.Context, spreadsheetID, rng string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	res, err := svc.Spreadsheets.Values.Clear(spreadsheetID, rng, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to clear range %s: %w", rng, err)
	}
	return res.ClearedRange, nil
}
