package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gsheets "github.com/sammcj/mcp-workspace/internal/google/sheets"
)

type fakeClient struct {
	calls    []string
	rng      string
	formulas bool
	rows     [][]any
	err      error
}

func (f *fakeClient) GetMetadata(_ context.Context, id string) (*gsheets.Metadata, error) {
	f.calls = append(f.calls, "get_metadata")
	if f.err != nil {
		return nil, f.err
	}
	return &gsheets.Metadata{SpreadsheetID: id, Title: "Orders", Sheets: []gsheets.SheetInfo{{Title: "Sheet1", RowCount: 1000}}}, nil
}

func (f *fakeClient) ReadRange(_ context.Context, _, rng string, formulas bool) (*gsheets.Values, error) {
	f.calls = append(f.calls, "read_range")
	f.rng, f.formulas = rng, formulas
	return &gsheets.Values{Range: rng, Values: [][]any{{"id", "name"}}}, nil
}

func (f *fakeClient) WriteRange(_ context.Context, _, rng string, values [][]any) (*gsheets.UpdateResult, error) {
	f.calls = append(f.calls, "write_range")
	f.rng, f.rows = rng, values
	return &gsheets.UpdateResult{UpdatedRange: rng, UpdatedRows: int64(len(values))}, nil
}

func (f *fakeClient) AppendRows(_ context.Context, _, rng string, values [][]any) (*gsheets.UpdateResult, error) {
	f.calls = append(f.calls, "append_rows")
	f.rng, f.rows = rng, values
	return &gsheets.UpdateResult{UpdatedRange: rng, UpdatedRows: int64(len(values))}, nil
}

func (f *fakeClient) ClearRange(_ context.Context, _, rng string) (string, error) {
	f.calls = append(f.calls, "clear_range")
	return rng, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func decode(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func TestGetMetadata(t *testing.T) {
	client := &fakeClient{}
	result, err := NewSheetsTool(client).Execute(t.Context(), quietLogger(), nil, map[string]any{
		"function":       "get_metadata",
		"spreadsheet_id": "sheet-1",
	})
	require.NoError(t, err)
	out := decode(t, result)
	assert.Equal(t, "Orders", out["title"])
	assert.Equal(t, "sheet-1", out["spreadsheet_id"])
}

func TestReadRangeWithFormulas(t *testing.T) {
	client := &fakeClient{}
	_, err := NewSheetsTool(client).Execute(t.Context(), quietLogger(), nil, map[string]any{
		"function":       "read_range",
		"spreadsheet_id": "sheet-1",
		"range":          "Sheet1!A1:B2",
		"options":        map[string]any{"formulas": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sheet1!A1:B2", client.rng)
	assert.True(t, client.formulas)
}

func TestWriteAndAppend(t *testing.T) {
	for _, function := range []string{"write_range", "append_rows"} {
		t.Run(function, func(t *testing.T) {
			client := &fakeClient{}
			result, err := NewSheetsTool(client).Execute(t.Context(), quietLogger(), nil, map[string]any{
				"function":       function,
				"spreadsheet_id": "sheet-1",
				"range":          "Sheet1!A2",
				"options":        map[string]any{"values": []any{[]any{"a", 1.0}, []any{"b", 2.0}}},
			})
			require.NoError(t, err)
			assert.Equal(t, []string{function}, client.calls)
			assert.Equal(t, [][]any{{"a", 1.0}, {"b", 2.0}}, client.rows)
			assert.Equal(t, float64(2), decode(t, result)["updated_rows"])
		})
	}
}

func TestClearRange(t *testing.T) {
	client := &fakeClient{}
	result, err := NewSheetsTool(client).Execute(t.Context(), quietLogger(), nil, map[string]any{
		"function":       "clear_range",
		"spreadsheet_id": "sheet-1",
		"range":          "Sheet1!A2:C",
	})
	require.NoError(t, err)
	assert.Equal(t, "Sheet1!A2:C", decode(t, result)["cleared_range"])
}

func TestInvalidParameters(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing spreadsheet", map[string]any{"function": "get_metadata"}, "spreadsheet_id"},
		{"missing range", map[string]any{"function": "read_range", "spreadsheet_id": "s"}, "range is required"},
		{"missing values", map[string]any{"function": "write_range", "spreadsheet_id": "s", "range": "A1"}, "options.values is required"},
		{"flat values", map[string]any{"function": "append_rows", "spreadsheet_id": "s", "range": "A1", "options": map[string]any{"values": []any{"a", "b"}}}, "options.values[0] must be an array"},
		{"empty values", map[string]any{"function": "write_range", "spreadsheet_id": "s", "range": "A1", "options": map[string]any{"values": []any{}}}, "at least one row"},
		{"unknown function", map[string]any{"function": "format", "spreadsheet_id": "s", "range": "A1"}, "unsupported function"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{}
			_, err := NewSheetsTool(client).Execute(t.Context(), quietLogger(), nil, tc.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Empty(t, client.calls)
		})
	}
}

func TestClientErrorIsWrapped(t *testing.T) {
	apiErr := errors.New("googleapi: Error 403: The caller does not have permission")
	_, err := NewSheetsTool(&fakeClient{err: apiErr}).Execute(t.Context(), quietLogger(), nil, map[string]any{
		"function":       "get_metadata",
		"spreadsheet_id": "sheet-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apiErr)
	assert.Contains(t, err.Error(), "failed to get spreadsheet metadata")
}
