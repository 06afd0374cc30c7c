package appscript

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammcj/mcp-workspace/internal/google/drive"
	"github.com/sammcj/mcp-workspace/internal/patch"
	"github.com/sammcj/mcp-workspace/internal/scriptedit"
	"github.com/sammcj/mcp-workspace/internal/snapshot"
	"github.com/sammcj/mcp-workspace/internal/source"
	"github.com/sammcj/mcp-workspace/internal/tools"
	"github.com/sammcj/mcp-workspace/internal/validate"
)

const projectID = "proj-1"

const anchoredCode = "// >>>BEGIN_greet<<<\nfunction greet() {\n  return 'hi';\n}\n// >>>END_greet<<<\n"

type fakeStore struct {
	mu    sync.Mutex
	files []source.File
	puts  int
}

func (f *fakeStore) FetchProjectFiles(_ context.Context, id string) ([]source.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != projectID {
		return nil, errors.New("googleapi: Error 404: Requested entity was not found")
	}
	return append([]source.File(nil), f.files...), nil
}

func (f *fakeStore) ReplaceProjectFiles(_ context.Context, _ string, files []source.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.files = append([]source.File(nil), files...)
	return nil
}

func (f *fakeStore) content(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range f.files {
		if file.Name == name {
			return file.Content
		}
	}
	return ""
}

type fakeLister struct {
	projects []drive.Project
	query    string
	limit    int
}

func (f *fakeLister) List(_ context.Context, nameContains string, limit int) ([]drive.Project, error) {
	f.query, f.limit = nameContains, limit
	return f.projects, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newEditor(t *testing.T) (*scriptedit.Service, *fakeStore) {
	t.Helper()
	logger := quietLogger()
	store := &fakeStore{files: []source.File{
		{Name: "Code", Type: source.ServerJS, Content: anchoredCode},
		{Name: "Util", Type: source.ServerJS, Content: "function util() {\n  return 1;\n}\n"},
		{Name: "appsscript", Type: source.JSON, Content: `{"timeZone": "UTC"}`},
	}}
	snaps, err := snapshot.NewStore(t.TempDir(), 10, logger)
	require.NoError(t, err)
	validator := validate.New(validate.DefaultOptions())
	orch := patch.NewOrchestrator(patch.NewFuzzyMatcher(patch.DefaultFuzzyOptions()), validator, patch.DefaultMinAccuracy, logger)
	return scriptedit.New(store, snaps, orch, validator, logger), store
}

func decode(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func TestPatchTool_AnchorCommit(t *testing.T) {
	editor, store := newEditor(t)
	tool := NewPatchTool(editor)

	result, err := tool.Execute(t.Context(), quietLogger(), &sync.Map{}, map[string]any{
		"project_id":   projectID,
		"file_name":    "Code.gs",
		"anchor_start": "// >>>BEGIN_greet<<<",
		"anchor_end":   "// >>>END_greet<<<",
		"replace":      "function greet() {\n  return 'hello';\n}",
	})
	require.NoError(t, err)

	out := decode(t, result)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, true, out["committed"])
	assert.Equal(t, "anchor", out["method_used"])
	assert.NotEmpty(t, out["snapshot_id"])
	assert.Contains(t, store.content("Code"), "return 'hello';")
	assert.Contains(t, store.content("Code"), "// >>>END_greet<<<")
	assert.Equal(t, "function util() {\n  return 1;\n}\n", store.content("Util"))
}

func TestPatchTool_FailureIsReportedNotWritten(t *testing.T) {
	editor, store := newEditor(t)
	tool := NewPatchTool(editor)

	result, err := tool.Execute(t.Context(), quietLogger(), &sync.Map{}, map[string]any{
		"project_id":   projectID,
		"file_name":    "Code",
		"anchor_start": "// >>>BEGIN_missing<<<",
		"anchor_end":   "// >>>END_missing<<<",
		"replace":      "x",
	})
	require.NoError(t, err)

	out := decode(t, result)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, false, out["committed"])
	assert.NotEmpty(t, out["error"])
	assert.Equal(t, 0, store.puts)
	assert.Equal(t, anchoredCode, store.content("Code"))
}

func TestPatchTool_DryRun(t *testing.T) {
	editor, store := newEditor(t)
	tool := NewPatchTool(editor)

	result, err := tool.Execute(t.Context(), quietLogger(), &sync.Map{}, map[string]any{
		"project_id": projectID,
		"file_name":  "Util",
		"find":       "return 1;",
		"replace":    "return 2;",
		"dry_run":    true,
	})
	require.NoError(t, err)

	out := decode(t, result)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, false, out["committed"])
	assert.Contains(t, out["preview_diff"], "+  return 2;")
	assert.Equal(t, 0, store.puts)
}

func TestPatchTool_UnifiedDiffAppliesAtHeaderLines(t *testing.T) {
	editor, store := newEditor(t)
	tool := NewPatchTool(editor)

	// The removed line is stale; the hunk still applies at line 2.
	result, err := tool.Execute(t.Context(), quietLogger(), &sync.Map{}, map[string]any{
		"project_id":   projectID,
		"file_name":    "Util",
		"unified_diff": "@@ -2 +2 @@\n-  return 9;\n+  return 2;\n",
		"dry_run":      true,
	})
	require.NoError(t, err)

	out := decode(t, result)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "unified_diff", out["method_used"])
	mismatches, ok := out["diff_mismatches"].([]any)
	require.True(t, ok, "diff_mismatches missing")
	require.Len(t, mismatches, 1)
	assert.Equal(t, float64(2), mismatches[0].(map[string]any)["line"])
	assert.Contains(t, out["preview_diff"], "+  return 2;")
	assert.Equal(t, 0, store.puts)

	desc := tool.Definition().Description
	assert.Contains(t, desc, "@@ headers")
	assert.Contains(t, desc, "diff_mismatches")
}

func TestPatchTool_RollbackReportsValidationLocation(t *testing.T) {
	editor, store := newEditor(t)
	tool := NewPatchTool(editor)

	result, err := tool.Execute(t.Context(), quietLogger(), &sync.Map{}, map[string]any{
		"project_id": projectID,
		"file_name":  "Util",
		"find":       "return 1;",
		"replace":    "if (x) { return 1;",
	})
	require.NoError(t, err)

	out := decode(t, result)
	assert.Equal(t, false, out["syntax_ok"])
	validation, ok := out["validation"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, validation["error"])
	assert.NotZero(t, validation["line"])
	assert.Equal(t, 0, store.puts)

	var tip string
	for _, tt := range tool.ProvideExtendedInfo().Troubleshooting {
		if strings.Contains(tt.Problem, "syntax_ok") {
			tip = tt.Solution
		}
	}
	assert.Contains(t, tip, "validation.error")
	assert.Contains(t, tool.ProvideExtendedInfo().ParameterDetails["anchor_start"], "substring")
}

func TestPatchTool_InvalidParameters(t *testing.T) {
	editor, _ := newEditor(t)
	tool := NewPatchTool(editor)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing project", map[string]any{"file_name": "Code", "find": "a", "replace": "b"}, "project_id"},
		{"missing file", map[string]any{"project_id": projectID, "find": "a", "replace": "b"}, "file_name"},
		{"no strategy", map[string]any{"project_id": projectID, "file_name": "Code"}, "no patch strategy"},
		{"accuracy out of range", map[string]any{"project_id": projectID, "file_name": "Code", "find": "a", "replace": "b", "min_accuracy": 150.0}, "min_accuracy"},
		{"unknown file", map[string]any{"project_id": projectID, "file_name": "Cod.gs", "find": "a", "replace": "b"}, "did you mean"},
		{"replace wrong type", map[string]any{"project_id": projectID, "file_name": "Code", "find": "a", "replace": 3.0}, "replace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Execute(t.Context(), quietLogger(), &sync.Map{}, tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid parameters")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPatchTool_RemoteFailureIsNotInvalidParameters(t *testing.T) {
	editor, _ := newEditor(t)
	tool := NewPatchTool(editor)

	_, err := tool.Execute(t.Context(), quietLogger(), &sync.Map{}, map[string]any{
		"project_id": "other",
		"file_name":  "Code",
		"find":       "a",
		"replace":    "b",
	})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "invalid parameters")
	var remote *scriptedit.RemoteStoreError
	assert.ErrorAs(t, err, &remote)
}

func TestAnchorsTool_PreviewThenWrite(t *testing.T) {
	editor, store := newEditor(t)
	tool := NewAnchorsTool(editor)

	result, err := tool.Execute(t.Context(), quietLogger(), &sync.Map{}, map[string]any{
		"project_id": projectID,
		"file_name":  "Util.gs",
	})
	require.NoError(t, err)
	out := decode(t, result)
	assert.Equal(t, false, out["committed"])
	assert.Len(t, out["anchors"], 1)
	assert.Equal(t, 0, store.puts)

	result, err = tool.Execute(t.Context(), quietLogger(), &sync.Map{}, map[string]any{
		"project_id": projectID,
		"file_name":  "Util.gs",
		"preview":    false,
	})
	require.NoError(t, err)
	out = decode(t, result)
	assert.Equal(t, true, out["committed"])
	assert.Contains(t, store.content("Util"), "// >>>BEGIN_util<<<")
	assert.Contains(t, store.content("Util"), "// >>>END_util<<<")
}

func TestAnchorsTool_RejectsJSON(t *testing.T) {
	editor, _ := newEditor(t)
	tool := NewAnchorsTool(editor)

	_, err := tool.Execute(t.Context(), quietLogger(), &sync.Map{}, map[string]any{
		"project_id": projectID,
		"file_name":  "appsscript.json",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid parameters")
}

func TestFilesTool_ListProjects(t *testing.T) {
	editor, _ := newEditor(t)
	lister := &fakeLister{projects: []drive.Project{{ID: "p1", Name: "Invoices"}}}
	tool := NewFilesTool(editor, lister)

	result, err := tool.Execute(t.Context(), quietLogger(), &sync.Map{}, map[string]any{
		"function": "list_projects",
		"options":  map[string]any{"name_contains": "Inv", "limit": 5.0},
	})
	require.NoError(t, err)
	out := decode(t, result)
	assert.Equal(t, 1.0, out["count"])
	assert.Equal(t, "Inv", lister.query)
	assert.Equal(t, 5, lister.limit)

	_, err = NewFilesTool(editor, nil).Execute(t.Context(), quietLogger(), &sync.Map{}, map[string]any{"function": "list_projects"})
	assert.ErrorContains(t, err, "not configured")
}

func TestFilesTool_ReadAndValidate(t *testing.T) {
	editor, _ := newEditor(t)
	tool := NewFilesTool(editor, nil)
	ctx := t.Context()

	result, err := tool.Execute(ctx, quietLogger(), &sync.Map{}, map[string]any{"function": "list_files", "project_id": projectID})
	require.NoError(t, err)
	assert.Len(t, decode(t, result)["files"], 3)

	result, err = tool.Execute(ctx, quietLogger(), &sync.Map{}, map[string]any{
		"function":   "get_file",
		"project_id": projectID,
		"file_name":  "Code",
		"options":    map[string]any{"start_line": 2.0, "end_line": 3.0},
	})
	require.NoError(t, err)
	out := decode(t, result)
	assert.Equal(t, "function greet() {\n  return 'hi';", out["content"])
	assert.Equal(t, 2.0, out["start_line"])

	result, err = tool.Execute(ctx, quietLogger(), &sync.Map{}, map[string]any{
		"function":   "validate_file",
		"project_id": projectID,
		"file_name":  "appsscript.json",
	})
	require.NoError(t, err)
	out = decode(t, result)
	assert.Equal(t, true, out["is_valid"])
	assert.Equal(t, "json", out["language"])

	_, err = tool.Execute(ctx, quietLogger(), &sync.Map{}, map[string]any{"function": "get_file", "project_id": projectID})
	assert.ErrorContains(t, err, "file_name is required")

	_, err = tool.Execute(ctx, quietLogger(), &sync.Map{}, map[string]any{"function": "explode"})
	assert.ErrorContains(t, err, "unsupported function")
}

func TestFilesTool_SnapshotRoundTrip(t *testing.T) {
	editor, store := newEditor(t)
	files := NewFilesTool(editor, nil)
	patcher := NewPatchTool(editor)
	ctx := t.Context()

	_, err := patcher.Execute(ctx, quietLogger(), &sync.Map{}, map[string]any{
		"project_id": projectID,
		"file_name":  "Util",
		"find":       "return 1;",
		"replace":    "return 42;",
	})
	require.NoError(t, err)
	require.Contains(t, store.content("Util"), "return 42;")

	result, err := files.Execute(ctx, quietLogger(), &sync.Map{}, map[string]any{
		"function":   "list_snapshots",
		"project_id": projectID,
		"file_name":  "Util.gs",
	})
	require.NoError(t, err)
	snaps := decode(t, result)["snapshots"].([]any)
	require.Len(t, snaps, 1)
	id := snaps[0].(map[string]any)["id"].(string)

	result, err = files.Execute(ctx, quietLogger(), &sync.Map{}, map[string]any{
		"function":   "restore_snapshot",
		"project_id": projectID,
		"file_name":  "Util",
		"options":    map[string]any{"snapshot_id": id},
	})
	require.NoError(t, err)
	assert.Equal(t, id, decode(t, result)["restored_snapshot_id"])
	assert.Equal(t, "function util() {\n  return 1;\n}\n", store.content("Util"))

	_, err = files.Execute(ctx, quietLogger(), &sync.Map{}, map[string]any{
		"function":   "restore_snapshot",
		"project_id": projectID,
		"file_name":  "Util",
		"options":    map[string]any{},
	})
	assert.ErrorContains(t, err, "snapshot_id")
}

func TestToolsProvideExtendedHelp(t *testing.T) {
	editor, _ := newEditor(t)
	for _, tool := range []tools.Tool{NewPatchTool(editor), NewAnchorsTool(editor), NewFilesTool(editor, nil)} {
		provider, ok := tool.(tools.ExtendedHelpProvider)
		require.True(t, ok, tool.Definition().Name)
		help := provider.ProvideExtendedInfo()
		assert.NotEmpty(t, help.Examples, tool.Definition().Name)
		assert.NotEmpty(t, help.WhenToUse, tool.Definition().Name)
	}
}
