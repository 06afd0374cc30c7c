package scriptedit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammcj/mcp-workspace/internal/patch"
)

func TestListFiles(t *testing.T) {
	svc, _, _ := newService(t)
	infos, err := svc.ListFiles(context.Background(), project)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "Code", infos[0].Name)
	assert.Equal(t, "javascript", infos[0].Language)
	assert.Equal(t, 4, infos[0].Lines)
}

func TestGetFile(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	whole, err := svc.GetFile(ctx, project, "Code", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, whole.StartLine)
	assert.Equal(t, 4, whole.TotalLines)

	part, err := svc.GetFile(ctx, project, "Code", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, "  return 1;", part.Content)

	_, err = svc.GetFile(ctx, project, "Code", 9, 0)
	assert.True(t, patch.IsUserInput(err))
	_, err = svc.GetFile(ctx, project, "Code", 3, 2)
	assert.True(t, patch.IsUserInput(err))
}

func TestValidateFile(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	report, err := svc.ValidateFile(ctx, project, "appsscript.json")
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Equal(t, "json", report.Language)

	store.projects[project][0].Content = "function a() {\n"
	report, err = svc.ValidateFile(ctx, project, "Code")
	require.NoError(t, err)
	assert.False(t, report.IsValid)
}

func TestRestoreSnapshot(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Patch(ctx, PatchRequest{
		ProjectID: project,
		Request:   patch.Request{FileName: "Code", Find: "return 1;", Replace: strPtr("return 2;")},
	})
	require.NoError(t, err)
	require.True(t, res.Committed)

	snaps, err := svc.ListSnapshots(ctx, project, "Code")
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	restored, err := svc.RestoreSnapshot(ctx, project, "Code", res.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, res.SnapshotID, restored.RestoredID)
	assert.NotEmpty(t, restored.SnapshotID)
	assert.Equal(t, codeFile, store.files(project)[0])

	snaps, err = svc.ListSnapshots(ctx, project, "Code.gs")
	require.NoError(t, err, "names resolve like patch file names")
	assert.Len(t, snaps, 2)
}
