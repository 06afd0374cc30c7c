package scriptedit

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammcj/mcp-workspace/internal/patch"
	"github.com/sammcj/mcp-workspace/internal/snapshot"
	"github.com/sammcj/mcp-workspace/internal/source"
	"github.com/sammcj/mcp-workspace/internal/validate"
)

const project = "proj"

var (
	codeFile = source.File{Name: "Code", Type: source.ServerJS, Content: "function a() {\n  return 1;\n}\n"}
	pageFile = source.File{Name: "Index", Type: source.HTML, Content: "<div id=\"main\">\n  <p>hi</p>\n</div>\n"}
	manifest = source.File{Name: "appsscript", Type: source.JSON, Content: "{\"timeZone\": \"UTC\"}"}
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newService(t *testing.T) (*Service, *memStore, *snapshot.Store) {
	t.Helper()
	logger := quietLogger()
	store := newMemStore(project, codeFile, pageFile, manifest)
	snaps, err := snapshot.NewStore(t.TempDir(), 5, logger)
	require.NoError(t, err)

	validator := validate.New(validate.DefaultOptions())
	orch := patch.NewOrchestrator(patch.NewFuzzyMatcher(patch.DefaultFuzzyOptions()), validator, patch.DefaultMinAccuracy, logger)
	return New(store, snaps, orch, validator, logger), store, snaps
}

func strPtr(s string) *string { return &s }

func TestPatchCommitsOnlyTargetFile(t *testing.T) {
	svc, store, snaps := newService(t)

	res, err := svc.Patch(context.Background(), PatchRequest{
		ProjectID: project,
		Request:   patch.Request{FileName: "Code.gs", Find: "return 1;", Replace: strPtr("return 2;")},
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.Committed)
	assert.Equal(t, patch.MethodFuzzy, res.Method)
	assert.Equal(t, patch.StateCommit, res.FinalState)
	assert.NotEmpty(t, res.SnapshotID)
	assert.Contains(t, res.Summary, "Committed Code")

	files := store.files(project)
	require.Len(t, files, 3)
	assert.Equal(t, "function a() {\n  return 2;\n}\n", files[0].Content)
	assert.Equal(t, pageFile, files[1])
	assert.Equal(t, manifest, files[2])
	assert.Equal(t, 1, store.replaceCount())

	snap, err := snaps.Get(context.Background(), project, "Code", res.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, codeFile.Content, snap.Content)
}

func TestPatchRollsBackInvalidSyntax(t *testing.T) {
	svc, store, _ := newService(t)

	res, err := svc.Patch(context.Background(), PatchRequest{
		ProjectID: project,
		Request:   patch.Request{FileName: "Code", Find: "return 1;", Replace: strPtr("return (1;")},
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.False(t, res.Committed)
	assert.False(t, res.SyntaxOK)
	assert.Equal(t, patch.StateRolledBack, res.FinalState)
	assert.Equal(t, 0, store.replaceCount())
	assert.Equal(t, codeFile, store.files(project)[0])

	var syntaxErr *validate.SyntaxError
	assert.True(t, errors.As(res.Err(), &syntaxErr))
}

func TestPatchDryRun(t *testing.T) {
	svc, store, _ := newService(t)

	res, err := svc.Patch(context.Background(), PatchRequest{
		ProjectID: project,
		Request:   patch.Request{FileName: "Code", Find: "return 1;", Replace: strPtr("return 2;")},
		DryRun:    true,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.Committed)
	assert.Contains(t, res.PreviewDiff, "-  return 1;")
	assert.Contains(t, res.PreviewDiff, "+  return 2;")
	assert.Contains(t, res.Summary, "Dry run")
	assert.Equal(t, 0, store.replaceCount())
}

func TestPatchErrors(t *testing.T) {
	t.Run("missing strategy", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.Patch(context.Background(), PatchRequest{ProjectID: project, Request: patch.Request{FileName: "Code"}})
		assert.True(t, patch.IsUserInput(err))
	})

	t.Run("unknown file", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.Patch(context.Background(), PatchRequest{
			ProjectID: project,
			Request:   patch.Request{FileName: "Cod", Find: "x", Replace: strPtr("y")},
		})
		var notFound *source.FileNotFoundError
		require.True(t, errors.As(err, &notFound))
		assert.Contains(t, notFound.Suggestions, "Code")
	})

	t.Run("fetch failure", func(t *testing.T) {
		svc, store, _ := newService(t)
		cause := errors.New("quota exceeded")
		store.fetchErr = cause
		_, err := svc.Patch(context.Background(), PatchRequest{
			ProjectID: project,
			Request:   patch.Request{FileName: "Code", Find: "return 1;", Replace: strPtr("return 2;")},
		})
		var remote *RemoteStoreError
		require.True(t, errors.As(err, &remote))
		assert.Equal(t, "fetch", remote.Op)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("replace failure", func(t *testing.T) {
		svc, store, _ := newService(t)
		store.replaceErr = errors.New("permission denied")
		_, err := svc.Patch(context.Background(), PatchRequest{
			ProjectID: project,
			Request:   patch.Request{FileName: "Code", Find: "return 1;", Replace: strPtr("return 2;")},
		})
		var remote *RemoteStoreError
		require.True(t, errors.As(err, &remote))
		assert.Equal(t, "replace", remote.Op)
		assert.Equal(t, codeFile, store.files(project)[0])
	})
}

func TestGenerateAnchors(t *testing.T) {
	t.Run("preview writes nothing", func(t *testing.T) {
		svc, store, _ := newService(t)
		res, err := svc.GenerateAnchors(context.Background(), project, "Code", true)
		require.NoError(t, err)
		assert.True(t, res.Preview)
		assert.False(t, res.Committed)
		require.Len(t, res.Anchors, 1)
		assert.Contains(t, res.PreviewDiff, "+// >>>BEGIN_a<<<")
		assert.Equal(t, 0, store.replaceCount())
	})

	t.Run("commit", func(t *testing.T) {
		svc, store, _ := newService(t)
		res, err := svc.GenerateAnchors(context.Background(), project, "Index.html", false)
		require.NoError(t, err)
		assert.True(t, res.Committed)
		require.NotNil(t, res.Validation)
		assert.True(t, res.Validation.IsValid)

		files := store.files(project)
		assert.Contains(t, files[1].Content, "<!-- >>>BEGIN_main_block<<< -->")
		assert.Equal(t, codeFile, files[0])
	})

	t.Run("anchored patch round trip", func(t *testing.T) {
		svc, store, _ := newService(t)
		_, err := svc.GenerateAnchors(context.Background(), project, "Code", false)
		require.NoError(t, err)

		res, err := svc.Patch(context.Background(), PatchRequest{
			ProjectID: project,
			Request: patch.Request{
				FileName:    "Code",
				AnchorStart: "// >>>BEGIN_a<<<",
				AnchorEnd:   "// >>>END_a<<<",
				Replace:     strPtr("function a() {\n  return 3;\n}"),
			},
		})
		require.NoError(t, err)
		assert.Equal(t, patch.MethodAnchor, res.Method)
		assert.Equal(t, "// >>>BEGIN_a<<<\nfunction a() {\n  return 3;\n}\n// >>>END_a<<<\n", store.files(project)[0].Content)
	})

	t.Run("unsupported language", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.GenerateAnchors(context.Background(), project, "appsscript", true)
		assert.True(t, patch.IsUserInput(err))
	})
}
