package scriptstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/script/v1"

	"github.com/sammcj/mcp-workspace/internal/source"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := script.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(func(context.Context) (*script.Service, error) { return svc, nil }, logger)
}

func TestFetchProjectFiles(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/projects/abc/content", r.URL.Path)
		_ = json.NewEncoder(w).Encode(script.Content{
			ScriptId: "abc",
			Files: []*script.File{
				{Name: "Code", Type: "SERVER_JS", Source: "function a() {}"},
				{Name: "Index", Type: "HTML", Source: "<p></p>"},
			},
		})
	})

	files, err := store.FetchProjectFiles(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []source.File{
		{Name: "Code", Type: source.ServerJS, Content: "function a() {}"},
		{Name: "Index", Type: source.HTML, Content: "<p></p>"},
	}, files)
}

func TestReplaceProjectFilesSendsFullList(t *testing.T) {
	var got script.Content
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/projects/abc/content", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(got)
	})

	files := []source.File{
		{Name: "Code", Type: source.ServerJS, Content: "x"},
		{Name: "appsscript", Type: source.JSON, Content: "{}"},
	}
	require.NoError(t, store.ReplaceProjectFiles(context.Background(), "abc", files))

	assert.Equal(t, "abc", got.ScriptId)
	require.Len(t, got.Files, 2)
	assert.Equal(t, "appsscript", got.Files[1].Name)
	assert.Equal(t, "JSON", got.Files[1].Type)
}

func TestAPIErrorIsReturned(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"User has not enabled the Apps Script API"}}`)
	})

	_, err := store.FetchProjectFiles(context.Background(), "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Apps Script API")
}

func TestGetProject(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects/abc", r.URL.Path)
		_ = json.NewEncoder(w).Encode(script.Project{ScriptId: "abc", Title: "Budget"})
	})

	p, err := store.GetProject(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "Budget", p.Title)
}
