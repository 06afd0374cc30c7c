package scriptedit

import (
	"context"
	"fmt"
	"sync"

	"github.com/sammcj/mcp-workspace/internal/source"
)

// memStore is an in-memory FileStore.
type memStore struct {
	mu         sync.Mutex
	projects   map[string][]source.File
	replaced   int
	fetchErr   error
	replaceErr error
}

func newMemStore(projectID string, files ...source.File) *memStore {
	return &memStore{projects: map[string][]source.File{projectID: files}}
}

func (m *memStore) FetchProjectFiles(_ context.Context, projectID string) ([]source.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	files, ok := m.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s not found", projectID)
	}
	out := make([]source.File, len(files))
	copy(out, files)
	return out, nil
}

func (m *memStore) ReplaceProjectFiles(_ context.Context, projectID string, files []source.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.replaced++
	out := make([]source.File, len(files))
	copy(out, files)
	m.projects[projectID] = out
	return nil
}

func (m *memStore) files(projectID string) []source.File {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projects[projectID]
}

func (m *memStore) replaceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaced
}
