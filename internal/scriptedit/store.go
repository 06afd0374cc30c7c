// Package scriptedit applies patches and generated anchors to files of a
// remote Apps Script project. It is the only code that writes to the
// remote store.
package scriptedit

import (
	"context"
	"fmt"

	"github.com/sammcj/mcp-workspace/internal/snapshot"
	"github.com/sammcj/mcp-workspace/internal/source"
)

// FileStore is the remote project file collaborator. Replace always
// receives the full file list.
type FileStore interface {
	FetchProjectFiles(ctx context.Context, projectID string) ([]source.File, error)
	ReplaceProjectFiles(ctx context.Context, projectID string, files []source.File) error
}

// Snapshots stores pre-commit copies of files.
type Snapshots interface {
	Save(ctx context.Context, projectID string, f source.File, reason string) (*snapshot.Snapshot, error)
	List(ctx context.Context, projectID, fileName string) ([]snapshot.Snapshot, error)
	Get(ctx context.Context, projectID, fileName, id string) (*snapshot.Snapshot, error)
}

// RemoteStoreError wraps a failure talking to the remote store unchanged.
type RemoteStoreError struct {
	Op        string
	ProjectID string
	Err       error
}

func (e *RemoteStoreError) Error() string {
	return fmt.Sprintf("remote store %s failed for project %s: %v", e.Op, e.ProjectID, e.Err)
}

func (e *RemoteStoreError) Unwrap() error {
	return e.Err
}

func (s *Service) fetch(ctx context.Context, projectID string) ([]source.File, error) {
	files, err := s.store.FetchProjectFiles(ctx, projectID)
	if err != nil {
		return nil, &RemoteStoreError{Op: "fetch", ProjectID: projectID, Err: err}
	}
	return files, nil
}

func (s *Service) fetchFile(ctx context.Context, projectID, fileName string) ([]source.File, int, error) {
	files, err := s.fetch(ctx, projectID)
	if err != nil {
		return nil, 0, err
	}
	idx, err := source.Resolve(files, fileName)
	if err != nil {
		return nil, 0, err
	}
	return files, idx, nil
}

// commit snapshots files[idx] and resubmits the list with only that entry
// replaced by content.
func (s *Service) commit(ctx context.Context, projectID string, files []source.File, idx int, content, reason string) (string, error) {
	var snapshotID string
	if s.snapshots != nil {
		snap, err := s.snapshots.Save(ctx, projectID, files[idx], reason)
		if err != nil {
			return "", fmt.Errorf("failed to snapshot %s before commit: %w", files[idx].Name, err)
		}
		snapshotID = snap.ID
	}

	updated := make([]source.File, len(files))
	copy(updated, files)
	updated[idx] = files[idx].WithContent(content)

	if err := s.store.ReplaceProjectFiles(ctx, projectID, updated); err != nil {
		return snapshotID, &RemoteStoreError{Op: "replace", ProjectID: projectID, Err: err}
	}
	return snapshotID, nil
}
