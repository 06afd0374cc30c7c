package scriptedit

import (
	"context"
	"fmt"
	"strings"

	"github.com/sammcj/mcp-workspace/internal/lexer"
	"github.com/sammcj/mcp-workspace/internal/patch"
	"github.com/sammcj/mcp-workspace/internal/snapshot"
	"github.com/sammcj/mcp-workspace/internal/source"
	"github.com/sammcj/mcp-workspace/internal/validate"
)

// FileInfo describes a project file without its content.
type FileInfo struct {
	Name     string          `json:"name"`
	Type     source.FileType `json:"type"`
	Language string          `json:"language"`
	Bytes    int             `json:"bytes"`
	Lines    int             `json:"lines"`
}

// FileContent is a file, or a line range of it.
type FileContent struct {
	Name       string          `json:"name"`
	Type       source.FileType `json:"type"`
	StartLine  int             `json:"start_line"`
	EndLine    int             `json:"end_line"`
	TotalLines int             `json:"total_lines"`
	Content    string          `json:"content"`
}

// ValidationReport is the validator result for a stored file.
type ValidationReport struct {
	validate.Result
	FileName string `json:"file_name"`
	Language string `json:"language"`
}

// RestoreResult is the outcome of RestoreSnapshot.
type RestoreResult struct {
	FileName   string `json:"file_name"`
	RestoredID string `json:"restored_snapshot_id"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	BytesAfter int    `json:"bytes_after"`
}

// ListFiles returns the files of a project.
func (s *Service) ListFiles(ctx context.Context, projectID string) ([]FileInfo, error) {
	files, err := s.fetch(ctx, projectID)
	if err != nil {
		return nil, err
	}
	infos := make([]FileInfo, 0, len(files))
	for _, f := range files {
		infos = append(infos, FileInfo{
			Name:     f.Name,
			Type:     f.Type,
			Language: validate.LanguageForFile(f.Name, f.Type).String(),
			Bytes:    len(f.Content),
			Lines:    len(lexer.SplitLines(f.Content)),
		})
	}
	return infos, nil
}

// GetFile returns a file's content. A zero startLine or endLine selects
// the start or end of the file; lines are 1-based and inclusive.
func (s *Service) GetFile(ctx context.Context, projectID, fileName string, startLine, endLine int) (*FileContent, error) {
	files, idx, err := s.fetchFile(ctx, projectID, fileName)
	if err != nil {
		return nil, err
	}
	f := files[idx]
	lines := lexer.SplitLines(f.Content)
	total := len(lines)

	if startLine <= 0 {
		startLine = 1
	}
	if endLine <= 0 || endLine > total {
		endLine = total
	}
	if startLine > total {
		return nil, &patch.UserInputError{Message: fmt.Sprintf("start_line %d is past the end of %s (%d lines)", startLine, f.Name, total)}
	}
	if endLine < startLine {
		return nil, &patch.UserInputError{Message: fmt.Sprintf("end_line %d is before start_line %d", endLine, startLine)}
	}

	return &FileContent{
		Name:       f.Name,
		Type:       f.Type,
		StartLine:  startLine,
		EndLine:    endLine,
		TotalLines: total,
		Content:    strings.Join(lines[startLine-1:endLine], "\n"),
	}, nil
}

// ValidateFile runs the validator over a stored file. No size check is
// applied since there is no previous version.
func (s *Service) ValidateFile(ctx context.Context, projectID, fileName string) (*ValidationReport, error) {
	files, idx, err := s.fetchFile(ctx, projectID, fileName)
	if err != nil {
		return nil, err
	}
	f := files[idx]
	lang := validate.LanguageForFile(f.Name, f.Type)
	return &ValidationReport{
		Result:   s.validator.Validate(lang, f.Content, ""),
		FileName: f.Name,
		Language: lang.String(),
	}, nil
}

// ListSnapshots returns the local snapshots of one file, newest first. The
// name is resolved against the project so "Code.gs" finds snapshots of "Code".
func (s *Service) ListSnapshots(ctx context.Context, projectID, fileName string) ([]snapshot.Snapshot, error) {
	if s.snapshots == nil {
		return nil, fmt.Errorf("snapshots are disabled")
	}
	files, idx, err := s.fetchFile(ctx, projectID, fileName)
	if err != nil {
		return nil, err
	}
	return s.snapshots.List(ctx, projectID, files[idx].Name)
}

// RestoreSnapshot writes a snapshot's content back to the project. The
// current content is itself snapshotted first so a restore can be undone.
func (s *Service) RestoreSnapshot(ctx context.Context, projectID, fileName, snapshotID string) (*RestoreResult, error) {
	if s.snapshots == nil {
		return nil, fmt.Errorf("snapshots are disabled")
	}

	files, idx, err := s.fetchFile(ctx, projectID, fileName)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshots.Get(ctx, projectID, files[idx].Name, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", snapshotID, err)
	}

	newID, err := s.commit(ctx, projectID, files, idx, snap.Content, "restore:"+snapshotID)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("project_id", projectID).WithField("file", files[idx].Name).
		WithField("snapshot", snapshotID).Info("Snapshot restored")

	return &RestoreResult{
		FileName:   files[idx].Name,
		RestoredID: snapshotID,
		SnapshotID: newID,
		BytesAfter: len(snap.Content),
	}, nil
}
