// Package scriptstore reads and writes Apps Script project files through
// the Apps Script API.
package scriptstore

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/script/v1"

	"github.com/sammcj/mcp-workspace/internal/source"
)

// ServiceFunc returns the API service, creating it if needed.
type ServiceFunc func(ctx context.Context) (*script.Service, error)

// Store implements scriptedit.FileStore.
type Store struct {
	service ServiceFunc
	logger  *logrus.Logger
}

// New creates a store.
func New(service ServiceFunc, logger *logrus.Logger) *Store {
	return &Store{service: service, logger: logger}
}

// Project is Apps Script project metadata.
type Project struct {
	ScriptID   string `json:"script_id"`
	Title      string `json:"title"`
	ParentID   string `json:"parent_id,omitempty"`
	CreateTime string `json:"create_time,omitempty"`
	UpdateTime string `json:"update_time,omitempty"`
}

// FetchProjectFiles returns every file of the project in API order.
func (s *Store) FetchProjectFiles(ctx context.Context, projectID string) ([]source.File, error) {
	svc, err := s.service(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	content, err := svc.Projects.GetContent(projectID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get project content: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"project_id": projectID,
		"files":      len(content.Files),
		"duration":   time.Since(start),
	}).Debug("Fetched project files")

	return fromAPI(content.Files), nil
}

// ReplaceProjectFiles overwrites the project with files. The API has no
// partial update, so files must be the complete list.
func (s *Store) ReplaceProjectFiles(ctx context.Context, projectID string, files []source.File) error {
	svc, err := s.service(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = svc.Projects.UpdateContent(projectID, &script.Content{
		ScriptId: projectID,
		Files:    toAPI(files),
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update project content: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"project_id": projectID,
		"files":      len(files),
		"duration":   time.Since(start),
	}).Debug("Replaced project files")
	return nil
}

// GetProject returns project metadata.
func (s *Store) GetProject(ctx context.Context, projectID string) (*Project, error) {
	svc, err := s.service(ctx)
	if err != nil {
		return nil, err
	}
	p, err := svc.Projects.Get(projectID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &Project{
		ScriptID:   p.ScriptId,
		Title:      p.Title,
		ParentID:   p.ParentId,
		CreateTime: p.CreateTime,
		UpdateTime: p.UpdateTime,
	}, nil
}

func fromAPI(files []*script.File) []source.File {
	out := make([]source.File, 0, len(files))
	for _, f := range files {
		if f == nil {
			continue
		}
		out = append(out, source.File{Name: f.Name, Type: source.FileType(f.Type), Content: f.Source})
	}
	return out
}

func toAPI(files []source.File) []*script.File {
	out := make([]*script.File, 0, len(files))
	for _, f := range files {
		out = append(out, &script.File{Name: f.Name, Type: string(f.Type), Source: f.Content})
	}
	return out
}
