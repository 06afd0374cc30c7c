// Package drive discovers Apps Script projects through the Drive API.
package drive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/drive/v3"

	"github.com/sammcj/mcp-workspace/internal/cache"
	"github.com/sammcj/mcp-workspace/internal/telemetry"
)

// ScriptMimeType is the Drive MIME type of standalone Apps Script projects.
const ScriptMimeType = "application/vnd.google-apps.script"

// DefaultCacheTTL is how long a project listing is reused.
const DefaultCacheTTL = 5 * time.Minute

const maxPages = 10

// ServiceFunc returns the API service, creating it if needed.
type ServiceFunc func(ctx context.Context) (*drive.Service, error)

// Project is one Apps Script project visible to the caller.
type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ModifiedTime string `json:"modified_time,omitempty"`
	Owner        string `json:"owner,omitempty"`
	WebViewLink  string `json:"web_view_link,omitempty"`
}

// Projects lists script projects with a TTL cache.
type Projects struct {
	service ServiceFunc
	cache   *cache.Cache[[]Project]
	logger  *logrus.Logger
}

// NewProjects creates a lister.
func NewProjects(service ServiceFunc, c *cache.Cache[[]Project], logger *logrus.Logger) *Projects {
	if c == nil {
		c = cache.NewCache[[]Project](DefaultCacheTTL)
	}
	return &Projects{service: service, cache: c, logger: logger}
}

// Query builds the Drive search for script projects, optionally filtered
// by a name substring.
func Query(nameContains string) string {
	q := fmt.Sprintf("mimeType='%s' and trashed=false", ScriptMimeType)
	if nameContains != "" {
		escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(nameContains)
		q += fmt.Sprintf(" and name contains '%s'", escaped)
	}
	return q
}

// List returns up to limit projects ordered by most recent modification.
func (p *Projects) List(ctx context.Context, nameContains string, limit int) ([]Project, error) {
	if limit <= 0 {
		limit = 50
	}
	q := Query(nameContains)
	key := fmt.Sprintf("%s|%d", q, limit)
	cached, ok := p.cache.Get(key)
	telemetry.RecordCacheOperation(ctx, "drive_projects", "get", ok)
	if ok {
		p.logger.WithField("query", q).Debug("Using cached project listing")
		return cached, nil
	}

	svc, err := p.service(ctx)
	if err != nil {
		return nil, err
	}

	projects := []Project{}
	pageToken := ""
	for page := 0; page < maxPages && len(projects) < limit; page++ {
		call := svc.Files.List().
			Q(q).
			Spaces("drive").
			IncludeItemsFromAllDrives(true).
			SupportsAllDrives(true).
			Fields("nextPageToken, files(id, name, modifiedTime, webViewLink, owners(displayName))").
			OrderBy("modifiedTime desc").
			PageSize(int64(min(limit, 100))).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list script projects: %w", err)
		}
		for _, f := range res.Files {
			proj := Project{ID: f.Id, Name: f.Name, ModifiedTime: f.ModifiedTime, WebViewLink: f.WebViewLink}
			if len(f.Owners) > 0 {
				proj.Owner = f.Owners[0].DisplayName
			}
			projects = append(projects, proj)
		}
		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}
	if len(projects) > limit {
		projects = projects[:limit]
	}

	p.cache.Set(key, projects)
	return projects, nil
}
