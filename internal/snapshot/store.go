// Package snapshot keeps local copies of file contents taken before each
// commit to the remote store, so a patch can be undone.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sammcj/mcp-workspace/internal/source"
)

const (
	// DefaultMaxPerFile is the number of snapshots kept for each file.
	DefaultMaxPerFile = 20

	lockRetryDelay = 50 * time.Millisecond
	lockTimeout    = 5 * time.Second
)

// ErrNotFound is returned when a snapshot does not exist.
var ErrNotFound = errors.New("snapshot not found")

var unsafePathRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Snapshot is the content of one file at a point in time.
type Snapshot struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	FileName  string          `json:"file_name"`
	FileType  source.FileType `json:"file_type"`
	Reason    string          `json:"reason"`
	Checksum  string          `json:"checksum"`
	Size      int             `json:"size"`
	CreatedAt time.Time       `json:"created_at"`
	Content   string          `json:"content,omitempty"`
}

// File returns the snapshot as a project file.
func (s *Snapshot) File() source.File {
	return source.File{Name: s.FileName, Type: s.FileType, Content: s.Content}
}

// Store writes snapshots as JSON files under basePath/<project>/<file>/.
type Store struct {
	basePath   string
	maxPerFile int
	logger     *logrus.Logger
}

// NewStore creates the base directory if needed.
func NewStore(basePath string, maxPerFile int, logger *logrus.Logger) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("snapshot directory is not set")
	}
	if err := ensureDir(basePath); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if maxPerFile <= 0 {
		maxPerFile = DefaultMaxPerFile
	}
	return &Store{basePath: basePath, maxPerFile: maxPerFile, logger: logger}, nil
}

// ensureDir creates a directory with 0700 permissions if it doesn't exist
func ensureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0700)
	}
	return nil
}

func (s *Store) fileDir(projectID, fileName string) string {
	return filepath.Join(s.basePath, safeName(projectID), safeName(fileName))
}

func safeName(name string) string {
	name = unsafePathRe.ReplaceAllString(name, "_")
	name = strings.Trim(name, ".")
	if name == "" {
		return "_"
	}
	return name
}

func checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (s *Store) lock(ctx context.Context, dir string, exclusive bool) (*flock.Flock, error) {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	fileLock := flock.New(filepath.Join(dir, ".lock"))
	var locked bool
	var err error
	if exclusive {
		locked, err = fileLock.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fileLock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire snapshot lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("could not acquire snapshot lock for %s", dir)
	}
	return fileLock, nil
}

func (s *Store) unlock(fileLock *flock.Flock) {
	if err := fileLock.Unlock(); err != nil {
		s.logger.WithError(err).Warn("Failed to release snapshot lock")
	}
}

// Save stores f as a new snapshot of projectID and prunes old ones.
func (s *Store) Save(ctx context.Context, projectID string, f source.File, reason string) (*Snapshot, error) {
	dir := s.fileDir(projectID, f.Name)
	if err := ensureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	fileLock, err := s.lock(ctx, dir, true)
	if err != nil {
		return nil, err
	}
	defer s.unlock(fileLock)

	snap := &Snapshot{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		FileName:  f.Name,
		FileType:  f.Type,
		Reason:    reason,
		Checksum:  checksum(f.Content),
		Size:      len(f.Content),
		CreatedAt: time.Now().UTC(),
		Content:   f.Content,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, snap.ID+".json"), data); err != nil {
		return nil, err
	}

	if err := s.prune(dir); err != nil {
		s.logger.WithError(err).Warn("Failed to prune old snapshots")
	}

	s.logger.WithFields(logrus.Fields{
		"project_id": projectID,
		"file":       f.Name,
		"snapshot":   snap.ID,
	}).Debug("Snapshot saved")
	return snap, nil
}

// List returns the snapshots of one file, newest first, without content.
func (s *Store) List(ctx context.Context, projectID, fileName string) ([]Snapshot, error) {
	dir := s.fileDir(projectID, fileName)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []Snapshot{}, nil
	}

	fileLock, err := s.lock(ctx, dir, false)
	if err != nil {
		return nil, err
	}
	defer s.unlock(fileLock)

	snaps, err := s.readAll(dir)
	if err != nil {
		return nil, err
	}
	for i := range snaps {
		snaps[i].Content = ""
	}
	return snaps, nil
}

// Get returns one snapshot with its content after verifying its checksum.
func (s *Store) Get(ctx context.Context, projectID, fileName, id string) (*Snapshot, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid snapshot id %q: %w", id, err)
	}
	dir := s.fileDir(projectID, fileName)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, ErrNotFound
	}

	fileLock, err := s.lock(ctx, dir, false)
	if err != nil {
		return nil, err
	}
	defer s.unlock(fileLock)

	snap, err := readSnapshot(filepath.Join(dir, id+".json"))
	if err != nil {
		return nil, err
	}
	if checksum(snap.Content) != snap.Checksum {
		return nil, fmt.Errorf("snapshot %s is corrupt: checksum mismatch", id)
	}
	return snap, nil
}

func readSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", filepath.Base(path), err)
	}
	return &snap, nil
}

// readAll loads every snapshot in dir, newest first (caller must hold lock)
func (s *Store) readAll(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	snaps := []Snapshot{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		snap, err := readSnapshot(filepath.Join(dir, entry.Name()))
		if err != nil {
			s.logger.WithError(err).WithField("file", entry.Name()).Warn("Skipping unreadable snapshot")
			continue
		}
		snaps = append(snaps, *snap)
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })
	return snaps, nil
}

// prune removes all but the newest maxPerFile snapshots (caller must hold lock)
func (s *Store) prune(dir string) error {
	snaps, err := s.readAll(dir)
	if err != nil {
		return err
	}
	for _, old := range snaps[min(len(snaps), s.maxPerFile):] {
		if err := os.Remove(filepath.Join(dir, old.ID+".json")); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove snapshot %s: %w", old.ID, err)
		}
	}
	return nil
}

// writeFileAtomic writes data to a file using temp file + rename for atomicity
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
