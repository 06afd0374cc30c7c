package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned when no token has been saved yet.
var ErrNoToken = errors.New("no saved token")

// TokenStore persists an OAuth token as a 0600 JSON file guarded by a
// sibling lock file.
type TokenStore struct {
	path   string
	logger *logrus.Logger
}

// NewTokenStore creates a store for path.
func NewTokenStore(path string, logger *logrus.Logger) *TokenStore {
	return &TokenStore{path: path, logger: logger}
}

// Path is the token file location.
func (s *TokenStore) Path() string {
	return s.path
}

func (s *TokenStore) lockPath() string {
	return s.path + ".lock"
}

// Load reads the saved token.
func (s *TokenStore) Load() (*oauth2.Token, error) {
	fileLock := flock.New(s.lockPath())
	locked, err := fileLock.TryRLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire token lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("token file %s is locked by another process", s.path)
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			s.logger.WithError(err).Warn("Failed to release token lock")
		}
	}()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", s.path, err)
	}
	return &token, nil
}

// Save writes token atomically.
func (s *TokenStore) Save(token *oauth2.Token) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	fileLock := flock.New(s.lockPath())
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire token lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("token file %s is locked by another process", s.path)
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			s.logger.WithError(err).Warn("Failed to release token lock")
		}
	}()

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".token-*")
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
		return fmt.Errorf("failed to write token: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// persistingTokenSource saves every refreshed token so the next process
// starts from it.
type persistingTokenSource struct {
	base  oauth2.TokenSource
	store *TokenStore

	mu   sync.Mutex
	last string
}

func newPersistingTokenSource(base oauth2.TokenSource, store *TokenStore, current *oauth2.Token) *persistingTokenSource {
	ts := &persistingTokenSource{base: base, store: store}
	if current != nil {
		ts.last = current.AccessToken
	}
	return ts
}

// Token implements oauth2.TokenSource.
func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		s.last = token.AccessToken
		if err := s.store.Save(token); err != nil {
			s.store.logger.WithError(err).Warn("Failed to persist refreshed token")
		}
	}
	return token, nil
}
