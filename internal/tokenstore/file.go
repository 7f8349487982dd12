package tokenstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"funnel/pkg/logging"
	"funnel/pkg/oauth"
)

// FileStore persists the token for one upstream server as a JSON file.
//
// SECURITY: files are created with 0600 permissions (owner read/write only)
// and the storage directory with 0700. Token values are never logged.
type FileStore struct {
	mu        sync.RWMutex
	path      string
	serverURL string
	cached    *oauth.Token
}

// NewFileStore creates a file-backed token store for the given server.
// The file name is derived from a SHA256 hash of the normalized server URL
// so that arbitrary URLs map to filesystem-safe names.
func NewFileStore(storageDir, serverURL string) (*FileStore, error) {
	if storageDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		storageDir = filepath.Join(homeDir, oauth.DefaultTokenStorageDir)
	}

	if err := os.MkdirAll(storageDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token storage directory: %w", err)
	}

	normalized := oauth.NormalizeServerURL(serverURL)
	return &FileStore{
		path:      filepath.Join(storageDir, tokenKey(normalized)+".json"),
		serverURL: normalized,
	}, nil
}

// Path returns the token file path. Used by the Watcher.
func (s *FileStore) Path() string {
	return s.path
}

// Store persists the token to disk and updates the in-memory cache.
func (s *FileStore) Store(token *oauth.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = copyToken(token)

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		logging.Warn("TokenStore", "Token persistence failed for %s: %v", s.serverURL, err)
		return fmt.Errorf("failed to write token file: %w", err)
	}

	logging.Debug("TokenStore", "Stored token for %s (expires %s)",
		s.serverURL, token.ExpiresAt.Format(time.RFC3339))
	return nil
}

// Retrieve returns a copy of the stored token, re-reading the file when the
// in-memory cache is empty (e.g., the token was written by another process).
func (s *FileStore) Retrieve() *oauth.Token {
	s.mu.RLock()
	if s.cached != nil {
		defer s.mu.RUnlock()
		return copyToken(s.cached)
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return copyToken(s.cached)
	}

	token, err := s.readFile()
	if err != nil {
		return nil
	}
	s.cached = token
	return copyToken(token)
}

// Reload drops the in-memory cache so the next Retrieve re-reads the file.
// Called by the Watcher when the token file changes on disk.
func (s *FileStore) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

// Clear removes the token file. A missing file is not an error.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = nil
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		logging.Warn("TokenStore", "Token deletion failed for %s: %v", s.serverURL, err)
		return err
	}

	logging.Debug("TokenStore", "Cleared token for %s", s.serverURL)
	return nil
}

// IsExpired reports whether no token exists or the stored token has expired.
// Read errors count as expired.
func (s *FileStore) IsExpired() bool {
	return expired(s.Retrieve(), time.Now())
}

func (s *FileStore) readFile() (*oauth.Token, error) {
	// #nosec G304 -- path is constructed from an internal key, not user input
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var token oauth.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	return &token, nil
}

// tokenKey generates a filesystem-safe key for a server URL.
func tokenKey(serverURL string) string {
	hash := sha256.Sum256([]byte(serverURL))
	return hex.EncodeToString(hash[:16])
}

var _ Store = (*FileStore)(nil)
