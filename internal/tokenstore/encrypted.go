package tokenstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/scrypt"

	"funnel/pkg/logging"
	"funnel/pkg/oauth"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// scryptKeyLen is the derived key length in bytes.
	scryptKeyLen = 32

	// saltLen is the per-file random salt length in bytes.
	saltLen = 16
)

// EncryptedFileStore persists the token as an AES-GCM encrypted file.
// The encryption key is derived from a passphrase with scrypt; a fresh salt
// and nonce are generated on every write, stored as
// [16-byte salt][12-byte nonce][ciphertext+GCM tag].
type EncryptedFileStore struct {
	mu         sync.RWMutex
	path       string
	serverURL  string
	passphrase []byte
	cached     *oauth.Token
}

// NewEncryptedFileStore creates an encrypted token store for the given server.
func NewEncryptedFileStore(storageDir, serverURL, passphrase string) (*EncryptedFileStore, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase must not be empty")
	}
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
	return &EncryptedFileStore{
		path:       filepath.Join(storageDir, tokenKey(normalized)+".enc"),
		serverURL:  normalized,
		passphrase: []byte(passphrase),
	}, nil
}

// Store encrypts and persists the token.
func (s *EncryptedFileStore) Store(token *oauth.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = copyToken(token)

	plaintext, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	blob, err := s.seal(plaintext)
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.path, blob, 0600); err != nil {
		logging.Warn("TokenStore", "Encrypted token persistence failed for %s: %v", s.serverURL, err)
		return fmt.Errorf("failed to write token file: %w", err)
	}

	logging.Debug("TokenStore", "Stored encrypted token for %s (expires %s)",
		s.serverURL, token.ExpiresAt.Format(time.RFC3339))
	return nil
}

// Retrieve returns a copy of the stored token, decrypting from disk when the
// in-memory cache is empty. Decryption failures (wrong passphrase, corrupt
// file) yield nil.
func (s *EncryptedFileStore) Retrieve() *oauth.Token {
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

// Clear removes the encrypted token file. A missing file is not an error.
func (s *EncryptedFileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = nil
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsExpired reports whether no token exists or the stored token has expired.
// Read and decryption errors count as expired.
func (s *EncryptedFileStore) IsExpired() bool {
	return expired(s.Retrieve(), time.Now())
}

func (s *EncryptedFileStore) readFile() (*oauth.Token, error) {
	// #nosec G304 -- path is constructed from an internal key, not user input
	blob, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.open(blob)
	if err != nil {
		return nil, err
	}

	var token oauth.Token
	if err := json.Unmarshal(plaintext, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	return &token, nil
}

// seal encrypts plaintext with a key derived from the passphrase and a fresh
// random salt and nonce.
func (s *EncryptedFileStore) seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := s.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := make([]byte, 0, saltLen+len(nonce)+len(plaintext)+gcm.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	return gcm.Seal(blob, nonce, plaintext, nil), nil
}

// open decrypts a [salt][nonce][ciphertext] blob.
func (s *EncryptedFileStore) open(blob []byte) ([]byte, error) {
	if len(blob) < saltLen {
		return nil, fmt.Errorf("encrypted token file too short")
	}

	salt := blob[:saltLen]
	gcm, err := s.aead(salt)
	if err != nil {
		return nil, err
	}

	rest := blob[saltLen:]
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("encrypted token file too short")
	}

	nonce := rest[:gcm.NonceSize()]
	ciphertext := rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token file: %w", err)
	}
	return plaintext, nil
}

// aead derives the AES-GCM cipher for the given salt.
func (s *EncryptedFileStore) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	return cipher.NewGCM(block)
}

var _ Store = (*EncryptedFileStore)(nil)
