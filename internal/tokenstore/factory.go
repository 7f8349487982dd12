package tokenstore

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"funnel/pkg/oauth"
)

// Backend names accepted by NewFromBackend.
const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendEncrypted = "encrypted"
	BackendBolt      = "bolt"
)

// boltFileName is the shared database file for the bolt backend.
const boltFileName = "tokens.db"

// Factory builds per-upstream stores for one configured backend, sharing
// backend-level resources (the bolt database handle) across upstreams.
type Factory struct {
	backend    string
	storageDir string
	passphrase string

	db *bolt.DB
}

// NewFactory creates a store factory. The passphrase is only consulted for
// the encrypted backend. An empty backend selects the file backend.
func NewFactory(backend, storageDir, passphrase string) (*Factory, error) {
	if backend == "" {
		backend = BackendFile
	}

	f := &Factory{
		backend:    backend,
		storageDir: storageDir,
		passphrase: passphrase,
	}

	switch backend {
	case BackendMemory, BackendFile:
	case BackendEncrypted:
		if passphrase == "" {
			return nil, fmt.Errorf("encrypted token backend requires a passphrase")
		}
	case BackendBolt:
		dir := storageDir
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine home directory: %w", err)
			}
			dir = filepath.Join(home, oauth.DefaultTokenStorageDir)
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("could not create token storage directory: %w", err)
		}
		db, err := OpenBoltDB(filepath.Join(dir, boltFileName))
		if err != nil {
			return nil, err
		}
		f.db = db
	default:
		return nil, fmt.Errorf("unknown token backend %q", backend)
	}

	return f, nil
}

// StoreFor returns a token store scoped to the given upstream server URL.
func (f *Factory) StoreFor(serverURL string) (Store, error) {
	switch f.backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(f.storageDir, serverURL)
	case BackendEncrypted:
		return NewEncryptedFileStore(f.storageDir, serverURL, f.passphrase)
	case BackendBolt:
		return NewBoltStore(f.db, serverURL), nil
	default:
		return nil, fmt.Errorf("unknown token backend %q", f.backend)
	}
}

// Close releases backend-level resources.
func (f *Factory) Close() error {
	if f.db != nil {
		return f.db.Close()
	}
	return nil
}
