package tokenstore

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"funnel/pkg/oauth"
)

// tokenBucket is the bbolt bucket holding one token per server URL.
var tokenBucket = []byte("tokens")

// BoltStore persists tokens for all upstream servers in a single bbolt
// database file. Each BoltStore instance is scoped to one server URL; the
// *bolt.DB is shared between instances and owned by the caller.
type BoltStore struct {
	db        *bolt.DB
	serverURL string
}

// OpenBoltDB opens (creating if necessary) the token database at path with
// owner-only permissions.
func OpenBoltDB(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open token database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokenBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create token bucket: %w", err)
	}

	return db, nil
}

// NewBoltStore creates a bbolt-backed token store scoped to one server.
func NewBoltStore(db *bolt.DB, serverURL string) *BoltStore {
	return &BoltStore{
		db:        db,
		serverURL: oauth.NormalizeServerURL(serverURL),
	}
}

// Store persists the token in a single write transaction.
func (s *BoltStore) Store(token *oauth.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokenBucket).Put([]byte(s.serverURL), data)
	})
}

// Retrieve returns the stored token, or nil if none exists or the database
// is unreadable.
func (s *BoltStore) Retrieve() *oauth.Token {
	var token *oauth.Token

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(tokenBucket).Get([]byte(s.serverURL))
		if data == nil {
			return nil
		}
		var t oauth.Token
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		token = &t
		return nil
	})
	if err != nil {
		return nil
	}

	return token
}

// Clear removes the stored token. Clearing an absent token is a no-op.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokenBucket).Delete([]byte(s.serverURL))
	})
}

// IsExpired reports whether no token exists or the stored token has expired.
// Database errors count as expired.
func (s *BoltStore) IsExpired() bool {
	return expired(s.Retrieve(), time.Now())
}

var _ Store = (*BoltStore)(nil)
