package tokenstore

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel/pkg/oauth"
)

func TestEncryptedFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewEncryptedFileStore(dir, "https://mcp.example.com", "correct horse battery staple")
	require.NoError(t, err)

	token := &oauth.Token{AccessToken: "super-secret", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Store(token))

	got := store.Retrieve()
	require.NotNil(t, got)
	assert.Equal(t, "super-secret", got.AccessToken)
	assert.False(t, store.IsExpired())
}

func TestEncryptedFileStoreCiphertextOpaque(t *testing.T) {
	dir := t.TempDir()
	store, err := NewEncryptedFileStore(dir, "https://mcp.example.com", "passphrase")
	require.NoError(t, err)

	require.NoError(t, store.Store(&oauth.Token{AccessToken: "super-secret"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	blob, err := os.ReadFile(dir + "/" + entries[0].Name())
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "super-secret")
	assert.NotContains(t, string(blob), "access_token")
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	store, err := NewEncryptedFileStore(dir, "https://mcp.example.com", "right")
	require.NoError(t, err)
	require.NoError(t, store.Store(&oauth.Token{AccessToken: "secret"}))

	wrong, err := NewEncryptedFileStore(dir, "https://mcp.example.com", "wrong")
	require.NoError(t, err)

	// Decryption failure reads as no token, failing safe toward re-acquisition.
	assert.Nil(t, wrong.Retrieve())
	assert.True(t, wrong.IsExpired())
}

func TestEncryptedFileStoreRequiresPassphrase(t *testing.T) {
	_, err := NewEncryptedFileStore(t.TempDir(), "https://mcp.example.com", "")
	assert.Error(t, err)
}

func TestBoltStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenBoltDB(dir + "/tokens.db")
	require.NoError(t, err)
	defer db.Close()

	store := NewBoltStore(db, "https://mcp.example.com/mcp")

	assert.Nil(t, store.Retrieve())
	assert.True(t, store.IsExpired())

	token := &oauth.Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Store(token))

	got := store.Retrieve()
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.AccessToken)
	assert.False(t, store.IsExpired())

	require.NoError(t, store.Clear())
	assert.Nil(t, store.Retrieve())
}

func TestBoltStoreIsolatesServers(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenBoltDB(dir + "/tokens.db")
	require.NoError(t, err)
	defer db.Close()

	one := NewBoltStore(db, "https://one.example.com")
	two := NewBoltStore(db, "https://two.example.com")

	require.NoError(t, one.Store(&oauth.Token{AccessToken: "one"}))
	require.NoError(t, two.Store(&oauth.Token{AccessToken: "two"}))

	assert.Equal(t, "one", one.Retrieve().AccessToken)
	assert.Equal(t, "two", two.Retrieve().AccessToken)

	require.NoError(t, one.Clear())
	assert.Nil(t, one.Retrieve())
	assert.Equal(t, "two", two.Retrieve().AccessToken)
}

func TestFactoryBackends(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		backend    string
		passphrase string
	}{
		{BackendMemory, ""},
		{BackendFile, ""},
		{BackendEncrypted, "passphrase"},
		{BackendBolt, ""},
	}

	for _, tt := range tests {
		factory, err := NewFactory(tt.backend, dir, tt.passphrase)
		require.NoError(t, err, "backend %s", tt.backend)

		store, err := factory.StoreFor("https://mcp.example.com")
		require.NoError(t, err, "backend %s", tt.backend)

		require.NoError(t, store.Store(&oauth.Token{AccessToken: "abc"}))
		got := store.Retrieve()
		require.NotNil(t, got, "backend %s", tt.backend)
		assert.Equal(t, "abc", got.AccessToken)

		require.NoError(t, store.Clear())
		require.NoError(t, factory.Close())
	}
}

func TestFactoryUnknownBackend(t *testing.T) {
	_, err := NewFactory("keychain", t.TempDir(), "")
	assert.Error(t, err)
}
