package tokenstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel/pkg/oauth"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "https://mcp.example.com/mcp")
	require.NoError(t, err)

	assert.Nil(t, store.Retrieve())
	assert.True(t, store.IsExpired())

	token := &oauth.Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Store(token))

	got := store.Retrieve()
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.AccessToken)

	require.NoError(t, store.Clear())
	assert.Nil(t, store.Retrieve())

	// Clearing an empty store is a no-op.
	require.NoError(t, store.Clear())
}

func TestFileStorePermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "https://mcp.example.com")
	require.NoError(t, err)

	require.NoError(t, store.Store(&oauth.Token{AccessToken: "abc"}))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStoreKeyIsDerivedNotLiteral(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "https://mcp.example.com")
	require.NoError(t, err)

	// The file name is a hash of the normalized URL, never the URL itself.
	base := filepath.Base(store.Path())
	assert.NotContains(t, base, "example.com")
	assert.True(t, strings.HasSuffix(base, ".json"))
}

func TestFileStoreNormalizesServerURL(t *testing.T) {
	dir := t.TempDir()

	mcp, err := NewFileStore(dir, "https://mcp.example.com/mcp")
	require.NoError(t, err)
	sse, err := NewFileStore(dir, "https://mcp.example.com/sse")
	require.NoError(t, err)

	// Both endpoint paths resolve to the same token file.
	assert.Equal(t, mcp.Path(), sse.Path())

	require.NoError(t, mcp.Store(&oauth.Token{AccessToken: "shared"}))
	got := sse.Retrieve()
	require.NotNil(t, got)
	assert.Equal(t, "shared", got.AccessToken)
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	first, err := NewFileStore(dir, "https://mcp.example.com")
	require.NoError(t, err)
	require.NoError(t, first.Store(&oauth.Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)}))

	second, err := NewFileStore(dir, "https://mcp.example.com")
	require.NoError(t, err)

	got := second.Retrieve()
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.AccessToken)
	assert.False(t, second.IsExpired())
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "https://mcp.example.com")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.Path(), []byte("not json"), 0600))
	store.Reload()

	// Corrupt data reads as no token, which counts as expired.
	assert.Nil(t, store.Retrieve())
	assert.True(t, store.IsExpired())
}

func TestWatcherNotifiesOnExternalWrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "https://mcp.example.com")
	require.NoError(t, err)

	changed := make(chan string, 1)
	watcher, err := NewWatcher(dir, func(serverURL string) {
		select {
		case changed <- serverURL:
		default:
		}
	})
	require.NoError(t, err)
	defer watcher.Close()

	watcher.Register(store)

	// Simulate an external process writing the token file.
	external, err := NewFileStore(dir, "https://mcp.example.com")
	require.NoError(t, err)
	require.NoError(t, external.Store(&oauth.Token{AccessToken: "fresh"}))

	select {
	case serverURL := <-changed:
		assert.Equal(t, "https://mcp.example.com", serverURL)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report the token write")
	}

	got := store.Retrieve()
	require.NotNil(t, got)
	assert.Equal(t, "fresh", got.AccessToken)
}

func TestWatcherCloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	watcher, err := NewWatcher(dir, nil)
	require.NoError(t, err)

	assert.NoError(t, watcher.Close())
	assert.NoError(t, watcher.Close())
}
