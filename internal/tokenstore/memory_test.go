package tokenstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel/pkg/oauth"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()

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
	assert.True(t, store.IsExpired())
}

func TestMemoryStoreReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Store(&oauth.Token{AccessToken: "abc"}))

	got := store.Retrieve()
	got.AccessToken = "mutated"

	assert.Equal(t, "abc", store.Retrieve().AccessToken)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()

	// Past expiry counts as expired.
	require.NoError(t, store.Store(&oauth.Token{AccessToken: "abc", ExpiresAt: time.Now().Add(-time.Minute)}))
	assert.True(t, store.IsExpired())

	// No expiry never expires.
	require.NoError(t, store.Store(&oauth.Token{AccessToken: "abc"}))
	assert.False(t, store.IsExpired())
}

func TestMemoryStoreScheduleRefresh(t *testing.T) {
	store := NewMemoryStore()

	fired := make(chan struct{}, 1)
	store.ScheduleRefresh(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	// Expiring just past the refresh buffer arms a near-immediate timer.
	token := &oauth.Token{
		AccessToken: "abc",
		ExpiresAt:   time.Now().Add(oauth.RefreshBuffer + 50*time.Millisecond),
	}
	require.NoError(t, store.Store(token))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh callback was not invoked")
	}
}

func TestMemoryStoreClearCancelsRefresh(t *testing.T) {
	store := NewMemoryStore()

	fired := make(chan struct{}, 1)
	store.ScheduleRefresh(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	token := &oauth.Token{
		AccessToken: "abc",
		ExpiresAt:   time.Now().Add(oauth.RefreshBuffer + 100*time.Millisecond),
	}
	require.NoError(t, store.Store(token))
	require.NoError(t, store.Clear())

	select {
	case <-fired:
		t.Fatal("refresh fired after Clear")
	case <-time.After(300 * time.Millisecond):
	}
}
