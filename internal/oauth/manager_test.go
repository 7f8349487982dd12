package oauth

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel/internal/tokenstore"
	"funnel/pkg/logging"
	pkgoauth "funnel/pkg/oauth"
)

// fakeSource scripts a sequence of RequestToken outcomes.
type fakeSource struct {
	mu       sync.Mutex
	calls    int
	outcomes []fakeOutcome
}

type fakeOutcome struct {
	token *pkgoauth.Token
	err   error
}

func (f *fakeSource) RequestToken(ctx context.Context) (*pkgoauth.Token, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()

	if i >= len(f.outcomes) {
		i = len(f.outcomes) - 1
	}
	out := f.outcomes[i]
	return out.token, out.err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func validToken(value string) *pkgoauth.Token {
	return &pkgoauth.Token{AccessToken: value, ExpiresAt: time.Now().Add(time.Hour)}
}

// recordingSleep captures requested delays without actually sleeping.
func recordingSleep(delays *[]time.Duration) SleepFunc {
	var mu sync.Mutex
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return nil
	}
}

func TestManagerGetHeaders(t *testing.T) {
	source := &fakeSource{outcomes: []fakeOutcome{{token: validToken("abc")}}}
	manager := NewManager(ManagerConfig{Source: source, Store: tokenstore.NewMemoryStore()})
	defer manager.Close()

	headers, err := manager.GetHeaders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", headers.Get("Authorization"))
	assert.Equal(t, StateValid, manager.State())

	// A second call serves the cached token without another acquisition.
	_, err = manager.GetHeaders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, source.callCount())
}

func TestManagerConcurrentRefreshDeduplicated(t *testing.T) {
	release := make(chan struct{})
	source := &blockingSource{release: release, token: validToken("abc")}
	manager := NewManager(ManagerConfig{Source: source, Store: tokenstore.NewMemoryStore()})
	defer manager.Close()

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := manager.Refresh(context.Background()); err != nil {
				failures.Add(1)
			}
		}()
	}

	// Hold the single network call open until every caller has joined it.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(0), failures.Load())
	assert.Equal(t, 1, source.callCount(), "concurrent refreshes must share one network call")
}

func TestManagerRetriesNetworkErrors(t *testing.T) {
	source := &fakeSource{outcomes: []fakeOutcome{
		{err: syscall.ECONNREFUSED},
		{err: syscall.ECONNREFUSED},
		{token: validToken("abc")},
	}}

	var delays []time.Duration
	manager := NewManager(ManagerConfig{
		Source: source,
		Store:  tokenstore.NewMemoryStore(),
		Sleep:  recordingSleep(&delays),
	})
	defer manager.Close()

	token, err := manager.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token.AccessToken)
	assert.Equal(t, 3, source.callCount())

	// Exponential backoff: 1000ms then 2000ms.
	assert.Equal(t, []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond}, delays)
}

func TestManagerDoesNotRetryProtocolErrors(t *testing.T) {
	protocolErr := pkgoauth.ParseErrorResponse(400, []byte(`{"error":"invalid_client"}`))
	source := &fakeSource{outcomes: []fakeOutcome{{err: protocolErr}}}

	var delays []time.Duration
	manager := NewManager(ManagerConfig{
		Source: source,
		Store:  tokenstore.NewMemoryStore(),
		Sleep:  recordingSleep(&delays),
	})
	defer manager.Close()

	_, err := manager.Refresh(context.Background())
	require.Error(t, err)

	var oauthErr *pkgoauth.Error
	assert.True(t, errors.As(err, &oauthErr))
	assert.Equal(t, 1, source.callCount(), "protocol errors must not be retried")
	assert.Empty(t, delays)
	assert.Equal(t, StateNoToken, manager.State())
}

func TestManagerExhaustsRetries(t *testing.T) {
	source := &fakeSource{outcomes: []fakeOutcome{{err: syscall.ECONNRESET}}}

	var delays []time.Duration
	manager := NewManager(ManagerConfig{
		Source: source,
		Store:  tokenstore.NewMemoryStore(),
		Sleep:  recordingSleep(&delays),
	})
	defer manager.Close()

	_, err := manager.Refresh(context.Background())
	require.Error(t, err)

	// The last error surfaces unmodified.
	assert.ErrorIs(t, err, syscall.ECONNRESET)
	assert.Equal(t, DefaultMaxRetries, source.callCount())
	assert.Len(t, delays, DefaultMaxRetries-1)
}

func TestManagerFailedRefreshThenRecovery(t *testing.T) {
	protocolErr := pkgoauth.ParseErrorResponse(400, []byte(`{"error":"invalid_grant"}`))
	source := &fakeSource{outcomes: []fakeOutcome{
		{err: protocolErr},
		{token: validToken("second")},
	}}
	manager := NewManager(ManagerConfig{Source: source, Store: tokenstore.NewMemoryStore()})
	defer manager.Close()

	_, err := manager.Refresh(context.Background())
	require.Error(t, err)

	// The failed in-flight operation is cleared; the next call starts fresh.
	token, err := manager.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", token.AccessToken)
}

func TestManagerForceRefresh(t *testing.T) {
	source := &fakeSource{outcomes: []fakeOutcome{
		{token: validToken("first")},
		{token: validToken("second")},
	}}
	store := tokenstore.NewMemoryStore()
	manager := NewManager(ManagerConfig{Source: source, Store: store})
	defer manager.Close()

	_, err := manager.GetHeaders(context.Background())
	require.NoError(t, err)

	// ForceRefresh replaces a still-valid token.
	require.NoError(t, manager.ForceRefresh(context.Background()))
	assert.Equal(t, 2, source.callCount())

	headers, err := manager.GetHeaders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer second", headers.Get("Authorization"))
}

func TestManagerPersistFailureKeepsToken(t *testing.T) {
	source := &fakeSource{outcomes: []fakeOutcome{{token: validToken("abc")}}}
	manager := NewManager(ManagerConfig{Source: source, Store: &failingStore{}})
	defer manager.Close()

	// Persistence is best-effort: the acquisition still succeeds.
	token, err := manager.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token.AccessToken)
}

func TestManagerNeverLogsTokenValues(t *testing.T) {
	var logs bytes.Buffer
	logging.Init(logging.LevelDebug, &logs)
	t.Cleanup(func() { logging.Init(logging.LevelInfo, os.Stderr) })

	source := &fakeSource{outcomes: []fakeOutcome{{token: validToken("secret-access-token-value")}}}
	manager := NewManager(ManagerConfig{Source: source, Store: tokenstore.NewMemoryStore()})
	defer manager.Close()

	_, err := manager.Refresh(context.Background())
	require.NoError(t, err)

	assert.NotContains(t, logs.String(), "secret-access-token-value")
	assert.Contains(t, logs.String(), "[REDACTED]")
}

func TestManagerClear(t *testing.T) {
	source := &fakeSource{outcomes: []fakeOutcome{{token: validToken("abc")}}}
	store := tokenstore.NewMemoryStore()
	manager := NewManager(ManagerConfig{Source: source, Store: store})
	defer manager.Close()

	_, err := manager.Refresh(context.Background())
	require.NoError(t, err)

	require.NoError(t, manager.Clear())
	assert.Equal(t, StateNoToken, manager.State())
	assert.Nil(t, store.Retrieve())
}

// blockingSource holds its single acquisition open until released.
type blockingSource struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	token   *pkgoauth.Token
}

func (b *blockingSource) RequestToken(ctx context.Context) (*pkgoauth.Token, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
	return b.token, nil
}

func (b *blockingSource) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// failingStore rejects every write but is otherwise empty.
type failingStore struct{}

func (f *failingStore) Store(*pkgoauth.Token) error    { return errors.New("disk full") }
func (f *failingStore) Retrieve() *pkgoauth.Token      { return nil }
func (f *failingStore) Clear() error                   { return nil }
func (f *failingStore) IsExpired() bool                { return true }
