package oauth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"funnel/internal/tokenstore"
	"funnel/pkg/logging"
	pkgoauth "funnel/pkg/oauth"
)

// State is the token manager's lifecycle state.
type State int

const (
	// StateNoToken means no usable token exists.
	StateNoToken State = iota

	// StateAcquiring means the first acquisition is in flight.
	StateAcquiring

	// StateValid means a non-expired token is available.
	StateValid

	// StateRefreshing means a replacement for an existing token is in flight.
	StateRefreshing
)

// String makes State satisfy the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case StateNoToken:
		return "no-token"
	case StateAcquiring:
		return "acquiring"
	case StateValid:
		return "valid"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// refreshKey is the singleflight key; there is only one token per manager,
// so all callers share the same in-flight acquisition.
const refreshKey = "token"

// ManagerConfig configures a token Manager.
type ManagerConfig struct {
	// Source performs the network acquisition.
	Source TokenSource

	// Store persists acquired tokens (best-effort).
	Store tokenstore.Store

	// BaseDelay is the first retry delay (default DefaultBaseDelay).
	BaseDelay time.Duration

	// MaxRetries is the total number of attempts (default DefaultMaxRetries).
	MaxRetries int

	// Sleep suspends between retries (default honors context cancellation).
	Sleep SleepFunc
}

// Manager guarantees that GetHeaders always returns a valid (non-expired)
// Authorization header, acquiring or refreshing tokens as needed with at
// most one network acquisition in flight at a time.
//
// Concurrency: concurrent Refresh/GetHeaders calls share a single in-flight
// acquisition via singleflight; the in-flight reference is cleared when the
// operation settles, success or failure, so a subsequent call starts fresh.
type Manager struct {
	source     TokenSource
	store      tokenstore.Store
	baseDelay  time.Duration
	maxRetries int
	sleep      SleepFunc

	group singleflight.Group

	mu           sync.Mutex
	state        State
	refreshTimer *time.Timer
	closed       bool
}

// NewManager creates a token manager.
func NewManager(cfg ManagerConfig) *Manager {
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	m := &Manager{
		source:     cfg.Source,
		store:      cfg.Store,
		baseDelay:  baseDelay,
		maxRetries: maxRetries,
		sleep:      sleep,
		state:      StateNoToken,
	}

	// A store that schedules its own refreshes takes over proactive renewal.
	if scheduler, ok := cfg.Store.(tokenstore.RefreshScheduler); ok {
		scheduler.ScheduleRefresh(m.backgroundRefresh)
	}

	return m
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GetHeaders returns HTTP headers carrying a valid Authorization header,
// acquiring or refreshing the token first when needed.
func (m *Manager) GetHeaders(ctx context.Context) (http.Header, error) {
	token := m.store.Retrieve()
	if token == nil || m.store.IsExpired() {
		var err error
		token, err = m.Refresh(ctx)
		if err != nil {
			return nil, err
		}
	}

	headers := http.Header{}
	headers.Set("Authorization", token.AuthorizationHeader())
	return headers, nil
}

// Refresh acquires a fresh token, deduplicating concurrent callers onto a
// single network operation.
func (m *Manager) Refresh(ctx context.Context) (*pkgoauth.Token, error) {
	m.mu.Lock()
	if m.state == StateValid {
		m.state = StateRefreshing
	} else if m.state == StateNoToken {
		m.state = StateAcquiring
	}
	m.mu.Unlock()

	result, err, _ := m.group.Do(refreshKey, func() (interface{}, error) {
		return m.acquireWithRetry(ctx)
	})

	m.mu.Lock()
	if err != nil {
		m.state = StateNoToken
	} else {
		m.state = StateValid
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return result.(*pkgoauth.Token), nil
}

// ForceRefresh discards the current token and acquires a fresh one. Used by
// transports after a 401 response, where the stored token is known stale
// even if its expiry has not passed.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	_, err := m.Refresh(ctx)
	return err
}

// acquireWithRetry runs the acquisition with exponential backoff.
// Only network-class errors are retried; OAuth protocol errors surface
// immediately. Exhausting all attempts returns the last error unmodified.
func (m *Manager) acquireWithRetry(ctx context.Context) (*pkgoauth.Token, error) {
	var lastErr error

	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		token, err := m.source.RequestToken(ctx)
		if err == nil {
			logging.Debug("OAuth", "Acquired token %s", token.Redacted())
			m.persist(token)
			m.scheduleProactiveRefresh(token)
			return token, nil
		}

		if !pkgoauth.IsNetworkError(err) {
			return nil, err
		}
		lastErr = err

		if attempt < m.maxRetries {
			delay := BackoffDelay(m.baseDelay, attempt)
			logging.Debug("OAuth", "Token request failed (attempt %d/%d), retrying in %s: %v",
				attempt, m.maxRetries, delay, err)
			if sleepErr := m.sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}

	return nil, lastErr
}

// persist stores the token best-effort: a persistence failure is logged and
// the in-memory token keeps serving callers.
func (m *Manager) persist(token *pkgoauth.Token) {
	if err := m.store.Store(token); err != nil {
		logging.Warn("OAuth", "Token persistence failed, continuing with in-memory token: %v", err)
	}
}

// scheduleProactiveRefresh arms a timer at expiresAt minus the refresh
// buffer so the token is renewed before a request can fail mid-flight.
// Tokens already inside the buffer window get no timer. Skipped when the
// store implements its own scheduling.
func (m *Manager) scheduleProactiveRefresh(token *pkgoauth.Token) {
	if _, ok := m.store.(tokenstore.RefreshScheduler); ok {
		return
	}
	if token.ExpiresAt.IsZero() {
		return
	}

	fireIn := time.Until(token.ExpiresAt.Add(-pkgoauth.RefreshBuffer))
	if fireIn <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
	}
	m.refreshTimer = time.AfterFunc(fireIn, m.backgroundRefresh)
}

// backgroundRefresh renews the token from a timer callback. Failures are
// logged only; the next GetHeaders call will retry on demand.
func (m *Manager) backgroundRefresh() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultHTTPTimeout)
	defer cancel()

	if _, err := m.Refresh(ctx); err != nil {
		logging.Warn("OAuth", "Proactive token refresh failed: %v", err)
	}
}

// Clear drops the stored token and returns the manager to the no-token state.
func (m *Manager) Clear() error {
	m.mu.Lock()
	m.state = StateNoToken
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	m.mu.Unlock()

	return m.store.Clear()
}

// Close stops the proactive refresh timer. The manager must not be used
// after Close.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	return nil
}
