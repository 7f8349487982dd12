package tokenstore

import (
	"sync"
	"time"

	"funnel/pkg/oauth"
)

// MemoryStore keeps the token in process memory only.
// It optionally supports proactive refresh scheduling via a timer that fires
// shortly before the stored token expires.
type MemoryStore struct {
	mu    sync.RWMutex
	token *oauth.Token

	refreshCallback func()
	refreshTimer    *time.Timer
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Store replaces the current token.
func (s *MemoryStore) Store(token *oauth.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = copyToken(token)
	s.armRefreshTimerLocked()
	return nil
}

// Retrieve returns a copy of the stored token, or nil if none exists.
func (s *MemoryStore) Retrieve() *oauth.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyToken(s.token)
}

// Clear removes the stored token and cancels any pending refresh timer.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = nil
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	return nil
}

// IsExpired reports whether no token exists or the stored token has expired.
func (s *MemoryStore) IsExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expired(s.token, time.Now())
}

// ScheduleRefresh registers a callback invoked shortly before the stored
// token expires. Implements the optional RefreshScheduler capability.
func (s *MemoryStore) ScheduleRefresh(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshCallback = callback
	s.armRefreshTimerLocked()
}

// armRefreshTimerLocked (re)arms the refresh timer for the current token.
// The timer fires at ExpiresAt minus the refresh buffer; tokens already
// inside the buffer window get no timer. Requires s.mu held.
func (s *MemoryStore) armRefreshTimerLocked() {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}

	if s.refreshCallback == nil || s.token == nil || s.token.ExpiresAt.IsZero() {
		return
	}

	fireIn := time.Until(s.token.ExpiresAt.Add(-oauth.RefreshBuffer))
	if fireIn <= 0 {
		return
	}

	callback := s.refreshCallback
	s.refreshTimer = time.AfterFunc(fireIn, callback)
}

var (
	_ Store            = (*MemoryStore)(nil)
	_ RefreshScheduler = (*MemoryStore)(nil)
)
