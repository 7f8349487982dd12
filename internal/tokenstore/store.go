package tokenstore

import (
	"time"

	"funnel/pkg/oauth"
)

// Store persists a single access token plus expiry metadata for one upstream
// server. Implementations are safe for concurrent use.
//
// Persistence is best-effort: when Store fails, the token manager logs and
// keeps using the token in-memory rather than failing the acquisition.
// Absence of a token is not an error: Retrieve returns nil.
type Store interface {
	// Store persists the token, replacing any previous one.
	Store(token *oauth.Token) error

	// Retrieve returns a copy of the last stored token, or nil if none
	// exists or the backend is empty or unavailable.
	Retrieve() *oauth.Token

	// Clear removes the stored token. Clearing an empty store is a no-op.
	Clear() error

	// IsExpired reports whether no token exists or the stored token's
	// expiry has passed. Backend read errors count as expired (fail safe
	// toward re-acquisition).
	IsExpired() bool
}

// RefreshScheduler is an optional Store capability. A store that implements
// it takes over refresh timing: it invokes the callback at a time of its
// choosing, typically just before the stored token expires. The token
// manager falls back to its own timer when the store lacks this capability.
type RefreshScheduler interface {
	ScheduleRefresh(callback func())
}

// expired implements the expiry rule shared by all backends:
// a nil token is expired, a token without expiry never expires, and
// otherwise the token is expired once now reaches ExpiresAt.
func expired(token *oauth.Token, now time.Time) bool {
	if token == nil {
		return true
	}
	if token.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(token.ExpiresAt)
}

// copyToken returns an independent copy so callers can never mutate the
// store's token in place.
func copyToken(token *oauth.Token) *oauth.Token {
	if token == nil {
		return nil
	}
	c := *token
	return &c
}
