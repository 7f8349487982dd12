package oauth

import (
	"context"
	"errors"
	"net/http"

	"funnel/internal/tokenstore"
)

// ErrNoStoredToken indicates a store-backed provider has no usable token.
// Interactive flows (auth login) are the only way to obtain one.
var ErrNoStoredToken = errors.New("no stored token available")

// StoreProvider serves Authorization headers straight from a token store
// without any acquisition capability. Used for authorization-code upstreams,
// where tokens arrive through the interactive login flow (and possibly an
// external process writing the token file).
type StoreProvider struct {
	store tokenstore.Store
}

// NewStoreProvider creates a store-backed header provider.
func NewStoreProvider(store tokenstore.Store) *StoreProvider {
	return &StoreProvider{store: store}
}

// GetHeaders returns headers carrying the stored token, or ErrNoStoredToken
// when the store is empty or the token expired.
func (p *StoreProvider) GetHeaders(ctx context.Context) (http.Header, error) {
	token := p.store.Retrieve()
	if token == nil || p.store.IsExpired() {
		return nil, ErrNoStoredToken
	}

	headers := http.Header{}
	headers.Set("Authorization", token.AuthorizationHeader())
	return headers, nil
}
