package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgoauth "funnel/pkg/oauth"
)

// DefaultHTTPTimeout is the default timeout for token endpoint requests.
const DefaultHTTPTimeout = 30 * time.Second

// maxTokenResponseBytes caps token response body reads to prevent a
// misbehaving server from consuming unbounded memory.
const maxTokenResponseBytes = 1024 * 1024

// TokenSource performs a single token acquisition over the network.
// The Manager wraps a TokenSource with retry, deduplication, and persistence.
type TokenSource interface {
	RequestToken(ctx context.Context) (*pkgoauth.Token, error)
}

// ClientCredentialsConfig configures a client_credentials TokenSource.
type ClientCredentialsConfig struct {
	// TokenURL is the token endpoint.
	TokenURL string

	// ClientID and ClientSecret authenticate the client via HTTP Basic auth.
	ClientID     string
	ClientSecret string

	// Scope is the requested scope (optional, space-separated).
	Scope string

	// Audience is the requested audience (optional). When set, a response
	// carrying a different audience is rejected as a substitution attempt.
	Audience string

	// HTTPClient is the client used for token requests. Defaults to a
	// client with DefaultHTTPTimeout.
	HTTPClient *http.Client
}

// ClientCredentialsSource acquires tokens via the OAuth 2.0 client
// credentials grant (RFC 6749 §4.4).
type ClientCredentialsSource struct {
	cfg        ClientCredentialsConfig
	httpClient *http.Client
}

// NewClientCredentialsSource creates a TokenSource for the client
// credentials grant.
func NewClientCredentialsSource(cfg ClientCredentialsConfig) (*ClientCredentialsSource, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	return &ClientCredentialsSource{cfg: cfg, httpClient: httpClient}, nil
}

// RequestToken performs one token endpoint round trip.
// Network failures are returned as-is so the Manager can classify and retry
// them; protocol failures come back as typed pkg/oauth errors.
func (s *ClientCredentialsSource) RequestToken(ctx context.Context) (*pkgoauth.Token, error) {
	data := url.Values{"grant_type": {"client_credentials"}}
	if s.cfg.Scope != "" {
		data.Set("scope", s.cfg.Scope)
	}
	if s.cfg.Audience != "" {
		data.Set("audience", s.cfg.Audience)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	// Correlation id for tracing token requests through server logs.
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.SetBasicAuth(s.cfg.ClientID, s.cfg.ClientSecret)

	token, err := doTokenRequest(s.httpClient, req)
	if err != nil {
		return nil, err
	}

	// Reject tokens issued for a different audience than requested.
	// Not retried: a mismatch indicates misconfiguration or substitution.
	if s.cfg.Audience != "" && token.Audience != "" && token.Audience != s.cfg.Audience {
		return nil, &pkgoauth.AudienceMismatchError{Requested: s.cfg.Audience, Got: token.Audience}
	}

	return token, nil
}

// doTokenRequest executes a token endpoint request and parses the response.
// Shared by the client-credentials source and the authorization-code flow.
func doTokenRequest(httpClient *http.Client, req *http.Request) (*pkgoauth.Token, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, pkgoauth.ParseErrorResponse(resp.StatusCode, body)
	}

	token, err := parseTokenResponse(body)
	if err != nil {
		return nil, err
	}

	return token, nil
}

// parseTokenResponse decodes a 2xx token endpoint body.
// A response without access_token is a protocol violation and is not retried.
func parseTokenResponse(body []byte) (*pkgoauth.Token, error) {
	var token pkgoauth.Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if token.AccessToken == "" {
		return nil, pkgoauth.ErrMissingAccessToken
	}

	token.SetExpiresAtFromExpiresIn()
	return &token, nil
}
