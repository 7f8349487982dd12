package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"funnel/pkg/logging"
	pkgoauth "funnel/pkg/oauth"
)

// ErrInvalidFlowState is returned when an OAuth callback presents a state
// that matches no pending flow or a flow that was already completed.
// The message is stable so callers and tests can match on it.
var ErrInvalidFlowState = errors.New("Invalid or expired OAuth state")

// flowStateExpiry is how long a generated flow state stays valid.
const flowStateExpiry = 10 * time.Minute

// flowState tracks one pending authorization-code flow.
// A state completes a flow at most once: used is set before the code
// exchange so duplicate callbacks fail instead of racing.
type flowState struct {
	state         string
	codeVerifier  string
	codeChallenge string
	createdAt     time.Time
	used          bool
}

// FlowConfig configures an authorization-code + PKCE flow provider.
type FlowConfig struct {
	// AuthorizationEndpoint is the authorization URL base.
	AuthorizationEndpoint string

	// TokenURL is the token endpoint for the code exchange.
	TokenURL string

	// ClientID identifies the client.
	ClientID string

	// ClientSecret is set for confidential clients only; public clients
	// rely on PKCE alone.
	ClientSecret string

	// RedirectURI is where the authorization server sends the callback.
	RedirectURI string

	// Scope is the requested scope (optional, space-separated).
	Scope string

	// HTTPClient is the client used for the code exchange. Defaults to a
	// client with DefaultHTTPTimeout.
	HTTPClient *http.Client
}

// FlowProvider runs interactive authorization-code + PKCE flows.
//
// Each generated authorization URL carries a fresh cryptographically random
// state bound to its own PKCE verifier. States issued by one provider never
// validate against another provider's flows, and a state completes a flow at
// most once (replay protection).
//
// SECURITY: tokens never appear in authorization URLs or log output; only
// authorization-flow parameters are emitted.
type FlowProvider struct {
	cfg        FlowConfig
	httpClient *http.Client

	mu    sync.Mutex
	flows map[string]*flowState
}

// NewFlowProvider creates a flow provider.
func NewFlowProvider(cfg FlowConfig) (*FlowProvider, error) {
	if cfg.AuthorizationEndpoint == "" {
		return nil, fmt.Errorf("authorization endpoint is required")
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.RedirectURI == "" {
		return nil, fmt.Errorf("redirect URI is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	return &FlowProvider{
		cfg:        cfg,
		httpClient: httpClient,
		flows:      make(map[string]*flowState),
	}, nil
}

// AuthorizationURL generates a new authorization URL and registers the
// pending flow. Returns the URL for the user's browser and the state value
// identifying the flow.
func (p *FlowProvider) AuthorizationURL() (authURL, state string, err error) {
	state, err = pkgoauth.GenerateState()
	if err != nil {
		return "", "", err
	}

	pkce, err := pkgoauth.GeneratePKCE()
	if err != nil {
		return "", "", err
	}

	u, err := url.Parse(p.cfg.AuthorizationEndpoint)
	if err != nil {
		return "", "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	query := u.Query()
	query.Set("response_type", "code")
	query.Set("client_id", p.cfg.ClientID)
	query.Set("redirect_uri", p.cfg.RedirectURI)
	if p.cfg.Scope != "" {
		query.Set("scope", p.cfg.Scope)
	}
	query.Set("state", state)
	query.Set("code_challenge", pkce.CodeChallenge)
	query.Set("code_challenge_method", pkce.CodeChallengeMethod)
	u.RawQuery = query.Encode()

	p.mu.Lock()
	p.pruneExpiredLocked()
	p.flows[state] = &flowState{
		state:         state,
		codeVerifier:  pkce.CodeVerifier,
		codeChallenge: pkce.CodeChallenge,
		createdAt:     time.Now(),
	}
	p.mu.Unlock()

	logging.Debug("OAuth", "Generated authorization URL for client %s", p.cfg.ClientID)
	return u.String(), state, nil
}

// CompleteFlow exchanges an authorization code for a token, validating the
// callback state against the pending flows.
//
// The state is compared with a constant-time comparison against every
// pending flow, and the matching flow is marked used before the network
// call so a concurrent duplicate completion fails immediately instead of
// racing.
func (p *FlowProvider) CompleteFlow(ctx context.Context, state, code string) (*pkgoauth.Token, error) {
	flow, err := p.consumeFlow(state)
	if err != nil {
		return nil, err
	}

	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {p.cfg.RedirectURI},
		"client_id":     {p.cfg.ClientID},
		"code_verifier": {flow.codeVerifier},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if p.cfg.ClientSecret != "" {
		req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	}

	token, err := doTokenRequest(p.httpClient, req)
	if err != nil {
		return nil, err
	}

	logging.Debug("OAuth", "Authorization code flow completed for client %s, token %s", p.cfg.ClientID, token.Redacted())
	return token, nil
}

// consumeFlow finds the pending flow for the given state and marks it used.
// The lookup scans all pending flows with subtle.ConstantTimeCompare and
// never breaks out early, so the comparison cost does not depend on which
// entry (if any) matches.
func (p *FlowProvider) consumeFlow(state string) (*flowState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stateBytes := []byte(state)
	var match *flowState
	for _, flow := range p.flows {
		if subtle.ConstantTimeCompare([]byte(flow.state), stateBytes) == 1 {
			match = flow
		}
	}

	if match == nil || match.used {
		return nil, ErrInvalidFlowState
	}
	if time.Since(match.createdAt) > flowStateExpiry {
		delete(p.flows, match.state)
		return nil, ErrInvalidFlowState
	}

	// Mark used before the code exchange so duplicate completions with the
	// same state fail immediately rather than racing the network call.
	match.used = true
	return match, nil
}

// pruneExpiredLocked drops expired flows. Requires p.mu held.
func (p *FlowProvider) pruneExpiredLocked() {
	for state, flow := range p.flows {
		if time.Since(flow.createdAt) > flowStateExpiry {
			delete(p.flows, state)
		}
	}
}

// PendingFlows returns the number of pending (unconsumed) flows.
func (p *FlowProvider) PendingFlows() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for _, flow := range p.flows {
		if !flow.used {
			count++
		}
	}
	return count
}
