package oauth

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is the default margin when checking token expiry.
// This accounts for clock skew and network latency.
const DefaultExpiryMargin = 30 * time.Second

// DefaultExpirySeconds is the token lifetime assumed when the token endpoint
// omits expires_in from its response.
const DefaultExpirySeconds = 3600

// RefreshBuffer is the duration before token expiry when tokens should be
// proactively refreshed. A refresh timer scheduled at expiresAt minus this
// buffer keeps requests from failing mid-flight due to expiry.
const RefreshBuffer = 5 * time.Minute

// DefaultTokenStorageDir is the default directory for storing OAuth tokens,
// relative to the user's home directory. This follows XDG conventions.
const DefaultTokenStorageDir = ".config/funnel/tokens"

// NormalizeServerURL normalizes a server URL by stripping transport-specific
// path suffixes (/mcp, /sse, /ws) and trailing slashes to get the base server
// URL. This ensures consistent token storage regardless of which endpoint
// path is used when connecting.
func NormalizeServerURL(serverURL string) string {
	serverURL = strings.TrimSuffix(serverURL, "/")
	serverURL = strings.TrimSuffix(serverURL, "/mcp")
	serverURL = strings.TrimSuffix(serverURL, "/sse")
	serverURL = strings.TrimSuffix(serverURL, "/ws")
	return serverURL
}

// Token represents an OAuth access token with associated metadata.
// A Token is immutable once created; a refresh replaces it wholesale.
type Token struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the token lifetime in seconds (from token response).
	ExpiresIn int `json:"expires_in,omitempty"`

	// ExpiresAt is the calculated expiration timestamp.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Scope is the granted scope(s), space-separated.
	Scope string `json:"scope,omitempty"`

	// Audience is the audience the token was issued for (optional).
	Audience string `json:"audience,omitempty"`
}

// Type returns the token type, defaulting to "Bearer" when the token
// endpoint omitted token_type.
func (t *Token) Type() string {
	if t.TokenType == "" {
		return "Bearer"
	}
	return t.TokenType
}

// AuthorizationHeader returns the value for the Authorization header,
// "{tokenType} {accessToken}".
func (t *Token) AuthorizationHeader() string {
	return t.Type() + " " + t.AccessToken
}

// IsExpired checks if the token has expired.
// Returns true if the token is expired or will expire within the default margin.
func (t *Token) IsExpired() bool {
	return t.IsExpiredWithMargin(DefaultExpiryMargin)
}

// IsExpiredWithMargin checks if the token has expired or will expire within the margin.
func (t *Token) IsExpiredWithMargin(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false // Tokens without expiration don't expire
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// SetExpiresAtFromExpiresIn calculates and sets ExpiresAt from ExpiresIn.
// When ExpiresIn is absent, DefaultExpirySeconds is assumed.
func (t *Token) SetExpiresAtFromExpiresIn() {
	if !t.ExpiresAt.IsZero() {
		return
	}
	expiresIn := t.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = DefaultExpirySeconds
	}
	t.ExpiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
}

// Scopes returns the scope as a slice of individual scopes.
func (t *Token) Scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// Redacted wraps the access token for safe logging. Log messages that need
// to mention the token must go through this; the raw AccessToken never
// appears in log output.
func (t *Token) Redacted() RedactedToken {
	return NewRedactedToken(t.AccessToken)
}

// ToOAuth2Token converts the Token to an oauth2.Token for compatibility with
// golang.org/x/oauth2-based HTTP clients.
func (t *Token) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.Type(),
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
// PKCE is required for OAuth 2.1 public clients to prevent authorization code
// interception.
type PKCEChallenge struct {
	// CodeVerifier is the cryptographically random string (32 bytes of
	// entropy, base64url-encoded). It is kept secret and never transmitted
	// to the authorization server.
	CodeVerifier string

	// CodeChallenge is the SHA256 hash of the verifier (base64url-encoded).
	// This is sent in the authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256" (plain is not allowed in OAuth 2.1).
	CodeChallengeMethod string
}

// AuthChallenge represents parsed information from a WWW-Authenticate header.
// This contains the OAuth server information needed to initiate the auth flow.
type AuthChallenge struct {
	// Scheme is the authentication scheme (typically "Bearer" for OAuth 2.0).
	Scheme string

	// Realm is the protection realm (often the authorization server URL).
	Realm string

	// Issuer is the OAuth/OIDC issuer URL, possibly derived from Realm.
	Issuer string

	// ResourceMetadataURL is the RFC 9728 protected resource metadata URL.
	ResourceMetadataURL string

	// Scope is the space-separated list of required OAuth scopes.
	Scope string

	// Error is the error code from the WWW-Authenticate header (if any).
	Error string

	// ErrorDescription is a human-readable error description (if any).
	ErrorDescription string
}

// IsOAuthChallenge returns true if this represents an OAuth authentication challenge.
func (c *AuthChallenge) IsOAuthChallenge() bool {
	if c == nil {
		return false
	}
	if !strings.EqualFold(c.Scheme, "Bearer") {
		return false
	}
	return c.Realm != "" || c.ResourceMetadataURL != "" || c.Issuer != ""
}

// GetIssuer returns the OAuth issuer URL.
// It prefers the explicit Issuer field, falls back to Realm if it's a URL.
func (c *AuthChallenge) GetIssuer() string {
	if c == nil {
		return ""
	}
	if c.Issuer != "" {
		return c.Issuer
	}
	if strings.HasPrefix(c.Realm, "http://") || strings.HasPrefix(c.Realm, "https://") {
		return c.Realm
	}
	return ""
}
