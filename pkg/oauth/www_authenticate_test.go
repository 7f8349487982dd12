package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWWWAuthenticate(t *testing.T) {
	challenge, err := ParseWWWAuthenticate(`Bearer realm="https://auth.example.com", scope="openid profile"`)
	require.NoError(t, err)

	assert.Equal(t, "Bearer", challenge.Scheme)
	assert.Equal(t, "https://auth.example.com", challenge.Realm)
	assert.Equal(t, "https://auth.example.com", challenge.Issuer)
	assert.Equal(t, "openid profile", challenge.Scope)
	assert.True(t, challenge.IsOAuthChallenge())
}

func TestParseWWWAuthenticateResourceMetadata(t *testing.T) {
	header := `Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"`
	challenge, err := ParseWWWAuthenticate(header)
	require.NoError(t, err)

	assert.Equal(t, "https://mcp.example.com/.well-known/oauth-protected-resource", challenge.ResourceMetadataURL)
	assert.True(t, challenge.IsOAuthChallenge())
}

func TestParseWWWAuthenticateErrors(t *testing.T) {
	challenge, err := ParseWWWAuthenticate(`Bearer error="invalid_token", error_description="The access token expired"`)
	require.NoError(t, err)

	assert.Equal(t, "invalid_token", challenge.Error)
	assert.Equal(t, "The access token expired", challenge.ErrorDescription)
}

func TestParseWWWAuthenticateEmpty(t *testing.T) {
	_, err := ParseWWWAuthenticate("")
	assert.Error(t, err)
}

func TestParseWWWAuthenticateNonBearerScheme(t *testing.T) {
	challenge, err := ParseWWWAuthenticate(`Basic realm="site"`)
	require.NoError(t, err)

	assert.Equal(t, "Basic", challenge.Scheme)
	assert.False(t, challenge.IsOAuthChallenge())
}

func TestParseWWWAuthenticateBareScheme(t *testing.T) {
	challenge, err := ParseWWWAuthenticate("Bearer")
	require.NoError(t, err)

	assert.Equal(t, "Bearer", challenge.Scheme)
	assert.False(t, challenge.IsOAuthChallenge())
}
