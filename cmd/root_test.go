package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel/internal/cli"
	"funnel/internal/oauth"
)

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCodeError, getExitCode(errors.New("boom")))
	assert.Equal(t, ExitCodeAuthRequired, getExitCode(&cli.AuthRequiredError{Upstream: "github"}))
	assert.Equal(t, ExitCodeAuthFailed, getExitCode(&cli.AuthFailedError{Upstream: "github", Err: errors.New("denied")}))

	// Wrapped auth errors still map to their semantic codes.
	wrapped := fmt.Errorf("login: %w", &cli.AuthFailedError{Upstream: "github", Err: errors.New("denied")})
	assert.Equal(t, ExitCodeAuthFailed, getExitCode(wrapped))
}

func TestAuthRequiredForMissingStoredToken(t *testing.T) {
	// A registration failure rooted in a missing stored token surfaces as
	// the auth-required error, naming the upstream to log in to.
	err := authRequired("github", fmt.Errorf("upstream github: %w", oauth.ErrNoStoredToken))
	require.Error(t, err)

	var authErr *cli.AuthRequiredError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "github", authErr.Upstream)
	assert.Equal(t, ExitCodeAuthRequired, getExitCode(err))

	// Other registration failures stay non-fatal.
	assert.Nil(t, authRequired("github", errors.New("connection refused")))
}

func TestParseCallbackInput(t *testing.T) {
	code, state := parseCallbackInput("http://localhost:8765/callback?code=abc&state=xyz")
	assert.Equal(t, "abc", code)
	assert.Equal(t, "xyz", state)

	code, state = parseCallbackInput("bare-code")
	assert.Equal(t, "bare-code", code)
	assert.Empty(t, state)
}
