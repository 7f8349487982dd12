// Package cli holds error types shared between the command layer and the
// code it drives, so commands can map failures to semantic exit codes.
package cli

import "fmt"

// AuthRequiredError indicates an upstream requires authentication but no
// usable token is available. Maps to exit code 2.
type AuthRequiredError struct {
	Upstream string
}

// Error implements the error interface.
func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("authentication required for upstream %s: run 'funnel auth login %s'", e.Upstream, e.Upstream)
}

// AuthFailedError indicates an OAuth flow or token acquisition failed.
// Maps to exit code 3.
type AuthFailedError struct {
	Upstream string
	Err      error
}

// Error implements the error interface.
func (e *AuthFailedError) Error() string {
	return fmt.Sprintf("authentication failed for upstream %s: %v", e.Upstream, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *AuthFailedError) Unwrap() error {
	return e.Err
}
