// Package oauth implements funnel's OAuth 2.1 token lifecycle management.
//
// The Manager guarantees that GetHeaders always returns a valid Authorization
// header, acquiring or refreshing tokens as needed with at most one network
// acquisition in flight at a time. Acquisition is delegated to a TokenSource:
//
//   - ClientCredentialsSource implements the client_credentials grant for
//     machine-to-machine upstreams
//   - FlowProvider implements the interactive authorization-code + PKCE flow
//     with single-use, constant-time-compared state parameters
//
// Transient network failures are retried with exponential backoff; OAuth
// protocol errors are surfaced immediately and never retried. Tokens are
// persisted best-effort through a tokenstore.Store; persistence failures are
// logged and the in-memory token keeps serving callers.
package oauth
