// Package oauth provides the shared OAuth 2.1 wire types and helpers used by
// the funnel token manager, the client transports, and the CLI.
//
// It contains:
//   - Token: the access token plus expiry metadata handed between the token
//     manager and the token stores
//   - PKCE and state generation for the authorization-code flow
//   - The typed OAuth error taxonomy (protocol errors vs. network-transient
//     errors) that drives the token manager's retry decisions
//   - WWW-Authenticate challenge parsing for 401 handling
//   - RedactedToken, a guard type that keeps token material out of logs
//
// The package is deliberately free of storage and transport concerns so that
// it can be imported by every layer without cycles.
package oauth
