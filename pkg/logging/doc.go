// Package logging provides the subsystem-tagged logging facility used across
// funnel. It is a thin wrapper over log/slog that attaches a subsystem
// attribute to every entry so that transport, OAuth, and aggregator logs can
// be filtered independently.
//
// SECURITY: callers must never pass token material to any logging function.
// Use oauth.RedactedToken when a token-bearing value could reach a log line.
package logging
