// Package aggregator exposes the tools of every configured upstream MCP
// server behind a single endpoint.
//
// Each upstream connects through an internal/transport Transport, optionally
// authenticated by an internal/oauth token manager. Tool names are prefixed
// per upstream (default global prefix "x") so callers always see a
// collision-free tool surface, and a denylist blocks destructive tools
// unless yolo mode is enabled.
package aggregator
