// Package tokenstore provides pluggable persistence for OAuth tokens.
//
// Four backends implement the Store contract:
//   - MemoryStore: process-local, used for tests and ephemeral sessions
//   - FileStore: plaintext JSON files with 0600/0700 permissions under
//     ~/.config/funnel/tokens, one file per upstream server
//   - EncryptedFileStore: FileStore layout with scrypt-derived AES-GCM
//     encryption for hosts without a protected home directory
//   - BoltStore: a bbolt database for deployments that keep all upstream
//     tokens in a single transactional file
//
// A Watcher built on fsnotify observes the file-backed stores so that a
// running funnel process picks up tokens written by a concurrent
// `funnel auth login` without restarting.
//
// SECURITY: token values are never logged by this package. Only server URLs
// and expiry timestamps appear in log output.
package tokenstore
