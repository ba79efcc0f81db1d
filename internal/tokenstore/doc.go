// Package tokenstore persists the session token set across process restarts.
//
// A TokenStore is a single durable string slot addressed by StorageKey. Backends:
//   - File: local file with atomic writes and 0600 permissions, watchable for changes
//     made by other processes
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Redis: a slot shared between hosts
//   - Env: read-only environment variable holding a preloaded payload
//   - Memory: process-local, for tests and throwaway sessions
//
// Cache layers the token set encoding on top of any backend and treats every read
// problem as a cache miss.
package tokenstore
