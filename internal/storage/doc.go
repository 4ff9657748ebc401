// Package storage persists prionotify's state snapshot and operator audit log.
//
// Drivers:
//   - file: state JSON replaced atomically (temp file + rename), audit as JSON lines
//   - sqlite: single-row state table, quarantine table, audit table
package storage
