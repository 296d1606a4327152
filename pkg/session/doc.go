// Package session persists conversations as JSONL files with a SQLite
// summary index.
//
// Invariants:
// - Session IDs are validated and path-safe.
// - Writes for the same session are serialized and fsynced, so a crash
//   can lose at most the trailing partial line, which loads skip.
// - Only frozen messages are ever appended; readers never observe a
//   half-written message.
package session
