// Package storage persists recurring items, their owners, the audit log and
// reminder dedup state.
//
// Item writes are conditional: UpdateItem checks the revision and
// AdvanceIfUnchanged checks both the next occurrence and the revision, so a
// batch sweep never overwrites a concurrent edit.
package storage
