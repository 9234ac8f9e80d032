// Package sqlite contains SQLite repository implementations for LiDAR
// domain types.
//
// Read/write access to the pass statistics recorded by the ground filter
// belongs here rather than in l4perception. This keeps the classifier free
// of SQL and lets callers run it without a database.
package sqlite
