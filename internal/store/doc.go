// Package store provides SQLite storage for tool-owned state.
//
// Transcripts are never stored here; they live only in the session that owns
// them. The store backs the notes tool pack, where each note belongs to a
// scope (the conversation ID) so concurrent conversations stay isolated.
//
// SQLiteStore uses modernc.org/sqlite. Pass MemoryPath for a private
// in-memory database or a file path for a durable one.
package store
