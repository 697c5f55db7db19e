// ABOUTME: NoteStore interface and data types for tool-owned persistence
// ABOUTME: Notes are scoped so conversations never see each other's data

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Note is a key-value entry written by the notes tools.
type Note struct {
	ID        string
	Scope     string
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NoteStore persists notes per scope.
type NoteStore interface {
	SetNote(ctx context.Context, note *Note) error
	GetNote(ctx context.Context, scope, key string) (*Note, error)
	ListNotes(ctx context.Context, scope string) ([]*Note, error)
	DeleteNote(ctx context.Context, scope, key string) error
	Close() error
}

var _ NoteStore = (*SQLiteStore)(nil)
