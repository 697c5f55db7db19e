// ABOUTME: Notes pack provides key-value storage scoped to the calling conversation.
// ABOUTME: The conversation ID is read from the tool context.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/chat-gateway/internal/store"
	"github.com/2389/chat-gateway/internal/tools"
)

// defaultScope holds notes written outside any conversation.
const defaultScope = "global"

// NotesPack creates the notes pack with key-value storage tools.
func NotesPack(s store.NoteStore) *tools.Pack {
	n := &notesHandlers{store: s}
	return &tools.Pack{
		ID: "builtin:notes",
		Tools: []*tools.Definition{
			{
				Name:        "note_set",
				Description: "Store a note for later in this conversation",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string","minLength":1},"value":{"type":"string"}},"required":["key","value"]}`),
				Execute:     n.Set,
			},
			{
				Name:        "note_get",
				Description: "Retrieve a note",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
				Execute:     n.Get,
			},
			{
				Name:        "note_list",
				Description: "List all notes",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
				Execute:     n.List,
			},
			{
				Name:        "note_delete",
				Description: "Delete a note",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
				Execute:     n.Delete,
			},
		},
	}
}

type notesHandlers struct {
	store store.NoteStore
}

func scope(ctx context.Context) string {
	if id := tools.ConversationID(ctx); id != "" {
		return id
	}
	return defaultScope
}

type noteSetInput struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (n *notesHandlers) Set(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in noteSetInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	note := &store.Note{Scope: scope(ctx), Key: in.Key, Value: in.Value}
	if err := n.store.SetNote(ctx, note); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{"key": in.Key, "status": "saved"})
}

type noteKeyInput struct {
	Key string `json:"key"`
}

func (n *notesHandlers) Get(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in noteKeyInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	note, err := n.store.GetNote(ctx, scope(ctx), in.Key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("note %q not found", in.Key)
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{"key": note.Key, "value": note.Value})
}

func (n *notesHandlers) List(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	notes, err := n.store.ListNotes(ctx, scope(ctx))
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(notes))
	for _, note := range notes {
		keys = append(keys, note.Key)
	}
	return json.Marshal(map[string]any{"keys": keys, "count": len(keys)})
}

func (n *notesHandlers) Delete(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in noteKeyInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if err := n.store.DeleteNote(ctx, scope(ctx), in.Key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("note %q not found", in.Key)
		}
		return nil, err
	}

	return json.Marshal(map[string]string{"key": in.Key, "status": "deleted"})
}
