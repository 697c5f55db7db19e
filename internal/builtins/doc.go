// Package builtins provides built-in tool packs that execute in the gateway process.
//
// # Packs
//
//   - builtin:base: current_time, http_get
//   - builtin:notes: note_set, note_get, note_list, note_delete
//
// Each pack constructor returns a *tools.Pack ready for
// Registry.RegisterPack. Handlers decode their already validated input,
// do their work under the context supplied by the registry (which carries
// the tool timeout) and return a JSON object.
//
// Notes are stored in a store.NoteStore under the calling conversation's ID,
// read from the context with tools.ConversationID.
package builtins
