// Package transcript holds the part model and the per-conversation transcript.
//
// # Parts
//
// A message is an ordered list of parts. Part is a sealed interface with six
// variants: TextPart, ReasoningPart, FilePart, SourceURLPart, ToolCallPart
// and ToolResultPart. Consumers switch over the concrete types.
//
// # Store
//
// Store is append-only at the tail. At most one message is open at a time
// and it is always the last one:
//
//	id, _ := store.Open(transcript.RoleAssistant)
//	store.AppendPart(id, transcript.TextPart{Text: "Hel"})
//	store.AppendPart(id, transcript.TextPart{Text: "lo"}) // merged into "Hello"
//	store.Seal(id)
//
// Appending to a sealed message fails with ErrInvalidState. A tool result
// must follow exactly one tool call with the same call ID in the same
// message.
package transcript
