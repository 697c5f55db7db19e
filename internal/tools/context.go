// ABOUTME: Context helpers that tell tool handlers which conversation invoked them.
// ABOUTME: Stateful tools use the conversation ID to keep conversations apart.

package tools

import "context"

type conversationKey struct{}

// WithConversationID returns a context carrying the conversation ID.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationKey{}, id)
}

// ConversationID returns the conversation ID carried by ctx, or "".
func ConversationID(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey{}).(string)
	return id
}
