// Package conversation provides per-session chat history storage.
// Histories are rolling: every save refreshes a fixed TTL, so active
// sessions stay alive and idle ones are reclaimed by the store.
package conversation

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks a message sent by the client.
	RoleUser Role = "user"
	// RoleAssistant marks a model reply.
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a conversation. Immutable once appended.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is an ordered conversation, oldest message first.
// Alternation of roles is not enforced; concurrent chat requests on the
// same session may interleave appends.
type History []Message

// Append returns the history with msg added at the end.
func (h History) Append(role Role, content string) History {
	return append(h, Message{Role: role, Content: content})
}
