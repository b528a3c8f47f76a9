package domain

import "time"

// MessageRole identifies the author of a transcript entry
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ValidateRole reports whether role is one of the known message roles.
func ValidateRole(role MessageRole) error {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return nil
	default:
		return ErrInvalidMessageRole
	}
}

// Conversation is an ordered chat session. OwnerID is empty for system
// sessions. CompactionMessageID is a plain identifier marking the earliest
// message still considered live after compaction; it is interpreted purely
// as a cutoff, not an ownership edge.
type Conversation struct {
	ID                  string
	OwnerID             string
	Title               string
	CompactionSummary   string
	CompactionMessageID string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Message is one conversational turn unit. Immutable once created except
// for rating and feedback. Cascade-deleted with its conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           MessageRole
	Content        string
	Context        map[string]any
	Rating         *bool
	Feedback       string
	CreatedAt      time.Time
}
