package conversation

import (
	"context"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one turn of a buyer conversation.
type Entry struct {
	SenderID  string    `json:"senderId"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Store keeps a bounded, chronological history per sender. Implementations
// serialize writes per sender and return copies from History.
type Store interface {
	// Append adds entries in order, evicting the oldest beyond the bound.
	Append(ctx context.Context, senderID string, entries ...Entry) error
	History(ctx context.Context, senderID string) ([]Entry, error)
	Clear(ctx context.Context, senderID string) error
	Senders(ctx context.Context) ([]string, error)
}

// Trim keeps the most recent limit entries of history.
func Trim(history []Entry, limit int) []Entry {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
