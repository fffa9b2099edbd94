package msglog

import (
	"context"
	"time"
)

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// Source names where an outgoing reply came from.
type Source string

const (
	SourceKeyword  Source = "keyword"
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
	SourceAck      Source = "ack"
)

// Record is one line of the operator message log.
type Record struct {
	ID             string    `json:"id"`
	Direction      Direction `json:"direction"`
	SenderID       string    `json:"senderId"`
	ConversationID string    `json:"conversationId,omitempty"`
	Type           string    `json:"type,omitempty"`
	Text           string    `json:"text,omitempty"`
	Source         Source    `json:"source,omitempty"`
	Mood           string    `json:"mood,omitempty"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}

// Store appends records and returns the most recent ones, newest first.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
}
