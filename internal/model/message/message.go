package message

import "time"

// Type classifies an inbound chat event.
type Type string

const (
	TypeText           Type = "text"
	TypeImage          Type = "image"
	TypeSticker        Type = "sticker"
	TypeOrderReference Type = "order_reference"
	TypeUnknown        Type = "unknown"
)

// ParseType maps marketplace message_type values onto Type. The marketplace
// reports order and item cards separately; both are order references here.
func ParseType(raw string) Type {
	switch raw {
	case "text":
		return TypeText
	case "image", "video":
		return TypeImage
	case "sticker":
		return TypeSticker
	case "order", "item", "order_reference":
		return TypeOrderReference
	default:
		return TypeUnknown
	}
}

// Inbound is a buyer message received through the webhook. Read-only once built.
type Inbound struct {
	ID             string    `json:"id"`
	SenderID       string    `json:"senderId"`
	ConversationID string    `json:"conversationId"`
	Type           Type      `json:"type"`
	Text           string    `json:"text,omitempty"`
	Payload        []byte    `json:"-"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// Outbound is a reply handed to the sender.
type Outbound struct {
	ConversationID string `json:"conversationId"`
	ToID           string `json:"toId"`
	Text           string `json:"text"`
	InReplyTo      string `json:"inReplyTo,omitempty"`
}
