package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	MessageKindChat     MessageKind = "chat"
	MessageKindReaction MessageKind = "reaction"
	MessageKindSystem   MessageKind = "system"
)

const SystemSenderID = "system"

// Message is an append-only unit of session communication.
type Message struct {
	ID         uuid.UUID   `json:"id"`
	Seq        uint64      `json:"seq"`
	Kind       MessageKind `json:"kind"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Content    string      `json:"content"`
	MediaURL   string      `json:"media_url,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

func NewChatMessage(sender *Participant, content string) Message {
	return newMessage(MessageKindChat, sender.ID, sender.DisplayName, content, "")
}

func NewReactionMessage(sender *Participant, content, mediaURL string) Message {
	return newMessage(MessageKindReaction, sender.ID, sender.DisplayName, content, mediaURL)
}

func NewSystemMessage(content string) Message {
	return newMessage(MessageKindSystem, SystemSenderID, SystemSenderID, content, "")
}

func newMessage(kind MessageKind, senderID, senderName, content, mediaURL string) Message {
	return Message{
		ID:         uuid.New(),
		Kind:       kind,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		MediaURL:   mediaURL,
		CreatedAt:  time.Now().UTC(),
	}
}
