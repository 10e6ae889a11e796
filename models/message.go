package models

import "time"

// MessageSource tags where a canonical message came from.
type MessageSource string

const (
	SourceHistory MessageSource = "history"
	SourceLive    MessageSource = "live"
	SourceLocal   MessageSource = "local"
)

// DTOUser is the author object of locally authored messages.
type DTOUser struct {
	ID     FlexID `json:"_id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// MessageDTO is the union of the shapes a message arrives in: history pages,
// hub pushes (camel or Pascal case) and locally authored messages.
type MessageDTO struct {
	ID              FlexID   `json:"id"`
	MessageID       FlexID   `json:"messageId"`
	ConversationID  FlexID   `json:"conversationId"`
	SenderID        FlexID   `json:"senderId"`
	SenderUsername  string   `json:"senderUsername"`
	SenderName      string   `json:"senderName"`
	SenderAvatarURL string   `json:"senderAvatarUrl"`
	Content         string   `json:"content"`
	Text            string   `json:"text"`
	SentAt          FlexTime `json:"sentAt"`
	CreatedAt       FlexTime `json:"createdAt"`
	IsPrivate       bool     `json:"isPrivate"`
	User            *DTOUser `json:"user,omitempty"`
}

type Author struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// ChatMessage is the one shape allowed into a message store.
type ChatMessage struct {
	ID             string        `json:"id"`
	ConversationID int64         `json:"conversationId"`
	Text           string        `json:"text"`
	CreatedAt      time.Time     `json:"createdAt"`
	Author         Author        `json:"author"`
	IsPrivate      bool          `json:"isPrivate"`
	Source         MessageSource `json:"source"`
}

// SendMessagePayload is the argument of the hub's SendMessage method.
type SendMessagePayload struct {
	ConversationID int64  `json:"ConversationId"`
	Content        string `json:"Content"`
	IsPrivate      bool   `json:"IsPrivate"`
	TicketID       *int64 `json:"TicketId"`
}

// ArchivedMessage is the transcript row written by the archiver. Each owner
// keeps its own copy of a message.
type ArchivedMessage struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ConversationID int64     `json:"conversation_id" gorm:"uniqueIndex:idx_owner_message,priority:1"`
	OwnerID        string    `json:"owner_id" gorm:"uniqueIndex:idx_owner_message,priority:2;size:64"`
	MessageID      string    `json:"message_id" gorm:"uniqueIndex:idx_owner_message,priority:3;size:64"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Content        string    `json:"content" gorm:"type:text"`
	IsPrivate      bool      `json:"is_private"`
	Source         string    `json:"source"`
	SentAt         time.Time `json:"sent_at" gorm:"index"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewArchivedMessage(ownerID string, m ChatMessage) *ArchivedMessage {
	return &ArchivedMessage{
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		OwnerID:        ownerID,
		SenderID:       m.Author.ID,
		SenderName:     m.Author.Name,
		Content:        m.Text,
		IsPrivate:      m.IsPrivate,
		Source:         string(m.Source),
		SentAt:         m.CreatedAt,
	}
}
