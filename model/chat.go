package model

import (
	"time"

	"gorm.io/gorm"
)

// Message types.
const (
	MessageText     = "text"
	MessageImage    = "image"
	MessageAudio    = "audio"
	MessageVideo    = "video"
	MessageFile     = "file"
	MessageSystem   = "system"
	MessageGift     = "gift"
	MessageLocation = "location"
)

// Message statuses. Transitions are monotonic: sent -> delivered -> read.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message rows are never hard-deleted; soft delete nulls the content.
type Message struct {
	gorm.Model
	ConversationID uint   `gorm:"not null;index" json:"conversation_id"`
	SenderID       uint   `gorm:"not null;index" json:"sender_id"`
	RecipientID    uint   `gorm:"not null;index" json:"recipient_id"`
	Content        string `json:"content"`
	Type           string `gorm:"not null;default:'text'" json:"type"`
	MediaURLs      string `json:"media_urls"` // JSON array
	Metadata       string `json:"metadata"`   // JSON object

	Status      string     `gorm:"not null;default:'sent';index" json:"status"`
	DeliveredAt *time.Time `json:"delivered_at"`
	ReadAt      *time.Time `json:"read_at"`

	Reactions   string     `gorm:"default:'{}'" json:"reactions"` // {emoji: [user ids]}
	IsEdited    bool       `gorm:"default:false" json:"is_edited"`
	EditedAt    *time.Time `json:"edited_at"`
	EditHistory string     `json:"-"` // JSON array of prior contents

	IsDeleted bool       `gorm:"default:false;index" json:"is_deleted"`
	RemovedAt *time.Time `json:"-"`

	CoinsCost int64 `gorm:"default:0" json:"coins_cost"`
}

// IsValidMessageType reports whether t is a known message type.
func IsValidMessageType(t string) bool {
	switch t {
	case MessageText, MessageImage, MessageAudio, MessageVideo,
		MessageFile, MessageSystem, MessageGift, MessageLocation:
		return true
	}
	return false
}
