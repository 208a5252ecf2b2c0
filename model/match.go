package model

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Match statuses.
const (
	MatchPending  = "pending"
	MatchMatched  = "matched"
	MatchRejected = "rejected"
	MatchBlocked  = "blocked"
)

// Match holds the single row for an unordered user pair. PairKey normalizes
// the pair so the unique index serializes concurrent reciprocal actions.
type Match struct {
	gorm.Model
	User1ID            uint       `gorm:"not null;index" json:"user1_id"`
	User2ID            uint       `gorm:"not null;index" json:"user2_id"`
	PairKey            string     `gorm:"uniqueIndex;not null" json:"-"`
	Status             string     `gorm:"not null;default:'pending';index" json:"status"`
	CompatibilityScore int        `json:"compatibility_score"`
	IsSuperMatch       bool       `gorm:"default:false" json:"is_super_match"`
	InitiatedBy        uint       `gorm:"not null" json:"initiated_by"`
	MatchedAt          *time.Time `json:"matched_at"`
}

// PairKeyFor returns the normalized key for an unordered user pair.
func PairKeyFor(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// Conversation statuses.
const (
	ConversationActive   = "active"
	ConversationArchived = "archived"
	ConversationDeleted  = "deleted"
)

// Conversation is created exactly once per matched pair, guarded by the
// unique index on MatchID.
type Conversation struct {
	gorm.Model
	MatchID uint   `gorm:"uniqueIndex;not null" json:"match_id"`
	User1ID uint   `gorm:"not null;index" json:"user1_id"`
	User2ID uint   `gorm:"not null;index" json:"user2_id"`
	Status  string `gorm:"not null;default:'active'" json:"status"`

	LastMessage   string     `json:"last_message"`
	LastMessageAt *time.Time `json:"last_message_at"`
	LastMessageBy uint       `json:"last_message_by"`

	UnreadCountUser1 int `gorm:"default:0" json:"unread_count_user1"`
	UnreadCountUser2 int `gorm:"default:0" json:"unread_count_user2"`

	IsMutedUser1 bool `gorm:"default:false" json:"is_muted_user1"`
	IsMutedUser2 bool `gorm:"default:false" json:"is_muted_user2"`
	IsBlocked    bool `gorm:"default:false" json:"is_blocked"`
}

// HasParticipant reports whether the user is one of the two members.
func (c *Conversation) HasParticipant(userID uint) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// OtherParticipant returns the peer of the given member.
func (c *Conversation) OtherParticipant(userID uint) uint {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}
