package chat

import (
	"context"
	"errors"

	"matchlink-service/apperr"
	"matchlink-service/model"

	"gorm.io/gorm"
)

// ConversationEntry is one inbox row with the peer profile and the viewer's
// unread count.
type ConversationEntry struct {
	Conversation model.Conversation `json:"conversation"`
	Peer         model.User         `json:"peer"`
	UnreadCount  int                `json:"unread_count"`
	IsMuted      bool               `json:"is_muted"`
}

// Conversations lists the user's active conversations, most recent first.
func (c *Channel) Conversations(ctx context.Context, userID uint) ([]ConversationEntry, error) {
	conversations := []model.Conversation{}
	err := c.db.WithContext(ctx).
		Where("(user1_id = ? OR user2_id = ?) AND status = ?", userID, userID, model.ConversationActive).
		Order("last_message_at DESC NULLS LAST").
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}

	entries := make([]ConversationEntry, 0, len(conversations))
	for _, conversation := range conversations {
		peer := new(model.User)
		if err := c.db.WithContext(ctx).First(peer, conversation.OtherParticipant(userID)).Error; err != nil {
			continue
		}

		entry := ConversationEntry{Conversation: conversation, Peer: *peer}
		if conversation.User1ID == userID {
			entry.UnreadCount = conversation.UnreadCountUser1
			entry.IsMuted = conversation.IsMutedUser1
		} else {
			entry.UnreadCount = conversation.UnreadCountUser2
			entry.IsMuted = conversation.IsMutedUser2
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Messages pages through a conversation's history, newest first. before, when
// non-zero, returns only messages older than that id.
func (c *Channel) Messages(ctx context.Context, userID, conversationID uint, limit int, before uint) ([]MessagePayload, error) {
	if _, err := c.conversationFor(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := c.db.WithContext(ctx).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("id DESC").
		Limit(limit)
	if before > 0 {
		query = query.Where("id < ?", before)
	}

	messages := []model.Message{}
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}

	payloads := make([]MessagePayload, 0, len(messages))
	for i := range messages {
		payloads = append(payloads, *c.withSender(ctx, &messages[i]))
	}
	return payloads, nil
}

// Conversation loads one conversation the user participates in.
func (c *Channel) Conversation(ctx context.Context, userID, conversationID uint) (*model.Conversation, error) {
	return c.conversationFor(ctx, userID, conversationID)
}

// SetMuted flips the viewer's mute flag on the conversation.
func (c *Channel) SetMuted(ctx context.Context, userID, conversationID uint, muted bool) error {
	conversation, err := c.conversationFor(ctx, userID, conversationID)
	if err != nil {
		return err
	}

	column := "is_muted_user1"
	if conversation.User2ID == userID {
		column = "is_muted_user2"
	}
	return c.db.WithContext(ctx).Model(conversation).Update(column, muted).Error
}

// Archive hides the conversation from the inbox without touching history.
func (c *Channel) Archive(ctx context.Context, userID, conversationID uint) error {
	conversation, err := c.conversationFor(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if conversation.Status != model.ConversationActive {
		return apperr.ErrConflict
	}
	return c.db.WithContext(ctx).Model(conversation).
		Update("status", model.ConversationArchived).Error
}

// UnreadTotal sums the viewer's unread counts across active conversations.
func (c *Channel) UnreadTotal(ctx context.Context, userID uint) (int64, error) {
	var total int64
	err := c.db.WithContext(ctx).Model(&model.Conversation{}).
		Select(`COALESCE(SUM(CASE WHEN user1_id = ? THEN unread_count_user1 ELSE unread_count_user2 END), 0)`, userID).
		Where("(user1_id = ? OR user2_id = ?) AND status = ?", userID, userID, model.ConversationActive).
		Scan(&total).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	return total, nil
}
