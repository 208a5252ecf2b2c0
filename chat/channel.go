package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"matchlink-service/apperr"
	"matchlink-service/coin"
	"matchlink-service/config"
	"matchlink-service/model"
	"matchlink-service/presence"

	"gorm.io/gorm"
)

// Emitter fans events out over the real-time transport.
type Emitter interface {
	ToUser(userID uint, event string, data any)
	ToRoom(room string, event string, data any)
}

// OnlineChecker answers presence lookups. Lookup failures degrade to
// "offline" and trigger the push fallback instead of failing the send.
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID uint) (bool, error)
}

// Pusher hands a notification to the external push service, fire-and-forget.
type Pusher interface {
	Push(userID uint, title, body string, data map[string]any)
}

// Channel is the per-conversation messaging pipeline: coin-gated sends,
// receipt tracking, edits, reactions.
type Channel struct {
	db     *gorm.DB
	ledger *coin.Ledger
	online OnlineChecker
	emit   Emitter
	push   Pusher
}

func NewChannel(db *gorm.DB, ledger *coin.Ledger, online OnlineChecker, emit Emitter, push Pusher) *Channel {
	return &Channel{db: db, ledger: ledger, online: online, emit: emit, push: push}
}

// SendMessageInput is the validated shape of a send request.
type SendMessageInput struct {
	ConversationID uint           `json:"conversation_id"`
	Content        string         `json:"content"`
	Type           string         `json:"type"`
	MediaURLs      []string       `json:"media_urls,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MessagePayload is the wire shape fanned out to the conversation room.
type MessagePayload struct {
	model.Message
	SenderUsername       string `json:"sender_username"`
	SenderDisplayName    string `json:"sender_display_name"`
	SenderProfilePicture string `json:"sender_profile_picture"`
}

// SendMessage persists and fans out one message.
//
// The sender is debited before anything is written; the message insert and
// the conversation's denormalized fields share one transaction. After commit
// the message is fanned out to the conversation room, handed to the push
// service only when the recipient is offline, and advanced to delivered.
func (c *Channel) SendMessage(ctx context.Context, senderID uint, in SendMessageInput) (*MessagePayload, error) {
	if in.Type == "" {
		in.Type = model.MessageText
	}
	if !model.IsValidMessageType(in.Type) {
		return nil, fmt.Errorf("%w: unknown message type %q", apperr.ErrDenied, in.Type)
	}

	conversation, err := c.conversationFor(ctx, senderID, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if conversation.IsBlocked || conversation.Status != model.ConversationActive {
		return nil, apperr.ErrDenied
	}
	recipientID := conversation.OtherParticipant(senderID)

	var cost int64
	if in.Type != model.MessageSystem {
		cost = coin.ActionCosts().Message
		if _, err := c.ledger.Debit(ctx, senderID, cost, model.TxMessageCost, coin.Metadata{
			RelatedUserID: &recipientID,
			Extra:         map[string]any{"conversation_id": in.ConversationID},
		}); err != nil {
			return nil, err
		}
	}

	message := &model.Message{
		ConversationID: in.ConversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        in.Content,
		Type:           in.Type,
		Status:         model.StatusSent,
		CoinsCost:      cost,
	}
	if len(in.MediaURLs) > 0 {
		raw, _ := json.Marshal(in.MediaURLs)
		message.MediaURLs = string(raw)
	}
	if len(in.Metadata) > 0 {
		raw, _ := json.Marshal(in.Metadata)
		message.Metadata = string(raw)
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"last_message":    preview(in.Content),
			"last_message_at": time.Now(),
			"last_message_by": senderID,
		}
		// Atomic increment, not read-modify-write: hot conversations must not
		// contend on a row lock for the counter.
		if conversation.User1ID == recipientID {
			updates["unread_count_user1"] = gorm.Expr("unread_count_user1 + 1")
		} else {
			updates["unread_count_user2"] = gorm.Expr("unread_count_user2 + 1")
		}
		return tx.Model(&model.Conversation{}).
			Where("id = ?", conversation.ID).
			Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	payload := c.withSender(ctx, message)
	if c.emit != nil {
		c.emit.ToRoom(presence.ConversationRoom(conversation.ID), "new_message", payload)
	}

	// Exactly one of real-time fan-out or push reaches the recipient.
	if !c.recipientOnline(ctx, recipientID) && c.push != nil {
		c.push.Push(recipientID,
			fmt.Sprintf("New message from %s", payload.SenderDisplayName),
			preview(in.Content),
			map[string]any{
				"type":            "message",
				"conversation_id": conversation.ID,
				"sender_id":       senderID,
			})
	}

	// Delivered means handed to transport, not read.
	now := time.Now()
	if err := c.db.WithContext(ctx).Model(message).Updates(map[string]any{
		"status":       model.StatusDelivered,
		"delivered_at": now,
	}).Error; err != nil {
		return nil, err
	}
	payload.Status = model.StatusDelivered
	payload.DeliveredAt = &now

	return payload, nil
}

func (c *Channel) recipientOnline(ctx context.Context, recipientID uint) bool {
	if c.online == nil {
		return false
	}
	online, err := c.online.IsOnline(ctx, recipientID)
	if err != nil {
		log.Printf("presence lookup failed for user %d, assuming offline: %v", recipientID, err)
		return false
	}
	return online
}

// MarkRead advances the given messages to read for their recipient. Only
// messages addressed to userID move; the transition is monotonic. The
// reader's unread counter resets and the peer is notified.
func (c *Channel) MarkRead(ctx context.Context, userID, conversationID uint, messageIDs []uint) error {
	conversation, err := c.conversationFor(ctx, userID, conversationID)
	if err != nil {
		return err
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Message{}).
			Where("id IN ? AND recipient_id = ? AND status <> ?", messageIDs, userID, model.StatusRead).
			Updates(map[string]any{
				"status":  model.StatusRead,
				"read_at": time.Now(),
			}).Error; err != nil {
			return err
		}

		field := "unread_count_user2"
		if conversation.User1ID == userID {
			field = "unread_count_user1"
		}
		return tx.Model(&model.Conversation{}).
			Where("id = ?", conversationID).
			Update(field, 0).Error
	})
	if err != nil {
		return err
	}

	if c.emit != nil {
		c.emit.ToUser(conversation.OtherParticipant(userID), "messages_read", map[string]any{
			"conversation_id": conversationID,
			"message_ids":     messageIDs,
			"read_by":         userID,
		})
	}
	return nil
}

type editEntry struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}

// EditMessage rewrites a message the sender owns, inside the edit window,
// appending the prior content to the edit history first.
func (c *Channel) EditMessage(ctx context.Context, userID, messageID uint, content string) (*model.Message, error) {
	message := new(model.Message)
	err := c.db.WithContext(ctx).
		Where("id = ? AND sender_id = ? AND is_deleted = ?", messageID, userID, false).
		First(message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}

	window := time.Duration(config.ConfigInt("MESSAGE_EDIT_WINDOW_MINUTES", 60)) * time.Minute
	if time.Since(message.CreatedAt) > window {
		return nil, apperr.ErrDenied
	}

	history := []editEntry{}
	if message.EditHistory != "" {
		json.Unmarshal([]byte(message.EditHistory), &history)
	}
	now := time.Now()
	history = append(history, editEntry{Content: message.Content, EditedAt: now})
	raw, _ := json.Marshal(history)

	if err := c.db.WithContext(ctx).Model(message).Updates(map[string]any{
		"content":      content,
		"is_edited":    true,
		"edited_at":    now,
		"edit_history": string(raw),
	}).Error; err != nil {
		return nil, err
	}

	message.Content = content
	message.IsEdited = true
	message.EditedAt = &now
	message.EditHistory = string(raw)

	if c.emit != nil {
		c.emit.ToRoom(presence.ConversationRoom(message.ConversationID), "message_edited", message)
	}
	return message, nil
}

// DeleteMessage soft-deletes a message the sender owns; the row stays, the
// content is nulled.
func (c *Channel) DeleteMessage(ctx context.Context, userID, messageID uint) error {
	message := new(model.Message)
	err := c.db.WithContext(ctx).
		Where("id = ? AND sender_id = ?", messageID, userID).
		First(message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrNotFound
		}
		return err
	}

	if err := c.db.WithContext(ctx).Model(message).Updates(map[string]any{
		"is_deleted": true,
		"removed_at": time.Now(),
		"content":    "",
		"media_urls": "",
	}).Error; err != nil {
		return err
	}

	if c.emit != nil {
		c.emit.ToRoom(presence.ConversationRoom(message.ConversationID), "message_deleted", map[string]any{
			"message_id":      messageID,
			"conversation_id": message.ConversationID,
		})
	}
	return nil
}

// React toggles the user's emoji reaction on a message and returns the
// updated reaction map.
func (c *Channel) React(ctx context.Context, userID, messageID uint, emoji string) (map[string][]uint, error) {
	if emoji == "" {
		return nil, apperr.ErrDenied
	}

	message := new(model.Message)
	err := c.db.WithContext(ctx).
		Where("id = ? AND is_deleted = ?", messageID, false).
		First(message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if _, err := c.conversationFor(ctx, userID, message.ConversationID); err != nil {
		return nil, err
	}

	reactions := map[string][]uint{}
	if message.Reactions != "" {
		json.Unmarshal([]byte(message.Reactions), &reactions)
	}

	users := reactions[emoji]
	removed := false
	for i, id := range users {
		if id == userID {
			reactions[emoji] = append(users[:i], users[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		reactions[emoji] = append(users, userID)
	}
	if len(reactions[emoji]) == 0 {
		delete(reactions, emoji)
	}

	raw, _ := json.Marshal(reactions)
	if err := c.db.WithContext(ctx).Model(message).Update("reactions", string(raw)).Error; err != nil {
		return nil, err
	}

	if c.emit != nil {
		c.emit.ToRoom(presence.ConversationRoom(message.ConversationID), "message_reaction", map[string]any{
			"message_id": messageID,
			"reactions":  reactions,
			"by":         userID,
		})
	}
	return reactions, nil
}

// conversationFor loads a conversation and verifies membership.
func (c *Channel) conversationFor(ctx context.Context, userID, conversationID uint) (*model.Conversation, error) {
	conversation := new(model.Conversation)
	if err := c.db.WithContext(ctx).First(conversation, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, apperr.ErrDenied
	}
	return conversation, nil
}

func (c *Channel) withSender(ctx context.Context, message *model.Message) *MessagePayload {
	payload := &MessagePayload{Message: *message}
	sender := new(model.User)
	if err := c.db.WithContext(ctx).First(sender, message.SenderID).Error; err == nil {
		payload.SenderUsername = sender.Username
		payload.SenderDisplayName = sender.DisplayName
		payload.SenderProfilePicture = sender.ProfilePictureURL
	}
	return payload
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) > 100 {
		return string(runes[:100])
	}
	return content
}
