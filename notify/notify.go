package notify

import (
	"context"
	"encoding/json"
	"log"

	"matchlink-service/event"
	"matchlink-service/match"
	"matchlink-service/model"

	"gorm.io/gorm"
)

// NotificationsQueue receives push payloads for the external delivery
// service.
const NotificationsQueue = "notifications"

// Emitter delivers real-time events to a connected user.
type Emitter interface {
	ToUser(userID uint, event string, data any)
}

// OnlineChecker answers presence lookups; errors degrade to offline.
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID uint) (bool, error)
}

// Service routes notifications: real-time event when the user is connected,
// push hand-off to the notifications queue when not. Everything here is
// fire-and-forget; failures are logged, never propagated.
type Service struct {
	db     *gorm.DB
	emit   Emitter
	online OnlineChecker
}

func NewService(db *gorm.DB, emit Emitter, online OnlineChecker) *Service {
	return &Service{db: db, emit: emit, online: online}
}

// Push hands a notification to the external push service via the
// notifications queue, addressed by the user's registered device tokens.
func (s *Service) Push(userID uint, title, body string, data map[string]any) {
	user := new(model.User)
	if err := s.db.First(user, userID).Error; err != nil {
		log.Printf("notify: user %d not found: %v", userID, err)
		return
	}

	tokens := []string{}
	if user.DeviceTokens != "" {
		json.Unmarshal([]byte(user.DeviceTokens), &tokens)
	}
	if len(tokens) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"device_tokens": tokens,
		"title":         title,
		"body":          body,
		"data":          data,
	})
	if err != nil {
		log.Printf("notify: failed to encode push for user %d: %v", userID, err)
		return
	}
	if err := event.Emit(NotificationsQueue, "push", payload, true); err != nil {
		log.Printf("notify: push hand-off for user %d failed: %v", userID, err)
	}
}

// MatchFormed announces a new match to the target: a real-time event if they
// are connected, a push otherwise.
func (s *Service) MatchFormed(targetID uint, notice match.Notice) {
	actor := new(model.User)
	if err := s.db.First(actor, notice.ActorID).Error; err != nil {
		log.Printf("notify: actor %d not found: %v", notice.ActorID, err)
		return
	}

	data := map[string]any{
		"type":            "match",
		"match_id":        notice.MatchID,
		"conversation_id": notice.ConversationID,
		"user_id":         notice.ActorID,
		"is_super_match":  notice.IsSuperMatch,
	}

	online, err := s.online.IsOnline(context.Background(), targetID)
	if err != nil {
		log.Printf("notify: presence lookup failed for user %d, assuming offline: %v", targetID, err)
		online = false
	}

	if online && s.emit != nil {
		s.emit.ToUser(targetID, "new_match", data)
		return
	}

	title := "You have a new match!"
	if notice.IsSuperMatch {
		title = "Someone super liked you!"
	}
	s.Push(targetID, title, actor.DisplayName+" matched with you", data)
}
