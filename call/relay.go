package call

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"matchlink-service/apperr"
	"matchlink-service/coin"
	"matchlink-service/model"
	"matchlink-service/presence"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Call types and session states.
const (
	TypeVideo = "video"
	TypeVoice = "voice"

	StateRinging   = "ringing"
	StateAccepting = "accepting"
	StateActive    = "active"
)

// Emitter fans events out over the real-time transport.
type Emitter interface {
	ToUser(userID uint, event string, data any)
	ToRoom(room string, event string, data any)
}

// Session is the ephemeral bookkeeping for one call. It lives in the relay's
// table for the duration of ringing plus the active call and is looked up by
// call id, never by scanning connections.
type Session struct {
	ID             string    `json:"call_id"`
	ConversationID uint      `json:"conversation_id"`
	CallerID       uint      `json:"caller_id"`
	CalleeID       uint      `json:"callee_id"`
	Type           string    `json:"call_type"`
	Cost           int64     `json:"cost"`
	State          string    `json:"state"`
	StartedAt      time.Time `json:"started_at"`
}

func (s *Session) hasParticipant(userID uint) bool {
	return s.CallerID == userID || s.CalleeID == userID
}

func (s *Session) peer(userID uint) uint {
	if s.CallerID == userID {
		return s.CalleeID
	}
	return s.CallerID
}

// Relay keeps the call-session table and moves WebRTC signaling between the
// two participants. Signaling payloads are opaque; they are relayed verbatim.
type Relay struct {
	db     *gorm.DB
	ledger *coin.Ledger
	emit   Emitter

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRelay(db *gorm.DB, ledger *coin.Ledger, emit Emitter) *Relay {
	return &Relay{
		db:       db,
		ledger:   ledger,
		emit:     emit,
		sessions: make(map[string]*Session),
	}
}

// Initiate verifies access, permission and affordability, then rings the
// callee. The caller's balance is checked but NOT debited here; the charge
// lands at accept time.
func (r *Relay) Initiate(ctx context.Context, callerID, conversationID uint, callType string) (*Session, error) {
	var cost int64
	switch callType {
	case TypeVideo:
		cost = coin.ActionCosts().VideoCall
	case TypeVoice:
		cost = coin.ActionCosts().VoiceCall
	default:
		return nil, fmt.Errorf("%w: unknown call type %q", apperr.ErrDenied, callType)
	}

	conversation := new(model.Conversation)
	if err := r.db.WithContext(ctx).First(conversation, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if !conversation.HasParticipant(callerID) || conversation.IsBlocked {
		return nil, apperr.ErrDenied
	}
	calleeID := conversation.OtherParticipant(callerID)

	callee := new(model.User)
	if err := r.db.WithContext(ctx).First(callee, calleeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	allowed := callee.AllowVideoCalls
	if callType == TypeVoice {
		allowed = callee.AllowVoiceCalls
	}
	if !allowed {
		return nil, apperr.ErrDenied
	}

	// Fail fast before ringing; the actual debit happens on accept.
	balance, err := r.ledger.Balance(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if balance < cost {
		return nil, &apperr.InsufficientFundsError{Required: cost, Current: balance}
	}

	session := &Session{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		CallerID:       callerID,
		CalleeID:       calleeID,
		Type:           callType,
		Cost:           cost,
		State:          StateRinging,
		StartedAt:      time.Now(),
	}
	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	caller := new(model.User)
	if err := r.db.WithContext(ctx).First(caller, callerID).Error; err != nil {
		// Ring anyway; the callee still gets the call id even without the
		// caller card.
		log.Printf("call %s: loading caller %d failed: %v", session.ID, callerID, err)
	}
	r.emit.ToUser(calleeID, "incoming_call", map[string]any{
		"call_id":         session.ID,
		"call_type":       callType,
		"conversation_id": conversationID,
		"from": map[string]any{
			"id":                  caller.ID,
			"username":            caller.Username,
			"display_name":        caller.DisplayName,
			"profile_picture_url": caller.ProfilePictureURL,
		},
	})

	log.Printf("call %s initiated: %d -> %d (%s, %d coins)", session.ID, callerID, calleeID, callType, cost)
	return session, nil
}

// Accept charges the caller and activates the call. Charging here, not at
// initiate, means the caller's balance may have changed since ringing; if
// the debit now fails the call is torn down and nobody is charged.
//
// The ringing state is claimed under the lock before the debit so that at
// most one accept reaches the ledger; a second accept of the same call is
// denied.
func (r *Relay) Accept(ctx context.Context, calleeID uint, callID string) (*Session, error) {
	r.mu.Lock()
	session, ok := r.sessions[callID]
	if !ok {
		r.mu.Unlock()
		return nil, apperr.ErrNotFound
	}
	if session.CalleeID != calleeID || session.State != StateRinging {
		r.mu.Unlock()
		return nil, apperr.ErrDenied
	}
	session.State = StateAccepting
	r.mu.Unlock()

	txType := model.TxVideoCallCost
	if session.Type == TypeVoice {
		txType = model.TxVoiceCallCost
	}
	if _, err := r.ledger.Debit(ctx, session.CallerID, session.Cost, txType, coin.Metadata{
		RelatedUserID: &calleeID,
	}); err != nil {
		r.drop(callID)
		if _, ok := apperr.IsInsufficientFunds(err); ok {
			r.emit.ToUser(session.CallerID, "call_rejected", map[string]any{
				"call_id": callID,
				"reason":  "Insufficient coins",
			})
		}
		return nil, err
	}

	r.mu.Lock()
	session.State = StateActive
	r.mu.Unlock()

	payload := map[string]any{
		"call_id":      callID,
		"participants": []uint{session.CallerID, session.CalleeID},
	}
	r.emit.ToUser(session.CallerID, "call_accepted", payload)
	r.emit.ToUser(session.CalleeID, "call_accepted", payload)

	log.Printf("call %s accepted, caller %d charged %d coins", callID, session.CallerID, session.Cost)
	return session, nil
}

// Reject tears down a ringing call without charging anyone.
func (r *Relay) Reject(calleeID uint, callID, reason string) error {
	session, err := r.participantSession(calleeID, callID)
	if err != nil {
		return err
	}
	if session.CalleeID != calleeID {
		return apperr.ErrDenied
	}

	r.drop(callID)
	if reason == "" {
		reason = "rejected"
	}
	r.emit.ToUser(session.CallerID, "call_rejected", map[string]any{
		"call_id": callID,
		"reason":  reason,
	})
	return nil
}

// End tears the call down from either side. No refund is issued for a call
// ended early.
func (r *Relay) End(userID uint, callID, reason string) error {
	session, err := r.participantSession(userID, callID)
	if err != nil {
		return err
	}

	r.drop(callID)
	if reason == "" {
		reason = "ended_by_user"
	}
	r.emit.ToUser(session.peer(userID), "call_ended", map[string]any{
		"call_id":  callID,
		"ended_by": userID,
		"reason":   reason,
	})
	return nil
}

// Signal relays an opaque WebRTC payload (offer/answer/ice candidate) to the
// other participant.
func (r *Relay) Signal(userID uint, callID, event string, payload any) error {
	session, err := r.participantSession(userID, callID)
	if err != nil {
		return err
	}

	r.emit.ToUser(session.peer(userID), event, map[string]any{
		"call_id": callID,
		"payload": payload,
		"from":    userID,
	})
	return nil
}

// DisconnectCleanup ends every session the user participates in; called on
// transport disconnect, graceful or not.
func (r *Relay) DisconnectCleanup(userID uint) {
	r.mu.Lock()
	dropped := []*Session{}
	for id, session := range r.sessions {
		if session.hasParticipant(userID) {
			delete(r.sessions, id)
			dropped = append(dropped, session)
		}
	}
	r.mu.Unlock()

	for _, session := range dropped {
		r.emit.ToUser(session.peer(userID), "call_ended", map[string]any{
			"call_id":  session.ID,
			"ended_by": userID,
			"reason":   "disconnected",
		})
		log.Printf("call %s ended by disconnect of user %d", session.ID, userID)
	}
}

// Lookup returns the live session for a call id.
func (r *Relay) Lookup(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[callID]
	return session, ok
}

// Room returns the transport room name for a call.
func Room(callID string) string {
	return presence.CallRoom(callID)
}

func (r *Relay) participantSession(userID uint, callID string) (*Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[callID]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if !session.hasParticipant(userID) {
		return nil, apperr.ErrDenied
	}
	return session, nil
}

func (r *Relay) drop(callID string) {
	r.mu.Lock()
	delete(r.sessions, callID)
	r.mu.Unlock()
}
