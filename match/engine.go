package match

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"strings"
	"time"

	"matchlink-service/apperr"
	"matchlink-service/coin"
	"matchlink-service/config"
	"matchlink-service/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Action is a directed match action.
type Action string

const (
	ActionLike      Action = "like"
	ActionPass      Action = "pass"
	ActionSuperLike Action = "super_like"
)

// Notice describes a formed match for the notification hand-off.
type Notice struct {
	MatchID        uint
	ConversationID uint
	ActorID        uint
	IsSuperMatch   bool
}

// Notifier delivers match notifications. Failures here never roll back the
// match.
type Notifier interface {
	MatchFormed(targetID uint, notice Notice)
}

// Engine turns directed actions into the single match row per unordered
// pair, detects reciprocity and provisions the conversation.
type Engine struct {
	db     *gorm.DB
	ledger *coin.Ledger
	notify Notifier

	// jitter, when non-nil, adds the scoring variety term.
	jitter func() float64
}

func NewEngine(db *gorm.DB, ledger *coin.Ledger, notify Notifier) *Engine {
	e := &Engine{db: db, ledger: ledger, notify: notify}
	if strings.EqualFold(config.Config("MATCH_SCORE_JITTER"), "ENABLE") {
		e.jitter = rand.Float64
	}
	return e
}

// Result reports the outcome of an action.
type Result struct {
	Action         Action `json:"action"`
	TargetUserID   uint   `json:"target_user_id"`
	IsMatch        bool   `json:"is_match"`
	MatchID        uint   `json:"match_id"`
	ConversationID uint   `json:"conversation_id,omitempty"`
	IsSuperMatch   bool   `json:"is_super_match"`
}

// Act applies a like/pass/super_like from actor to target.
//
// A super like debits the actor first; insufficient funds abort with no
// match row written. A pending like from the target flips to matched
// (reciprocity) and the conversation is created under the MatchID unique
// index. Acting twice on the same pair returns ErrConflict together with the
// pair's current state so callers can respond idempotently.
func (e *Engine) Act(ctx context.Context, actorID, targetID uint, action Action) (*Result, error) {
	switch action {
	case ActionLike, ActionPass, ActionSuperLike:
	default:
		return nil, apperr.ErrDenied
	}
	if actorID == targetID {
		return nil, apperr.ErrDenied
	}

	target := new(model.User)
	if err := e.db.WithContext(ctx).
		Where("id = ? AND is_active = ? AND is_banned = ?", targetID, true, false).
		First(target).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}

	actor := new(model.User)
	if err := e.db.WithContext(ctx).First(actor, actorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}

	// Charge the super like before any match state changes, but only after
	// ruling out an already-settled pair: a duplicate action must not reach
	// the ledger. The debit stays its own serializable ledger transaction and
	// is not clawed back if a concurrent duplicate wins the insert race below.
	if action == ActionSuperLike {
		existing := new(model.Match)
		err := e.db.WithContext(ctx).
			Where("pair_key = ?", model.PairKeyFor(actorID, targetID)).
			First(existing).Error
		switch {
		case err == nil:
			if existing.Status != model.MatchPending || existing.InitiatedBy != targetID {
				result := &Result{
					Action:       action,
					TargetUserID: targetID,
					MatchID:      existing.ID,
					IsMatch:      existing.Status == model.MatchMatched,
					IsSuperMatch: existing.IsSuperMatch,
				}
				e.fillConversation(e.db.WithContext(ctx), existing.ID, result)
				return result, apperr.ErrConflict
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return nil, err
		}

		cost := coin.ActionCosts().SuperMatch
		if _, err := e.ledger.Debit(ctx, actorID, cost, model.TxSuperMatchCost, coin.Metadata{
			RelatedUserID: &targetID,
		}); err != nil {
			return nil, err
		}
	}

	result, err := e.apply(ctx, actor, target, action)
	if err != nil && isDuplicateKey(err) {
		// Lost an insert race for the pair; the row exists now, re-apply so a
		// concurrent reciprocal like still converges on one matched row.
		result, err = e.apply(ctx, actor, target, action)
	}
	if err != nil {
		return result, err
	}

	if result.IsMatch && e.notify != nil {
		go e.notify.MatchFormed(targetID, Notice{
			MatchID:        result.MatchID,
			ConversationID: result.ConversationID,
			ActorID:        actorID,
			IsSuperMatch:   result.IsSuperMatch,
		})
	}
	return result, nil
}

func (e *Engine) apply(ctx context.Context, actor, target *model.User, action Action) (*Result, error) {
	result := &Result{Action: action, TargetUserID: target.ID}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing := new(model.Match)
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("pair_key = ?", model.PairKeyFor(actor.ID, target.ID)).
			First(existing).Error
		switch {
		case err == nil:
			return e.applyToExisting(tx, existing, actor, target, action, result)
		case errors.Is(err, gorm.ErrRecordNotFound):
			return e.insertNew(tx, actor, target, action, result)
		default:
			return err
		}
	})
	if err != nil {
		return result, err
	}

	if result.IsMatch {
		log.Printf("match formed between %d and %d (match %d)", actor.ID, target.ID, result.MatchID)
	}
	return result, nil
}

// applyToExisting handles an action when the pair row already exists. Only a
// pending row initiated by the target can progress; everything else is a
// duplicate action answered with the current state.
func (e *Engine) applyToExisting(tx *gorm.DB, existing *model.Match, actor, target *model.User, action Action, result *Result) error {
	result.MatchID = existing.ID
	result.IsMatch = existing.Status == model.MatchMatched
	result.IsSuperMatch = existing.IsSuperMatch
	e.fillConversation(tx, existing.ID, result)

	if existing.Status != model.MatchPending || existing.InitiatedBy != target.ID {
		return apperr.ErrConflict
	}

	if action == ActionPass {
		result.IsMatch = false
		return tx.Model(existing).Update("status", model.MatchRejected).Error
	}

	// Reciprocity: the target liked the actor first.
	now := time.Now()
	super := existing.IsSuperMatch || action == ActionSuperLike
	if err := tx.Model(existing).Updates(map[string]any{
		"status":         model.MatchMatched,
		"matched_at":     now,
		"is_super_match": super,
	}).Error; err != nil {
		return err
	}

	conversation := model.Conversation{
		MatchID: existing.ID,
		User1ID: minUint(actor.ID, target.ID),
		User2ID: maxUint(actor.ID, target.ID),
		Status:  model.ConversationActive,
	}
	if err := tx.Where(model.Conversation{MatchID: existing.ID}).
		FirstOrCreate(&conversation).Error; err != nil {
		return err
	}

	result.IsMatch = true
	result.IsSuperMatch = super
	result.ConversationID = conversation.ID
	return nil
}

func (e *Engine) insertNew(tx *gorm.DB, actor, target *model.User, action Action, result *Result) error {
	status := model.MatchPending
	if action == ActionPass {
		status = model.MatchRejected
	}

	row := &model.Match{
		User1ID:            actor.ID,
		User2ID:            target.ID,
		PairKey:            model.PairKeyFor(actor.ID, target.ID),
		Status:             status,
		InitiatedBy:        actor.ID,
		IsSuperMatch:       action == ActionSuperLike,
		CompatibilityScore: CompatibilityScore(actor, target, time.Now(), e.jitter),
	}
	if err := tx.Create(row).Error; err != nil {
		return err
	}

	result.MatchID = row.ID
	result.IsSuperMatch = row.IsSuperMatch
	return nil
}

func (e *Engine) fillConversation(tx *gorm.DB, matchID uint, result *Result) {
	conversation := new(model.Conversation)
	if err := tx.Where("match_id = ?", matchID).First(conversation).Error; err == nil {
		result.ConversationID = conversation.ID
	}
}

// Unmatch drops a matched pair back to rejected and archives its
// conversation.
func (e *Engine) Unmatch(ctx context.Context, userID, matchID uint) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := new(model.Match)
		err := tx.Where("id = ? AND status = ? AND (user1_id = ? OR user2_id = ?)",
			matchID, model.MatchMatched, userID, userID).
			First(row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrNotFound
			}
			return err
		}

		if err := tx.Model(row).Update("status", model.MatchRejected).Error; err != nil {
			return err
		}
		return tx.Model(&model.Conversation{}).
			Where("match_id = ?", matchID).
			Update("status", model.ConversationArchived).Error
	})
}

// Block moves the pair to blocked from any state, creating the row if none
// exists, and blocks the conversation if one was provisioned.
func (e *Engine) Block(ctx context.Context, actorID, targetID uint) error {
	if actorID == targetID {
		return apperr.ErrDenied
	}

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := new(model.Match)
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("pair_key = ?", model.PairKeyFor(actorID, targetID)).
			First(row).Error
		switch {
		case err == nil:
			if err := tx.Model(row).Update("status", model.MatchBlocked).Error; err != nil {
				return err
			}
			return tx.Model(&model.Conversation{}).
				Where("match_id = ?", row.ID).
				Update("is_blocked", true).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&model.Match{
				User1ID:     actorID,
				User2ID:     targetID,
				PairKey:     model.PairKeyFor(actorID, targetID),
				Status:      model.MatchBlocked,
				InitiatedBy: actorID,
			}).Error
		default:
			return err
		}
	})
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}

func minUint(a, b uint) uint {
	if a < b {
		return a
	}
	return b
}

func maxUint(a, b uint) uint {
	if a > b {
		return a
	}
	return b
}
