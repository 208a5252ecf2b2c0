package coin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"matchlink-service/apperr"
	"matchlink-service/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger owns every coin balance mutation. Each debit or credit runs in a
// single serializable transaction: the balance is read under a row lock,
// checked, written, and paired with exactly one CoinTransaction row.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// PaymentInfo carries provider metadata for purchase credits.
type PaymentInfo struct {
	Provider      string
	TransactionID string
	Status        string
	Amount        float64
	Currency      string
}

// Metadata is attached to the transaction row; all fields are optional.
type Metadata struct {
	RelatedUserID    *uint
	RelatedMessageID *uint
	RelatedMatchID   *uint
	Payment          *PaymentInfo
	ProcessedBy      *uint
	Extra            map[string]any
}

// Debit removes amount coins from the user. It fails with
// InsufficientFundsError before any state is touched when the locked balance
// is too low; no negative balances are ever committed.
func (l *Ledger) Debit(ctx context.Context, userID uint, amount int64, txType string, meta Metadata) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	var newBalance int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if user.CoinBalance < amount {
			return &apperr.InsufficientFundsError{Required: amount, Current: user.CoinBalance}
		}

		newBalance = user.CoinBalance - amount
		if err := tx.Model(&model.User{}).Where("id = ?", userID).Updates(map[string]any{
			"coin_balance":      newBalance,
			"total_coins_spent": gorm.Expr("total_coins_spent + ?", amount),
		}).Error; err != nil {
			return err
		}

		return tx.Create(entry(userID, txType, -amount, user.CoinBalance, newBalance, meta)).Error
	})
	if err != nil {
		return 0, err
	}

	log.Printf("coins deducted: %d from user %d for %s", amount, userID, txType)
	return newBalance, nil
}

// Credit adds amount coins to the user.
func (l *Ledger) Credit(ctx context.Context, userID uint, amount int64, txType string, meta Metadata) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	var newBalance int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		newBalance, err = credit(tx, userID, amount, txType, meta)
		return err
	})
	if err != nil {
		return 0, err
	}

	log.Printf("coins added: %d to user %d for %s", amount, userID, txType)
	return newBalance, nil
}

// credit applies a credit inside an already-open transaction.
func credit(tx *gorm.DB, userID uint, amount int64, txType string, meta Metadata) (int64, error) {
	user, err := lockUser(tx, userID)
	if err != nil {
		return 0, err
	}

	newBalance := user.CoinBalance + amount
	if err := tx.Model(&model.User{}).Where("id = ?", userID).Updates(map[string]any{
		"coin_balance":       newBalance,
		"total_coins_earned": gorm.Expr("total_coins_earned + ?", amount),
	}).Error; err != nil {
		return 0, err
	}

	if err := tx.Create(entry(userID, txType, amount, user.CoinBalance, newBalance, meta)).Error; err != nil {
		return 0, err
	}
	return newBalance, nil
}

// lockUser reads the user row with a write lock so concurrent mutations for
// the same user serialize.
func lockUser(tx *gorm.DB, userID uint) (*model.User, error) {
	user := new(model.User)
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func entry(userID uint, txType string, amount, before, after int64, meta Metadata) *model.CoinTransaction {
	t := &model.CoinTransaction{
		UserID:           userID,
		Type:             txType,
		Amount:           amount,
		BalanceBefore:    before,
		BalanceAfter:     after,
		Description:      description(txType, amount),
		RelatedUserID:    meta.RelatedUserID,
		RelatedMessageID: meta.RelatedMessageID,
		RelatedMatchID:   meta.RelatedMatchID,
		ProcessedBy:      meta.ProcessedBy,
	}
	if meta.Payment != nil {
		t.PaymentProvider = meta.Payment.Provider
		t.PaymentTransactionID = meta.Payment.TransactionID
		t.PaymentStatus = meta.Payment.Status
		t.PaymentAmount = meta.Payment.Amount
		t.PaymentCurrency = meta.Payment.Currency
	}
	if len(meta.Extra) > 0 {
		if raw, err := json.Marshal(meta.Extra); err == nil {
			t.Metadata = string(raw)
		}
	}
	return t
}

func description(txType string, amount int64) string {
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	switch txType {
	case model.TxPurchase:
		return fmt.Sprintf("Purchased %d coins", abs)
	case model.TxDailyReward:
		return fmt.Sprintf("Daily login reward (%d coins)", abs)
	case model.TxReferralBonus:
		return fmt.Sprintf("Referral bonus (%d coins)", abs)
	case model.TxAdReward:
		return fmt.Sprintf("Advertisement reward (%d coins)", abs)
	case model.TxMessageCost:
		return fmt.Sprintf("Message sent (%d coins)", abs)
	case model.TxVideoCallCost:
		return fmt.Sprintf("Video call (%d coins)", abs)
	case model.TxVoiceCallCost:
		return fmt.Sprintf("Voice call (%d coins)", abs)
	case model.TxSuperMatchCost:
		return fmt.Sprintf("Super match (%d coins)", abs)
	case model.TxProfileBoostCost:
		return fmt.Sprintf("Profile boost (%d coins)", abs)
	case model.TxGiftCost:
		return fmt.Sprintf("Gift sent (%d coins)", abs)
	case model.TxRefund:
		return fmt.Sprintf("Refund (%d coins)", abs)
	case model.TxAdminAdjustment:
		return fmt.Sprintf("Admin adjustment (%d coins)", abs)
	}
	return fmt.Sprintf("Transaction (%d coins)", abs)
}

// Balance returns the current balance. Display-only; may lag concurrent
// mutations and must not gate a paid action.
func (l *Ledger) Balance(ctx context.Context, userID uint) (int64, error) {
	user := new(model.User)
	if err := l.db.WithContext(ctx).Select("coin_balance").First(user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperr.ErrNotFound
		}
		return 0, err
	}
	return user.CoinBalance, nil
}

// History returns ledger entries for a user, newest first, optionally
// filtered by type.
func (l *Ledger) History(ctx context.Context, userID uint, txType string, limit, offset int) ([]model.CoinTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := l.db.WithContext(ctx).Where("user_id = ?", userID)
	if txType != "" {
		query = query.Where("type = ?", txType)
	}

	transactions := []model.CoinTransaction{}
	err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&transactions).Error
	return transactions, err
}

// ProcessPurchase credits coins for an externally confirmed payment, at most
// once per provider transaction id. Replays return ErrConflict. The dedupe
// check shares the transaction with the credit so two concurrent replays
// cannot both pass it.
func (l *Ledger) ProcessPurchase(ctx context.Context, userID uint, coins int64, payment PaymentInfo) (int64, error) {
	if payment.TransactionID == "" {
		return 0, fmt.Errorf("payment transaction id is required")
	}
	if payment.Currency == "" {
		payment.Currency = "USD"
	}
	payment.Status = "completed"

	var newBalance int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockUser(tx, userID); err != nil {
			return err
		}

		var seen int64
		if err := tx.Model(&model.CoinTransaction{}).
			Where("payment_transaction_id = ?", payment.TransactionID).
			Count(&seen).Error; err != nil {
			return err
		}
		if seen > 0 {
			return apperr.ErrConflict
		}

		var err error
		newBalance, err = credit(tx, userID, coins, model.TxPurchase, Metadata{Payment: &payment})
		return err
	})
	if err != nil {
		return 0, err
	}

	log.Printf("coin purchase processed: %d coins for user %d via %s", coins, userID, payment.Provider)
	return newBalance, nil
}

// DailyReward is the result of a successful claim.
type DailyReward struct {
	CoinsEarned int64 `json:"coins_earned"`
	BaseReward  int64 `json:"base_reward"`
	StreakBonus int64 `json:"streak_bonus"`
	LoginStreak int   `json:"login_streak"`
	NewBalance  int64 `json:"new_balance"`
}

// rewardCooldown leaves slack so a claim at roughly the same time each day
// is never rejected by clock drift.
const rewardCooldown = 20 * time.Hour

// ClaimDailyReward credits the daily login reward plus streak bonus. A claim
// inside the cooldown window returns ErrConflict.
func (l *Ledger) ClaimDailyReward(ctx context.Context, userID uint) (*DailyReward, error) {
	base := int64(DailyRewardBase())

	reward := new(DailyReward)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}

		now := time.Now()
		if user.LastDailyReward != nil && now.Sub(*user.LastDailyReward) < rewardCooldown {
			return apperr.ErrConflict
		}

		streak := user.LoginStreak + 1
		bonus := int64(streak * 2)
		if bonus > 50 {
			bonus = 50
		}

		reward.BaseReward = base
		reward.StreakBonus = bonus
		reward.CoinsEarned = base + bonus
		reward.LoginStreak = streak

		reward.NewBalance, err = credit(tx, userID, reward.CoinsEarned, model.TxDailyReward, Metadata{
			Extra: map[string]any{
				"streak":       streak,
				"base_reward":  base,
				"streak_bonus": bonus,
			},
		})
		if err != nil {
			return err
		}

		return tx.Model(&model.User{}).Where("id = ?", userID).Updates(map[string]any{
			"last_daily_reward": now,
			"login_streak":      streak,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("daily reward claimed: %d coins for user %d (streak: %d)", reward.CoinsEarned, userID, reward.LoginStreak)
	return reward, nil
}

// Statistics summarizes a user's ledger.
type Statistics struct {
	CurrentBalance    int64            `json:"current_balance"`
	TotalEarned       int64            `json:"total_earned"`
	TotalSpent        int64            `json:"total_spent"`
	LoginStreak       int              `json:"login_streak"`
	TransactionCounts map[string]int64 `json:"transaction_counts"`
}

func (l *Ledger) Statistics(ctx context.Context, userID uint) (*Statistics, error) {
	user := new(model.User)
	if err := l.db.WithContext(ctx).First(user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}

	rows := []struct {
		Type  string
		Count int64
	}{}
	if err := l.db.WithContext(ctx).Model(&model.CoinTransaction{}).
		Select("type, count(*) as count").
		Where("user_id = ?", userID).
		Group("type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	stats := &Statistics{
		CurrentBalance:    user.CoinBalance,
		TotalEarned:       user.TotalCoinsEarned,
		TotalSpent:        user.TotalCoinsSpent,
		LoginStreak:       user.LoginStreak,
		TransactionCounts: make(map[string]int64, len(rows)),
	}
	for _, row := range rows {
		stats.TransactionCounts[row.Type] = row.Count
	}
	return stats, nil
}
