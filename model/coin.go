package model

import "gorm.io/gorm"

// Coin transaction types. Signed amounts: earnings positive, spending negative.
const (
	TxPurchase         = "purchase"
	TxDailyReward      = "daily_reward"
	TxReferralBonus    = "referral_bonus"
	TxAdReward         = "ad_reward"
	TxMessageCost      = "message_cost"
	TxVideoCallCost    = "video_call_cost"
	TxVoiceCallCost    = "voice_call_cost"
	TxSuperMatchCost   = "super_match_cost"
	TxProfileBoostCost = "profile_boost_cost"
	TxGiftCost         = "gift_cost"
	TxRefund           = "refund"
	TxAdminAdjustment  = "admin_adjustment"
)

// CoinTransaction is an immutable ledger entry. Rows are created exactly once
// per balance mutation and never updated or deleted.
type CoinTransaction struct {
	gorm.Model
	UserID        uint   `gorm:"not null;index" json:"user_id"`
	Type          string `gorm:"not null;index" json:"type"`
	Amount        int64  `gorm:"not null" json:"amount"`
	BalanceBefore int64  `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64  `gorm:"not null" json:"balance_after"`
	Description   string `json:"description"`
	Metadata      string `json:"metadata"` // JSON object

	RelatedUserID    *uint `gorm:"index" json:"related_user_id,omitempty"`
	RelatedMessageID *uint `json:"related_message_id,omitempty"`
	RelatedMatchID   *uint `json:"related_match_id,omitempty"`

	PaymentProvider      string  `json:"payment_provider,omitempty"`
	PaymentTransactionID string  `gorm:"index" json:"payment_transaction_id,omitempty"`
	PaymentStatus        string  `json:"payment_status,omitempty"`
	PaymentAmount        float64 `json:"payment_amount,omitempty"`
	PaymentCurrency      string  `gorm:"default:'USD'" json:"payment_currency,omitempty"`

	ProcessedBy *uint `json:"processed_by,omitempty"`
}
