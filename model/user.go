package model

import (
	"time"

	"gorm.io/gorm"
)

// User struct. Profile fields are owned by the external profile service and
// are read-only here; the coin fields are mutated only through the ledger.
type User struct {
	gorm.Model
	Username          string     `gorm:"uniqueIndex;not null" json:"username"`
	Email             string     `gorm:"uniqueIndex;not null" json:"email"`
	DisplayName       string     `json:"display_name"`
	Bio               string     `json:"bio"`
	ProfilePictureURL string     `json:"profile_picture_url"`
	DateOfBirth       *time.Time `json:"-"`
	Gender            string     `json:"gender"`
	Interests         string     `gorm:"default:'[]'" json:"interests"` // JSON array of strings
	Latitude          *float64   `json:"-"`
	Longitude         *float64   `json:"-"`
	LastActive        *time.Time `json:"last_active"`
	IsActive          bool       `gorm:"default:true" json:"-"`
	IsBanned          bool       `gorm:"default:false" json:"-"`
	IsAdmin           bool       `gorm:"default:false" json:"-"`

	CoinBalance      int64      `gorm:"not null;default:0" json:"coin_balance"`
	TotalCoinsEarned int64      `gorm:"not null;default:0" json:"total_coins_earned"`
	TotalCoinsSpent  int64      `gorm:"not null;default:0" json:"total_coins_spent"`
	LoginStreak      int        `gorm:"default:0" json:"login_streak"`
	LastDailyReward  *time.Time `json:"-"`

	AllowVideoCalls bool   `gorm:"default:true" json:"allow_video_calls"`
	AllowVoiceCalls bool   `gorm:"default:true" json:"allow_voice_calls"`
	DeviceTokens    string `gorm:"default:'[]'" json:"-"` // JSON array of push tokens
}
