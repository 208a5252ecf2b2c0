package coin

import (
	"context"
	"sync"
	"testing"
	"time"

	"matchlink-service/apperr"
	"matchlink-service/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB opens an isolated in-memory database. A single connection forces
// concurrent transactions to serialize the way Postgres row locks would.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&model.User{}, &model.CoinTransaction{}))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, username string, balance int64) *model.User {
	t.Helper()
	user := &model.User{
		Username:    username,
		Email:       username + "@example.com",
		IsActive:    true,
		CoinBalance: balance,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestDebitAndCredit(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()
	user := seedUser(t, db, "alice", 100)

	balance, err := ledger.Debit(ctx, user.ID, 30, model.TxVideoCallCost, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)

	balance, err = ledger.Credit(ctx, user.ID, 50, model.TxAdReward, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, int64(120), balance)

	fresh := new(model.User)
	require.NoError(t, db.First(fresh, user.ID).Error)
	assert.Equal(t, int64(120), fresh.CoinBalance)
	assert.Equal(t, int64(30), fresh.TotalCoinsSpent)
	assert.Equal(t, int64(50), fresh.TotalCoinsEarned)
}

func TestDebitInsufficientFunds(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()
	user := seedUser(t, db, "bob", 3)

	_, err := ledger.Debit(ctx, user.ID, 5, model.TxVideoCallCost, Metadata{})
	funds, ok := apperr.IsInsufficientFunds(err)
	require.True(t, ok)
	assert.Equal(t, int64(5), funds.Required)
	assert.Equal(t, int64(3), funds.Current)

	// Nothing was written.
	fresh := new(model.User)
	require.NoError(t, db.First(fresh, user.ID).Error)
	assert.Equal(t, int64(3), fresh.CoinBalance)

	var count int64
	require.NoError(t, db.Model(&model.CoinTransaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDebitRejectsNonPositiveAmounts(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()
	user := seedUser(t, db, "carol", 10)

	_, err := ledger.Debit(ctx, user.ID, 0, model.TxMessageCost, Metadata{})
	assert.Error(t, err)
	_, err = ledger.Debit(ctx, user.ID, -5, model.TxMessageCost, Metadata{})
	assert.Error(t, err)
	_, err = ledger.Credit(ctx, user.ID, 0, model.TxAdReward, Metadata{})
	assert.Error(t, err)
}

func TestDebitUnknownUser(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db)

	_, err := ledger.Debit(context.Background(), 9999, 1, model.TxMessageCost, Metadata{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()
	user := seedUser(t, db, "dave", 10)

	const workers = 20
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ledger.Debit(ctx, user.ID, 1, model.TxMessageCost, Metadata{})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			_, ok := apperr.IsInsufficientFunds(err)
			assert.True(t, ok, "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 10, succeeded)

	fresh := new(model.User)
	require.NoError(t, db.First(fresh, user.ID).Error)
	assert.Equal(t, int64(0), fresh.CoinBalance)

	var count int64
	require.NoError(t, db.Model(&model.CoinTransaction{}).Where("user_id = ?", user.ID).Count(&count).Error)
	assert.Equal(t, int64(10), count)
}

func TestLedgerEntriesChain(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()
	user := seedUser(t, db, "erin", 20)

	_, err := ledger.Debit(ctx, user.ID, 5, model.TxVideoCallCost, Metadata{})
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, user.ID, 10, model.TxAdReward, Metadata{})
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, user.ID, 1, model.TxMessageCost, Metadata{})
	require.NoError(t, err)

	entries := []model.CoinTransaction{}
	require.NoError(t, db.Where("user_id = ?", user.ID).Order("id ASC").Find(&entries).Error)
	require.Len(t, entries, 3)

	running := int64(20)
	for _, entry := range entries {
		assert.Equal(t, running, entry.BalanceBefore)
		assert.Equal(t, running+entry.Amount, entry.BalanceAfter)
		running = entry.BalanceAfter
	}
	assert.Equal(t, int64(-5), entries[0].Amount)
	assert.Equal(t, int64(10), entries[1].Amount)
	assert.Equal(t, "Message sent (1 coins)", entries[2].Description)
}

func TestProcessPurchaseDedupe(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()
	user := seedUser(t, db, "frank", 0)

	payment := PaymentInfo{Provider: "stripe", TransactionID: "pi_123", Amount: 4.99, Currency: "USD"}

	balance, err := ledger.ProcessPurchase(ctx, user.ID, 550, payment)
	require.NoError(t, err)
	assert.Equal(t, int64(550), balance)

	// Replaying the same provider transaction id credits nothing.
	_, err = ledger.ProcessPurchase(ctx, user.ID, 550, payment)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	fresh := new(model.User)
	require.NoError(t, db.First(fresh, user.ID).Error)
	assert.Equal(t, int64(550), fresh.CoinBalance)

	var count int64
	require.NoError(t, db.Model(&model.CoinTransaction{}).
		Where("payment_transaction_id = ?", "pi_123").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestProcessPurchaseRequiresTransactionID(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db)
	user := seedUser(t, db, "grace", 0)

	_, err := ledger.ProcessPurchase(context.Background(), user.ID, 100, PaymentInfo{Provider: "stripe"})
	assert.Error(t, err)
}

func TestClaimDailyReward(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()
	user := seedUser(t, db, "heidi", 0)

	reward, err := ledger.ClaimDailyReward(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), reward.BaseReward)
	assert.Equal(t, int64(2), reward.StreakBonus)
	assert.Equal(t, int64(12), reward.CoinsEarned)
	assert.Equal(t, 1, reward.LoginStreak)
	assert.Equal(t, int64(12), reward.NewBalance)

	// A second claim inside the cooldown is rejected.
	_, err = ledger.ClaimDailyReward(ctx, user.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestClaimDailyRewardStreakBonusCap(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()
	user := seedUser(t, db, "ivan", 0)

	past := time.Now().Add(-25 * time.Hour)
	require.NoError(t, db.Model(user).Updates(map[string]any{
		"login_streak":      40,
		"last_daily_reward": past,
	}).Error)

	reward, err := ledger.ClaimDailyReward(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 41, reward.LoginStreak)
	assert.Equal(t, int64(50), reward.StreakBonus)
	assert.Equal(t, int64(60), reward.CoinsEarned)
}

func TestHistoryFiltersByType(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()
	user := seedUser(t, db, "judy", 100)

	_, err := ledger.Debit(ctx, user.ID, 1, model.TxMessageCost, Metadata{})
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, user.ID, 5, model.TxVideoCallCost, Metadata{})
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, user.ID, 1, model.TxMessageCost, Metadata{})
	require.NoError(t, err)

	all, err := ledger.History(ctx, user.ID, "", 50, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	messages, err := ledger.History(ctx, user.ID, model.TxMessageCost, 50, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestStatistics(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()
	user := seedUser(t, db, "kate", 50)

	_, err := ledger.Debit(ctx, user.ID, 10, model.TxSuperMatchCost, Metadata{})
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, user.ID, 20, model.TxAdReward, Metadata{})
	require.NoError(t, err)

	stats, err := ledger.Statistics(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), stats.CurrentBalance)
	assert.Equal(t, int64(20), stats.TotalEarned)
	assert.Equal(t, int64(10), stats.TotalSpent)
	assert.Equal(t, int64(1), stats.TransactionCounts[model.TxSuperMatchCost])
	assert.Equal(t, int64(1), stats.TransactionCounts[model.TxAdReward])
}
