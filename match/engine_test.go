package match

import (
	"context"
	"sync"
	"testing"

	"matchlink-service/apperr"
	"matchlink-service/coin"
	"matchlink-service/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.User{}, &model.CoinTransaction{}, &model.Match{}, &model.Conversation{},
	))
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

// recordingNotifier captures match notifications for assertions.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) MatchFormed(targetID uint, notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func newTestEngine(t *testing.T, db *gorm.DB) *Engine {
	t.Helper()
	return NewEngine(db, coin.NewLedger(db), &recordingNotifier{})
}

func TestLikeCreatesPendingMatch(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", 0)
	bob := seedUser(t, db, "bob", 0)

	result, err := engine.Act(ctx, alice.ID, bob.ID, ActionLike)
	require.NoError(t, err)
	assert.False(t, result.IsMatch)
	assert.NotZero(t, result.MatchID)

	row := new(model.Match)
	require.NoError(t, db.First(row, result.MatchID).Error)
	assert.Equal(t, model.MatchPending, row.Status)
	assert.Equal(t, alice.ID, row.InitiatedBy)
	assert.Equal(t, model.PairKeyFor(alice.ID, bob.ID), row.PairKey)
}

func TestReciprocalLikeFormsMatch(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", 0)
	bob := seedUser(t, db, "bob", 0)

	_, err := engine.Act(ctx, alice.ID, bob.ID, ActionLike)
	require.NoError(t, err)

	result, err := engine.Act(ctx, bob.ID, alice.ID, ActionLike)
	require.NoError(t, err)
	assert.True(t, result.IsMatch)
	assert.NotZero(t, result.ConversationID)

	// Exactly one row for the pair, visible from either side.
	var count int64
	require.NoError(t, db.Model(&model.Match{}).
		Where("pair_key = ?", model.PairKeyFor(bob.ID, alice.ID)).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)

	row := new(model.Match)
	require.NoError(t, db.First(row, result.MatchID).Error)
	assert.Equal(t, model.MatchMatched, row.Status)
	assert.NotNil(t, row.MatchedAt)

	// Exactly one conversation under the match id.
	require.NoError(t, db.Model(&model.Conversation{}).
		Where("match_id = ?", result.MatchID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPassOnPendingLikeRejects(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", 0)
	bob := seedUser(t, db, "bob", 0)

	_, err := engine.Act(ctx, alice.ID, bob.ID, ActionLike)
	require.NoError(t, err)

	result, err := engine.Act(ctx, bob.ID, alice.ID, ActionPass)
	require.NoError(t, err)
	assert.False(t, result.IsMatch)

	row := new(model.Match)
	require.NoError(t, db.First(row, result.MatchID).Error)
	assert.Equal(t, model.MatchRejected, row.Status)

	var count int64
	require.NoError(t, db.Model(&model.Conversation{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRepeatedActionReturnsConflictWithState(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", 0)
	bob := seedUser(t, db, "bob", 0)

	first, err := engine.Act(ctx, alice.ID, bob.ID, ActionLike)
	require.NoError(t, err)

	result, err := engine.Act(ctx, alice.ID, bob.ID, ActionLike)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	require.NotNil(t, result)
	assert.Equal(t, first.MatchID, result.MatchID)
	assert.False(t, result.IsMatch)

	// Repeating after the match formed still reports the matched state.
	_, err = engine.Act(ctx, bob.ID, alice.ID, ActionLike)
	require.NoError(t, err)
	result, err = engine.Act(ctx, alice.ID, bob.ID, ActionLike)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	require.NotNil(t, result)
	assert.True(t, result.IsMatch)
	assert.NotZero(t, result.ConversationID)
}

func TestSuperLikeDebitsActor(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", 15)
	bob := seedUser(t, db, "bob", 0)

	result, err := engine.Act(ctx, alice.ID, bob.ID, ActionSuperLike)
	require.NoError(t, err)
	assert.True(t, result.IsSuperMatch)

	fresh := new(model.User)
	require.NoError(t, db.First(fresh, alice.ID).Error)
	assert.Equal(t, int64(5), fresh.CoinBalance)

	entry := new(model.CoinTransaction)
	require.NoError(t, db.Where("user_id = ? AND type = ?", alice.ID, model.TxSuperMatchCost).
		First(entry).Error)
	assert.Equal(t, int64(-10), entry.Amount)
	require.NotNil(t, entry.RelatedUserID)
	assert.Equal(t, bob.ID, *entry.RelatedUserID)
}

func TestSuperLikeInsufficientFundsWritesNothing(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", 3)
	bob := seedUser(t, db, "bob", 0)

	_, err := engine.Act(ctx, alice.ID, bob.ID, ActionSuperLike)
	_, ok := apperr.IsInsufficientFunds(err)
	require.True(t, ok)

	var count int64
	require.NoError(t, db.Model(&model.Match{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRepeatedSuperLikeIsNotCharged(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", 20)
	bob := seedUser(t, db, "bob", 0)

	first, err := engine.Act(ctx, alice.ID, bob.ID, ActionSuperLike)
	require.NoError(t, err)

	// The duplicate reports the pair's state but never reaches the ledger.
	result, err := engine.Act(ctx, alice.ID, bob.ID, ActionSuperLike)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	require.NotNil(t, result)
	assert.Equal(t, first.MatchID, result.MatchID)

	fresh := new(model.User)
	require.NoError(t, db.First(fresh, alice.ID).Error)
	assert.Equal(t, int64(10), fresh.CoinBalance)

	var count int64
	require.NoError(t, db.Model(&model.CoinTransaction{}).
		Where("user_id = ? AND type = ?", alice.ID, model.TxSuperMatchCost).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// Same after the match forms: repeating a super like on a matched pair
	// leaves the balance alone.
	_, err = engine.Act(ctx, bob.ID, alice.ID, ActionLike)
	require.NoError(t, err)
	result, err = engine.Act(ctx, alice.ID, bob.ID, ActionSuperLike)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	require.NotNil(t, result)
	assert.True(t, result.IsMatch)

	require.NoError(t, db.First(fresh, alice.ID).Error)
	assert.Equal(t, int64(10), fresh.CoinBalance)
}

func TestSuperLikeOnPendingLikeFormsSuperMatch(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", 0)
	bob := seedUser(t, db, "bob", 20)

	_, err := engine.Act(ctx, alice.ID, bob.ID, ActionLike)
	require.NoError(t, err)

	result, err := engine.Act(ctx, bob.ID, alice.ID, ActionSuperLike)
	require.NoError(t, err)
	assert.True(t, result.IsMatch)
	assert.True(t, result.IsSuperMatch)
}

func TestActOnInactiveTarget(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", 0)
	bob := seedUser(t, db, "bob", 0)
	require.NoError(t, db.Model(bob).Update("is_active", false).Error)

	_, err := engine.Act(ctx, alice.ID, bob.ID, ActionLike)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestActOnSelf(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	alice := seedUser(t, db, "alice", 0)

	_, err := engine.Act(context.Background(), alice.ID, alice.ID, ActionLike)
	assert.ErrorIs(t, err, apperr.ErrDenied)
}

func TestUnmatchArchivesConversation(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", 0)
	bob := seedUser(t, db, "bob", 0)

	_, err := engine.Act(ctx, alice.ID, bob.ID, ActionLike)
	require.NoError(t, err)
	result, err := engine.Act(ctx, bob.ID, alice.ID, ActionLike)
	require.NoError(t, err)

	require.NoError(t, engine.Unmatch(ctx, alice.ID, result.MatchID))

	row := new(model.Match)
	require.NoError(t, db.First(row, result.MatchID).Error)
	assert.Equal(t, model.MatchRejected, row.Status)

	conversation := new(model.Conversation)
	require.NoError(t, db.First(conversation, result.ConversationID).Error)
	assert.Equal(t, model.ConversationArchived, conversation.Status)

	// Unmatching a non-participant or a non-matched row fails.
	assert.ErrorIs(t, engine.Unmatch(ctx, alice.ID, result.MatchID), apperr.ErrNotFound)
}

func TestBlockFromAnyState(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", 0)
	bob := seedUser(t, db, "bob", 0)
	carol := seedUser(t, db, "carol", 0)

	// Block with no prior row.
	require.NoError(t, engine.Block(ctx, alice.ID, carol.ID))
	row := new(model.Match)
	require.NoError(t, db.Where("pair_key = ?", model.PairKeyFor(alice.ID, carol.ID)).First(row).Error)
	assert.Equal(t, model.MatchBlocked, row.Status)

	// Block over an existing match also blocks the conversation.
	_, err := engine.Act(ctx, alice.ID, bob.ID, ActionLike)
	require.NoError(t, err)
	result, err := engine.Act(ctx, bob.ID, alice.ID, ActionLike)
	require.NoError(t, err)

	require.NoError(t, engine.Block(ctx, bob.ID, alice.ID))
	conversation := new(model.Conversation)
	require.NoError(t, db.First(conversation, result.ConversationID).Error)
	assert.True(t, conversation.IsBlocked)
}

func TestConcurrentReciprocalLikes(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", 0)
	bob := seedUser(t, db, "bob", 0)

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = engine.Act(ctx, alice.ID, bob.ID, ActionLike)
	}()
	go func() {
		defer wg.Done()
		results[1], errs[1] = engine.Act(ctx, bob.ID, alice.ID, ActionLike)
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	var count int64
	require.NoError(t, db.Model(&model.Match{}).
		Where("pair_key = ?", model.PairKeyFor(alice.ID, bob.ID)).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// Whichever order the two landed in, the pair ends matched.
	row := new(model.Match)
	require.NoError(t, db.Where("pair_key = ?", model.PairKeyFor(alice.ID, bob.ID)).First(row).Error)
	assert.Equal(t, model.MatchMatched, row.Status)
	assert.True(t, results[0].IsMatch || results[1].IsMatch)
}

func TestDiscoverExcludesSeenPairs(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", 0)
	bob := seedUser(t, db, "bob", 0)
	carol := seedUser(t, db, "carol", 0)
	dave := seedUser(t, db, "dave", 0)
	require.NoError(t, db.Model(dave).Update("is_banned", true).Error)

	_, err := engine.Act(ctx, alice.ID, bob.ID, ActionLike)
	require.NoError(t, err)

	candidates, err := engine.Discover(ctx, alice.ID, 20, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, carol.ID, candidates[0].User.ID)
}

func TestLikesReceivedAndStats(t *testing.T) {
	db := testDB(t)
	engine := newTestEngine(t, db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", 0)
	bob := seedUser(t, db, "bob", 0)
	carol := seedUser(t, db, "carol", 0)

	_, err := engine.Act(ctx, bob.ID, alice.ID, ActionLike)
	require.NoError(t, err)
	_, err = engine.Act(ctx, carol.ID, alice.ID, ActionLike)
	require.NoError(t, err)
	_, err = engine.Act(ctx, alice.ID, bob.ID, ActionLike)
	require.NoError(t, err)

	likes, err := engine.LikesReceived(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, likes, 1)
	assert.Equal(t, carol.ID, likes[0].User.ID)

	stats, err := engine.StatsFor(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalMatches)
	assert.Equal(t, int64(1), stats.PendingLikes)
	assert.Equal(t, int64(1), stats.LikesSent)
	assert.Equal(t, int64(2), stats.LikesReceived)
}
