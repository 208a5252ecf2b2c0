package match

import (
	"context"
	"errors"
	"sort"
	"time"

	"matchlink-service/apperr"
	"matchlink-service/model"

	"gorm.io/gorm"
)

// Candidate is one discovery result with its score for the viewer.
type Candidate struct {
	User               model.User `json:"user"`
	CompatibilityScore int        `json:"compatibility_score"`
}

// Discover returns active candidates the viewer has not acted on yet,
// scored and sorted best first.
func (e *Engine) Discover(ctx context.Context, viewerID uint, limit, offset int) ([]Candidate, error) {
	viewer := new(model.User)
	if err := e.db.WithContext(ctx).First(viewer, viewerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	// Every pair the viewer is already part of, regardless of status.
	seen := e.db.Model(&model.Match{}).
		Select("CASE WHEN user1_id = ? THEN user2_id ELSE user1_id END", viewerID).
		Where("user1_id = ? OR user2_id = ?", viewerID, viewerID)

	users := []model.User{}
	err := e.db.WithContext(ctx).
		Where("id <> ? AND is_active = ? AND is_banned = ?", viewerID, true, false).
		Where("id NOT IN (?)", seen).
		Limit(limit).
		Offset(offset).
		Find(&users).Error
	if err != nil {
		return nil, err
	}

	now := time.Now()
	candidates := make([]Candidate, 0, len(users))
	for i := range users {
		candidates = append(candidates, Candidate{
			User:               users[i],
			CompatibilityScore: CompatibilityScore(viewer, &users[i], now, e.jitter),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CompatibilityScore > candidates[j].CompatibilityScore
	})
	return candidates, nil
}

// MatchEntry pairs a matched row with the peer's profile and conversation.
type MatchEntry struct {
	Match          model.Match `json:"match"`
	User           model.User  `json:"user"`
	ConversationID uint        `json:"conversation_id,omitempty"`
}

// Matches lists the user's formed matches, newest first.
func (e *Engine) Matches(ctx context.Context, userID uint) ([]MatchEntry, error) {
	matches := []model.Match{}
	err := e.db.WithContext(ctx).
		Where("(user1_id = ? OR user2_id = ?) AND status = ?", userID, userID, model.MatchMatched).
		Order("matched_at DESC").
		Find(&matches).Error
	if err != nil {
		return nil, err
	}

	entries := make([]MatchEntry, 0, len(matches))
	for _, match := range matches {
		peerID := match.User1ID
		if peerID == userID {
			peerID = match.User2ID
		}
		peer := new(model.User)
		if err := e.db.WithContext(ctx).First(peer, peerID).Error; err != nil {
			continue
		}

		entry := MatchEntry{Match: match, User: *peer}
		conversation := new(model.Conversation)
		if err := e.db.WithContext(ctx).Where("match_id = ?", match.ID).First(conversation).Error; err == nil {
			entry.ConversationID = conversation.ID
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// LikesReceived lists users with a pending like towards the viewer.
func (e *Engine) LikesReceived(ctx context.Context, userID uint) ([]MatchEntry, error) {
	matches := []model.Match{}
	err := e.db.WithContext(ctx).
		Where("(user1_id = ? OR user2_id = ?) AND status = ? AND initiated_by <> ?",
			userID, userID, model.MatchPending, userID).
		Order("created_at DESC").
		Find(&matches).Error
	if err != nil {
		return nil, err
	}

	entries := make([]MatchEntry, 0, len(matches))
	for _, match := range matches {
		liker := new(model.User)
		if err := e.db.WithContext(ctx).First(liker, match.InitiatedBy).Error; err != nil {
			continue
		}
		entries = append(entries, MatchEntry{Match: match, User: *liker})
	}
	return entries, nil
}

// Stats summarizes the user's matching activity.
type Stats struct {
	TotalMatches  int64 `json:"total_matches"`
	SuperMatches  int64 `json:"super_matches"`
	PendingLikes  int64 `json:"pending_likes"`
	LikesSent     int64 `json:"likes_sent"`
	LikesReceived int64 `json:"likes_received"`
}

func (e *Engine) StatsFor(ctx context.Context, userID uint) (*Stats, error) {
	stats := new(Stats)
	db := e.db.WithContext(ctx).Model(&model.Match{})

	if err := db.Session(&gorm.Session{}).
		Where("(user1_id = ? OR user2_id = ?) AND status = ?", userID, userID, model.MatchMatched).
		Count(&stats.TotalMatches).Error; err != nil {
		return nil, err
	}
	if err := db.Session(&gorm.Session{}).
		Where("(user1_id = ? OR user2_id = ?) AND status = ? AND is_super_match = ?",
			userID, userID, model.MatchMatched, true).
		Count(&stats.SuperMatches).Error; err != nil {
		return nil, err
	}
	if err := db.Session(&gorm.Session{}).
		Where("(user1_id = ? OR user2_id = ?) AND status = ? AND initiated_by <> ?",
			userID, userID, model.MatchPending, userID).
		Count(&stats.PendingLikes).Error; err != nil {
		return nil, err
	}
	if err := db.Session(&gorm.Session{}).
		Where("initiated_by = ?", userID).
		Count(&stats.LikesSent).Error; err != nil {
		return nil, err
	}
	if err := db.Session(&gorm.Session{}).
		Where("(user1_id = ? OR user2_id = ?) AND initiated_by <> ?", userID, userID, userID).
		Count(&stats.LikesReceived).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
