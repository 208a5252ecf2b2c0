package presence

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Room name helpers shared by the socket layer and the registry.
func UserRoom(userID uint) string { return fmt.Sprintf("user_%d", userID) }

func ConversationRoom(convID uint) string { return fmt.Sprintf("conversation_%d", convID) }

func CallRoom(callID string) string { return fmt.Sprintf("call_%s", callID) }

// Registry tracks online users and conversation-room membership in Redis.
// Everything here is ephemeral and advisory: it decides whether to push a
// real-time event or fall back to an offline notification, never a business
// or financial outcome. Entries are rebuilt on reconnect.
type Registry struct {
	rdb *redis.Client
}

func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

const (
	onlineUsersKey = "online_users"
	activeUsersKey = "active_users"
)

func roomKey(roomID uint) string { return fmt.Sprintf("room:%d", roomID) }

func userRoomsKey(userID uint) string { return fmt.Sprintf("user_rooms:%d", userID) }

// SetOnline records the user's live connection.
func (r *Registry) SetOnline(ctx context.Context, userID uint, connectionID string) error {
	field := strconv.FormatUint(uint64(userID), 10)
	if err := r.rdb.HSet(ctx, onlineUsersKey, field, connectionID).Err(); err != nil {
		return err
	}
	return r.rdb.SAdd(ctx, activeUsersKey, field).Err()
}

// SetOffline removes the user's presence and room memberships.
func (r *Registry) SetOffline(ctx context.Context, userID uint) error {
	field := strconv.FormatUint(uint64(userID), 10)
	if err := r.rdb.HDel(ctx, onlineUsersKey, field).Err(); err != nil {
		return err
	}
	if err := r.rdb.SRem(ctx, activeUsersKey, field).Err(); err != nil {
		return err
	}

	rooms, err := r.rdb.SMembers(ctx, userRoomsKey(userID)).Result()
	if err != nil {
		return err
	}
	for _, room := range rooms {
		roomID, err := strconv.ParseUint(room, 10, 64)
		if err != nil {
			continue
		}
		if err := r.LeaveRoom(ctx, userID, uint(roomID)); err != nil {
			return err
		}
	}
	return nil
}

// IsOnline reports whether the user currently has a live connection.
func (r *Registry) IsOnline(ctx context.Context, userID uint) (bool, error) {
	return r.rdb.SIsMember(ctx, activeUsersKey, strconv.FormatUint(uint64(userID), 10)).Result()
}

// OnlineUsers returns the ids of all currently connected users.
func (r *Registry) OnlineUsers(ctx context.Context) ([]uint, error) {
	members, err := r.rdb.SMembers(ctx, activeUsersKey).Result()
	if err != nil {
		return nil, err
	}
	return parseIDs(members), nil
}

// JoinRoom registers conversation-room membership for fan-out.
func (r *Registry) JoinRoom(ctx context.Context, userID, roomID uint) error {
	field := strconv.FormatUint(uint64(userID), 10)
	if err := r.rdb.SAdd(ctx, roomKey(roomID), field).Err(); err != nil {
		return err
	}
	return r.rdb.SAdd(ctx, userRoomsKey(userID), strconv.FormatUint(uint64(roomID), 10)).Err()
}

// LeaveRoom removes the membership in both directions.
func (r *Registry) LeaveRoom(ctx context.Context, userID, roomID uint) error {
	field := strconv.FormatUint(uint64(userID), 10)
	if err := r.rdb.SRem(ctx, roomKey(roomID), field).Err(); err != nil {
		return err
	}
	return r.rdb.SRem(ctx, userRoomsKey(userID), strconv.FormatUint(uint64(roomID), 10)).Err()
}

// MembersOf returns the user ids registered in a room.
func (r *Registry) MembersOf(ctx context.Context, roomID uint) ([]uint, error) {
	members, err := r.rdb.SMembers(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	return parseIDs(members), nil
}

func parseIDs(members []string) []uint {
	ids := make([]uint, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseUint(member, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(id))
	}
	return ids
}
