package presence

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRegistry connects to a real Redis when REDIS_ADDR is set, otherwise
// skips. Keys are flushed from the chosen test database first.
func testRegistry(t *testing.T) *Registry {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return NewRegistry(client)
}

func TestRoomNames(t *testing.T) {
	assert.Equal(t, "user_42", UserRoom(42))
	assert.Equal(t, "conversation_7", ConversationRoom(7))
	assert.Equal(t, "call_abc", CallRoom("abc"))
}

func TestOnlineLifecycle(t *testing.T) {
	registry := testRegistry(t)
	ctx := context.Background()

	online, err := registry.IsOnline(ctx, 1)
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, registry.SetOnline(ctx, 1, "socket-1"))
	online, err = registry.IsOnline(ctx, 1)
	require.NoError(t, err)
	assert.True(t, online)

	users, err := registry.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, users)

	require.NoError(t, registry.SetOffline(ctx, 1))
	online, err = registry.IsOnline(ctx, 1)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestRoomMembership(t *testing.T) {
	registry := testRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.SetOnline(ctx, 1, "socket-1"))
	require.NoError(t, registry.JoinRoom(ctx, 1, 100))
	require.NoError(t, registry.JoinRoom(ctx, 2, 100))

	members, err := registry.MembersOf(ctx, 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1, 2}, members)

	require.NoError(t, registry.LeaveRoom(ctx, 2, 100))
	members, err = registry.MembersOf(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, members)

	// Going offline clears every room the user joined.
	require.NoError(t, registry.JoinRoom(ctx, 1, 101))
	require.NoError(t, registry.SetOffline(ctx, 1))
	members, err = registry.MembersOf(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, members)
	members, err = registry.MembersOf(ctx, 101)
	require.NoError(t, err)
	assert.Empty(t, members)
}
