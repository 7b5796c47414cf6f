package coordination_test

import (
	"context"
	"testing"
	"time"

	"github.com/dom/league-match-engine/internal/coordination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSetWithTTL(t *testing.T) {
	store := coordination.NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, coordination.ErrNotFound)

	require.NoError(t, store.SetWithTTL(ctx, "key", []byte("value"), time.Minute))
	data, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), data)

	// A very short TTL should expire the key.
	require.NoError(t, store.SetWithTTL(ctx, "ephemeral", []byte("x"), time.Millisecond))
	time.Sleep(10 * time.Millisecond)
	_, err = store.Get(ctx, "ephemeral")
	assert.ErrorIs(t, err, coordination.ErrNotFound)
}

func TestMemoryStore_HashOps(t *testing.T) {
	store := coordination.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.HSet(ctx, "servers", "srv-1", []byte("a")))
	require.NoError(t, store.HSet(ctx, "servers", "srv-2", []byte("b")))

	all, err := store.HGetAll(ctx, "servers")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, []byte("a"), all["srv-1"])

	require.NoError(t, store.HDel(ctx, "servers", "srv-1"))
	all, err = store.HGetAll(ctx, "servers")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryStore_SetOps(t *testing.T) {
	store := coordination.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SAdd(ctx, "matches:active", "m1", "m2"))
	require.NoError(t, store.SAdd(ctx, "matches:active", "m2"))

	members, err := store.SMembers(ctx, "matches:active")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, members)

	require.NoError(t, store.SRem(ctx, "matches:active", "m1"))
	members, err = store.SMembers(ctx, "matches:active")
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, members)
}

func TestMemoryStore_PatternSubscribe(t *testing.T) {
	store := coordination.NewMemoryStore()
	ctx := context.Background()

	sub, err := store.PSubscribe(ctx, coordination.PatternMatchState)
	require.NoError(t, err)
	defer sub.Close()

	env, err := coordination.NewEnvelope(coordination.MsgMatchStateUpdated, "srv-1", map[string]string{"matchId": "m1"})
	require.NoError(t, err)
	require.NoError(t, store.Publish(ctx, coordination.ChannelMatchState("m1"), env))

	// An envelope on a non-matching channel must not be delivered.
	other, err := coordination.NewEnvelope(coordination.MsgServerHeartbeat, "srv-1", nil)
	require.NoError(t, err)
	require.NoError(t, store.Publish(ctx, coordination.ChannelServers, other))

	select {
	case got := <-sub.Messages():
		assert.Equal(t, coordination.MsgMatchStateUpdated, got.Type)
		assert.Equal(t, "srv-1", got.Source)
		assert.Equal(t, coordination.ChannelMatchState("m1"), got.Channel)
	case <-time.After(time.Second):
		t.Fatal("expected a match state message")
	}

	select {
	case got := <-sub.Messages():
		t.Fatalf("unexpected message delivered: %s", got.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryStore_CloseTerminatesSubscriptions(t *testing.T) {
	store := coordination.NewMemoryStore()

	sub, err := store.PSubscribe(context.Background(), "coord:*")
	require.NoError(t, err)

	require.NoError(t, store.Close())

	_, open := <-sub.Messages()
	assert.False(t, open)
}
