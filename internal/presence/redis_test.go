package presence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/testutil"
)

func TestRedisStore_JoinListLeave(t *testing.T) {
	s := testutil.NewRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkJoined(ctx, "g1", "c1", "alice@example.org"))
	require.NoError(t, s.MarkJoined(ctx, "g1", "c2", "bob@example.org"))

	present, err := s.ListPresent(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"c1": "alice@example.org",
		"c2": "bob@example.org",
	}, present)

	require.NoError(t, s.MarkLeft(ctx, "g1", "c1"))

	present, err = s.ListPresent(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"c2": "bob@example.org"}, present)
}

func TestRedisStore_ListUnknownGroupEmpty(t *testing.T) {
	s := testutil.NewRedisStore(t)

	present, err := s.ListPresent(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, present)
}

func TestRedisStore_PurgeConnection(t *testing.T) {
	s := testutil.NewRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterConnection(ctx, "c1", "alice@example.org"))
	require.NoError(t, s.MarkJoined(ctx, "g1", "c1", "alice@example.org"))
	require.NoError(t, s.MarkJoined(ctx, "g2", "c1", "alice@example.org"))
	require.NoError(t, s.MarkJoined(ctx, "g1", "c2", "bob@example.org"))

	require.NoError(t, s.PurgeConnection(ctx, "c1"))

	for _, groupID := range []string{"g1", "g2"} {
		present, err := s.ListPresent(ctx, groupID)
		require.NoError(t, err)
		assert.NotContains(t, present, "c1")
	}

	present, err := s.ListPresent(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"c2": "bob@example.org"}, present)

	// Purging again is a no-op, not an error.
	assert.NoError(t, s.PurgeConnection(ctx, "c1"))
}

func TestRedisStore_RegisterUnregister(t *testing.T) {
	s := testutil.NewRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterConnection(ctx, "c1", "alice@example.org"))
	require.NoError(t, s.UnregisterConnection(ctx, "c1"))
	assert.NoError(t, s.UnregisterConnection(ctx, "c1"))
}
