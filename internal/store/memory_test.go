package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/parley-chat/parley/internal/chat"
)

func TestMemoryStore_Identity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.IdentityByAddress(ctx, "alice@example.org")
	assert.ErrorIs(t, err, chat.ErrIdentityNotFound)

	created, err := s.CreateIdentity(ctx, "alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.org", created.Address)

	got, err := s.IdentityByAddress(ctx, "alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, created.Address, got.Address)
}

func TestMemoryStore_CreateGroupSeedsOwner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	group, err := s.CreateGroup(ctx, "general", "", "alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.org"}, group.Members)
	assert.Equal(t, "alice@example.org", group.OwnerAddress)

	got, err := s.GroupByID(ctx, group.ID)
	require.NoError(t, err)
	assert.True(t, got.HasMember("alice@example.org"))
}

func TestMemoryStore_GroupByIDNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GroupByID(context.Background(), NewGroupID())
	assert.ErrorIs(t, err, chat.ErrGroupNotFound)
}

func TestMemoryStore_AppendMemberIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	group, err := s.CreateGroup(ctx, "general", "", "alice@example.org")
	require.NoError(t, err)

	require.NoError(t, s.AppendMember(ctx, group.ID, "bob@example.org"))
	require.NoError(t, s.AppendMember(ctx, group.ID, "bob@example.org"))
	require.NoError(t, s.AppendMember(ctx, group.ID, "alice@example.org"))

	got, err := s.GroupByID(ctx, group.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice@example.org", "bob@example.org"}, got.Members)
}

func TestMemoryStore_AppendMemberUnknownGroup(t *testing.T) {
	s := NewMemoryStore()
	err := s.AppendMember(context.Background(), NewGroupID(), "bob@example.org")
	assert.ErrorIs(t, err, chat.ErrGroupNotFound)
}

func TestMemoryStore_ListGroupsOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	g1, err := s.CreateGroup(ctx, "first", "", "alice@example.org")
	require.NoError(t, err)
	g2, err := s.CreateGroup(ctx, "second", "", "bob@example.org")
	require.NoError(t, err)
	g3, err := s.CreateGroup(ctx, "third", "", "carol@example.org")
	require.NoError(t, err)
	require.NoError(t, s.AppendMember(ctx, g1.ID, "viewer@example.org"))

	groups, err := s.ListGroups(ctx, "viewer@example.org")
	require.NoError(t, err)
	require.Len(t, groups, 3)

	// Member groups first, then the rest newest-created first.
	assert.Equal(t, g1.ID, groups[0].ID)
	assert.Equal(t, g3.ID, groups[1].ID)
	assert.Equal(t, g2.ID, groups[2].ID)
}

func TestMemoryStore_ListGroupsHidesPrivate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.CreateGroup(ctx, "public", "", "alice@example.org")
	require.NoError(t, err)

	private, err := s.CreateGroup(ctx, "hidden", "", "alice@example.org")
	require.NoError(t, err)
	s.groups[private.ID].group.Private = true

	groups, err := s.ListGroups(ctx, "alice@example.org")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "public", groups[0].Name)
}

func TestMemoryStore_CreateMessageMalformedGroupID(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateMessage(context.Background(), "not-a-uuid", "alice@example.org", "hi")
	assert.ErrorIs(t, err, chat.ErrGroupNotFound)
}

func TestMemoryStore_CreateMessageMissingGroupSucceeds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Group existence is not validated; a well-formed id is enough.
	msg, err := s.CreateMessage(ctx, NewGroupID(), "alice@example.org", "into the void")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
}

func TestMemoryStore_MessageIDsMonotonic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	groupID := NewGroupID()

	var prev string
	for i := 0; i < 100; i++ {
		msg, err := s.CreateMessage(ctx, groupID, "alice@example.org", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		require.Greater(t, msg.ID, prev, "ids must sort in creation order")
		prev = msg.ID
	}
}

func TestMemoryStore_ConcurrentCreateMessageOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	groupID := NewGroupID()

	const senders = 16
	const perSender = 25

	var wg sync.WaitGroup
	wg.Add(senders)
	for i := 0; i < senders; i++ {
		go func(sender int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				_, err := s.CreateMessage(ctx, groupID, fmt.Sprintf("s%d@example.org", sender), "msg")
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	// Walking every page must see strictly descending ids: append order and
	// id order must agree even under concurrent senders.
	var prev string
	seen := 0
	cursor := ""
	for {
		page, err := s.LoadPage(ctx, groupID, cursor, 50)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, msg := range page {
			if prev != "" {
				require.Less(t, msg.ID, prev, "page order must be strictly descending")
			}
			prev = msg.ID
			seen++
		}
		cursor = page[len(page)-1].ID
	}
	assert.Equal(t, senders*perSender, seen)
}

func TestMemoryStore_LoadPageNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	groupID := NewGroupID()

	for i := 0; i < 3; i++ {
		_, err := s.CreateMessage(ctx, groupID, "alice@example.org", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	page, err := s.LoadPage(ctx, groupID, "", 50)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "m2", page[0].Body)
	assert.Equal(t, "m1", page[1].Body)
	assert.Equal(t, "m0", page[2].Body)
}

func TestMemoryStore_LoadPageExcludesDeleted(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	groupID := NewGroupID()

	msg, err := s.CreateMessage(ctx, groupID, "alice@example.org", "gone")
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, groupID, "alice@example.org", "kept")
	require.NoError(t, err)

	require.True(t, s.MarkDeleted(groupID, msg.ID))

	page, err := s.LoadPage(ctx, groupID, "", 50)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "kept", page[0].Body)
}

func TestMemoryStore_LoadPageCursor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	groupID := NewGroupID()

	var ids []string
	for i := 0; i < 5; i++ {
		msg, err := s.CreateMessage(ctx, groupID, "alice@example.org", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	page, err := s.LoadPage(ctx, groupID, ids[2], 50)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)
	assert.Equal(t, ids[0], page[1].ID)
}

// Property: walking pages backward by repeatedly passing the oldest id from
// the previous page yields every message exactly once, each page carrying
// min(pageSize, remaining).
func TestPropertyPaginationWalk(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewMemoryStore()
		ctx := context.Background()
		groupID := NewGroupID()

		total := rapid.IntRange(0, 120).Draw(t, "total")
		pageSize := rapid.IntRange(1, 50).Draw(t, "pageSize")

		for i := 0; i < total; i++ {
			if _, err := s.CreateMessage(ctx, groupID, "alice@example.org", fmt.Sprintf("m%d", i)); err != nil {
				t.Fatalf("creating message: %v", err)
			}
		}

		seen := make(map[string]bool)
		cursor := ""
		remaining := total
		for {
			page, err := s.LoadPage(ctx, groupID, cursor, pageSize)
			if err != nil {
				t.Fatalf("loading page: %v", err)
			}
			want := remaining
			if want > pageSize {
				want = pageSize
			}
			if len(page) != want {
				t.Fatalf("page size = %d, want %d", len(page), want)
			}
			if len(page) == 0 {
				break
			}
			for _, msg := range page {
				if seen[msg.ID] {
					t.Fatalf("duplicate message %s across pages", msg.ID)
				}
				seen[msg.ID] = true
			}
			remaining -= len(page)
			cursor = page[len(page)-1].ID
		}
		if len(seen) != total {
			t.Fatalf("walk yielded %d messages, want %d", len(seen), total)
		}
	})
}
