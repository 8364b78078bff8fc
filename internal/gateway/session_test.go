package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/store"
)

type sessionEnv struct {
	durable  *store.MemoryStore
	presence *presence.MemoryStore
	hub      *Hub
	verifier *auth.Verifier
	gate     *auth.Gate
	router   *Router
	cfg      config.GatewayConfig
}

func newSessionEnv(t *testing.T) *sessionEnv {
	t.Helper()
	logger := zap.NewNop()
	durable := store.NewMemoryStore()
	pres := presence.NewMemoryStore()
	hub := NewHub(logger)
	verifier := auth.NewVerifier(config.AuthConfig{
		Secret:   "0123456789abcdef0123456789abcdef",
		Issuer:   "parley",
		TokenTTL: time.Hour,
	})
	return &sessionEnv{
		durable:  durable,
		presence: pres,
		hub:      hub,
		verifier: verifier,
		gate:     auth.NewGate(verifier, durable),
		router:   NewRouter(pres, durable, hub, logger),
		cfg: config.GatewayConfig{
			SendBuffer:     16,
			PageSize:       5,
			WriteTimeout:   5 * time.Second,
			PongTimeout:    10 * time.Second,
			PingInterval:   5 * time.Second,
			MaxMessageSize: 1 << 16,
		},
	}
}

func (e *sessionEnv) newSession(id string) *Session {
	return NewSession(id, e.gate, e.router, e.durable, e.presence, e.hub, e.cfg, zap.NewNop())
}

// activeSession authenticates and activates a session for address, returning
// the session and its outbox with the connected ack already consumed.
func (e *sessionEnv) activeSession(t *testing.T, id, address string) (*Session, *Outbox) {
	t.Helper()
	ctx := context.Background()

	if _, err := e.durable.IdentityByAddress(ctx, address); err != nil {
		_, err = e.durable.CreateIdentity(ctx, address)
		require.NoError(t, err)
	}
	token, err := e.verifier.Mint(address)
	require.NoError(t, err)

	session := e.newSession(id)
	require.NoError(t, session.Authenticate(ctx, token))

	outbox := NewOutbox(id, e.cfg.SendBuffer)
	require.NoError(t, session.Activate(ctx, outbox))

	ack := recvFrame(t, outbox)
	require.Equal(t, EventConnected, ack.Event)
	return session, outbox
}

func mustFrame(t *testing.T, event string, data any) Frame {
	t.Helper()
	frame, err := NewFrame(event, data)
	require.NoError(t, err)
	return frame
}

func decodeResult(t *testing.T, frame Frame) Result {
	t.Helper()
	var result Result
	require.NoError(t, json.Unmarshal(frame.Data, &result))
	return result
}

func TestSessionLifecycle(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	session := env.newSession("conn-1")
	assert.Equal(t, StateConnecting, session.State())

	_, err := env.durable.CreateIdentity(ctx, "alice@example.com")
	require.NoError(t, err)
	token, err := env.verifier.Mint("alice@example.com")
	require.NoError(t, err)

	require.NoError(t, session.Authenticate(ctx, token))
	assert.Equal(t, StateAuthenticated, session.State())
	assert.Equal(t, "alice@example.com", session.Identity().Address)

	// Double authentication is a state error.
	assert.Error(t, session.Authenticate(ctx, token))

	outbox := NewOutbox("conn-1", 16)
	require.NoError(t, session.Activate(ctx, outbox))
	assert.Equal(t, StateActive, session.State())

	ack := recvFrame(t, outbox)
	require.Equal(t, EventConnected, ack.Event)
	var connected ConnectedPayload
	require.NoError(t, json.Unmarshal(ack.Data, &connected))
	assert.Equal(t, "conn-1", connected.ConnectionID)

	addr, ok := env.presence.Connection("conn-1")
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", addr)

	session.Terminate(ctx)
	assert.Equal(t, StateTerminated, session.State())
	_, ok = env.presence.Connection("conn-1")
	assert.False(t, ok)

	// Idempotent.
	session.Terminate(ctx)
}

func TestSessionAuthenticationFailureTerminates(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing token", token: ""},
		{name: "garbage token", token: "not-a-jwt"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			session := env.newSession("conn-" + tc.name)
			require.Error(t, session.Authenticate(ctx, tc.token))
			assert.Equal(t, StateTerminated, session.State())

			// A terminated session cannot be activated.
			assert.Error(t, session.Activate(ctx, NewOutbox("x", 4)))
		})
	}
}

func TestSessionAuthenticationUnknownIdentity(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	token, err := env.verifier.Mint("nobody@example.com")
	require.NoError(t, err)

	session := env.newSession("conn-1")
	err = session.Authenticate(ctx, token)
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrInvalidToken)
	assert.Equal(t, StateTerminated, session.State())
}

func TestSessionEventsDroppedOutsideActive(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	session := env.newSession("conn-1")
	// Connecting session: nothing to observe except no panic and no state
	// change.
	session.HandleEvent(ctx, Frame{Event: EventGetGroups})
	assert.Equal(t, StateConnecting, session.State())
}

func TestSessionGetGroups(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()
	session, outbox := env.activeSession(t, "conn-1", "alice@example.com")

	// Empty result is still ok:true.
	session.HandleEvent(ctx, Frame{Event: EventGetGroups})
	frame := recvFrame(t, outbox)
	require.Equal(t, EventGroups, frame.Event)
	result := decodeResult(t, frame)
	assert.True(t, result.OK)

	_, err := env.durable.CreateGroup(ctx, "general", "", "alice@example.com")
	require.NoError(t, err)

	session.HandleEvent(ctx, Frame{Event: EventGetGroups})
	frame = recvFrame(t, outbox)
	result = decodeResult(t, frame)
	require.True(t, result.OK)

	raw, err := json.Marshal(result.Data)
	require.NoError(t, err)
	var groups []GroupPayload
	require.NoError(t, json.Unmarshal(raw, &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, "general", groups[0].Name)
	assert.Equal(t, "alice@example.com", groups[0].Owner)
}

func TestSessionCreateGroup(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()
	session, outbox := env.activeSession(t, "conn-1", "alice@example.com")

	session.HandleEvent(ctx, mustFrame(t, EventCreateGroup, CreateGroupRequest{Name: "general", Description: "the lobby"}))
	frame := recvFrame(t, outbox)
	require.Equal(t, EventGroupCreated, frame.Event)
	result := decodeResult(t, frame)
	require.True(t, result.OK)

	raw, err := json.Marshal(result.Data)
	require.NoError(t, err)
	var group GroupPayload
	require.NoError(t, json.Unmarshal(raw, &group))
	assert.NotEmpty(t, group.ID)
	assert.Equal(t, "general", group.Name)
	assert.Equal(t, "alice@example.com", group.Owner)
	assert.Contains(t, group.Members, "alice@example.com", "creator is seeded as a member")
}

func TestSessionCreateGroupValidation(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()
	session, outbox := env.activeSession(t, "conn-1", "alice@example.com")

	session.HandleEvent(ctx, mustFrame(t, EventCreateGroup, CreateGroupRequest{Name: ""}))
	frame := recvFrame(t, outbox)
	assert.Equal(t, EventError, frame.Event)
}

func TestSessionJoinAndSendMessage(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	alice, aliceOut := env.activeSession(t, "conn-alice", "alice@example.com")
	bob, bobOut := env.activeSession(t, "conn-bob", "bob@example.com")
	_, carolOut := env.activeSession(t, "conn-carol", "carol@example.com")

	group, err := env.durable.CreateGroup(ctx, "general", "", "alice@example.com")
	require.NoError(t, err)

	alice.HandleEvent(ctx, mustFrame(t, EventJoinGroup, JoinGroupRequest{GroupID: group.ID}))
	bob.HandleEvent(ctx, mustFrame(t, EventJoinGroup, JoinGroupRequest{GroupID: group.ID}))

	alice.HandleEvent(ctx, mustFrame(t, EventSendMessage, SendMessageRequest{GroupID: group.ID, Message: "hello"}))

	for _, outbox := range []*Outbox{aliceOut, bobOut} {
		frame := recvFrame(t, outbox)
		require.Equal(t, EventMessage, frame.Event)
		var payload MessagePayload
		require.NoError(t, json.Unmarshal(frame.Data, &payload))
		assert.Equal(t, "hello", payload.Message)
		assert.Equal(t, "alice@example.com", payload.Sender.Address)
	}
	requireNoFrame(t, carolOut, "a connection that never joined gets no broadcast")

	// Bob is now a durable member.
	got, err := env.durable.GroupByID(ctx, group.ID)
	require.NoError(t, err)
	assert.True(t, got.HasMember("bob@example.com"))
}

func TestSessionLeaveStopsBroadcasts(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	alice, aliceOut := env.activeSession(t, "conn-alice", "alice@example.com")
	bob, bobOut := env.activeSession(t, "conn-bob", "bob@example.com")

	group, err := env.durable.CreateGroup(ctx, "general", "", "alice@example.com")
	require.NoError(t, err)
	alice.HandleEvent(ctx, mustFrame(t, EventJoinGroup, JoinGroupRequest{GroupID: group.ID}))
	bob.HandleEvent(ctx, mustFrame(t, EventJoinGroup, JoinGroupRequest{GroupID: group.ID}))

	bob.HandleEvent(ctx, mustFrame(t, EventLeaveGroup, LeaveGroupRequest{GroupID: group.ID}))

	alice.HandleEvent(ctx, mustFrame(t, EventSendMessage, SendMessageRequest{GroupID: group.ID, Message: "anyone?"}))
	frame := recvFrame(t, aliceOut)
	assert.Equal(t, EventMessage, frame.Event)
	requireNoFrame(t, bobOut)

	// Membership survives leaving.
	got, err := env.durable.GroupByID(ctx, group.ID)
	require.NoError(t, err)
	assert.True(t, got.HasMember("bob@example.com"))
}

func TestSessionSendToMissingGroupSucceeds(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()
	session, outbox := env.activeSession(t, "conn-1", "alice@example.com")

	// Well-formed id for a group nobody created: persisted fire-and-forget,
	// delivered to nobody, no error event.
	session.HandleEvent(ctx, mustFrame(t, EventSendMessage, SendMessageRequest{GroupID: store.NewGroupID(), Message: "void"}))
	requireNoFrame(t, outbox)
}

func TestSessionSendMalformedGroupID(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()
	session, outbox := env.activeSession(t, "conn-1", "alice@example.com")

	session.HandleEvent(ctx, mustFrame(t, EventSendMessage, SendMessageRequest{GroupID: "not-a-uuid", Message: "hi"}))
	frame := recvFrame(t, outbox)
	require.Equal(t, EventError, frame.Event)

	var msg string
	require.NoError(t, json.Unmarshal(frame.Data, &msg))
	assert.Contains(t, msg, "not_found")
}

func TestSessionLoadMessages(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()
	session, outbox := env.activeSession(t, "conn-1", "alice@example.com")

	group, err := env.durable.CreateGroup(ctx, "general", "", "alice@example.com")
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		_, err := env.durable.CreateMessage(ctx, group.ID, "alice@example.com", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	// First page: newest-first, capped at the configured page size.
	session.HandleEvent(ctx, mustFrame(t, EventLoadMessages, LoadMessagesRequest{GroupID: group.ID}))
	frame := recvFrame(t, outbox)
	require.Equal(t, EventMessages, frame.Event)
	result := decodeResult(t, frame)
	require.True(t, result.OK)

	raw, err := json.Marshal(result.Data)
	require.NoError(t, err)
	var page []MessagePayload
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Len(t, page, env.cfg.PageSize)
	assert.Equal(t, "m7", page[0].Message)
	assert.Equal(t, "m3", page[len(page)-1].Message)

	// Cursor walk: everything strictly before the oldest seen id.
	session.HandleEvent(ctx, mustFrame(t, EventLoadMessages, LoadMessagesRequest{GroupID: group.ID, Before: page[len(page)-1].ID}))
	frame = recvFrame(t, outbox)
	result = decodeResult(t, frame)
	require.True(t, result.OK)

	raw, err = json.Marshal(result.Data)
	require.NoError(t, err)
	page = page[:0]
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Len(t, page, 3)
	assert.Equal(t, "m2", page[0].Message)
	assert.Equal(t, "m0", page[len(page)-1].Message)
}

func TestSessionLoadMessagesEmptyGroup(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()
	session, outbox := env.activeSession(t, "conn-1", "alice@example.com")

	session.HandleEvent(ctx, mustFrame(t, EventLoadMessages, LoadMessagesRequest{GroupID: store.NewGroupID()}))
	frame := recvFrame(t, outbox)
	require.Equal(t, EventMessages, frame.Event)
	result := decodeResult(t, frame)
	assert.True(t, result.OK, "an empty page is a success, not an error")
}

func TestSessionUnknownEvent(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()
	session, outbox := env.activeSession(t, "conn-1", "alice@example.com")

	session.HandleEvent(ctx, Frame{Event: "teleport"})
	frame := recvFrame(t, outbox)
	require.Equal(t, EventError, frame.Event)

	var msg string
	require.NoError(t, json.Unmarshal(frame.Data, &msg))
	assert.Contains(t, msg, "invalid_request")
}

func TestSessionMalformedPayload(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()
	session, outbox := env.activeSession(t, "conn-1", "alice@example.com")

	// Payload failures report invalid_request, never a store failure.
	session.HandleEvent(ctx, Frame{Event: EventJoinGroup, Data: json.RawMessage(`{"groupId":`)})
	frame := recvFrame(t, outbox)
	require.Equal(t, EventError, frame.Event)
	var msg string
	require.NoError(t, json.Unmarshal(frame.Data, &msg))
	assert.Contains(t, msg, "invalid_request")

	session.HandleEvent(ctx, Frame{Event: EventJoinGroup})
	frame = recvFrame(t, outbox)
	require.Equal(t, EventError, frame.Event)
	require.NoError(t, json.Unmarshal(frame.Data, &msg))
	assert.Contains(t, msg, "invalid_request")

	session.HandleEvent(ctx, mustFrame(t, EventCreateGroup, CreateGroupRequest{Name: ""}))
	frame = recvFrame(t, outbox)
	require.Equal(t, EventError, frame.Event)
	require.NoError(t, json.Unmarshal(frame.Data, &msg))
	assert.Contains(t, msg, "invalid_request")
}

func TestSessionTerminatePurgesAllGroups(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()
	session, _ := env.activeSession(t, "conn-1", "alice@example.com")

	first, err := env.durable.CreateGroup(ctx, "one", "", "alice@example.com")
	require.NoError(t, err)
	second, err := env.durable.CreateGroup(ctx, "two", "", "alice@example.com")
	require.NoError(t, err)

	session.HandleEvent(ctx, mustFrame(t, EventJoinGroup, JoinGroupRequest{GroupID: first.ID}))
	session.HandleEvent(ctx, mustFrame(t, EventJoinGroup, JoinGroupRequest{GroupID: second.ID}))

	session.Terminate(ctx)

	for _, groupID := range []string{first.ID, second.ID} {
		present, err := env.presence.ListPresent(ctx, groupID)
		require.NoError(t, err)
		assert.Empty(t, present)
	}
	assert.Equal(t, 0, env.presence.GroupCount())
	assert.Equal(t, 0, env.hub.ConnectionCount())
}
