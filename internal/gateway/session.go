package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/store"
)

// State is a session's position in its lifecycle.
type State int

// Session states. Terminated is terminal; there are no transitions out.
const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateTerminated
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session orchestrates one connection's lifecycle across the auth gate,
// the presence store, the room router, and the message store. Events for a
// single session are handled in arrival order by the goroutine that owns
// the connection's read side; Terminate may be called from any goroutine.
type Session struct {
	id       string
	gate     *auth.Gate
	router   *Router
	store    store.Store
	presence presence.Store
	hub      *Hub
	cfg      config.GatewayConfig
	logger   *zap.Logger
	validate *validator.Validate

	mu       sync.Mutex
	state    State
	identity chat.Identity
}

// NewSession creates a session in the Connecting state.
//
// Precondition: id must be non-empty; all dependencies must be non-nil.
func NewSession(
	id string,
	gate *auth.Gate,
	router *Router,
	durable store.Store,
	presenceStore presence.Store,
	hub *Hub,
	cfg config.GatewayConfig,
	logger *zap.Logger,
) *Session {
	return &Session{
		id:       id,
		gate:     gate,
		router:   router,
		store:    durable,
		presence: presenceStore,
		hub:      hub,
		cfg:      cfg,
		logger:   logger.With(zap.String("connection_id", id)),
		validate: validator.New(),
	}
}

// ID returns the transport-assigned connection id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the authenticated identity. Zero until authenticated.
func (s *Session) Identity() chat.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Authenticate verifies the credential token and moves the session from
// Connecting to Authenticated. Failure terminates the session: no partial
// session survives a rejected handshake.
func (s *Session) Authenticate(ctx context.Context, token string) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("authenticate in state %s", state)
	}
	s.mu.Unlock()

	identity, err := s.gate.Authenticate(ctx, token)
	if err != nil {
		s.mu.Lock()
		s.state = StateTerminated
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.identity = identity
	s.state = StateAuthenticated
	s.mu.Unlock()

	s.logger.Info("session authenticated", zap.String("address", identity.Address))
	return nil
}

// Activate registers the connection with the hub and the presence store,
// emits the connection-established acknowledgment, and moves the session
// to Active.
//
// Precondition: the session must be Authenticated and outbox must carry
// this session's connection id.
func (s *Session) Activate(ctx context.Context, outbox *Outbox) error {
	s.mu.Lock()
	if s.state != StateAuthenticated {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("activate in state %s", state)
	}
	address := s.identity.Address
	s.mu.Unlock()

	if err := s.hub.Register(outbox); err != nil {
		return fmt.Errorf("registering connection: %w", err)
	}

	if err := s.presence.RegisterConnection(ctx, s.id, address); err != nil {
		s.hub.Unregister(s.id)
		return fmt.Errorf("registering presence: %w", err)
	}

	if err := s.reply(EventConnected, ConnectedPayload{ConnectionID: s.id}); err != nil {
		s.logger.Warn("sending connected ack", zap.Error(err))
	}

	s.mu.Lock()
	s.state = StateActive
	s.mu.Unlock()
	return nil
}

// HandleEvent dispatches one inbound frame. Frames arriving outside the
// Active state are dropped.
func (s *Session) HandleEvent(ctx context.Context, frame Frame) {
	if s.State() != StateActive {
		s.logger.Warn("dropping event outside active state", zap.String("event", frame.Event))
		return
	}

	switch frame.Event {
	case EventGetGroups:
		s.handleGetGroups(ctx)
	case EventCreateGroup:
		s.handleCreateGroup(ctx, frame.Data)
	case EventJoinGroup:
		s.handleJoinGroup(ctx, frame.Data)
	case EventLeaveGroup:
		s.handleLeaveGroup(ctx, frame.Data)
	case EventSendMessage:
		s.handleSendMessage(ctx, frame.Data)
	case EventLoadMessages:
		s.handleLoadMessages(ctx, frame.Data)
	default:
		s.sendError(frame.Event, fmt.Errorf("%w: unknown event", chat.ErrInvalidPayload))
	}
}

// Terminate runs disconnect cleanup: the presence purge is unconditional
// and total, and no further events are accepted. Terminate is idempotent
// and safe to call from any state.
func (s *Session) Terminate(ctx context.Context) {
	s.mu.Lock()
	prev := s.state
	s.state = StateTerminated
	s.mu.Unlock()

	if prev == StateTerminated {
		return
	}

	s.hub.Unregister(s.id)

	if prev == StateActive {
		if err := s.presence.PurgeConnection(ctx, s.id); err != nil {
			s.logger.Error("purging presence on disconnect", zap.Error(err))
		}
	}

	s.logger.Info("session terminated", zap.String("previous_state", prev.String()))
}

func (s *Session) handleGetGroups(ctx context.Context) {
	groups, err := s.store.ListGroups(ctx, s.Identity().Address)
	if err != nil {
		s.logger.Error("listing groups", zap.Error(err))
		s.replyResult(EventGroups, Err(err))
		return
	}
	s.replyResult(EventGroups, Ok(groupPayloads(groups)))
}

func (s *Session) handleCreateGroup(ctx context.Context, data json.RawMessage) {
	var req CreateGroupRequest
	if err := s.decode(data, &req); err != nil {
		s.sendError(EventCreateGroup, err)
		return
	}

	group, err := s.store.CreateGroup(ctx, req.Name, req.Description, s.Identity().Address)
	if err != nil {
		s.logger.Error("creating group", zap.String("name", req.Name), zap.Error(err))
		s.replyResult(EventGroupCreated, Err(err))
		return
	}
	s.replyResult(EventGroupCreated, Ok(groupPayload(group)))
}

func (s *Session) handleJoinGroup(ctx context.Context, data json.RawMessage) {
	var req JoinGroupRequest
	if err := s.decode(data, &req); err != nil {
		s.sendError(EventJoinGroup, err)
		return
	}

	if err := s.router.Join(ctx, s.id, req.GroupID, s.Identity()); err != nil {
		s.logger.Error("joining group", zap.String("group_id", req.GroupID), zap.Error(err))
		s.sendError(EventJoinGroup, err)
	}
}

func (s *Session) handleLeaveGroup(ctx context.Context, data json.RawMessage) {
	var req LeaveGroupRequest
	if err := s.decode(data, &req); err != nil {
		s.sendError(EventLeaveGroup, err)
		return
	}

	if err := s.router.Leave(ctx, s.id, req.GroupID); err != nil {
		s.logger.Error("leaving group", zap.String("group_id", req.GroupID), zap.Error(err))
		s.sendError(EventLeaveGroup, err)
	}
}

func (s *Session) handleSendMessage(ctx context.Context, data json.RawMessage) {
	var req SendMessageRequest
	if err := s.decode(data, &req); err != nil {
		s.sendError(EventSendMessage, err)
		return
	}

	// Persist first, then fan out. Broadcast order across connections is
	// whatever order the persists resolve in.
	msg, err := s.store.CreateMessage(ctx, req.GroupID, s.Identity().Address, req.Message)
	if err != nil {
		s.logger.Error("persisting message", zap.String("group_id", req.GroupID), zap.Error(err))
		s.sendError(EventSendMessage, err)
		return
	}

	if err := s.router.Broadcast(msg); err != nil {
		s.logger.Error("broadcasting message", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func (s *Session) handleLoadMessages(ctx context.Context, data json.RawMessage) {
	var req LoadMessagesRequest
	if err := s.decode(data, &req); err != nil {
		s.sendError(EventLoadMessages, err)
		return
	}

	page, err := s.store.LoadPage(ctx, req.GroupID, req.Before, s.cfg.PageSize)
	if err != nil {
		s.logger.Error("loading messages", zap.String("group_id", req.GroupID), zap.Error(err))
		s.replyResult(EventMessages, Err(err))
		return
	}
	s.replyResult(EventMessages, Ok(messagePayloads(page)))
}

// decode unmarshals and validates a request payload. Failures carry
// chat.ErrInvalidPayload so they surface as invalid_request on the wire,
// never as a store failure.
func (s *Session) decode(data json.RawMessage, req any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing payload", chat.ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, req); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrInvalidPayload, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrInvalidPayload, err)
	}
	return nil
}

func (s *Session) reply(event string, payload any) error {
	frame, err := NewFrame(event, payload)
	if err != nil {
		return err
	}
	return s.hub.Send(s.id, frame)
}

func (s *Session) replyResult(event string, result Result) {
	if err := s.reply(event, result); err != nil {
		s.logger.Warn("sending reply", zap.String("event", event), zap.Error(err))
	}
}

// sendError emits the fire-and-forget error event string for failures on
// events that carry no reply payload.
func (s *Session) sendError(event string, err error) {
	msg := fmt.Sprintf("%s failed", event)
	if kind := chat.Kind(err); kind != "" {
		msg = fmt.Sprintf("%s failed: %s", event, kind)
	}
	if sendErr := s.reply(EventError, msg); sendErr != nil {
		s.logger.Warn("sending error event", zap.String("event", event), zap.Error(sendErr))
	}
}
