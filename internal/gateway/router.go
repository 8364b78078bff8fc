package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/store"
)

// Router binds live connections to group subscriptions and fans messages
// out to exactly the connections currently subscribed.
type Router struct {
	presence presence.Store
	store    store.Store
	hub      *Hub
	logger   *zap.Logger
}

// NewRouter creates a Router over the given stores and hub.
//
// Precondition: all arguments must be non-nil.
func NewRouter(presenceStore presence.Store, durable store.Store, hub *Hub, logger *zap.Logger) *Router {
	return &Router{
		presence: presenceStore,
		store:    durable,
		hub:      hub,
		logger:   logger,
	}
}

// Join records presence, idempotently appends the identity to the group's
// durable member set, and subscribes the connection to the group's room.
// The three steps are not atomic as a unit: a failure partway leaves the
// earlier steps in place with no automatic reconciliation. Best-effort.
//
// Postcondition: On nil return, the connection receives subsequent
// broadcasts for the group and the identity is a durable member.
func (r *Router) Join(ctx context.Context, connectionID, groupID string, identity chat.Identity) error {
	if err := r.presence.MarkJoined(ctx, groupID, connectionID, identity.Address); err != nil {
		return fmt.Errorf("marking joined: %w", err)
	}

	if err := r.store.AppendMember(ctx, groupID, identity.Address); err != nil {
		return fmt.Errorf("appending member: %w", err)
	}

	if err := r.hub.Subscribe(connectionID, groupID); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	r.logger.Debug("connection joined group",
		zap.String("connection_id", connectionID),
		zap.String("group_id", groupID),
		zap.String("address", identity.Address),
	)
	return nil
}

// Leave removes the connection's presence in the group and unsubscribes it
// from the room. Durable membership is untouched: membership is monotonic.
func (r *Router) Leave(ctx context.Context, connectionID, groupID string) error {
	if err := r.presence.MarkLeft(ctx, groupID, connectionID); err != nil {
		return fmt.Errorf("marking left: %w", err)
	}
	r.hub.Unsubscribe(connectionID, groupID)

	r.logger.Debug("connection left group",
		zap.String("connection_id", connectionID),
		zap.String("group_id", groupID),
	)
	return nil
}

// Broadcast fans a persisted message out to the group's current
// subscribers. Broadcasting to a group with no subscribers delivers to
// nobody and succeeds.
func (r *Router) Broadcast(msg chat.Message) error {
	frame, err := NewFrame(EventMessage, messagePayload(msg))
	if err != nil {
		return err
	}
	r.hub.Broadcast(msg.GroupID, frame)
	return nil
}
