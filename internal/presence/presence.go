// Package presence tracks which live connections are currently joined to
// which group, and which identity owns which connection. Presence is
// ephemeral: it is written on join, removed on leave, and purged in full
// on disconnect. It is independent of durable group membership.
package presence

import (
	"context"
	"fmt"
)

// Store is the ephemeral presence store. Each operation is independently
// atomic; multi-operation flows (join, disconnect cleanup) are not composed
// transactionally.
type Store interface {
	// MarkJoined upserts the connection into the group's presence mapping.
	MarkJoined(ctx context.Context, groupID, connectionID, address string) error
	// MarkLeft removes the connection from the group's presence mapping.
	// A mapping that becomes empty is deleted outright.
	MarkLeft(ctx context.Context, groupID, connectionID string) error
	// ListPresent returns the group's presence mapping of connection id to
	// identity address. An unknown group yields an empty map, not an error.
	ListPresent(ctx context.Context, groupID string) (map[string]string, error)
	// RegisterConnection records the global connection-to-identity binding.
	RegisterConnection(ctx context.Context, connectionID, address string) error
	// UnregisterConnection removes the global binding.
	UnregisterConnection(ctx context.Context, connectionID string) error
	// PurgeConnection removes the connection from every group it joined and
	// drops the global binding. It is idempotent: purging an absent
	// connection is a no-op.
	PurgeConnection(ctx context.Context, connectionID string) error
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
	// Close releases the store's resources.
	Close() error
}

// Key layout shared by all implementations.
const connectionsKey = "user_connections"

func groupKey(groupID string) string {
	return fmt.Sprintf("group:%s:users", groupID)
}

// connGroupsKey indexes the groups a connection has joined, so disconnect
// cleanup walks only those instead of scanning every group mapping.
func connGroupsKey(connectionID string) string {
	return fmt.Sprintf("connection:%s:groups", connectionID)
}
