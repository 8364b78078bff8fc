// Package store provides durable persistence for identities, groups,
// group membership, and the append-only message log, with cursor-based
// pagination over message history.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/chat"
)

// Store is the durable record of identities, groups, and messages.
// Implementations are constructed explicitly and injected; they expose an
// open/close lifecycle so tests can run without a live backend.
type Store interface {
	// IdentityByAddress returns the identity record for an address, or
	// chat.ErrIdentityNotFound.
	IdentityByAddress(ctx context.Context, address string) (chat.Identity, error)
	// CreateIdentity provisions an identity record. The gateway never calls
	// this; it exists for operator tooling and tests.
	CreateIdentity(ctx context.Context, address string) (chat.Identity, error)

	// CreateGroup creates a group owned by ownerAddress, with the owner
	// seeded as the sole member.
	CreateGroup(ctx context.Context, name, description, ownerAddress string) (chat.Group, error)
	// GroupByID returns the group with its full member set, or
	// chat.ErrGroupNotFound.
	GroupByID(ctx context.Context, groupID string) (chat.Group, error)
	// ListGroups returns all non-private groups newest-created first,
	// partitioned so groups the viewer belongs to sort before the rest,
	// stable by creation time within each partition.
	ListGroups(ctx context.Context, viewerAddress string) ([]chat.Group, error)
	// AppendMember idempotently adds an identity to a group's durable
	// member set. Adding an existing member is a no-op. Membership is
	// monotonic: no operation removes it.
	AppendMember(ctx context.Context, groupID, address string) error

	// CreateMessage appends a message to the group's log with a
	// server-assigned id and creation time. It fails with
	// chat.ErrGroupNotFound only when the group id is malformed; it does
	// not check that the group still exists.
	CreateMessage(ctx context.Context, groupID, senderAddress, body string) (chat.Message, error)
	// LoadPage returns up to limit messages for the group, newest first,
	// excluding soft-deleted ones. A non-empty beforeID restricts the page
	// to messages whose id sorts strictly before it.
	LoadPage(ctx context.Context, groupID, beforeID string, limit int) ([]chat.Message, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
	// Close releases the store's resources.
	Close() error
}

// NewMessageID returns a time-ordered message identifier. UUIDv7 strings
// sort lexicographically in creation order, which is the property the
// pagination cursor relies on.
func NewMessageID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewGroupID returns a random group identifier.
func NewGroupID() string {
	return uuid.NewString()
}

// validID reports whether s parses as a UUID, the only id shape the store
// ever issues.
func validID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
