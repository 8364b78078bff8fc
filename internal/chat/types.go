// Package chat defines the domain types shared across the gateway:
// identities, groups, and messages, plus the error taxonomy for
// operations over them.
package chat

import "time"

// Identity represents a verified participant. Identities are provisioned
// externally and are read-only from the gateway's perspective.
type Identity struct {
	// Address is the unique, stable identifier presented to other participants.
	Address string
	// Karma is the accumulated reputation score.
	Karma int64
	// Flags is the count of moderation flags raised against this identity.
	Flags int64
	// CreatedAt is when the identity record was provisioned.
	CreatedAt time.Time
}

// Group is a named collection of identities that exchange messages.
// The owner is always a member. Groups are never deleted by the gateway.
type Group struct {
	// ID is the unique group identifier.
	ID string
	// Name is the display name.
	Name string
	// Description is optional free text.
	Description string
	// OwnerAddress is the identity that created the group.
	OwnerAddress string
	// Members holds the durable member set as identity addresses.
	// Order is not significant and the set never contains duplicates.
	Members []string
	// Private excludes the group from listings.
	Private bool
	// CreatedAt is when the group was created.
	CreatedAt time.Time
}

// HasMember reports whether the given address is in the durable member set.
func (g *Group) HasMember(address string) bool {
	for _, m := range g.Members {
		if m == address {
			return true
		}
	}
	return false
}

// Message is an immutable text record authored by an identity within a group.
type Message struct {
	// ID is the unique message identifier. IDs sort lexicographically in
	// creation order, which is what makes them usable as pagination cursors.
	ID string
	// Body is the message text.
	Body string
	// SenderAddress is the authoring identity.
	SenderAddress string
	// GroupID is the owning group. The group existed at send time; the
	// gateway never re-validates its existence afterward.
	GroupID string
	// Deleted marks the message as soft-deleted. Read paths always filter
	// on it; no gateway operation currently sets it.
	Deleted bool
	// CreatedAt is the server-assigned creation time.
	CreatedAt time.Time
}
