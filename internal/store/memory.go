package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/parley-chat/parley/internal/chat"
)

// MemoryStore is an in-process Store for tests and local development.
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	identities map[string]chat.Identity
	groups     map[string]*memGroup
	// messages holds each group's log in append order. Message ids are
	// monotonic, so append order and id order coincide.
	messages map[string][]chat.Message
	seq      int64
}

type memGroup struct {
	group chat.Group
	// seq orders groups by creation, newest last.
	seq int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[string]chat.Identity),
		groups:     make(map[string]*memGroup),
		messages:   make(map[string][]chat.Message),
	}
}

// IdentityByAddress implements Store.
func (s *MemoryStore) IdentityByAddress(_ context.Context, address string) (chat.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[address]
	if !ok {
		return chat.Identity{}, chat.ErrIdentityNotFound
	}
	return identity, nil
}

// CreateIdentity implements Store.
func (s *MemoryStore) CreateIdentity(_ context.Context, address string) (chat.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if identity, ok := s.identities[address]; ok {
		return identity, nil
	}
	identity := chat.Identity{Address: address, CreatedAt: time.Now()}
	s.identities[address] = identity
	return identity, nil
}

// CreateGroup implements Store.
func (s *MemoryStore) CreateGroup(_ context.Context, name, description, ownerAddress string) (chat.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	group := chat.Group{
		ID:           NewGroupID(),
		Name:         name,
		Description:  description,
		OwnerAddress: ownerAddress,
		Members:      []string{ownerAddress},
		CreatedAt:    time.Now(),
	}
	s.groups[group.ID] = &memGroup{group: group, seq: s.seq}
	return cloneGroup(group), nil
}

// GroupByID implements Store.
func (s *MemoryStore) GroupByID(_ context.Context, groupID string) (chat.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return chat.Group{}, chat.ErrGroupNotFound
	}
	return cloneGroup(g.group), nil
}

// ListGroups implements Store.
func (s *MemoryStore) ListGroups(_ context.Context, viewerAddress string) ([]chat.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visible := make([]*memGroup, 0, len(s.groups))
	for _, g := range s.groups {
		if !g.group.Private {
			visible = append(visible, g)
		}
	}
	// Newest-created first; seq breaks creation-time ties deterministically.
	sort.Slice(visible, func(i, j int) bool {
		return visible[i].seq > visible[j].seq
	})

	mine := lo.Filter(visible, func(g *memGroup, _ int) bool {
		return g.group.HasMember(viewerAddress)
	})
	others := lo.Filter(visible, func(g *memGroup, _ int) bool {
		return !g.group.HasMember(viewerAddress)
	})

	out := make([]chat.Group, 0, len(visible))
	for _, g := range append(mine, others...) {
		out = append(out, cloneGroup(g.group))
	}
	return out, nil
}

// AppendMember implements Store.
func (s *MemoryStore) AppendMember(_ context.Context, groupID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return chat.ErrGroupNotFound
	}
	if g.group.HasMember(address) {
		return nil
	}
	g.group.Members = append(g.group.Members, address)
	return nil
}

// CreateMessage implements Store.
func (s *MemoryStore) CreateMessage(_ context.Context, groupID, senderAddress, body string) (chat.Message, error) {
	if !validID(groupID) {
		return chat.Message{}, chat.ErrGroupNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Id generation happens under the lock so append order always matches
	// id order.
	id, err := NewMessageID()
	if err != nil {
		return chat.Message{}, err
	}

	msg := chat.Message{
		ID:            id,
		Body:          body,
		SenderAddress: senderAddress,
		GroupID:       groupID,
		CreatedAt:     time.Now(),
	}
	s.messages[groupID] = append(s.messages[groupID], msg)
	return msg, nil
}

// LoadPage implements Store.
func (s *MemoryStore) LoadPage(_ context.Context, groupID, beforeID string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.messages[groupID]
	out := make([]chat.Message, 0, limit)
	for i := len(log) - 1; i >= 0 && len(out) < limit; i-- {
		msg := log[i]
		if msg.Deleted {
			continue
		}
		if beforeID != "" && msg.ID >= beforeID {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// MarkDeleted flips a message's soft-delete flag, used by tests to verify
// read-path filtering. No gateway operation calls it.
func (s *MemoryStore) MarkDeleted(groupID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.messages[groupID]
	for i := range log {
		if log[i].ID == messageID {
			log[i].Deleted = true
			return true
		}
	}
	return false
}

func cloneGroup(g chat.Group) chat.Group {
	out := g
	out.Members = append([]string(nil), g.Members...)
	return out
}
