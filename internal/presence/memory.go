package presence

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu sync.RWMutex
	// groups maps groupID to connectionID to identity address.
	groups map[string]map[string]string
	// connections is the global connectionID to identity address binding.
	connections map[string]string
	// joined maps connectionID to the set of groups it is present in.
	joined map[string]map[string]bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups:      make(map[string]map[string]string),
		connections: make(map[string]string),
		joined:      make(map[string]map[string]bool),
	}
}

// MarkJoined implements Store.
func (s *MemoryStore) MarkJoined(_ context.Context, groupID, connectionID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.groups[groupID] == nil {
		s.groups[groupID] = make(map[string]string)
	}
	s.groups[groupID][connectionID] = address

	if s.joined[connectionID] == nil {
		s.joined[connectionID] = make(map[string]bool)
	}
	s.joined[connectionID][groupID] = true
	return nil
}

// MarkLeft implements Store.
func (s *MemoryStore) MarkLeft(_ context.Context, groupID, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(groupID, connectionID)
	return nil
}

// removeLocked drops the connection from one group mapping, deleting the
// mapping and the join-index entry when they become empty.
func (s *MemoryStore) removeLocked(groupID, connectionID string) {
	if members, ok := s.groups[groupID]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(s.groups, groupID)
		}
	}
	if groups, ok := s.joined[connectionID]; ok {
		delete(groups, groupID)
		if len(groups) == 0 {
			delete(s.joined, connectionID)
		}
	}
}

// ListPresent implements Store.
func (s *MemoryStore) ListPresent(_ context.Context, groupID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.groups[groupID]
	out := make(map[string]string, len(members))
	for connID, address := range members {
		out[connID] = address
	}
	return out, nil
}

// RegisterConnection implements Store.
func (s *MemoryStore) RegisterConnection(_ context.Context, connectionID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[connectionID] = address
	return nil
}

// UnregisterConnection implements Store.
func (s *MemoryStore) UnregisterConnection(_ context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, connectionID)
	return nil
}

// PurgeConnection implements Store.
func (s *MemoryStore) PurgeConnection(_ context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for groupID := range s.joined[connectionID] {
		s.removeLocked(groupID, connectionID)
	}
	delete(s.joined, connectionID)
	delete(s.connections, connectionID)
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Connection returns the identity address bound to a connection, if any.
func (s *MemoryStore) Connection(connectionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	address, ok := s.connections[connectionID]
	return address, ok
}

// GroupCount returns the number of non-empty group presence mappings.
func (s *MemoryStore) GroupCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups)
}
