package gateway

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Hub is the transport's room primitive: it tracks live connections and
// which broadcast rooms each is subscribed to, and fans frames out to a
// room's current subscribers. Rooms correspond one-to-one with groups.
// All methods are safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Outbox         // connectionID → outbox
	rooms  map[string]map[string]bool // room → set of connectionIDs
	logger *zap.Logger
}

// NewHub creates an empty Hub.
//
// Precondition: logger must be non-nil.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*Outbox),
		rooms:  make(map[string]map[string]bool),
		logger: logger,
	}
}

// Register adds a live connection's outbox.
//
// Postcondition: Returns an error if the connection id is already registered.
func (h *Hub) Register(outbox *Outbox) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := outbox.ConnectionID()
	if _, exists := h.conns[id]; exists {
		return fmt.Errorf("connection %q already registered", id)
	}
	h.conns[id] = outbox
	return nil
}

// Unregister removes a connection from the hub and from every room it was
// subscribed to, then closes its outbox. Unknown ids are a no-op.
func (h *Hub) Unregister(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room, members := range h.rooms {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}

	if outbox, ok := h.conns[connectionID]; ok {
		_ = outbox.Close()
		delete(h.conns, connectionID)
	}
}

// Subscribe adds the connection to a room.
//
// Postcondition: Returns an error if the connection is not registered.
func (h *Hub) Subscribe(connectionID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[connectionID]; !ok {
		return fmt.Errorf("connection %q not registered", connectionID)
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]bool)
	}
	h.rooms[room][connectionID] = true
	return nil
}

// Unsubscribe removes the connection from a room, dropping the room set
// when it becomes empty. Unknown rooms or connections are a no-op.
func (h *Hub) Unsubscribe(connectionID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[room]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Broadcast delivers the frame to every connection currently subscribed to
// the room. A room with no subscribers broadcasts to nobody; that is not an
// error. Delivery is fire-and-forget: no acknowledgment, no retry.
func (h *Hub) Broadcast(room string, frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for connectionID := range h.rooms[room] {
		outbox, ok := h.conns[connectionID]
		if !ok {
			continue
		}
		if err := outbox.Push(frame); err != nil {
			h.logger.Warn("dropping broadcast frame",
				zap.String("connection_id", connectionID),
				zap.String("room", room),
				zap.Error(err),
			)
		}
	}
}

// Send delivers a frame to a single connection.
//
// Postcondition: Returns an error if the connection is unknown or its
// outbox rejects the frame.
func (h *Hub) Send(connectionID string, frame Frame) error {
	h.mu.RLock()
	outbox, ok := h.conns[connectionID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("connection %q not registered", connectionID)
	}
	return outbox.Push(frame)
}

// Subscribers returns the connection ids currently subscribed to a room.
func (h *Hub) Subscribers(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.rooms[room]))
	for connectionID := range h.rooms[room] {
		out = append(out, connectionID)
	}
	return out
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll closes every outbox and clears the hub, used during shutdown to
// drain live connections.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, outbox := range h.conns {
		_ = outbox.Close()
		delete(h.conns, id)
	}
	h.rooms = make(map[string]map[string]bool)
}
