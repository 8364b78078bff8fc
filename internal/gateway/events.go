// Package gateway implements the connection/session layer: WebSocket
// transport with named rooms, the per-connection session state machine,
// and the routing of group messages to the set of live subscribers.
package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/parley-chat/parley/internal/chat"
)

// Inbound event names accepted while a session is active.
const (
	EventGetGroups    = "getGroups"
	EventCreateGroup  = "createGroup"
	EventJoinGroup    = "joinGroup"
	EventLeaveGroup   = "leaveGroup"
	EventSendMessage  = "sendMessage"
	EventLoadMessages = "loadMessages"
)

// Outbound event names.
const (
	EventConnected    = "connected"
	EventGroups       = "groups"
	EventGroupCreated = "groupCreated"
	EventMessages     = "messages"
	EventMessage      = "message"
	EventError        = "error"
)

// Frame is the envelope every event travels in, both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a Frame for the given event.
func NewFrame(event string, data any) (Frame, error) {
	if data == nil {
		return Frame{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: raw}, nil
}

// Result is the tagged reply envelope for request-style events. A failed
// operation reports its error kind instead of collapsing into an empty
// payload, so callers can tell "empty" from "failed".
type Result struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Ok wraps a successful payload.
func Ok(data any) Result {
	return Result{OK: true, Data: data}
}

// Err wraps a failure as its wire-level kind.
func Err(err error) Result {
	return Result{OK: false, Error: chat.Kind(err)}
}

// Request payloads. Validation tags are enforced before dispatch.

// CreateGroupRequest asks for a new group owned by the session identity.
type CreateGroupRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=128"`
	Description string `json:"description" validate:"max=1024"`
}

// JoinGroupRequest subscribes the connection to a group.
type JoinGroupRequest struct {
	GroupID string `json:"groupId" validate:"required"`
}

// LeaveGroupRequest unsubscribes the connection from a group.
type LeaveGroupRequest struct {
	GroupID string `json:"groupId" validate:"required"`
}

// SendMessageRequest appends a message and fans it out to the group.
type SendMessageRequest struct {
	GroupID string `json:"groupId" validate:"required"`
	Message string `json:"message" validate:"required,max=8192"`
}

// LoadMessagesRequest pages backward through a group's history.
type LoadMessagesRequest struct {
	GroupID string `json:"groupId" validate:"required"`
	Before  string `json:"before,omitempty"`
}

// Reply payloads.

// ConnectedPayload is the once-per-connection acknowledgment.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// SenderPayload identifies a message author on the wire.
type SenderPayload struct {
	Address string `json:"address"`
}

// GroupPayload is the wire shape of a group.
type GroupPayload struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Owner       string    `json:"owner"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MessagePayload is the wire shape of a message, both in broadcasts and in
// history pages.
type MessagePayload struct {
	ID        string        `json:"id"`
	Message   string        `json:"message"`
	Sender    SenderPayload `json:"sender"`
	GroupID   string        `json:"groupId"`
	CreatedAt time.Time     `json:"createdAt"`
}

func groupPayload(g chat.Group) GroupPayload {
	return GroupPayload{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Owner:       g.OwnerAddress,
		Members:     g.Members,
		CreatedAt:   g.CreatedAt,
	}
}

func groupPayloads(groups []chat.Group) []GroupPayload {
	out := make([]GroupPayload, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupPayload(g))
	}
	return out
}

func messagePayload(m chat.Message) MessagePayload {
	return MessagePayload{
		ID:        m.ID,
		Message:   m.Body,
		Sender:    SenderPayload{Address: m.SenderAddress},
		GroupID:   m.GroupID,
		CreatedAt: m.CreatedAt,
	}
}

func messagePayloads(messages []chat.Message) []MessagePayload {
	out := make([]MessagePayload, 0, len(messages))
	for _, m := range messages {
		out = append(out, messagePayload(m))
	}
	return out
}
