package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Outbox queues encoded frames for one connection, bridging the session
// layer to whatever goroutine owns the socket writes.
type Outbox struct {
	connectionID string
	frames       chan []byte
	mu           sync.Mutex
	closed       bool
}

// NewOutbox creates an Outbox for the given connection id.
//
// Precondition: connectionID must be non-empty.
// Postcondition: Returns an Outbox with an open frames channel.
func NewOutbox(connectionID string, bufferSize int) *Outbox {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Outbox{
		connectionID: connectionID,
		frames:       make(chan []byte, bufferSize),
	}
}

// ConnectionID returns the owning connection's id.
func (o *Outbox) ConnectionID() string {
	return o.connectionID
}

// Push encodes the frame and enqueues it.
//
// Postcondition: The frame is enqueued, or an error if the outbox is closed
// or its buffer is full. A full buffer drops the frame rather than blocking
// the sender; fan-out never stalls on one slow connection.
func (o *Outbox) Push(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("outbox %s is closed", o.connectionID)
	}
	select {
	case o.frames <- data:
		return nil
	default:
		return fmt.Errorf("outbox %s buffer full", o.connectionID)
	}
}

// Frames returns the read-only channel of encoded frames. The channel is
// closed when the outbox closes.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Close marks the outbox as closed and closes the frames channel.
//
// Postcondition: Further Push calls return an error. Close is idempotent.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.frames)
	}
	return nil
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
