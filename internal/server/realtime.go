package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/relaydesk/backend/internal/authz"
	"go.uber.org/zap"
)

const (
	// StreamEventTicketUpdate names the SSE event carrying ticket updates.
	StreamEventTicketUpdate = "ticket-update"

	defaultStreamBuffer = 16
)

var errMissingSubscriberID = errors.New("subscriber user id required")

// StreamEvent is the wire form of one update record pushed to subscribers.
type StreamEvent struct {
	ID              int64           `json:"id"`
	TicketID        int64           `json:"ticketId"`
	Event           string          `json:"event"`
	CreatedAtMillis int64           `json:"createdAtMs"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// Connection is the in-process handle for one live subscriber. It carries no
// durable state: a reconnect rebuilds it from scratch.
type Connection struct {
	recipient authz.Recipient
	events    chan StreamEvent
	done      chan struct{}
	closeOnce sync.Once
}

// Events exposes the delivery channel drained by the transport handler.
func (c *Connection) Events() <-chan StreamEvent {
	return c.events
}

// Done is closed when the connection is evicted or superseded.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Registry tracks live subscriber connections and delivers events to the
// subset allowed to see them. It is the only shared mutable state in the
// process and the seam where a shared broker would plug in for multi-process
// fan-out.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	bufferSize  int
	logger      *zap.Logger
}

// NewRegistry constructs an empty connection registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		connections: make(map[string]*Connection),
		bufferSize:  defaultStreamBuffer,
		logger:      logger,
	}
}

// Subscribe registers a live connection for the recipient. At most one
// connection per user is retained: an existing one is closed and replaced
// under the registry lock, so two near-simultaneous connects leave exactly
// one winner. Cancelling ctx unsubscribes.
func (r *Registry) Subscribe(ctx context.Context, recipient authz.Recipient) (*Connection, error) {
	if recipient.UserID == "" {
		return nil, errMissingSubscriberID
	}

	connection := &Connection{
		recipient: recipient,
		events:    make(chan StreamEvent, r.bufferSize),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	prior := r.connections[recipient.UserID]
	r.connections[recipient.UserID] = connection
	r.mu.Unlock()

	if prior != nil {
		prior.close()
		r.logger.Debug("subscriber superseded", zap.String("user_id", recipient.UserID))
	}

	go func() {
		<-ctx.Done()
		r.unsubscribe(recipient.UserID, connection)
	}()

	return connection, nil
}

// Publish delivers the event to every open connection whose owner may see
// the ticket. Sends never block: a full buffer closes and evicts that one
// connection, and delivery to the remaining subscribers continues.
func (r *Registry) Publish(event StreamEvent, scope authz.TicketScope) {
	r.mu.RLock()
	snapshot := make([]*Connection, 0, len(r.connections))
	for _, connection := range r.connections {
		snapshot = append(snapshot, connection)
	}
	r.mu.RUnlock()

	for _, connection := range snapshot {
		if !connection.recipient.CanSeeTicket(scope) {
			continue
		}
		select {
		case connection.events <- event:
		default:
			r.unsubscribe(connection.recipient.UserID, connection)
			r.logger.Warn("subscriber evicted after send overflow",
				zap.String("user_id", connection.recipient.UserID),
				zap.Int64("update_id", event.ID))
		}
	}
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

func (r *Registry) unsubscribe(userID string, connection *Connection) {
	r.mu.Lock()
	if r.connections[userID] == connection {
		delete(r.connections, userID)
	}
	r.mu.Unlock()
	connection.close()
}
