package updates

import (
	"errors"
	"fmt"
	"strings"
)

// EventType enumerates the ticket update kinds recorded in the log.
type EventType string

const (
	// EventCreated marks a new ticket, including the first-contact case
	// where the opening article arrives in the same delivery.
	EventCreated EventType = "created"
	// EventStatusChanged marks a ticket state transition.
	EventStatusChanged EventType = "status_changed"
	// EventArticleCreated marks a new article on an existing ticket.
	EventArticleCreated EventType = "article_created"
	// EventOwnerChanged marks a ticket reassignment.
	EventOwnerChanged EventType = "owner_changed"
)

// ErrInvalidEventType indicates an event kind outside the closed set.
var ErrInvalidEventType = errors.New("updates: invalid event type")

// ParseEventType validates raw input and returns an EventType.
func ParseEventType(rawInput string) (EventType, error) {
	switch EventType(strings.ToLower(strings.TrimSpace(rawInput))) {
	case EventCreated:
		return EventCreated, nil
	case EventStatusChanged:
		return EventStatusChanged, nil
	case EventArticleCreated:
		return EventArticleCreated, nil
	case EventOwnerChanged:
		return EventOwnerChanged, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, rawInput)
	}
}

// UpdateRecord is one immutable fact about a ticket state change. Rows are
// append-only: ids are assigned monotonically and nothing updates or deletes
// them. Ordering for a ticket is created_at_ms ascending with id as the
// tie-break.
type UpdateRecord struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TicketID        int64     `gorm:"column:ticket_id;not null;index:idx_updates_ticket_time,priority:1"`
	Event           EventType `gorm:"column:event;size:32;not null"`
	PayloadJSON     string    `gorm:"column:payload_json;type:text;not null"`
	GroupID         int64     `gorm:"column:group_id;not null;default:0"`
	CustomerID      string    `gorm:"column:customer_id;size:190;not null;default:''"`
	CreatedAtMillis int64     `gorm:"column:created_at_ms;not null;index:idx_updates_ticket_time,priority:2;index:idx_updates_time"`
}

// TableName provides the explicit table binding for GORM.
func (UpdateRecord) TableName() string {
	return "update_records"
}
