package notifications

import (
	"errors"
	"fmt"
	"strings"
)

// NotificationType enumerates the inbox entry kinds.
type NotificationType string

const (
	// TypeTicketReply marks a new customer or agent reply on a ticket.
	TypeTicketReply NotificationType = "ticket_reply"
	// TypeTicketUpdate marks a ticket state or assignment change.
	TypeTicketUpdate NotificationType = "ticket_update"
)

// ErrInvalidNotificationType indicates a type outside the closed set.
var ErrInvalidNotificationType = errors.New("notifications: invalid notification type")

// ParseNotificationType validates raw input and returns a NotificationType.
func ParseNotificationType(rawInput string) (NotificationType, error) {
	switch NotificationType(strings.ToLower(strings.TrimSpace(rawInput))) {
	case TypeTicketReply:
		return TypeTicketReply, nil
	case TypeTicketUpdate:
		return TypeTicketUpdate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidNotificationType, rawInput)
	}
}

// Notification is one per-user inbox entry derived from ticket updates. At
// most one unread entry may exist per (user, type, ticket) inside the dedup
// window; a read entry never blocks a new one.
type Notification struct {
	ID              string           `gorm:"column:id;primaryKey;size:190;not null"`
	UserID          string           `gorm:"column:user_id;size:190;not null;index:idx_notifications_user_read,priority:1"`
	Type            NotificationType `gorm:"column:type;size:64;not null"`
	Title           string           `gorm:"column:title;size:320;not null"`
	Body            string           `gorm:"column:body;type:text;not null;default:''"`
	DataJSON        string           `gorm:"column:data_json;type:text;not null;default:'{}'"`
	TicketID        int64            `gorm:"column:ticket_id;not null;index"`
	Read            bool             `gorm:"column:read;not null;default:false;index:idx_notifications_user_read,priority:2"`
	ReadAtMillis    *int64           `gorm:"column:read_at_ms"`
	CreatedAtMillis int64            `gorm:"column:created_at_ms;not null;index"`
	ExpiresAtMillis *int64           `gorm:"column:expires_at_ms;index"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "ticket_notifications"
}
