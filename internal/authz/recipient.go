package authz

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Role enumerates the viewer roles recognised by the visibility predicate.
type Role string

const (
	// RoleCustomer sees only tickets it opened.
	RoleCustomer Role = "customer"
	// RoleAgent sees tickets in its assigned groups.
	RoleAgent Role = "agent"
	// RoleAdmin sees every ticket.
	RoleAdmin Role = "admin"
)

// ErrInvalidRole indicates an unrecognised role value.
var ErrInvalidRole = errors.New("authz: invalid role")

// ParseRole validates raw input and returns a Role.
func ParseRole(rawInput string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(rawInput))) {
	case RoleCustomer:
		return RoleCustomer, nil
	case RoleAgent:
		return RoleAgent, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, rawInput)
	}
}

// TicketScope carries the visibility attributes of one ticket update.
type TicketScope struct {
	GroupID    int64
	CustomerID string
}

// Recipient identifies one viewer for visibility decisions. The same
// predicate backs both the broadcaster's publish filter and the update-log
// query filter; CanSeeTicket and Scope must stay equivalent.
type Recipient struct {
	UserID   string
	Role     Role
	GroupIDs []int64
}

// CanSeeTicket reports whether the recipient may observe updates for the
// given ticket scope.
func (r Recipient) CanSeeTicket(scope TicketScope) bool {
	switch r.Role {
	case RoleAdmin:
		return true
	case RoleAgent:
		for _, groupID := range r.GroupIDs {
			if groupID == scope.GroupID {
				return true
			}
		}
		return false
	case RoleCustomer:
		return r.UserID != "" && r.UserID == scope.CustomerID
	default:
		return false
	}
}

// Scope expresses the same visibility predicate as a GORM query scope over
// update-record rows (group_id, customer_id columns).
func (r Recipient) Scope() func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch r.Role {
		case RoleAdmin:
			return db
		case RoleAgent:
			if len(r.GroupIDs) == 0 {
				return db.Where("1 = 0")
			}
			return db.Where("group_id IN ?", r.GroupIDs)
		case RoleCustomer:
			return db.Where("customer_id = ?", r.UserID)
		default:
			return db.Where("1 = 0")
		}
	}
}
