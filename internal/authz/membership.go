package authz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Membership maps an agent to one helpdesk group.
type Membership struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	GroupID   int64     `gorm:"column:group_id;primaryKey;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing group memberships.
func (Membership) TableName() string {
	return "group_memberships"
}

// ServiceConfig describes the dependencies required for recipient resolution.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service resolves session identities into recipients with group visibility.
type Service struct {
	db    *gorm.DB
	cache sync.Map
}

// NewService constructs the recipient resolution service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("authz: database connection required")
	}
	return &Service{db: cfg.Database}, nil
}

// RecipientFor resolves the recipient for an authenticated user. Group
// memberships are loaded once per user id and cached for the process
// lifetime; customers carry no group visibility.
func (s *Service) RecipientFor(ctx context.Context, userID string, role Role) (Recipient, error) {
	recipient := Recipient{UserID: userID, Role: role}
	if role == RoleCustomer {
		return recipient, nil
	}

	if cached, ok := s.cache.Load(userID); ok {
		if groupIDs, ok := cached.([]int64); ok {
			recipient.GroupIDs = groupIDs
			return recipient, nil
		}
	}

	var memberships []Membership
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("group_id ASC").
		Find(&memberships).Error; err != nil {
		return Recipient{}, fmt.Errorf("authz: membership lookup failed: %w", err)
	}

	groupIDs := make([]int64, 0, len(memberships))
	for _, membership := range memberships {
		groupIDs = append(groupIDs, membership.GroupID)
	}
	s.cache.Store(userID, groupIDs)

	recipient.GroupIDs = groupIDs
	return recipient, nil
}

// Invalidate drops the cached memberships for a user, forcing a reload on
// the next resolution.
func (s *Service) Invalidate(userID string) {
	s.cache.Delete(userID)
}
