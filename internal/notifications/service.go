package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	noOpLogger           = zap.NewNop()

	// ErrForbidden indicates an operation on a notification owned by a
	// different user. Checked against the stored owner before any write.
	ErrForbidden = errors.New("notifications: forbidden")
	// ErrNotFound indicates the notification does not exist.
	ErrNotFound = errors.New("notifications: not found")
)

// DefaultDedupWindow is the span during which a second qualifying event is
// merged into an existing unread inbox entry instead of creating a new one.
const DefaultDedupWindow = 15 * time.Minute

const defaultListLimit = 50

// ServiceError carries an operation/reason code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "notifications.service.new"
	opCreate        = "notifications.create"
	opMarkAsRead    = "notifications.mark_as_read"
	opMarkAllAsRead = "notifications.mark_all_as_read"
	opDelete        = "notifications.delete"
	opUnreadCount   = "notifications.unread_count"
	opList          = "notifications.list"
	opPurgeExpired  = "notifications.purge_expired"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues notification identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the notification store.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  IDProvider
	DedupWindow time.Duration
	Logger      *zap.Logger
}

// Service maintains the deduplicated per-user notification inbox.
type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	idProvider  IDProvider
	dedupWindow time.Duration
	logger      *zap.Logger
}

// NewService constructs the notification service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	window := cfg.DedupWindow
	if window <= 0 {
		window = DefaultDedupWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:          cfg.Database,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		dedupWindow: window,
		logger:      logger,
	}, nil
}

// CreateRequest describes one inbox entry candidate.
type CreateRequest struct {
	UserID   string
	Type     NotificationType
	Title    string
	Body     string
	DataJSON string
	TicketID int64
	TTL      time.Duration
}

// Create inserts a notification unless an unread one for the same
// (user, type, ticket) already exists inside the dedup window; rapid-fire
// updates on one ticket yield a single unread entry until acknowledged.
// Returns the created notification, or nil when suppressed.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Notification, error) {
	if req.UserID == "" {
		return nil, newServiceError(opCreate, "missing_user_id", errMissingUserID)
	}
	if _, err := ParseNotificationType(string(req.Type)); err != nil {
		return nil, newServiceError(opCreate, "invalid_type", err)
	}
	if req.TicketID == 0 {
		return nil, newServiceError(opCreate, "missing_ticket_id", errors.New("ticket id is required"))
	}

	now := s.clock().UTC()
	nowMillis := now.UnixMilli()
	windowStart := now.Add(-s.dedupWindow).UnixMilli()

	var created *Notification
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Notification
		err := tx.
			Where("user_id = ? AND type = ? AND ticket_id = ? AND read = ? AND created_at_ms > ?",
				req.UserID, req.Type, req.TicketID, false, windowStart).
			Order("created_at_ms DESC").
			Take(&existing).Error
		if err == nil {
			// Suppressed: one unread entry is enough until acknowledged.
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opCreate, "dedup_lookup_failed", err)
		}

		id, err := s.idProvider.NewID()
		if err != nil {
			return newServiceError(opCreate, "id_generation_failed", err)
		}

		dataJSON := req.DataJSON
		if dataJSON == "" {
			dataJSON = "{}"
		}
		record := Notification{
			ID:              id,
			UserID:          req.UserID,
			Type:            req.Type,
			Title:           req.Title,
			Body:            req.Body,
			DataJSON:        dataJSON,
			TicketID:        req.TicketID,
			CreatedAtMillis: nowMillis,
		}
		if req.TTL > 0 {
			expiresAt := now.Add(req.TTL).UnixMilli()
			record.ExpiresAtMillis = &expiresAt
		}
		if err := tx.Create(&record).Error; err != nil {
			return newServiceError(opCreate, "insert_failed", err)
		}
		created = &record
		return nil
	})
	if txErr != nil {
		s.logError(opCreate, txErr, zap.String("user_id", req.UserID), zap.Int64("ticket_id", req.TicketID))
		return nil, txErr
	}

	return created, nil
}

// MarkAsRead flags one notification as read. The stored owner is checked
// before any write: a foreign owner yields ErrForbidden. Returns whether a
// row actually changed, so callers can tell "already read" from an update.
func (s *Service) MarkAsRead(ctx context.Context, id, userID string) (bool, error) {
	if userID == "" {
		return false, newServiceError(opMarkAsRead, "missing_user_id", errMissingUserID)
	}

	var existing Notification
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		s.logError(opMarkAsRead, err, zap.String("notification_id", id))
		return false, newServiceError(opMarkAsRead, "lookup_failed", err)
	}
	if existing.UserID != userID {
		return false, newServiceError(opMarkAsRead, "foreign_owner", ErrForbidden)
	}
	if existing.Read {
		return false, nil
	}

	readAt := s.clock().UTC().UnixMilli()
	result := s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_id = ? AND read = ?", id, userID, false).
		Updates(map[string]any{"read": true, "read_at_ms": readAt})
	if result.Error != nil {
		s.logError(opMarkAsRead, result.Error, zap.String("notification_id", id))
		return false, newServiceError(opMarkAsRead, "update_failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkAllAsRead flags every unread notification of the user as read and
// returns how many rows changed.
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, newServiceError(opMarkAllAsRead, "missing_user_id", errMissingUserID)
	}

	readAt := s.clock().UTC().UnixMilli()
	result := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Updates(map[string]any{"read": true, "read_at_ms": readAt})
	if result.Error != nil {
		s.logError(opMarkAllAsRead, result.Error, zap.String("user_id", userID))
		return 0, newServiceError(opMarkAllAsRead, "update_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// Delete removes one notification after checking ownership.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	if userID == "" {
		return newServiceError(opDelete, "missing_user_id", errMissingUserID)
	}

	var existing Notification
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opDelete, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opDelete, err, zap.String("notification_id", id))
		return newServiceError(opDelete, "lookup_failed", err)
	}
	if existing.UserID != userID {
		return newServiceError(opDelete, "foreign_owner", ErrForbidden)
	}

	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&Notification{}).Error; err != nil {
		s.logError(opDelete, err, zap.String("notification_id", id))
		return newServiceError(opDelete, "delete_failed", err)
	}
	return nil
}

// GetUnreadCount returns the number of unread notifications for the user.
func (s *Service) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, newServiceError(opUnreadCount, "missing_user_id", errMissingUserID)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error; err != nil {
		s.logError(opUnreadCount, err, zap.String("user_id", userID))
		return 0, newServiceError(opUnreadCount, "count_failed", err)
	}
	return count, nil
}

// ListRequest selects a page of the user's inbox.
type ListRequest struct {
	UserID     string
	Limit      int
	Offset     int
	UnreadOnly bool
}

// Page is one inbox page with counts taken in the same snapshot, so total
// and unread never drift apart within a response.
type Page struct {
	Notifications []Notification
	Total         int64
	UnreadCount   int64
}

// List returns a page of the user's notifications, newest first.
func (s *Service) List(ctx context.Context, req ListRequest) (Page, error) {
	if req.UserID == "" {
		return Page{}, newServiceError(opList, "missing_user_id", errMissingUserID)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	var page Page
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		filtered := tx.Model(&Notification{}).Where("user_id = ?", req.UserID)
		if req.UnreadOnly {
			filtered = filtered.Where("read = ?", false)
		}
		if err := filtered.Count(&page.Total).Error; err != nil {
			return newServiceError(opList, "count_failed", err)
		}
		if err := tx.Model(&Notification{}).
			Where("user_id = ? AND read = ?", req.UserID, false).
			Count(&page.UnreadCount).Error; err != nil {
			return newServiceError(opList, "unread_count_failed", err)
		}

		query := tx.Where("user_id = ?", req.UserID)
		if req.UnreadOnly {
			query = query.Where("read = ?", false)
		}
		if err := query.
			Order("created_at_ms DESC, id DESC").
			Limit(limit).
			Offset(offset).
			Find(&page.Notifications).Error; err != nil {
			return newServiceError(opList, "query_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opList, txErr, zap.String("user_id", req.UserID))
		return Page{}, txErr
	}

	return page, nil
}

// PurgeExpired removes notifications whose expiry has passed and returns how
// many rows were deleted. Callers run it on a timer.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	nowMillis := s.clock().UTC().UnixMilli()
	result := s.db.WithContext(ctx).
		Where("expires_at_ms IS NOT NULL AND expires_at_ms <= ?", nowMillis).
		Delete(&Notification{})
	if result.Error != nil {
		s.logError(opPurgeExpired, result.Error)
		return 0, newServiceError(opPurgeExpired, "delete_failed", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Service) logError(operation string, err error, fields ...zap.Field) {
	attrs := []zap.Field{zap.String("operation", operation)}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notification service error", attrs...)
}
