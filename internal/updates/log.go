package updates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaydesk/backend/internal/authz"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// DefaultMaxBatch caps how many records one catch-up query may return.
const DefaultMaxBatch = 100

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
	opLogNew            = "updates.log.new"
	opAppend            = "updates.append"
	opQueryUpdatesSince = "updates.query_since"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// LogConfig describes the dependencies of the update log.
type LogConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	MaxBatch int
	Logger   *zap.Logger
}

// Log is the durable append-only store of update records and the source of
// truth for catch-up queries.
type Log struct {
	db       *gorm.DB
	clock    func() time.Time
	maxBatch int
	logger   *zap.Logger
}

// NewLog constructs the update log service.
func NewLog(cfg LogConfig) (*Log, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opLogNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Log{
		db:       cfg.Database,
		clock:    clock,
		maxBatch: maxBatch,
		logger:   logger,
	}, nil
}

// MaxBatch exposes the configured catch-up cap.
func (l *Log) MaxBatch() int {
	return l.maxBatch
}

// Append persists one record atomically and returns its id. The record's
// timestamp is assigned here, at persistence time, never taken from the
// upstream payload.
func (l *Log) Append(ctx context.Context, record *UpdateRecord) (int64, error) {
	if record == nil {
		return 0, newServiceError(opAppend, "missing_record", errors.New("record is required"))
	}
	if record.TicketID == 0 {
		return 0, newServiceError(opAppend, "missing_ticket_id", errors.New("ticket id is required"))
	}
	if _, err := ParseEventType(string(record.Event)); err != nil {
		return 0, newServiceError(opAppend, "invalid_event", err)
	}

	record.ID = 0
	record.CreatedAtMillis = l.clock().UTC().UnixMilli()

	if err := l.db.WithContext(ctx).Create(record).Error; err != nil {
		l.logError(opAppend, "insert_failed", err, zap.Int64("ticket_id", record.TicketID))
		return 0, newServiceError(opAppend, "insert_failed", err)
	}

	return record.ID, nil
}

// QueryUpdatesSince returns records newer than the cursor that the recipient
// may see, ordered by created_at_ms ascending with id as the tie-break and
// capped at limit. A result of exactly limit records signals possible
// truncation; the caller re-queries with the last record's timestamp.
func (l *Log) QueryUpdatesSince(ctx context.Context, recipient authz.Recipient, sinceMillis int64, limit int) ([]UpdateRecord, error) {
	if limit <= 0 || limit > l.maxBatch {
		limit = l.maxBatch
	}

	var records []UpdateRecord
	if err := l.db.WithContext(ctx).
		Scopes(recipient.Scope()).
		Where("created_at_ms > ?", sinceMillis).
		Order("created_at_ms ASC, id ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		l.logError(opQueryUpdatesSince, "query_failed", err,
			zap.String("user_id", recipient.UserID),
			zap.Int64("since_ms", sinceMillis))
		return nil, newServiceError(opQueryUpdatesSince, "query_failed", err)
	}

	return records, nil
}

func (l *Log) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.logger.Error("update log error", attrs...)
}
