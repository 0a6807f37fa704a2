package database

import (
	"testing"

	githubsqlite "github.com/glebarez/sqlite"
	"github.com/relaydesk/backend/internal/notifications"
	"gorm.io/gorm"
)

func TestBackfillNotificationDataRunsOnce(t *testing.T) {
	db, err := gorm.Open(githubsqlite.Open("file:migrations_test?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&notifications.Notification{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	seed := notifications.Notification{
		ID:              "n-1",
		UserID:          "agent-1",
		Type:            notifications.TypeTicketReply,
		Title:           "New reply",
		DataJSON:        "{}",
		TicketID:        42,
		CreatedAtMillis: 1700000000000,
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed notification: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var repaired notifications.Notification
	if err := db.Where("id = ?", "n-1").Take(&repaired).Error; err != nil {
		t.Fatalf("failed to reload notification: %v", err)
	}
	if repaired.DataJSON != `{"ticketId":42}` {
		t.Fatalf("unexpected data json after backfill: %s", repaired.DataJSON)
	}

	var applied int64
	if err := db.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
		t.Fatalf("failed to count migration records: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 applied migration, got %d", applied)
	}

	// A second run must be a no-op.
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected error on repeated migration run: %v", err)
	}
	if err := db.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
		t.Fatalf("failed to count migration records: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected migrations to remain at 1, got %d", applied)
	}
}
