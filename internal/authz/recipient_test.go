package authz

import (
	"context"
	"testing"

	githubsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestParseRole(t *testing.T) {
	if _, err := ParseRole("supervisor"); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
	role, err := ParseRole(" Agent ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role != RoleAgent {
		t.Fatalf("unexpected role: %s", role)
	}
}

func TestCanSeeTicketByRole(t *testing.T) {
	scope := TicketScope{GroupID: 2, CustomerID: "customer-9"}

	admin := Recipient{UserID: "admin-1", Role: RoleAdmin}
	if !admin.CanSeeTicket(scope) {
		t.Fatal("admin should see every ticket")
	}

	agentIn := Recipient{UserID: "agent-1", Role: RoleAgent, GroupIDs: []int64{1, 2}}
	if !agentIn.CanSeeTicket(scope) {
		t.Fatal("agent assigned to the group should see the ticket")
	}

	agentOut := Recipient{UserID: "agent-2", Role: RoleAgent, GroupIDs: []int64{3}}
	if agentOut.CanSeeTicket(scope) {
		t.Fatal("agent outside the group should not see the ticket")
	}

	owner := Recipient{UserID: "customer-9", Role: RoleCustomer}
	if !owner.CanSeeTicket(scope) {
		t.Fatal("customer should see its own ticket")
	}

	stranger := Recipient{UserID: "customer-8", Role: RoleCustomer}
	if stranger.CanSeeTicket(scope) {
		t.Fatal("customer should not see another customer's ticket")
	}
}

type scopedRow struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	GroupID    int64  `gorm:"column:group_id;not null"`
	CustomerID string `gorm:"column:customer_id;size:190;not null"`
}

func (scopedRow) TableName() string {
	return "scoped_rows"
}

// The in-memory predicate and the SQL scope must agree: the push filter and
// the catch-up filter are required to expose identical visibility.
func TestScopeMatchesCanSeeTicket(t *testing.T) {
	db, err := gorm.Open(githubsqlite.Open("file:authz_scope_test?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&scopedRow{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	rows := []scopedRow{
		{GroupID: 1, CustomerID: "customer-1"},
		{GroupID: 2, CustomerID: "customer-1"},
		{GroupID: 2, CustomerID: "customer-2"},
		{GroupID: 3, CustomerID: "customer-3"},
	}
	for index := range rows {
		if err := db.Create(&rows[index]).Error; err != nil {
			t.Fatalf("failed to seed row: %v", err)
		}
	}

	recipients := []Recipient{
		{UserID: "admin-1", Role: RoleAdmin},
		{UserID: "agent-1", Role: RoleAgent, GroupIDs: []int64{2}},
		{UserID: "agent-2", Role: RoleAgent, GroupIDs: nil},
		{UserID: "customer-1", Role: RoleCustomer},
		{UserID: "ghost", Role: Role("unknown")},
	}

	for _, recipient := range recipients {
		expected := make(map[int64]bool)
		for _, row := range rows {
			if recipient.CanSeeTicket(TicketScope{GroupID: row.GroupID, CustomerID: row.CustomerID}) {
				expected[row.ID] = true
			}
		}

		var visible []scopedRow
		if err := db.Scopes(recipient.Scope()).Find(&visible).Error; err != nil {
			t.Fatalf("scope query failed for %s: %v", recipient.UserID, err)
		}
		if len(visible) != len(expected) {
			t.Fatalf("recipient %s: predicate saw %d rows, scope saw %d", recipient.UserID, len(expected), len(visible))
		}
		for _, row := range visible {
			if !expected[row.ID] {
				t.Fatalf("recipient %s: scope returned row %d the predicate rejects", recipient.UserID, row.ID)
			}
		}
	}
}

func TestRecipientForCachesMemberships(t *testing.T) {
	db, err := gorm.Open(githubsqlite.Open("file:authz_membership_test?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Membership{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	for _, groupID := range []int64{4, 7} {
		if err := db.Create(&Membership{UserID: "agent-5", GroupID: groupID}).Error; err != nil {
			t.Fatalf("failed to seed membership: %v", err)
		}
	}

	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	recipient, err := service.RecipientFor(context.Background(), "agent-5", RoleAgent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recipient.GroupIDs) != 2 || recipient.GroupIDs[0] != 4 || recipient.GroupIDs[1] != 7 {
		t.Fatalf("unexpected group ids: %v", recipient.GroupIDs)
	}

	// Later writes are invisible until the cache entry is invalidated.
	if err := db.Create(&Membership{UserID: "agent-5", GroupID: 9}).Error; err != nil {
		t.Fatalf("failed to add membership: %v", err)
	}
	cached, err := service.RecipientFor(context.Background(), "agent-5", RoleAgent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cached.GroupIDs) != 2 {
		t.Fatalf("expected cached group ids, got %v", cached.GroupIDs)
	}

	service.Invalidate("agent-5")
	refreshed, err := service.RecipientFor(context.Background(), "agent-5", RoleAgent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refreshed.GroupIDs) != 3 {
		t.Fatalf("expected refreshed group ids, got %v", refreshed.GroupIDs)
	}
}

func TestRecipientForCustomerSkipsLookup(t *testing.T) {
	service, err := NewService(ServiceConfig{Database: &gorm.DB{}})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	recipient, err := service.RecipientFor(context.Background(), "customer-2", RoleCustomer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recipient.UserID != "customer-2" || recipient.Role != RoleCustomer || recipient.GroupIDs != nil {
		t.Fatalf("unexpected recipient: %#v", recipient)
	}
}
