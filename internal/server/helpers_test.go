package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	githubsqlite "github.com/glebarez/sqlite"
	"github.com/relaydesk/backend/internal/auth"
	"github.com/relaydesk/backend/internal/authz"
	"github.com/relaydesk/backend/internal/notifications"
	"github.com/relaydesk/backend/internal/updates"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testWebhookSecret = "test-webhook-secret"

var testDatabaseSequence int

type testEnvironment struct {
	handler       http.Handler
	db            *gorm.DB
	issuer        *auth.TokenIssuer
	updateLog     *updates.Log
	notifications *notifications.Service
	registry      *Registry
	verifier      *updates.Verifier
}

type testEnvironmentOptions struct {
	webhookSecret string
	maxBatch      int
	heartbeat     time.Duration
	clock         func() time.Time
}

func newTestEnvironment(t *testing.T, opts testEnvironmentOptions) *testEnvironment {
	t.Helper()

	testDatabaseSequence++
	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", testDatabaseSequence)
	db, err := gorm.Open(githubsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&updates.UpdateRecord{}, &notifications.Notification{}, &authz.Membership{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "relaydesk-auth",
		Audience:      "relaydesk-api",
		TokenTTL:      time.Minute,
	})

	recipients, err := authz.NewService(authz.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct authz service: %v", err)
	}

	updateLog, err := updates.NewLog(updates.LogConfig{
		Database: db,
		Clock:    opts.clock,
		MaxBatch: opts.maxBatch,
	})
	if err != nil {
		t.Fatalf("failed to construct update log: %v", err)
	}

	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		Clock:      opts.clock,
		IDProvider: notifications.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct notification service: %v", err)
	}

	secret := opts.webhookSecret
	if secret == "" {
		secret = testWebhookSecret
	}
	verifier := updates.NewVerifier(secret)
	registry := NewRegistry(zap.NewNop())

	heartbeat := opts.heartbeat
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:    issuer,
		Recipients:      recipients,
		UpdateLog:       updateLog,
		Notifications:   notificationService,
		Registry:        registry,
		Verifier:        verifier,
		Classifier:      updates.NewClassifier(5 * time.Second),
		Logger:          zap.NewNop(),
		StreamHeartbeat: heartbeat,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testEnvironment{
		handler:       handler,
		db:            db,
		issuer:        issuer,
		updateLog:     updateLog,
		notifications: notificationService,
		registry:      registry,
		verifier:      verifier,
	}
}

func (env *testEnvironment) issueToken(t *testing.T, userID, role string, groupIDs ...int64) string {
	t.Helper()
	for _, groupID := range groupIDs {
		membership := authz.Membership{UserID: userID, GroupID: groupID}
		if err := env.db.Where(&membership).FirstOrCreate(&membership).Error; err != nil {
			t.Fatalf("failed to seed membership: %v", err)
		}
	}
	token, _, err := env.issuer.IssueSessionToken(context.Background(), auth.SessionClaims{
		UserID:   userID,
		Role:     role,
		GroupIDs: groupIDs,
	})
	if err != nil {
		t.Fatalf("failed to issue session token: %v", err)
	}
	return token
}

func (env *testEnvironment) countRecords(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := env.db.Model(&updates.UpdateRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count update records: %v", err)
	}
	return count
}
