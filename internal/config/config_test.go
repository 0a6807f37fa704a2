package config

import (
	"strings"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	v := NewViper()
	v.Set("auth.signing_secret", "test-secret")
	v.Set("webhook.secret", "hook-secret")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address: %s", cfg.HTTPAddress)
	}
	if cfg.UpdatesMaxBatch != 100 {
		t.Fatalf("unexpected max batch: %d", cfg.UpdatesMaxBatch)
	}
	if cfg.StreamHeartbeat.Seconds() != 30 {
		t.Fatalf("unexpected heartbeat: %s", cfg.StreamHeartbeat)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	v := NewViper()
	v.Set("webhook.secret", "hook-secret")

	_, err := Load(v)
	if err == nil {
		t.Fatal("expected error for missing signing secret")
	}
	if !strings.Contains(err.Error(), "auth.signing_secret") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsUnsignedWebhooksByDefault(t *testing.T) {
	v := NewViper()
	v.Set("auth.signing_secret", "test-secret")

	_, err := Load(v)
	if err == nil {
		t.Fatal("expected error when webhook secret is empty and unsigned deliveries are not allowed")
	}
}

func TestLoadAllowsUnsignedWebhooksWhenOptedIn(t *testing.T) {
	v := NewViper()
	v.Set("auth.signing_secret", "test-secret")
	v.Set("webhook.allow_unsigned", true)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WebhookSecret != "" {
		t.Fatalf("expected empty webhook secret, got %q", cfg.WebhookSecret)
	}
}
