package billing

import (
	"errors"
	"strings"
	"testing"
	"time"

	berrors "github.com/stocktally/stocktally/internal/errors"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BILLING_API_KEY", "key")
	t.Setenv("BILLING_BASE_URL", "https://app.stocktally.test")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_x")
	t.Setenv("STRIPE_PRICE_EXTRA_USER", "price_extra")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	for _, key := range []string{
		"BILLING_DATA_DIR", "BILLING_PORT", "BILLING_SWEEP_INTERVAL", "BILLING_WEBHOOK_TIMEOUT",
		"BILLING_PUBLIC_METRICS", "STRIPE_API_KEY",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 8080 || cfg.DataDir != "/data" || cfg.RegistryDir() != "/data/billing" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SweepInterval != time.Hour || cfg.WebhookTimeout != 5*time.Second {
		t.Fatalf("unexpected intervals: sweep=%s webhook=%s", cfg.SweepInterval, cfg.WebhookTimeout)
	}
	if cfg.PublicMetrics || cfg.StripeEnabled() {
		t.Fatalf("expected metrics private and stripe disabled: %+v", cfg)
	}
	if cfg.Prices.ExtraUser != "price_extra" {
		t.Fatalf("extra user price = %q", cfg.Prices.ExtraUser)
	}
}

func TestLoadConfigMissingRequired(t *testing.T) {
	t.Setenv("BILLING_API_KEY", "")
	t.Setenv("BILLING_BASE_URL", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("STRIPE_PRICE_EXTRA_USER", "")

	_, err := LoadConfig()
	if !errors.Is(err, berrors.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	for _, key := range []string{"BILLING_API_KEY", "BILLING_BASE_URL", "STRIPE_WEBHOOK_SECRET", "STRIPE_PRICE_EXTRA_USER"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q does not name %s", err, key)
		}
	}
}

func TestLoadConfigInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"port not int", "BILLING_PORT", "http", "BILLING_PORT must be a valid integer"},
		{"port out of range", "BILLING_PORT", "70000", "between 1 and 65535"},
		{"sweep too short", "BILLING_SWEEP_INTERVAL", "10s", "at least 1m"},
		{"sweep unparsable", "BILLING_SWEEP_INTERVAL", "soon", "valid duration"},
		{"webhook timeout zero", "BILLING_WEBHOOK_TIMEOUT", "0s", "greater than 0"},
		{"metrics flag", "BILLING_PUBLIC_METRICS", "maybe", "true or false"},
		{"base url scheme", "BILLING_BASE_URL", "ftp://app.test", "http or https"},
		{"base url host", "BILLING_BASE_URL", "https://", "include a host"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadStoreConfigSkipsValidation(t *testing.T) {
	t.Setenv("BILLING_API_KEY", "")
	t.Setenv("BILLING_DATA_DIR", "/srv/stocktally")

	cfg, err := LoadStoreConfig()
	if err != nil {
		t.Fatalf("LoadStoreConfig: %v", err)
	}
	if cfg.RegistryDir() != "/srv/stocktally/billing" {
		t.Fatalf("RegistryDir = %q", cfg.RegistryDir())
	}
}
