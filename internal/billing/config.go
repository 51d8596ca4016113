package billing

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	bstripe "github.com/stocktally/stocktally/internal/billing/stripe"
	berrors "github.com/stocktally/stocktally/internal/errors"
)

// Config holds all configuration for the billing service.
type Config struct {
	DataDir        string
	BindAddress    string
	Port           int
	APIKey         string
	BaseURL        string
	LogLevel       string
	LogFormat      string
	PublicMetrics  bool
	SweepInterval  time.Duration
	WebhookTimeout time.Duration

	StripeWebhookSecret string
	StripeAPIKey        string
	Prices              bstripe.Prices
}

// RegistryDir returns the directory holding the team registry database.
func (c *Config) RegistryDir() string {
	return filepath.Join(c.DataDir, "billing")
}

// StripeEnabled reports whether outbound Stripe calls can be made.
func (c *Config) StripeEnabled() bool {
	return c.StripeAPIKey != ""
}

// LoadConfig loads billing configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	cfg, err := configFromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStoreConfig loads only what the offline commands (sweep, resolve)
// need: the data directory and logging settings.
func LoadStoreConfig() (*Config, error) {
	_ = godotenv.Load()
	return configFromEnv()
}

func configFromEnv() (*Config, error) {
	port, err := envOrDefaultInt("BILLING_PORT", 8080)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := envOrDefaultDuration("BILLING_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	webhookTimeout, err := envOrDefaultDuration("BILLING_WEBHOOK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	publicMetrics, err := envOrDefaultBool("BILLING_PUBLIC_METRICS", false)
	if err != nil {
		return nil, err
	}

	return &Config{
		DataDir:        envOrDefault("BILLING_DATA_DIR", "/data"),
		BindAddress:    envOrDefault("BILLING_BIND_ADDRESS", "0.0.0.0"),
		Port:           port,
		APIKey:         strings.TrimSpace(os.Getenv("BILLING_API_KEY")),
		BaseURL:        strings.TrimSpace(os.Getenv("BILLING_BASE_URL")),
		LogLevel:       envOrDefault("BILLING_LOG_LEVEL", "info"),
		LogFormat:      envOrDefault("BILLING_LOG_FORMAT", "auto"),
		PublicMetrics:  publicMetrics,
		SweepInterval:  sweepInterval,
		WebhookTimeout: webhookTimeout,

		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		Prices: bstripe.Prices{
			StarterMonthly: strings.TrimSpace(os.Getenv("STRIPE_PRICE_STARTER_MONTHLY")),
			StarterYearly:  strings.TrimSpace(os.Getenv("STRIPE_PRICE_STARTER_YEARLY")),
			ProMonthly:     strings.TrimSpace(os.Getenv("STRIPE_PRICE_PRO_MONTHLY")),
			ProYearly:      strings.TrimSpace(os.Getenv("STRIPE_PRICE_PRO_YEARLY")),
			ExtraUser:      strings.TrimSpace(os.Getenv("STRIPE_PRICE_EXTRA_USER")),
		},
	}, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "BILLING_API_KEY")
	}
	if c.BaseURL == "" {
		missing = append(missing, "BILLING_BASE_URL")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.Prices.ExtraUser == "" {
		missing = append(missing, "STRIPE_PRICE_EXTRA_USER")
	}
	if len(missing) > 0 {
		return berrors.Configuration("load_config", "missing required environment variables: "+strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return berrors.Configuration("load_config", fmt.Sprintf("BILLING_PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.SweepInterval < time.Minute {
		return berrors.Configuration("load_config", fmt.Sprintf("BILLING_SWEEP_INTERVAL must be at least 1m, got %s", c.SweepInterval))
	}
	if c.WebhookTimeout <= 0 {
		return berrors.Configuration("load_config", "BILLING_WEBHOOK_TIMEOUT must be greater than 0")
	}

	parsedBaseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return berrors.Configuration("load_config", "BILLING_BASE_URL must be a valid URL: "+err.Error())
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return berrors.Configuration("load_config", "BILLING_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return berrors.Configuration("load_config", "BILLING_BASE_URL must include a host")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be true or false: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}
