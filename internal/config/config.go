// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vigilohq/vigilo/pkg/entitlements"
)

// Config holds all configuration for the licensing service.
type Config struct {
	DataDir     string
	BindAddress string
	Port        int

	// DeploymentMode selects cloud or self-hosted entitlement behavior.
	DeploymentMode entitlements.DeploymentMode

	// WebhookSecret signs vendor webhook payloads. Required in cloud mode.
	WebhookSecret string
	// VendorName names the license vendor; it sets the webhook path and
	// signature header.
	VendorName string

	GracePeriod       time.Duration
	WarnThresholds    []int // remaining-days marks for grace warnings
	ReconcileInterval time.Duration

	PostmarkToken string // optional; emails are logged when empty
	EmailFrom     string
	BillingURL    string

	PublicMetrics    bool
	WebhookRateLimit int // requests per minute per IP
}

// LicensingDir returns the directory for the license database.
func (c *Config) LicensingDir() string {
	return filepath.Join(c.DataDir, "licensing")
}

// UsageDir returns the directory for the usage database.
func (c *Config) UsageDir() string {
	return filepath.Join(c.DataDir, "usage")
}

// SelfHosted reports whether the service runs in self-hosted mode.
func (c *Config) SelfHosted() bool {
	return c.DeploymentMode == entitlements.ModeSelfHosted
}

// Load reads configuration from environment variables. A .env file is
// loaded if present but not required.
func Load() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("VIGILO_PORT", 8090)
	if err != nil {
		return nil, err
	}
	graceDays, err := envOrDefaultInt("VIGILO_GRACE_DAYS", 5)
	if err != nil {
		return nil, err
	}
	reconcileMinutes, err := envOrDefaultInt("VIGILO_RECONCILE_INTERVAL_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	rateLimit, err := envOrDefaultInt("VIGILO_WEBHOOK_RATE_LIMIT", 120)
	if err != nil {
		return nil, err
	}
	thresholds, err := envOrDefaultInts("VIGILO_GRACE_WARN_DAYS", []int{5, 3, 1})
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:           envOrDefault("VIGILO_DATA_DIR", "/data"),
		BindAddress:       envOrDefault("VIGILO_BIND_ADDRESS", "0.0.0.0"),
		Port:              port,
		DeploymentMode:    entitlements.DeploymentMode(envOrDefault("VIGILO_DEPLOYMENT_MODE", string(entitlements.ModeCloud))),
		WebhookSecret:     strings.TrimSpace(os.Getenv("VIGILO_WEBHOOK_SECRET")),
		VendorName:        envOrDefault("VIGILO_LICENSE_VENDOR", "keygen"),
		GracePeriod:       time.Duration(graceDays) * 24 * time.Hour,
		WarnThresholds:    thresholds,
		ReconcileInterval: time.Duration(reconcileMinutes) * time.Minute,
		PostmarkToken:     strings.TrimSpace(os.Getenv("POSTMARK_SERVER_TOKEN")),
		EmailFrom:         envOrDefault("VIGILO_EMAIL_FROM", "billing@vigilo.dev"),
		BillingURL:        envOrDefault("VIGILO_BILLING_URL", "https://app.vigilo.dev/billing"),
		PublicMetrics:     envOrDefaultBool("VIGILO_PUBLIC_METRICS", false),
		WebhookRateLimit:  rateLimit,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DeploymentMode {
	case entitlements.ModeCloud, entitlements.ModeSelfHosted:
	default:
		return fmt.Errorf("VIGILO_DEPLOYMENT_MODE must be %q or %q, got %q",
			entitlements.ModeCloud, entitlements.ModeSelfHosted, c.DeploymentMode)
	}

	// Self-hosted deployments receive no vendor webhooks, so the secret is
	// only required in cloud mode.
	if c.DeploymentMode == entitlements.ModeCloud && c.WebhookSecret == "" {
		return fmt.Errorf("missing required environment variable: VIGILO_WEBHOOK_SECRET")
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("VIGILO_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("VIGILO_GRACE_DAYS must be greater than 0")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("VIGILO_RECONCILE_INTERVAL_MINUTES must be greater than 0")
	}
	if c.WebhookRateLimit <= 0 {
		return fmt.Errorf("VIGILO_WEBHOOK_RATE_LIMIT must be greater than 0")
	}
	for _, d := range c.WarnThresholds {
		if d <= 0 {
			return fmt.Errorf("VIGILO_GRACE_WARN_DAYS entries must be greater than 0, got %d", d)
		}
	}

	if c.BillingURL != "" {
		parsed, err := url.Parse(c.BillingURL)
		if err != nil {
			return fmt.Errorf("VIGILO_BILLING_URL must be a valid URL: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("VIGILO_BILLING_URL must use http or https scheme")
		}
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

func envOrDefaultBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}

// envOrDefaultInts parses a comma-separated list of integers, e.g. "5,3,1".
func envOrDefaultInts(key string, fallback []int) ([]int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%s must be a comma-separated list of integers: %w", key, err)
		}
		out = append(out, n)
	}
	return out, nil
}
