package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("VIGILO_WEBHOOK_SECRET", "whsec_test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8090 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.VendorName != "keygen" {
		t.Errorf("VendorName = %q", cfg.VendorName)
	}
	if cfg.GracePeriod != 5*24*time.Hour {
		t.Errorf("GracePeriod = %v", cfg.GracePeriod)
	}
	if len(cfg.WarnThresholds) != 3 || cfg.WarnThresholds[0] != 5 {
		t.Errorf("WarnThresholds = %v", cfg.WarnThresholds)
	}
	if cfg.SelfHosted() {
		t.Error("default mode should be cloud")
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("VIGILO_PORT", "9001")
	t.Setenv("VIGILO_GRACE_DAYS", "10")
	t.Setenv("VIGILO_GRACE_WARN_DAYS", "7, 2")
	t.Setenv("VIGILO_DATA_DIR", "/tmp/vigilo-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9001 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.GracePeriod != 10*24*time.Hour {
		t.Errorf("GracePeriod = %v", cfg.GracePeriod)
	}
	if len(cfg.WarnThresholds) != 2 || cfg.WarnThresholds[0] != 7 || cfg.WarnThresholds[1] != 2 {
		t.Errorf("WarnThresholds = %v", cfg.WarnThresholds)
	}
	if got := cfg.LicensingDir(); got != "/tmp/vigilo-test/licensing" {
		t.Errorf("LicensingDir = %q", got)
	}
	if got := cfg.UsageDir(); got != "/tmp/vigilo-test/usage" {
		t.Errorf("UsageDir = %q", got)
	}
}

func TestLoad_MissingSecretInCloudMode(t *testing.T) {
	t.Setenv("VIGILO_WEBHOOK_SECRET", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "VIGILO_WEBHOOK_SECRET") {
		t.Errorf("err = %v, want missing secret error", err)
	}
}

func TestLoad_SelfHostedSkipsSecret(t *testing.T) {
	t.Setenv("VIGILO_WEBHOOK_SECRET", "")
	t.Setenv("VIGILO_DEPLOYMENT_MODE", "self-hosted")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.SelfHosted() {
		t.Error("expected self-hosted mode")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"bad_port", "VIGILO_PORT", "70000", "VIGILO_PORT"},
		{"non_numeric_port", "VIGILO_PORT", "eighty", "VIGILO_PORT"},
		{"bad_mode", "VIGILO_DEPLOYMENT_MODE", "hybrid", "VIGILO_DEPLOYMENT_MODE"},
		{"zero_grace", "VIGILO_GRACE_DAYS", "0", "VIGILO_GRACE_DAYS"},
		{"bad_thresholds", "VIGILO_GRACE_WARN_DAYS", "5,x", "VIGILO_GRACE_WARN_DAYS"},
		{"negative_threshold", "VIGILO_GRACE_WARN_DAYS", "-1", "VIGILO_GRACE_WARN_DAYS"},
		{"bad_billing_url", "VIGILO_BILLING_URL", "ftp://billing", "VIGILO_BILLING_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
