package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigilohq/vigilo/internal/config"
	"github.com/vigilohq/vigilo/internal/email"
	"github.com/vigilohq/vigilo/internal/licensing"
	"github.com/vigilohq/vigilo/internal/licensing/guard"
	"github.com/vigilohq/vigilo/internal/licensing/reconciler"
	"github.com/vigilohq/vigilo/internal/licensing/resolver"
	"github.com/vigilohq/vigilo/internal/licensing/store"
	"github.com/vigilohq/vigilo/internal/licensing/webhook"
	"github.com/vigilohq/vigilo/internal/logging"
	"github.com/vigilohq/vigilo/internal/usage"
)

var errNoBillingContact = errors.New("license metadata has no billing_email")

// Run starts the licensing service with graceful shutdown.
func Run(ctx context.Context, version string) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "vigilo",
	})

	log.Info().Str("version", version).Msg("Starting Vigilo licensing service")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	licenseStore, err := store.New(cfg.LicensingDir())
	if err != nil {
		return fmt.Errorf("open license store: %w", err)
	}
	defer licenseStore.Close()

	usageStore, err := usage.New(cfg.UsageDir())
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}
	defer usageStore.Close()

	ent := resolver.New(licenseStore, nil, cfg.DeploymentMode)
	machine := licensing.Machine{GracePeriod: cfg.GracePeriod}

	var emailSender email.Sender
	if cfg.PostmarkToken != "" {
		emailSender = email.NewPostmarkSender(cfg.PostmarkToken)
		log.Info().Msg("Email sender configured (Postmark)")
	} else {
		emailSender = email.NewLogSender()
		log.Info().Msg("Email sender: log-only (set POSTMARK_SERVER_TOKEN to enable)")
	}

	deps := &Deps{
		Config:   cfg,
		Store:    licenseStore,
		Usage:    usageStore,
		Resolver: ent,
		Guard:    guard.New(ent),
		Version:  version,
	}

	// Self-hosted deployments receive no vendor webhooks.
	if !cfg.SelfHosted() {
		ingestor := webhook.NewIngestor(licenseStore, machine, ent)
		deps.Webhook = webhook.NewHandler(cfg.WebhookSecret, cfg.VendorName, ingestor)
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start grace period reconciler.
	notifier := reconciler.NewEmailNotifier(emailSender, billingContact(licenseStore), cfg.EmailFrom, cfg.BillingURL)
	rec := reconciler.New(licenseStore, machine, notifier, ent,
		reconciler.WithInterval(cfg.ReconcileInterval),
		reconciler.WithWarnThresholds(cfg.WarnThresholds),
	)
	go rec.Run(ctx)

	go func() {
		log.Info().Str("addr", addr).Str("mode", string(cfg.DeploymentMode)).Msg("Licensing service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Licensing service stopped")
	return nil
}

// billingContact resolves the billing email for an organization from its
// license metadata.
func billingContact(s *store.Store) reconciler.Recipient {
	return func(orgID string) (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		lic, err := s.GetByOrganization(ctx, orgID)
		if err != nil {
			return "", err
		}
		if lic == nil || lic.Metadata["billing_email"] == "" {
			return "", errNoBillingContact
		}
		return lic.Metadata["billing_email"], nil
	}
}
