package reconciler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/vigilohq/vigilo/internal/email"
	"github.com/vigilohq/vigilo/internal/licensing"
	"github.com/vigilohq/vigilo/pkg/entitlements"
)

// Notifier delivers grace period notifications to the license holder.
type Notifier interface {
	GraceWarning(ctx context.Context, lic *licensing.License, daysRemaining int) error
	Downgraded(ctx context.Context, lic *licensing.License, previousPlan entitlements.Plan) error
}

// Recipient resolves the billing contact address for an organization.
type Recipient func(orgID string) (string, error)

// EmailNotifier sends grace notifications through an email.Sender.
type EmailNotifier struct {
	sender     email.Sender
	recipient  Recipient
	from       string
	billingURL string
}

// NewEmailNotifier creates an email-backed notifier.
func NewEmailNotifier(sender email.Sender, recipient Recipient, from, billingURL string) *EmailNotifier {
	return &EmailNotifier{sender: sender, recipient: recipient, from: from, billingURL: billingURL}
}

// GraceWarning emails the remaining-days warning for one threshold.
func (n *EmailNotifier) GraceWarning(ctx context.Context, lic *licensing.License, daysRemaining int) error {
	to, err := n.recipient(lic.OrganizationID)
	if err != nil {
		return fmt.Errorf("resolve billing contact for org %q: %w", lic.OrganizationID, err)
	}

	html, text, err := email.RenderGraceWarningEmail(email.GraceWarningData{
		Plan:          string(lic.Plan),
		DaysRemaining: daysRemaining,
		BillingURL:    n.billingURL,
	})
	if err != nil {
		return err
	}

	unit := "days"
	if daysRemaining == 1 {
		unit = "day"
	}
	return n.sender.Send(ctx, email.Message{
		From:    n.from,
		To:      to,
		Subject: fmt.Sprintf("Your Vigilo subscription lapses in %d %s", daysRemaining, unit),
		HTML:    html,
		Text:    text,
	})
}

// Downgraded emails the post-grace downgrade notice.
func (n *EmailNotifier) Downgraded(ctx context.Context, lic *licensing.License, previousPlan entitlements.Plan) error {
	to, err := n.recipient(lic.OrganizationID)
	if err != nil {
		return fmt.Errorf("resolve billing contact for org %q: %w", lic.OrganizationID, err)
	}

	html, text, err := email.RenderDowngradeEmail(email.DowngradeData{
		PreviousPlan: string(previousPlan),
		BillingURL:   n.billingURL,
	})
	if err != nil {
		return err
	}

	return n.sender.Send(ctx, email.Message{
		From:    n.from,
		To:      to,
		Subject: "Your Vigilo workspace was moved to the free plan",
		HTML:    html,
		Text:    text,
	})
}

// LogNotifier logs notifications instead of sending them. Used when no
// email provider is configured.
type LogNotifier struct{}

// GraceWarning logs the warning.
func (LogNotifier) GraceWarning(_ context.Context, lic *licensing.License, daysRemaining int) error {
	log.Info().
		Str("license_id", lic.ExternalID).
		Str("organization_id", lic.OrganizationID).
		Int("days_remaining", daysRemaining).
		Msg("Grace period warning (no email provider configured)")
	return nil
}

// Downgraded logs the downgrade notice.
func (LogNotifier) Downgraded(_ context.Context, lic *licensing.License, previousPlan entitlements.Plan) error {
	log.Info().
		Str("license_id", lic.ExternalID).
		Str("organization_id", lic.OrganizationID).
		Str("previous_plan", string(previousPlan)).
		Msg("License downgraded to free tier (no email provider configured)")
	return nil
}
