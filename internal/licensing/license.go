// Package licensing implements the license lifecycle state machine and its
// supporting types. The state machine itself is pure; persistence, webhook
// ingestion, and reconciliation live in subpackages.
package licensing

import (
	"slices"
	"time"

	"github.com/vigilohq/vigilo/pkg/entitlements"
)

// Status is the lifecycle state of a license.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
)

// GraceStatus tracks the grace window of a suspended or expired license.
type GraceStatus string

const (
	GraceNone    GraceStatus = "none"
	GraceActive  GraceStatus = "active"
	GraceExpired GraceStatus = "expired"
)

// License is the reconciled view of one vendor license object. It is keyed
// by the vendor-issued external id; the organization reference is set once
// at creation and never changes.
type License struct {
	ExternalID     string `json:"external_id"`
	OrganizationID string `json:"organization_id"`

	Plan   entitlements.Plan `json:"plan"`
	Status Status            `json:"status"`

	GracePeriodStatus     GraceStatus `json:"grace_period_status"`
	GracePeriodStartedAt  *time.Time  `json:"grace_period_started_at,omitempty"`
	GracePeriodEndsAt     *time.Time  `json:"grace_period_ends_at,omitempty"`
	GracePeriodEmailsSent []int       `json:"grace_period_emails_sent,omitempty"`

	// Entitlements is the bundle snapshot taken at last sync. Enforcement
	// reads this snapshot, never the live catalog, so catalog drift cannot
	// change what a tenant already paid for.
	Entitlements *entitlements.Bundle `json:"entitlements,omitempty"`

	ValidFrom *time.Time `json:"valid_from,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	LastValidatedAt     *time.Time `json:"last_validated_at,omitempty"`
	LastValidationOK    bool       `json:"last_validation_ok"`
	ConsecutiveFailures int        `json:"consecutive_failures"`

	MachineFingerprint string            `json:"machine_fingerprint,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy. The state machine operates on copies so a
// failed transaction never leaves a half-mutated license in memory.
func (l *License) Clone() *License {
	if l == nil {
		return nil
	}
	c := *l
	c.GracePeriodStartedAt = cloneTime(l.GracePeriodStartedAt)
	c.GracePeriodEndsAt = cloneTime(l.GracePeriodEndsAt)
	c.ValidFrom = cloneTime(l.ValidFrom)
	c.ExpiresAt = cloneTime(l.ExpiresAt)
	c.LastValidatedAt = cloneTime(l.LastValidatedAt)
	c.GracePeriodEmailsSent = slices.Clone(l.GracePeriodEmailsSent)
	if l.Entitlements != nil {
		b := *l.Entitlements
		c.Entitlements = &b
	}
	if l.Metadata != nil {
		c.Metadata = make(map[string]string, len(l.Metadata))
		for k, v := range l.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// InGracePeriod reports whether the license currently has an open grace
// window.
func (l *License) InGracePeriod() bool {
	return l != nil && l.GracePeriodStatus == GraceActive
}

// GraceDaysRemaining returns whole days left in the grace window, rounded
// up, or 0 when no window is open or it already elapsed.
func (l *License) GraceDaysRemaining(now time.Time) int {
	if !l.InGracePeriod() || l.GracePeriodEndsAt == nil {
		return 0
	}
	remaining := l.GracePeriodEndsAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// ThresholdNotified reports whether the warning for the given day threshold
// was already sent.
func (l *License) ThresholdNotified(days int) bool {
	return l != nil && slices.Contains(l.GracePeriodEmailsSent, days)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
