package licensing

import (
	"time"

	"github.com/vigilohq/vigilo/pkg/entitlements"
)

// BillingEventType classifies an audit record.
type BillingEventType string

const (
	BillingLicenseCreated     BillingEventType = "license_created"
	BillingLicenseRenewed     BillingEventType = "license_renewed"
	BillingLicenseExpired     BillingEventType = "license_expired"
	BillingLicenseSuspended   BillingEventType = "license_suspended"
	BillingLicenseReinstated  BillingEventType = "license_reinstated"
	BillingLicenseRevoked     BillingEventType = "license_revoked"
	BillingEntitlementsSynced BillingEventType = "entitlements_synced"
	BillingGraceStarted       BillingEventType = "grace_period_started"
	BillingGraceEnded         BillingEventType = "grace_period_ended"
	BillingDowngraded         BillingEventType = "downgraded"
)

// EventSource distinguishes vendor-driven transitions from ones the
// reconciler applies on a timer.
type EventSource string

const (
	SourceWebhook EventSource = "webhook"
	SourceSystem  EventSource = "system"
)

// StateSnapshot captures the observable license state before or after a
// transition, embedded in the audit record.
type StateSnapshot struct {
	Status            Status            `json:"status"`
	GracePeriodStatus GraceStatus       `json:"grace_period_status"`
	Plan              entitlements.Plan `json:"plan"`
}

// BillingEvent is one append-only audit record of a state transition. Rows
// are never mutated or deleted after insert; replayed webhooks produce no
// duplicates because the state machine's no-op branches emit nothing.
type BillingEvent struct {
	// ID is assigned by the store at insert time (ULID, so the audit trail
	// sorts by creation).
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	LicenseID      string           `json:"license_id"`
	Type           BillingEventType `json:"type"`
	Source         EventSource      `json:"source"`
	PreviousState  *StateSnapshot   `json:"previous_state,omitempty"`
	NewState       *StateSnapshot   `json:"new_state,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

func snapshot(l *License) *StateSnapshot {
	if l == nil {
		return nil
	}
	return &StateSnapshot{
		Status:            l.Status,
		GracePeriodStatus: l.GracePeriodStatus,
		Plan:              l.Plan,
	}
}
