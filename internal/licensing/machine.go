package licensing

import (
	"time"

	"github.com/vigilohq/vigilo/pkg/entitlements"
)

// DefaultGracePeriod is the grace window opened on suspension or expiry.
const DefaultGracePeriod = 5 * 24 * time.Hour

// Machine is the pure license transition function. It performs no I/O;
// callers persist Result.Next and Result.Events transactionally.
type Machine struct {
	// GracePeriod is the window granted on suspension/expiry. Zero means
	// DefaultGracePeriod.
	GracePeriod time.Duration
}

// Result is the outcome of applying one event.
type Result struct {
	// Next is the license state to persist. Nil when the event targeted an
	// unknown license or was otherwise acknowledged without effect.
	Next *License
	// Events are the audit records emitted by this transition. Empty for
	// no-ops, so replays never duplicate the audit trail.
	Events []BillingEvent
	// NoOp is true when the event produced no state change.
	NoOp bool
}

func (m Machine) gracePeriod() time.Duration {
	if m.GracePeriod <= 0 {
		return DefaultGracePeriod
	}
	return m.GracePeriod
}

// Apply computes the next license state for a vendor event. current is nil
// when no license exists for the event's external id. Every branch is
// idempotent: re-applying an event that already took effect returns a no-op
// with no emitted audit records.
func (m Machine) Apply(current *License, ev Event, now time.Time) Result {
	switch e := ev.(type) {
	case CreatedEvent:
		if current != nil {
			return Result{Next: current, NoOp: true}
		}
		return m.create(e, now)
	case RenewedEvent:
		if current == nil {
			return Result{NoOp: true}
		}
		return m.renew(current, e, now)
	case ExpiredEvent:
		if current == nil {
			return Result{NoOp: true}
		}
		return m.lapse(current, StatusExpired, BillingLicenseExpired, now)
	case SuspendedEvent:
		if current == nil {
			return Result{NoOp: true}
		}
		return m.lapse(current, StatusSuspended, BillingLicenseSuspended, now)
	case ReinstatedEvent:
		if current == nil {
			return Result{NoOp: true}
		}
		return m.reactivate(current, BillingLicenseReinstated, nil, now)
	case RevokedEvent:
		if current == nil {
			return Result{NoOp: true}
		}
		return m.revoke(current, now)
	case EntitlementsChangedEvent:
		if current == nil {
			return Result{NoOp: true}
		}
		return m.syncEntitlements(current, e, now)
	default:
		// Unknown event types are acknowledged without effect so a newer
		// vendor API version cannot wedge the retry queue.
		return Result{Next: current, NoOp: true}
	}
}

func (m Machine) create(e CreatedEvent, now time.Time) Result {
	bundle := e.Entitlements
	if bundle == nil {
		b := entitlements.BundleForPlan(e.Plan)
		bundle = &b
	}
	lic := &License{
		ExternalID:         e.ID,
		OrganizationID:     e.OrganizationID,
		Plan:               e.Plan,
		Status:             StatusActive,
		GracePeriodStatus:  GraceNone,
		Entitlements:       bundle,
		ValidFrom:          cloneTime(e.ValidFrom),
		ExpiresAt:          cloneTime(e.ExpiresAt),
		MachineFingerprint: e.MachineFingerprint,
		Metadata:           e.Metadata,
		LastValidatedAt:    &now,
		LastValidationOK:   true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return Result{
		Next: lic,
		Events: []BillingEvent{{
			OrganizationID: lic.OrganizationID,
			LicenseID:      lic.ExternalID,
			Type:           BillingLicenseCreated,
			Source:         SourceWebhook,
			NewState:       snapshot(lic),
			OccurredAt:     now,
		}},
	}
}

// lapse handles both expiry and suspension: set the target status and open
// a grace window unless one is already open.
func (m Machine) lapse(current *License, target Status, billingType BillingEventType, now time.Time) Result {
	if current.Status == target && current.GracePeriodStatus != GraceNone {
		return Result{Next: current, NoOp: true}
	}

	prev := snapshot(current)
	next := current.Clone()
	next.Status = target
	next.UpdatedAt = now

	var events []BillingEvent
	if current.Status != target {
		events = append(events, BillingEvent{
			OrganizationID: next.OrganizationID,
			LicenseID:      next.ExternalID,
			Type:           billingType,
			Source:         SourceWebhook,
			PreviousState:  prev,
			OccurredAt:     now,
		})
	}

	if next.GracePeriodStatus == GraceNone {
		ends := now.Add(m.gracePeriod())
		next.GracePeriodStatus = GraceActive
		next.GracePeriodStartedAt = &now
		next.GracePeriodEndsAt = &ends
		events = append(events, BillingEvent{
			OrganizationID: next.OrganizationID,
			LicenseID:      next.ExternalID,
			Type:           BillingGraceStarted,
			Source:         SourceWebhook,
			PreviousState:  prev,
			NewState:       snapshot(next),
			OccurredAt:     now,
		})
	}

	for i := range events {
		events[i].NewState = snapshot(next)
	}
	return Result{Next: next, Events: events}
}

func (m Machine) renew(current *License, e RenewedEvent, now time.Time) Result {
	// A renewal payload without an expiry leaves the validity window alone.
	sameExpiry := e.ExpiresAt == nil || equalTime(current.ExpiresAt, e.ExpiresAt)
	if current.Status == StatusActive && current.GracePeriodStatus == GraceNone && sameExpiry {
		return Result{Next: current, NoOp: true}
	}
	return m.reactivate(current, BillingLicenseRenewed, e.ExpiresAt, now)
}

// reactivate returns a license to active and closes any grace window. It
// backs both renewal and reinstatement; renewal additionally moves the
// validity window forward.
func (m Machine) reactivate(current *License, billingType BillingEventType, expiresAt *time.Time, now time.Time) Result {
	if billingType == BillingLicenseReinstated &&
		current.Status == StatusActive && current.GracePeriodStatus == GraceNone {
		return Result{Next: current, NoOp: true}
	}

	prev := snapshot(current)
	next := current.Clone()
	next.Status = StatusActive
	next.GracePeriodStatus = GraceNone
	next.GracePeriodStartedAt = nil
	next.GracePeriodEndsAt = nil
	next.GracePeriodEmailsSent = nil
	if expiresAt != nil {
		next.ExpiresAt = cloneTime(expiresAt)
	}
	next.LastValidatedAt = &now
	next.LastValidationOK = true
	next.ConsecutiveFailures = 0
	next.UpdatedAt = now

	return Result{
		Next: next,
		Events: []BillingEvent{{
			OrganizationID: next.OrganizationID,
			LicenseID:      next.ExternalID,
			Type:           billingType,
			Source:         SourceWebhook,
			PreviousState:  prev,
			NewState:       snapshot(next),
			OccurredAt:     now,
		}},
	}
}

// revoke is unconditional and immediate: it represents vendor-side fraud or
// chargeback response, not a lapse the tenant can remedy, so no grace
// window is granted and any open one is closed.
func (m Machine) revoke(current *License, now time.Time) Result {
	if current.Status == StatusRevoked && current.GracePeriodStatus == GraceNone {
		return Result{Next: current, NoOp: true}
	}

	prev := snapshot(current)
	next := current.Clone()
	next.Status = StatusRevoked
	next.GracePeriodStatus = GraceNone
	next.GracePeriodStartedAt = nil
	next.GracePeriodEndsAt = nil
	next.UpdatedAt = now

	return Result{
		Next: next,
		Events: []BillingEvent{{
			OrganizationID: next.OrganizationID,
			LicenseID:      next.ExternalID,
			Type:           BillingLicenseRevoked,
			Source:         SourceWebhook,
			PreviousState:  prev,
			NewState:       snapshot(next),
			OccurredAt:     now,
		}},
	}
}

func (m Machine) syncEntitlements(current *License, e EntitlementsChangedEvent, now time.Time) Result {
	if current.Entitlements != nil && *current.Entitlements == e.Entitlements {
		return Result{Next: current, NoOp: true}
	}

	prev := snapshot(current)
	next := current.Clone()
	b := e.Entitlements
	next.Entitlements = &b
	next.UpdatedAt = now

	return Result{
		Next: next,
		Events: []BillingEvent{{
			OrganizationID: next.OrganizationID,
			LicenseID:      next.ExternalID,
			Type:           BillingEntitlementsSynced,
			Source:         SourceWebhook,
			PreviousState:  prev,
			NewState:       snapshot(next),
			OccurredAt:     now,
		}},
	}
}

// Downgrade applies the post-grace transition: the window is closed and the
// stored entitlements are replaced with the free tier. Only the reconciler
// calls this, and only once per grace window.
func (m Machine) Downgrade(current *License, now time.Time) Result {
	if current == nil || current.GracePeriodStatus != GraceActive {
		return Result{Next: current, NoOp: true}
	}
	if current.GracePeriodEndsAt == nil || now.Before(*current.GracePeriodEndsAt) {
		return Result{Next: current, NoOp: true}
	}

	prev := snapshot(current)
	next := current.Clone()
	next.GracePeriodStatus = GraceExpired
	free := entitlements.FreeTier()
	next.Entitlements = &free
	next.UpdatedAt = now

	return Result{
		Next: next,
		Events: []BillingEvent{
			{
				OrganizationID: next.OrganizationID,
				LicenseID:      next.ExternalID,
				Type:           BillingGraceEnded,
				Source:         SourceSystem,
				PreviousState:  prev,
				NewState:       snapshot(next),
				OccurredAt:     now,
			},
			{
				OrganizationID: next.OrganizationID,
				LicenseID:      next.ExternalID,
				Type:           BillingDowngraded,
				Source:         SourceSystem,
				PreviousState:  prev,
				NewState:       snapshot(next),
				OccurredAt:     now,
			},
		},
	}
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
