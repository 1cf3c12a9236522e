package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigilohq/vigilo/internal/licensing"
	"github.com/vigilohq/vigilo/internal/licensing/store"
)

// Invalidator drops cached entitlements for an organization after a write.
type Invalidator interface {
	Invalidate(orgID string)
}

// Ingestor applies decoded vendor events to the license store through the
// state machine, then invalidates the entitlement cache for the affected
// organization.
type Ingestor struct {
	store       *store.Store
	machine     licensing.Machine
	invalidator Invalidator
	now         func() time.Time
}

// NewIngestor creates an ingestor. invalidator may be nil in tooling that
// has no cache.
func NewIngestor(s *store.Store, machine licensing.Machine, invalidator Invalidator) *Ingestor {
	return &Ingestor{
		store:       s,
		machine:     machine,
		invalidator: invalidator,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Process applies one event transactionally. No-ops (duplicates, unknown
// licenses, unhandled event types) return nil: they are acknowledged
// outcomes, not failures, so the vendor's retry policy never storms.
func (i *Ingestor) Process(ctx context.Context, ev licensing.Event) error {
	var affectedOrg string

	err := i.store.Apply(ctx, ev.LicenseID(), func(current *licensing.License) (*licensing.License, []licensing.BillingEvent, error) {
		res := i.machine.Apply(current, ev, i.now())
		if res.NoOp {
			logNoOp(ev, current)
			return nil, nil, nil
		}
		if res.Next != nil {
			affectedOrg = res.Next.OrganizationID
		}
		return res.Next, res.Events, nil
	})
	if err != nil {
		return fmt.Errorf("apply %s for license %q: %w", ev.Type(), ev.LicenseID(), err)
	}

	if affectedOrg != "" && i.invalidator != nil {
		i.invalidator.Invalidate(affectedOrg)
	}
	return nil
}

func logNoOp(ev licensing.Event, current *licensing.License) {
	evt := log.Info().
		Str("event_type", string(ev.Type())).
		Str("license_id", ev.LicenseID())
	switch {
	case current == nil:
		evt.Msg("Webhook event for unknown license acknowledged without effect")
	default:
		evt.Msg("Webhook event already applied, acknowledged without effect")
	}
}
