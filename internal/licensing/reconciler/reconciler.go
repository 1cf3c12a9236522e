// Package reconciler sweeps licenses with an open grace window, sends
// warning notifications as the window shrinks, and downgrades licenses
// whose window elapsed. It is the only writer of system-sourced billing
// events.
package reconciler

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigilohq/vigilo/internal/licensing"
	"github.com/vigilohq/vigilo/internal/licensing/licmetrics"
	"github.com/vigilohq/vigilo/internal/licensing/store"
)

// DefaultInterval is how often the reconciler sweeps.
const DefaultInterval = time.Hour

// DefaultWarnThresholds are the remaining-days marks at which a warning is
// sent, each at most once per grace window.
var DefaultWarnThresholds = []int{5, 3, 1}

// Invalidator drops cached entitlements for an organization after the
// reconciler changes its license.
type Invalidator interface {
	Invalidate(orgID string)
}

// Reconciler periodically walks grace-active licenses and applies
// time-driven transitions that no webhook will deliver.
type Reconciler struct {
	store       *store.Store
	machine     licensing.Machine
	notifier    Notifier
	invalidator Invalidator
	thresholds  []int
	interval    time.Duration

	now func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithInterval overrides the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithWarnThresholds overrides the warning thresholds (in remaining days).
func WithWarnThresholds(days []int) Option {
	return func(r *Reconciler) {
		if len(days) > 0 {
			r.thresholds = days
		}
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a reconciler. notifier and invalidator may be nil.
func New(s *store.Store, machine licensing.Machine, notifier Notifier, invalidator Invalidator, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       s,
		machine:     machine,
		notifier:    notifier,
		invalidator: invalidator,
		thresholds:  DefaultWarnThresholds,
		interval:    DefaultInterval,
		now:         time.Now,
	}
	if r.notifier == nil {
		r.notifier = LogNotifier{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps immediately, then on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	log.Info().
		Dur("interval", r.interval).
		Ints("warn_thresholds_days", r.thresholds).
		Msg("Grace period reconciler started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if stats, err := r.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Grace period reconciler stopped")
				return
			}
			licmetrics.ReconcilerSweeps.WithLabelValues("error").Inc()
			log.Error().Err(err).Msg("Grace period sweep failed")
		} else {
			licmetrics.ReconcilerSweeps.WithLabelValues("ok").Inc()
			if stats.Downgraded > 0 || stats.Warned > 0 {
				log.Info().
					Int("scanned", stats.Scanned).
					Int("downgraded", stats.Downgraded).
					Int("warned", stats.Warned).
					Msg("Grace period sweep applied changes")
			}
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Grace period reconciler stopped")
			return
		case <-ticker.C:
		}
	}
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Scanned    int
	Downgraded int
	Warned     int
}

// Sweep walks every license with an open grace window once. A cancelled
// context stops the walk between licenses; per-license work already started
// completes, so a shutdown never leaves a half-applied transition.
func (r *Reconciler) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	licenses, err := r.store.ListByGraceStatus(ctx, licensing.GraceActive)
	if err != nil {
		return stats, err
	}

	now := r.now().UTC()
	for _, lic := range licenses {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Scanned++

		if lic.GracePeriodEndsAt != nil && !now.Before(*lic.GracePeriodEndsAt) {
			downgraded, err := r.downgrade(ctx, lic.ExternalID, now)
			if err != nil {
				return stats, err
			}
			if downgraded {
				stats.Downgraded++
			}
			continue
		}

		warned, err := r.warn(ctx, lic, now)
		if err != nil {
			return stats, err
		}
		if warned {
			stats.Warned++
		}
	}

	r.refreshStatusGauge(ctx)
	return stats, nil
}

// downgrade closes an elapsed grace window under the license lock. The
// state is re-read inside Apply, so a renewal webhook racing the sweep
// wins and the downgrade becomes a no-op.
func (r *Reconciler) downgrade(ctx context.Context, externalID string, now time.Time) (bool, error) {
	var applied *licensing.License
	var previousPlan string

	err := r.store.Apply(ctx, externalID, func(current *licensing.License) (*licensing.License, []licensing.BillingEvent, error) {
		result := r.machine.Downgrade(current, now)
		if result.NoOp {
			return nil, nil, nil
		}
		applied = result.Next
		previousPlan = string(current.Plan)
		return result.Next, result.Events, nil
	})
	if err != nil {
		return false, err
	}
	if applied == nil {
		return false, nil
	}

	licmetrics.ReconcilerDowngrades.Inc()
	if r.invalidator != nil {
		r.invalidator.Invalidate(applied.OrganizationID)
	}
	log.Info().
		Str("license_id", applied.ExternalID).
		Str("organization_id", applied.OrganizationID).
		Str("previous_plan", previousPlan).
		Msg("Grace period elapsed, license downgraded to free tier")

	// Notification failures do not undo the downgrade.
	if err := r.notifier.Downgraded(ctx, applied, applied.Plan); err != nil {
		log.Error().Err(err).
			Str("license_id", applied.ExternalID).
			Msg("Failed to send downgrade notification")
	}
	return true, nil
}

// warn sends at most one warning for the most urgent unnotified threshold
// and records every threshold the window already passed, so a sweep that
// ran late never sends two emails back to back.
func (r *Reconciler) warn(ctx context.Context, lic *licensing.License, now time.Time) (bool, error) {
	daysLeft := lic.GraceDaysRemaining(now)
	if daysLeft <= 0 {
		return false, nil
	}

	due := dueThresholds(lic, r.thresholds, daysLeft)
	if len(due) == 0 {
		return false, nil
	}

	var notified *licensing.License
	err := r.store.Apply(ctx, lic.ExternalID, func(current *licensing.License) (*licensing.License, []licensing.BillingEvent, error) {
		// Re-check under the lock: a renewal may have closed the window.
		if !current.InGracePeriod() {
			return nil, nil, nil
		}
		due = dueThresholds(current, r.thresholds, current.GraceDaysRemaining(now))
		if len(due) == 0 {
			return nil, nil, nil
		}
		next := current.Clone()
		next.GracePeriodEmailsSent = append(next.GracePeriodEmailsSent, due...)
		next.UpdatedAt = now
		notified = next
		return next, nil, nil
	})
	if err != nil {
		return false, err
	}
	if notified == nil {
		return false, nil
	}

	threshold := due[len(due)-1]
	licmetrics.GraceWarningsSent.WithLabelValues(strconv.Itoa(threshold)).Inc()
	log.Info().
		Str("license_id", notified.ExternalID).
		Str("organization_id", notified.OrganizationID).
		Int("days_remaining", daysLeft).
		Int("threshold_days", threshold).
		Msg("Grace period warning sent")

	if err := r.notifier.GraceWarning(ctx, notified, daysLeft); err != nil {
		log.Error().Err(err).
			Str("license_id", notified.ExternalID).
			Msg("Failed to send grace warning notification")
	}
	return true, nil
}

// dueThresholds returns the configured thresholds the window has reached
// but not yet notified, most days first.
func dueThresholds(lic *licensing.License, thresholds []int, daysLeft int) []int {
	var due []int
	for _, t := range thresholds {
		if daysLeft <= t && !lic.ThresholdNotified(t) {
			due = append(due, t)
		}
	}
	return due
}

func (r *Reconciler) refreshStatusGauge(ctx context.Context) {
	counts, err := r.store.CountByStatus(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to refresh license status gauge")
		return
	}
	for _, status := range []licensing.Status{
		licensing.StatusActive, licensing.StatusSuspended,
		licensing.StatusExpired, licensing.StatusRevoked,
	} {
		licmetrics.LicensesByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
