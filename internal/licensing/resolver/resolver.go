// Package resolver projects persisted license state into the effective
// entitlement bundle for an organization, behind a read-through cache.
//
// The cache has no TTL: entries live until the ingestion layer or the
// reconciler invalidates them on a state change. A stale entitlement read
// is a correctness bug (a tenant could keep cached unlimited access after a
// downgrade), so freshness comes from explicit invalidation, not expiry.
package resolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/vigilohq/vigilo/internal/licensing"
	"github.com/vigilohq/vigilo/internal/licensing/licmetrics"
	"github.com/vigilohq/vigilo/pkg/entitlements"
)

// LicenseSource loads the current license for an organization. Returns
// (nil, nil) when the organization has none.
type LicenseSource interface {
	GetByOrganization(ctx context.Context, orgID string) (*licensing.License, error)
}

// Resolver resolves an organization's effective entitlement bundle.
type Resolver struct {
	source LicenseSource
	cache  Cache
	mode   entitlements.DeploymentMode
	group  singleflight.Group

	// mu guards gens, the per-organization invalidation generation. A load
	// records the generation before reading the store and only commits its
	// result to the cache if no invalidation bumped it meanwhile. Without
	// this an Invalidate landing mid-load would be lost and the pre-write
	// bundle would sit in the TTL-less cache until the next write.
	mu   sync.Mutex
	gens map[string]uint64
}

// New creates a resolver. A nil cache gets a fresh MemoryCache.
func New(source LicenseSource, cache Cache, mode entitlements.DeploymentMode) *Resolver {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Resolver{source: source, cache: cache, mode: mode, gens: make(map[string]uint64)}
}

// Resolve returns the effective entitlement bundle for the organization.
// Cache hits are lock-free reads; concurrent misses for the same
// organization coalesce into a single load.
func (r *Resolver) Resolve(ctx context.Context, orgID string) (entitlements.Bundle, error) {
	if b, ok := r.cache.Get(orgID); ok {
		licmetrics.ResolverCacheLookups.WithLabelValues("hit").Inc()
		return b, nil
	}
	licmetrics.ResolverCacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := r.group.Do(orgID, func() (any, error) {
		gen := r.generation(orgID)
		b, err := r.load(ctx, orgID)
		if err != nil {
			return entitlements.Bundle{}, err
		}
		r.commit(orgID, gen, b)
		return b, nil
	})
	if err != nil {
		return entitlements.Bundle{}, err
	}
	return v.(entitlements.Bundle), nil
}

// Invalidate drops the cached bundle for an organization. The ingestion
// layer and the reconciler call this on every license write. Bumping the
// generation under the same lock as the drop guarantees any in-flight load
// that read the store before this write cannot re-cache its result.
func (r *Resolver) Invalidate(orgID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[orgID]++
	r.cache.Invalidate(orgID)
}

func (r *Resolver) generation(orgID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[orgID]
}

// commit caches a loaded bundle unless the organization was invalidated
// after the load began.
func (r *Resolver) commit(orgID string, gen uint64, b entitlements.Bundle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gens[orgID] == gen {
		r.cache.Put(orgID, b)
	}
}

func (r *Resolver) load(ctx context.Context, orgID string) (entitlements.Bundle, error) {
	lic, err := r.source.GetByOrganization(ctx, orgID)
	if err != nil {
		return entitlements.Bundle{}, fmt.Errorf("load license for org %q: %w", orgID, err)
	}
	return entitlements.ApplyDeploymentOverride(bundleFor(lic), r.mode), nil
}

// bundleFor projects a license row into its entitlement bundle.
//
// A grace-active license still yields the stored (purchased) bundle: the
// tenant keeps access during the grace window, and the reconciler replaces
// the snapshot with the free tier when the window elapses. A revoked
// license or a row with no snapshot yields the free tier; a malformed or
// partially-migrated license must never block all API access.
func bundleFor(lic *licensing.License) entitlements.Bundle {
	if lic == nil {
		return entitlements.FreeTier()
	}
	if lic.Status == licensing.StatusRevoked {
		return entitlements.FreeTier()
	}
	if lic.Entitlements == nil {
		log.Warn().
			Str("license_id", lic.ExternalID).
			Str("organization_id", lic.OrganizationID).
			Msg("License has no entitlement snapshot, resolving to free tier")
		return entitlements.FreeTier()
	}
	if (lic.Status == licensing.StatusExpired || lic.Status == licensing.StatusSuspended) &&
		lic.GracePeriodStatus == licensing.GraceNone {
		// Lapsed with no open window and not yet reconciled: no grant.
		return entitlements.FreeTier()
	}
	return *lic.Entitlements
}
