// Package guard is the synchronous request-path entitlement check. It is
// stateless, performs no writes, and is safe to call from any number of
// in-flight requests.
package guard

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vigilohq/vigilo/internal/licensing/licmetrics"
	"github.com/vigilohq/vigilo/pkg/entitlements"
)

// Operation is an API operation subject to entitlement enforcement.
type Operation string

const (
	// Numeric-limited operations.
	OpCreateMonitor    Operation = "create_monitor"
	OpCreateStatusPage Operation = "create_status_page"
	OpInviteMember     Operation = "invite_member"
	OpAddRegion        Operation = "add_region"

	// Flag-gated operations.
	OpConfigureSSO      Operation = "configure_sso"
	OpReadAuditLog      Operation = "read_audit_log"
	OpManageRoles       Operation = "manage_roles"
	OpTrackSLO          Operation = "track_slo"
	OpGenerateReport    Operation = "generate_report"
	OpEnableMultiRegion Operation = "enable_multi_region"
	OpManageOnCall      Operation = "manage_on_call"
)

// limitOps maps numeric-limited operations to the resource they consume.
var limitOps = map[Operation]entitlements.Resource{
	OpCreateMonitor:    entitlements.ResourceMonitors,
	OpCreateStatusPage: entitlements.ResourceStatusPages,
	OpInviteMember:     entitlements.ResourceTeamMembers,
	OpAddRegion:        entitlements.ResourceRegions,
}

// flagOps maps flag-gated operations to the feature they require.
var flagOps = map[Operation]entitlements.Feature{
	OpConfigureSSO:      entitlements.FeatureSSO,
	OpReadAuditLog:      entitlements.FeatureAuditLogs,
	OpManageRoles:       entitlements.FeatureCustomRoles,
	OpTrackSLO:          entitlements.FeatureSLOTracking,
	OpGenerateReport:    entitlements.FeatureReports,
	OpEnableMultiRegion: entitlements.FeatureMultiRegion,
	OpManageOnCall:      entitlements.FeatureOnCall,
}

// LimitedResource returns the resource consumed by a numeric-limited
// operation, or ("", false) for flag-gated ones.
func LimitedResource(op Operation) (entitlements.Resource, bool) {
	r, ok := limitOps[op]
	return r, ok
}

// DenialKind distinguishes the two structured denial reasons.
type DenialKind string

const (
	DenyLimit   DenialKind = "limit"
	DenyFeature DenialKind = "feature"
)

// Denial carries enough structure for a client to render an upgrade prompt
// instead of a generic error.
type Denial struct {
	Kind DenialKind `json:"kind"`

	// Limit denials.
	Resource entitlements.Resource `json:"resource,omitempty"`
	Limit    int64                 `json:"limit,omitempty"`
	Current  int64                 `json:"current,omitempty"`

	// Feature denials.
	Feature entitlements.Feature `json:"feature,omitempty"`
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool    `json:"allowed"`
	Denial  *Denial `json:"denial,omitempty"`
}

// Resolver is the entitlement lookup the guard consumes.
type Resolver interface {
	Resolve(ctx context.Context, orgID string) (entitlements.Bundle, error)
}

// Guard authorizes operations against resolved entitlements.
type Guard struct {
	resolver Resolver
}

// New creates a Guard backed by the given resolver.
func New(resolver Resolver) *Guard {
	return &Guard{resolver: resolver}
}

// Authorize checks one operation. currentUsage is the caller's count of the
// resource being created; it is ignored for flag-gated operations.
//
// Enforcement is identical inside and outside a grace period: grace
// preserves the purchased bundle (handled by the resolver) but never
// relaxes that bundle's own limits.
func (g *Guard) Authorize(ctx context.Context, orgID string, op Operation, currentUsage int64) (Decision, error) {
	bundle, err := g.resolver.Resolve(ctx, orgID)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve entitlements for org %q: %w", orgID, err)
	}

	d := decide(bundle, op, currentUsage)
	outcome := "allow"
	if !d.Allowed {
		outcome = "deny"
	}
	licmetrics.EnforcementDecisions.WithLabelValues(string(op), outcome).Inc()
	return d, nil
}

func decide(bundle entitlements.Bundle, op Operation, currentUsage int64) Decision {
	if resource, ok := limitOps[op]; ok {
		limit, _ := bundle.LimitFor(resource)
		if limit == entitlements.Unlimited || currentUsage+1 <= limit {
			return Decision{Allowed: true}
		}
		return Decision{Allowed: false, Denial: &Denial{
			Kind:     DenyLimit,
			Resource: resource,
			Limit:    limit,
			Current:  currentUsage,
		}}
	}

	if feature, ok := flagOps[op]; ok {
		if enabled, _ := bundle.FlagFor(feature); enabled {
			return Decision{Allowed: true}
		}
		return Decision{Allowed: false, Denial: &Denial{
			Kind:    DenyFeature,
			Feature: feature,
		}}
	}

	// Unknown operations are not entitlement-gated.
	return Decision{Allowed: true}
}

// String renders the denial for logs.
func (d *Denial) String() string {
	if d == nil {
		return ""
	}
	if d.Kind == DenyLimit {
		return string(d.Resource) + " limit reached (" + strconv.FormatInt(d.Current, 10) + "/" + strconv.FormatInt(d.Limit, 10) + ")"
	}
	return string(d.Feature) + " not included in current plan"
}
