// Package entitlements defines the canonical Vigilo plan and entitlement
// contracts.
//
// This package exists so external consumers (dashboard, monitoring engine,
// private extensions) can depend on plan metadata without importing internal
// packages.
package entitlements

// Unlimited marks a numeric limit with no cap.
const Unlimited int64 = -1

// Resource identifies a numerically limited resource kind.
type Resource string

const (
	ResourceMonitors    Resource = "monitors"
	ResourceStatusPages Resource = "status_pages"
	ResourceTeamMembers Resource = "team_members"
	ResourceRegions     Resource = "regions"
)

// Feature identifies a boolean-gated capability.
type Feature string

const (
	FeatureSSO         Feature = "sso"
	FeatureAuditLogs   Feature = "audit_logs"
	FeatureCustomRoles Feature = "custom_roles"
	FeatureSLOTracking Feature = "slo_tracking"
	FeatureReports     Feature = "reports"
	FeatureMultiRegion Feature = "multi_region"
	FeatureOnCall      Feature = "on_call"
)

// Limits holds the numeric resource caps of a bundle. -1 means unlimited.
type Limits struct {
	Monitors    int64 `json:"monitors"`
	StatusPages int64 `json:"status_pages"`
	TeamMembers int64 `json:"team_members"`
	Regions     int64 `json:"regions"`
}

// Flags holds the boolean feature gates of a bundle.
type Flags struct {
	SSO         bool `json:"sso"`
	AuditLogs   bool `json:"audit_logs"`
	CustomRoles bool `json:"custom_roles"`
	SLOTracking bool `json:"slo_tracking"`
	Reports     bool `json:"reports"`
	MultiRegion bool `json:"multi_region"`
	OnCall      bool `json:"on_call"`
}

// Bundle is the full entitlement grant for an organization: numeric limits
// plus feature flags. Bundles are value objects; a new bundle replaces the
// old one atomically, fields are never mutated in place.
type Bundle struct {
	Limits Limits `json:"limits"`
	Flags  Flags  `json:"flags"`
}

// LimitFor returns the numeric cap for the given resource and whether the
// resource is known.
func (b Bundle) LimitFor(r Resource) (int64, bool) {
	switch r {
	case ResourceMonitors:
		return b.Limits.Monitors, true
	case ResourceStatusPages:
		return b.Limits.StatusPages, true
	case ResourceTeamMembers:
		return b.Limits.TeamMembers, true
	case ResourceRegions:
		return b.Limits.Regions, true
	default:
		return 0, false
	}
}

// FlagFor returns the gate value for the given feature and whether the
// feature is known.
func (b Bundle) FlagFor(f Feature) (bool, bool) {
	switch f {
	case FeatureSSO:
		return b.Flags.SSO, true
	case FeatureAuditLogs:
		return b.Flags.AuditLogs, true
	case FeatureCustomRoles:
		return b.Flags.CustomRoles, true
	case FeatureSLOTracking:
		return b.Flags.SLOTracking, true
	case FeatureReports:
		return b.Flags.Reports, true
	case FeatureMultiRegion:
		return b.Flags.MultiRegion, true
	case FeatureOnCall:
		return b.Flags.OnCall, true
	default:
		return false, false
	}
}

// Exceeds reports whether any numeric limit of b is higher than the
// corresponding limit of other, treating Unlimited as the maximum.
func (b Bundle) Exceeds(other Bundle) bool {
	pairs := [][2]int64{
		{b.Limits.Monitors, other.Limits.Monitors},
		{b.Limits.StatusPages, other.Limits.StatusPages},
		{b.Limits.TeamMembers, other.Limits.TeamMembers},
		{b.Limits.Regions, other.Limits.Regions},
	}
	for _, p := range pairs {
		if p[1] == Unlimited {
			continue
		}
		if p[0] == Unlimited || p[0] > p[1] {
			return true
		}
	}
	return false
}
