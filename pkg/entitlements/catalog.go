package entitlements

// Plan represents a commercial plan tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanBusiness   Plan = "business"
	PlanEnterprise Plan = "enterprise"
)

// planBundles maps each plan to the entitlement bundle it purchases.
// Unknown plans fall back to the free tier; enforcement must never grant
// more than was paid for because a plan id drifted.
var planBundles = map[Plan]Bundle{
	PlanFree: {
		Limits: Limits{Monitors: 10, StatusPages: 1, TeamMembers: 3, Regions: 1},
	},
	PlanStarter: {
		Limits: Limits{Monitors: 50, StatusPages: 3, TeamMembers: 10, Regions: 3},
		Flags:  Flags{Reports: true},
	},
	PlanPro: {
		Limits: Limits{Monitors: 200, StatusPages: 10, TeamMembers: 25, Regions: 6},
		Flags: Flags{
			SSO:         true,
			AuditLogs:   true,
			SLOTracking: true,
			Reports:     true,
			MultiRegion: true,
		},
	},
	PlanBusiness: {
		Limits: Limits{Monitors: 1000, StatusPages: 50, TeamMembers: 100, Regions: Unlimited},
		Flags: Flags{
			SSO:         true,
			AuditLogs:   true,
			CustomRoles: true,
			SLOTracking: true,
			Reports:     true,
			MultiRegion: true,
			OnCall:      true,
		},
	},
	PlanEnterprise: {
		Limits: Limits{Monitors: Unlimited, StatusPages: Unlimited, TeamMembers: Unlimited, Regions: Unlimited},
		Flags: Flags{
			SSO:         true,
			AuditLogs:   true,
			CustomRoles: true,
			SLOTracking: true,
			Reports:     true,
			MultiRegion: true,
			OnCall:      true,
		},
	},
}

// BundleForPlan returns the entitlement bundle purchased by the given plan.
// Unknown plans resolve to the free tier.
func BundleForPlan(plan Plan) Bundle {
	if b, ok := planBundles[plan]; ok {
		return b
	}
	return planBundles[PlanFree]
}

// FreeTier returns the default bundle for organizations without a license.
func FreeTier() Bundle {
	return planBundles[PlanFree]
}

// KnownPlan reports whether the plan id is in the catalog.
func KnownPlan(plan Plan) bool {
	_, ok := planBundles[plan]
	return ok
}
