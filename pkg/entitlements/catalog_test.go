package entitlements

import "testing"

func TestBundleForPlan_UnknownFallsBackToFree(t *testing.T) {
	got := BundleForPlan(Plan("legacy_gold"))
	want := FreeTier()
	if got != want {
		t.Errorf("unknown plan bundle = %+v, want free tier %+v", got, want)
	}
}

func TestBundleForPlan_TiersAreMonotonic(t *testing.T) {
	// Each paid tier must grant at least what the tier below it grants.
	order := []Plan{PlanFree, PlanStarter, PlanPro, PlanBusiness, PlanEnterprise}
	for i := 1; i < len(order); i++ {
		lower := BundleForPlan(order[i-1])
		higher := BundleForPlan(order[i])
		if lower.Exceeds(higher) {
			t.Errorf("plan %s grants more than %s: %+v > %+v", order[i-1], order[i], lower.Limits, higher.Limits)
		}
	}
}

func TestLimitFor(t *testing.T) {
	b := BundleForPlan(PlanPro)

	tests := []struct {
		resource Resource
		want     int64
		known    bool
	}{
		{ResourceMonitors, 200, true},
		{ResourceStatusPages, 10, true},
		{ResourceTeamMembers, 25, true},
		{ResourceRegions, 6, true},
		{Resource("widgets"), 0, false},
	}
	for _, tt := range tests {
		got, ok := b.LimitFor(tt.resource)
		if got != tt.want || ok != tt.known {
			t.Errorf("LimitFor(%s) = (%d, %v), want (%d, %v)", tt.resource, got, ok, tt.want, tt.known)
		}
	}
}

func TestFlagFor_UnknownFeature(t *testing.T) {
	b := BundleForPlan(PlanEnterprise)
	if v, ok := b.FlagFor(Feature("teleport")); v || ok {
		t.Errorf("FlagFor(unknown) = (%v, %v), want (false, false)", v, ok)
	}
}

func TestFreeTierHasNoPaidFlags(t *testing.T) {
	free := FreeTier()
	if free.Flags != (Flags{}) {
		t.Errorf("free tier grants paid flags: %+v", free.Flags)
	}
}
