package entitlements

// DeploymentMode distinguishes the hosted cloud product from self-hosted
// installs.
type DeploymentMode string

const (
	ModeCloud      DeploymentMode = "cloud"
	ModeSelfHosted DeploymentMode = "self-hosted"
)

// ApplyDeploymentOverride returns the bundle adjusted for the deployment
// mode. Self-hosted installs get unlimited numeric limits while feature
// flags stay exactly as stored, so paid features still require a license.
func ApplyDeploymentOverride(b Bundle, mode DeploymentMode) Bundle {
	if mode != ModeSelfHosted {
		return b
	}
	b.Limits = Limits{
		Monitors:    Unlimited,
		StatusPages: Unlimited,
		TeamMembers: Unlimited,
		Regions:     Unlimited,
	}
	return b
}
