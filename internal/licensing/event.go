package licensing

import (
	"time"

	"github.com/vigilohq/vigilo/pkg/entitlements"
)

// EventType is the vendor event discriminator.
type EventType string

const (
	EventCreated             EventType = "license.created"
	EventRenewed             EventType = "license.renewed"
	EventExpired             EventType = "license.expired"
	EventSuspended           EventType = "license.suspended"
	EventReinstated          EventType = "license.reinstated"
	EventRevoked             EventType = "license.revoked"
	EventEntitlementsAttach  EventType = "license.entitlements-attached"
	EventEntitlementsChanged EventType = "license.entitlements-changed"
)

// Event is one decoded vendor event. Exactly one concrete type exists per
// event kind; event types the decoder does not recognize become an
// UnhandledEvent so a newer vendor API never breaks ingestion.
type Event interface {
	Type() EventType
	// LicenseID returns the vendor-issued external license id the event
	// targets.
	LicenseID() string
}

// CreatedEvent creates a license. A duplicate create for an existing
// external id is a no-op, not a second row.
type CreatedEvent struct {
	ID                 string
	OrganizationID     string
	Plan               entitlements.Plan
	ValidFrom          *time.Time
	ExpiresAt          *time.Time
	MachineFingerprint string
	Metadata           map[string]string
	// Entitlements carries an explicit bundle from included side-resources.
	// When nil the catalog bundle for Plan is snapshotted instead.
	Entitlements *entitlements.Bundle
}

// RenewedEvent reactivates a license and clears any grace window.
type RenewedEvent struct {
	ID        string
	ExpiresAt *time.Time
}

// ExpiredEvent marks a license expired and opens a grace window.
type ExpiredEvent struct {
	ID string
}

// SuspendedEvent marks a license suspended and opens a grace window.
type SuspendedEvent struct {
	ID string
}

// ReinstatedEvent reactivates a license without changing its validity
// window.
type ReinstatedEvent struct {
	ID string
}

// RevokedEvent revokes a license immediately. Revocation never grants a
// grace window.
type RevokedEvent struct {
	ID string
}

// EntitlementsChangedEvent replaces the stored entitlement snapshot. It is
// emitted by the vendor both as "entitlements-attached" and
// "entitlements-changed"; the effect is identical.
type EntitlementsChangedEvent struct {
	ID           string
	Attached     bool
	Entitlements entitlements.Bundle
}

// UnhandledEvent is any event type the decoder does not recognize. It is
// acknowledged without effect.
type UnhandledEvent struct {
	RawType string
	ID      string
}

func (e CreatedEvent) Type() EventType { return EventCreated }
func (e CreatedEvent) LicenseID() string { return e.ID }

func (e RenewedEvent) Type() EventType { return EventRenewed }
func (e RenewedEvent) LicenseID() string { return e.ID }

func (e ExpiredEvent) Type() EventType { return EventExpired }
func (e ExpiredEvent) LicenseID() string { return e.ID }

func (e SuspendedEvent) Type() EventType { return EventSuspended }
func (e SuspendedEvent) LicenseID() string { return e.ID }

func (e ReinstatedEvent) Type() EventType { return EventReinstated }
func (e ReinstatedEvent) LicenseID() string { return e.ID }

func (e RevokedEvent) Type() EventType { return EventRevoked }
func (e RevokedEvent) LicenseID() string { return e.ID }

func (e EntitlementsChangedEvent) Type() EventType {
	if e.Attached {
		return EventEntitlementsAttach
	}
	return EventEntitlementsChanged
}
func (e EntitlementsChangedEvent) LicenseID() string { return e.ID }

func (e UnhandledEvent) Type() EventType   { return EventType(e.RawType) }
func (e UnhandledEvent) LicenseID() string { return e.ID }
