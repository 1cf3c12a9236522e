package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vigilohq/vigilo/internal/licensing"
	"github.com/vigilohq/vigilo/pkg/entitlements"
)

// ErrMalformedPayload marks payloads that fail structural parsing. The
// handler maps it to 400 before any persistence is attempted.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// envelope is the vendor's event wrapper: an event type, one primary
// resource, and optional included side-resources carrying entitlement
// metadata.
type envelope struct {
	Event    string            `json:"event"`
	Data     resourcePayload   `json:"data"`
	Included []includedPayload `json:"included,omitempty"`
}

type resourcePayload struct {
	Type       string             `json:"type"`
	ID         string             `json:"id"`
	Attributes resourceAttributes `json:"attributes"`
}

type resourceAttributes struct {
	OrganizationID     string            `json:"organizationId"`
	Plan               string            `json:"plan"`
	ValidFrom          *time.Time        `json:"validFrom,omitempty"`
	ExpiresAt          *time.Time        `json:"expiresAt,omitempty"`
	MachineFingerprint string            `json:"machineFingerprint,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type includedPayload struct {
	Type       string          `json:"type"`
	Attributes json.RawMessage `json:"attributes"`
}

// DecodeEvent parses a vendor delivery into a typed event. Structural
// failures (invalid JSON, missing event type or license id) return
// ErrMalformedPayload; an unrecognized event type decodes into
// licensing.UnhandledEvent so newer vendor API versions never fail
// ingestion.
func DecodeEvent(body []byte) (licensing.Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}
	eventType := strings.TrimSpace(env.Event)
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}
	licenseID := strings.TrimSpace(env.Data.ID)
	if licenseID == "" {
		return nil, fmt.Errorf("%w: missing license id", ErrMalformedPayload)
	}

	attrs := env.Data.Attributes
	switch licensing.EventType(eventType) {
	case licensing.EventCreated:
		if strings.TrimSpace(attrs.OrganizationID) == "" {
			return nil, fmt.Errorf("%w: license.created without organizationId", ErrMalformedPayload)
		}
		return licensing.CreatedEvent{
			ID:                 licenseID,
			OrganizationID:     attrs.OrganizationID,
			Plan:               entitlements.Plan(attrs.Plan),
			ValidFrom:          attrs.ValidFrom,
			ExpiresAt:          attrs.ExpiresAt,
			MachineFingerprint: attrs.MachineFingerprint,
			Metadata:           attrs.Metadata,
			Entitlements:       includedBundle(env.Included),
		}, nil
	case licensing.EventRenewed:
		return licensing.RenewedEvent{ID: licenseID, ExpiresAt: attrs.ExpiresAt}, nil
	case licensing.EventExpired:
		return licensing.ExpiredEvent{ID: licenseID}, nil
	case licensing.EventSuspended:
		return licensing.SuspendedEvent{ID: licenseID}, nil
	case licensing.EventReinstated:
		return licensing.ReinstatedEvent{ID: licenseID}, nil
	case licensing.EventRevoked:
		return licensing.RevokedEvent{ID: licenseID}, nil
	case licensing.EventEntitlementsAttach, licensing.EventEntitlementsChanged:
		bundle := includedBundle(env.Included)
		if bundle == nil {
			return nil, fmt.Errorf("%w: entitlement event without entitlement resource", ErrMalformedPayload)
		}
		return licensing.EntitlementsChangedEvent{
			ID:           licenseID,
			Attached:     licensing.EventType(eventType) == licensing.EventEntitlementsAttach,
			Entitlements: *bundle,
		}, nil
	default:
		return licensing.UnhandledEvent{RawType: eventType, ID: licenseID}, nil
	}
}

// includedBundle extracts an entitlement bundle from included
// side-resources, if one is present and decodes cleanly.
func includedBundle(included []includedPayload) *entitlements.Bundle {
	for _, res := range included {
		if res.Type != "entitlement" && res.Type != "entitlements" {
			continue
		}
		var b entitlements.Bundle
		if err := json.Unmarshal(res.Attributes, &b); err != nil {
			continue
		}
		return &b
	}
	return nil
}
