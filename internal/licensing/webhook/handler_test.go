package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vigilohq/vigilo/internal/licensing"
	"github.com/vigilohq/vigilo/internal/licensing/store"
)

const testSecret = "whsec_handler_test"

type recordingInvalidator struct {
	mu   sync.Mutex
	orgs []string
}

func (r *recordingInvalidator) Invalidate(orgID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orgs = append(r.orgs, orgID)
}

func newTestHandler(t *testing.T) (*Handler, *store.Store, *recordingInvalidator) {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	inv := &recordingInvalidator{}
	ingestor := NewIngestor(s, licensing.Machine{}, inv)
	return NewHandler(testSecret, "keygen", ingestor), s, inv
}

func signedRequest(t *testing.T, h *Handler, payload string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/keygen", bytes.NewReader([]byte(payload)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(h.SignatureHeader(), SignPayload(testSecret, time.Now(), []byte(payload)))
	return req
}

func deliver(t *testing.T, h *Handler, payload string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, h, payload))
	return rec
}

const createdPayload = `{"event":"license.created","data":{"type":"license","id":"lic_wh","attributes":{"organizationId":"org_wh","plan":"pro"}}}`

func TestHandler_RejectsBadSignature(t *testing.T) {
	h, _, _ := newTestHandler(t)

	tests := []struct {
		name   string
		mutate func(*http.Request)
	}{
		{"missing_header", func(r *http.Request) { r.Header.Del(h.SignatureHeader()) }},
		{"wrong_secret", func(r *http.Request) {
			r.Header.Set(h.SignatureHeader(), SignPayload("whsec_wrong", time.Now(), []byte(createdPayload)))
		}},
		{"stale_timestamp", func(r *http.Request) {
			r.Header.Set(h.SignatureHeader(), SignPayload(testSecret, time.Now().Add(-time.Hour), []byte(createdPayload)))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signedRequest(t, h, createdPayload)
			tt.mutate(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestHandler_RejectsMalformedPayload(t *testing.T) {
	h, s, _ := newTestHandler(t)

	rec := deliver(t, h, `{"event":"license.created"`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	// Nothing persisted.
	events, err := s.ListBillingEvents(context.Background(), "org_wh")
	if err != nil || len(events) != 0 {
		t.Errorf("billing events after malformed payload: %d (%v)", len(events), err)
	}
}

func TestHandler_CreateThenReplayIsIdempotent(t *testing.T) {
	h, s, inv := newTestHandler(t)

	for i := 0; i < 3; i++ {
		rec := deliver(t, h, createdPayload)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d status = %d, body=%s", i, rec.Code, rec.Body.String())
		}
	}

	lic, err := s.GetByExternalID(context.Background(), "lic_wh")
	if err != nil || lic == nil {
		t.Fatalf("license after create: %v, %v", lic, err)
	}
	if lic.Status != licensing.StatusActive {
		t.Errorf("status = %s", lic.Status)
	}

	events, err := s.ListBillingEvents(context.Background(), "org_wh")
	if err != nil {
		t.Fatalf("ListBillingEvents: %v", err)
	}
	if len(events) != 1 || events[0].Type != licensing.BillingLicenseCreated {
		t.Errorf("events = %d, want exactly one license_created", len(events))
	}

	// Only the effective application invalidates the cache.
	inv.mu.Lock()
	invalidations := len(inv.orgs)
	inv.mu.Unlock()
	if invalidations != 1 {
		t.Errorf("cache invalidations = %d, want 1", invalidations)
	}
}

func TestHandler_UnknownLicenseAcknowledged(t *testing.T) {
	h, _, inv := newTestHandler(t)

	rec := deliver(t, h, `{"event":"license.expired","data":{"type":"license","id":"lic_ghost"}}`)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 so the vendor stops retrying", rec.Code)
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if len(inv.orgs) != 0 {
		t.Errorf("no-op invalidated cache for %v", inv.orgs)
	}
}

func TestHandler_UnknownEventTypeAcknowledged(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := deliver(t, h, `{"event":"machine.heartbeat","data":{"type":"machine","id":"lic_wh"}}`)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHandler_LifecycleOverWire(t *testing.T) {
	h, s, _ := newTestHandler(t)
	ctx := context.Background()

	deliver(t, h, createdPayload)
	deliver(t, h, `{"event":"license.expired","data":{"type":"license","id":"lic_wh"}}`)

	lic, _ := s.GetByExternalID(ctx, "lic_wh")
	if lic.Status != licensing.StatusExpired || lic.GracePeriodStatus != licensing.GraceActive {
		t.Fatalf("after expiry: status=%s grace=%s", lic.Status, lic.GracePeriodStatus)
	}

	deliver(t, h, `{"event":"license.renewed","data":{"type":"license","id":"lic_wh","attributes":{"expiresAt":"2027-06-01T00:00:00Z"}}}`)

	lic, _ = s.GetByExternalID(ctx, "lic_wh")
	if lic.Status != licensing.StatusActive || lic.GracePeriodStatus != licensing.GraceNone {
		t.Fatalf("after renewal: status=%s grace=%s", lic.Status, lic.GracePeriodStatus)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/keygen", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandler_MissingSecretConfiguration(t *testing.T) {
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	h := NewHandler("", "keygen", NewIngestor(s, licensing.Machine{}, nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/keygen", bytes.NewReader([]byte("{}"))))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandler_ConcurrentDistinctLicenses(t *testing.T) {
	h, s, _ := newTestHandler(t)

	var wg sync.WaitGroup
	payloads := []string{
		`{"event":"license.created","data":{"type":"license","id":"lic_c1","attributes":{"organizationId":"org_c1","plan":"starter"}}}`,
		`{"event":"license.created","data":{"type":"license","id":"lic_c2","attributes":{"organizationId":"org_c2","plan":"pro"}}}`,
		`{"event":"license.created","data":{"type":"license","id":"lic_c3","attributes":{"organizationId":"org_c3","plan":"business"}}}`,
	}
	for _, p := range payloads {
		wg.Add(1)
		go func(payload string) {
			defer wg.Done()
			rec := deliver(t, h, payload)
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, body=%s", rec.Code, rec.Body.String())
			}
		}(p)
	}
	wg.Wait()

	for _, id := range []string{"lic_c1", "lic_c2", "lic_c3"} {
		lic, err := s.GetByExternalID(context.Background(), id)
		if err != nil || lic == nil {
			t.Errorf("license %s missing after concurrent create: %v", id, err)
		}
	}
}
