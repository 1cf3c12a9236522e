package usage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/vigilohq/vigilo/pkg/entitlements"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Create(ctx, "org_a", entitlements.ResourceMonitors, "api-check"); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := s.Create(ctx, "org_a", entitlements.ResourceStatusPages, "status"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, "org_b", entitlements.ResourceMonitors, "other"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		org  string
		kind entitlements.Resource
		want int64
	}{
		{"org_a", entitlements.ResourceMonitors, 3},
		{"org_a", entitlements.ResourceStatusPages, 1},
		{"org_a", entitlements.ResourceTeamMembers, 0},
		{"org_b", entitlements.ResourceMonitors, 1},
	}
	for _, tt := range tests {
		got, err := s.Count(ctx, tt.org, tt.kind)
		if err != nil {
			t.Fatalf("Count(%s, %s): %v", tt.org, tt.kind, err)
		}
		if got != tt.want {
			t.Errorf("Count(%s, %s) = %d, want %d", tt.org, tt.kind, got, tt.want)
		}
	}
}

func TestCreateGuarded_DeniedReturnsNoResource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.CreateGuarded(ctx, "org_a", entitlements.ResourceMonitors, "blocked", func(current int64) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatalf("CreateGuarded: %v", err)
	}
	if r != nil {
		t.Fatalf("denied create returned a resource: %+v", r)
	}
	n, err := s.Count(ctx, "org_a", entitlements.ResourceMonitors)
	if err != nil || n != 0 {
		t.Errorf("count after denied create = %d (%v), want 0", n, err)
	}
}

func TestCreateGuarded_SeesCommittedCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var seen []int64
	for i := 0; i < 3; i++ {
		_, err := s.CreateGuarded(ctx, "org_a", entitlements.ResourceMonitors, "check", func(current int64) (bool, error) {
			seen = append(seen, current)
			return true, nil
		})
		if err != nil {
			t.Fatalf("CreateGuarded: %v", err)
		}
	}
	for i, c := range seen {
		if c != int64(i) {
			t.Errorf("authorize call %d saw count %d", i, c)
		}
	}
}

// Concurrent guarded creates must never pass a limit: the count, the
// check, and the insert commit atomically.
func TestCreateGuarded_ConcurrentCreatesRespectLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const limit = 10

	var created atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := s.CreateGuarded(ctx, "org_a", entitlements.ResourceMonitors, "check", func(current int64) (bool, error) {
				return current < limit, nil
			})
			if err != nil {
				t.Errorf("CreateGuarded: %v", err)
				return
			}
			if r != nil {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := created.Load(); got != limit {
		t.Errorf("created = %d, want exactly %d", got, limit)
	}
	n, err := s.Count(ctx, "org_a", entitlements.ResourceMonitors)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != limit {
		t.Errorf("stored rows = %d, want %d", n, limit)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.Create(ctx, "org_a", entitlements.ResourceMonitors, "api-check")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(ctx, r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	n, err := s.Count(ctx, "org_a", entitlements.ResourceMonitors)
	if err != nil || n != 0 {
		t.Errorf("count after delete = %d (%v), want 0", n, err)
	}

	// Unknown id is not an error.
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete(missing) = %v", err)
	}
}

func TestListByOrganization(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	names := []string{"first", "second", "third"}
	for _, name := range names {
		if _, err := s.Create(ctx, "org_a", entitlements.ResourceMonitors, name); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	resources, err := s.ListByOrganization(ctx, "org_a", entitlements.ResourceMonitors)
	if err != nil {
		t.Fatalf("ListByOrganization: %v", err)
	}
	if len(resources) != 3 {
		t.Fatalf("len = %d, want 3", len(resources))
	}
	for _, r := range resources {
		if r.ID == "" {
			t.Error("resource missing id")
		}
		if r.Kind != entitlements.ResourceMonitors {
			t.Errorf("kind = %s", r.Kind)
		}
	}
}
