// Package usage tracks per-organization resource counts. The enforcement
// guard compares these counts against entitlement limits before a create
// is allowed.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vigilohq/vigilo/pkg/entitlements"
)

// Resource is one provisioned resource owned by an organization.
type Resource struct {
	ID             string                `json:"id"`
	OrganizationID string                `json:"organization_id"`
	Kind           entitlements.Resource `json:"kind"`
	Name           string                `json:"name"`
	CreatedAt      time.Time             `json:"created_at"`
}

// Store persists resource records in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the usage database in dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create usage dir: %w", err)
	}

	dbPath := filepath.Join(dir, "usage.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	schema := `
	CREATE TABLE IF NOT EXISTS resources (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		kind            TEXT NOT NULL,
		name            TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_resources_org_kind ON resources(organization_id, kind);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init usage schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create records a new resource and returns it.
func (s *Store) Create(ctx context.Context, orgID string, kind entitlements.Resource, name string) (*Resource, error) {
	r := &Resource{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Kind:           kind,
		Name:           name,
		CreatedAt:      time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (id, organization_id, kind, name, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.OrganizationID, string(r.Kind), r.Name, r.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert %s resource: %w", kind, err)
	}
	return r, nil
}

// CreateGuarded counts the organization's resources of one kind, runs the
// authorize callback on that count, and inserts the new resource, all
// inside a single transaction. The database runs with one connection, so
// concurrent guarded creates serialize here and cannot race each other
// past a limit. A denied create returns (nil, nil).
func (s *Store) CreateGuarded(ctx context.Context, orgID string, kind entitlements.Resource, name string, authorize func(current int64) (bool, error)) (*Resource, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin guarded create: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM resources WHERE organization_id = ? AND kind = ?`,
		orgID, string(kind),
	).Scan(&current)
	if err != nil {
		return nil, fmt.Errorf("count %s resources: %w", kind, err)
	}

	allowed, err := authorize(current)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, nil
	}

	r := &Resource{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Kind:           kind,
		Name:           name,
		CreatedAt:      time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO resources (id, organization_id, kind, name, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.OrganizationID, string(r.Kind), r.Name, r.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert %s resource: %w", kind, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit guarded create: %w", err)
	}
	return r, nil
}

// Count returns how many resources of one kind the organization owns.
func (s *Store) Count(ctx context.Context, orgID string, kind entitlements.Resource) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM resources WHERE organization_id = ? AND kind = ?`,
		orgID, string(kind),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s resources: %w", kind, err)
	}
	return n, nil
}

// Delete removes a resource by id. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete resource %q: %w", id, err)
	}
	return nil
}

// ListByOrganization returns all resources of one kind, oldest first.
func (s *Store) ListByOrganization(ctx context.Context, orgID string, kind entitlements.Resource) ([]*Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, kind, name, created_at
		FROM resources WHERE organization_id = ? AND kind = ?
		ORDER BY created_at ASC, id ASC`,
		orgID, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("list %s resources: %w", kind, err)
	}
	defer rows.Close()

	var resources []*Resource
	for rows.Next() {
		var r Resource
		var kindStr string
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.OrganizationID, &kindStr, &r.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		r.Kind = entitlements.Resource(kindStr)
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		resources = append(resources, &r)
	}
	return resources, rows.Err()
}
