// Package store persists licenses and their billing-event audit trail in
// SQLite. All mutation of a license goes through Apply, which serializes
// concurrent work on the same license and writes the new state plus its
// audit records in one transaction.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/vigilohq/vigilo/internal/licensing"
	"github.com/vigilohq/vigilo/pkg/entitlements"
)

// Store provides license and billing-event persistence backed by SQLite.
type Store struct {
	db    *sql.DB
	locks *keyedMutex
}

// New opens (or creates) the licensing database in dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create licensing dir: %w", err)
	}

	dbPath := filepath.Join(dir, "licensing.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open licensing db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, locks: newKeyedMutex()}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS licenses (
		external_id             TEXT PRIMARY KEY,
		organization_id         TEXT NOT NULL,
		plan                    TEXT NOT NULL DEFAULT 'free',
		status                  TEXT NOT NULL DEFAULT 'active',
		grace_period_status     TEXT NOT NULL DEFAULT 'none',
		grace_period_started_at INTEGER,
		grace_period_ends_at    INTEGER,
		grace_emails_sent       TEXT NOT NULL DEFAULT '[]',
		entitlements            TEXT,
		valid_from              INTEGER,
		expires_at              INTEGER,
		last_validated_at       INTEGER,
		last_validation_ok      INTEGER NOT NULL DEFAULT 0,
		consecutive_failures    INTEGER NOT NULL DEFAULT 0,
		machine_fingerprint     TEXT NOT NULL DEFAULT '',
		metadata                TEXT NOT NULL DEFAULT '{}',
		created_at              INTEGER NOT NULL,
		updated_at              INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_licenses_org ON licenses(organization_id);
	CREATE INDEX IF NOT EXISTS idx_licenses_grace ON licenses(grace_period_status);

	CREATE TABLE IF NOT EXISTS billing_events (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		license_id      TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		source          TEXT NOT NULL,
		previous_state  TEXT,
		new_state       TEXT,
		occurred_at     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_billing_events_org ON billing_events(organization_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_billing_events_license ON billing_events(license_id, occurred_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init licensing schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ApplyFunc computes the next state for a license under its lock. current
// is nil when no row exists. Returning a nil next with no events leaves the
// row untouched.
type ApplyFunc func(current *licensing.License) (next *licensing.License, events []licensing.BillingEvent, err error)

// Apply runs fn for the given external license id while holding the
// per-license lock, then persists the returned state and audit records in
// one transaction. Concurrent events for the same license serialize here;
// different licenses proceed in parallel.
func (s *Store) Apply(ctx context.Context, externalID string, fn ApplyFunc) error {
	unlock := s.locks.lock(externalID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin license tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := getLicenseTx(tx, externalID)
	if err != nil {
		return err
	}

	next, events, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil && len(events) == 0 {
		return tx.Commit()
	}

	if next != nil {
		if err := upsertLicenseTx(tx, next); err != nil {
			return err
		}
	}
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = newEventID(events[i].OccurredAt)
		}
		if err := insertBillingEventTx(tx, &events[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit license tx: %w", err)
	}
	return nil
}

// GetByExternalID retrieves a license by its vendor-issued id. Returns
// (nil, nil) when no row exists.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*licensing.License, error) {
	row := s.db.QueryRowContext(ctx, licenseSelect+` WHERE external_id = ?`, externalID)
	return scanLicense(row)
}

// GetByOrganization retrieves the most recently updated license owned by
// the organization. Returns (nil, nil) when the organization has none.
func (s *Store) GetByOrganization(ctx context.Context, orgID string) (*licensing.License, error) {
	row := s.db.QueryRowContext(ctx, licenseSelect+`
		WHERE organization_id = ? ORDER BY updated_at DESC, created_at DESC LIMIT 1`, orgID)
	return scanLicense(row)
}

// ListByGraceStatus returns all licenses with the given grace status,
// oldest grace window first so the reconciler handles the most overdue
// licenses before an interrupted sweep resumes.
func (s *Store) ListByGraceStatus(ctx context.Context, status licensing.GraceStatus) ([]*licensing.License, error) {
	rows, err := s.db.QueryContext(ctx, licenseSelect+`
		WHERE grace_period_status = ? ORDER BY grace_period_ends_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list licenses by grace status: %w", err)
	}
	defer rows.Close()
	return scanLicenses(rows)
}

// CountByStatus returns a map of lifecycle status -> license count.
func (s *Store) CountByStatus(ctx context.Context) (map[licensing.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM licenses GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count licenses by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[licensing.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[licensing.Status(status)] = count
	}
	return counts, rows.Err()
}

// ListBillingEvents returns the audit trail for an organization, oldest
// first.
func (s *Store) ListBillingEvents(ctx context.Context, orgID string) ([]*licensing.BillingEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, organization_id, license_id, event_type, source, previous_state, new_state, occurred_at
		FROM billing_events WHERE organization_id = ? ORDER BY occurred_at ASC, id ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list billing events: %w", err)
	}
	defer rows.Close()

	var events []*licensing.BillingEvent
	for rows.Next() {
		ev, err := scanBillingEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

const licenseSelect = `SELECT
	external_id, organization_id, plan, status,
	grace_period_status, grace_period_started_at, grace_period_ends_at, grace_emails_sent,
	entitlements, valid_from, expires_at,
	last_validated_at, last_validation_ok, consecutive_failures,
	machine_fingerprint, metadata, created_at, updated_at
	FROM licenses`

func getLicenseTx(tx *sql.Tx, externalID string) (*licensing.License, error) {
	row := tx.QueryRow(licenseSelect+` WHERE external_id = ?`, externalID)
	return scanLicense(row)
}

func upsertLicenseTx(tx *sql.Tx, l *licensing.License) error {
	emailsSent, err := json.Marshal(emptySliceIfNil(l.GracePeriodEmailsSent))
	if err != nil {
		return fmt.Errorf("encode grace emails sent: %w", err)
	}
	metadata, err := json.Marshal(emptyMapIfNil(l.Metadata))
	if err != nil {
		return fmt.Errorf("encode license metadata: %w", err)
	}
	var bundle any
	if l.Entitlements != nil {
		raw, err := json.Marshal(l.Entitlements)
		if err != nil {
			return fmt.Errorf("encode entitlement snapshot: %w", err)
		}
		bundle = string(raw)
	}

	_, err = tx.Exec(`
		INSERT INTO licenses (
			external_id, organization_id, plan, status,
			grace_period_status, grace_period_started_at, grace_period_ends_at, grace_emails_sent,
			entitlements, valid_from, expires_at,
			last_validated_at, last_validation_ok, consecutive_failures,
			machine_fingerprint, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			plan = excluded.plan,
			status = excluded.status,
			grace_period_status = excluded.grace_period_status,
			grace_period_started_at = excluded.grace_period_started_at,
			grace_period_ends_at = excluded.grace_period_ends_at,
			grace_emails_sent = excluded.grace_emails_sent,
			entitlements = excluded.entitlements,
			valid_from = excluded.valid_from,
			expires_at = excluded.expires_at,
			last_validated_at = excluded.last_validated_at,
			last_validation_ok = excluded.last_validation_ok,
			consecutive_failures = excluded.consecutive_failures,
			machine_fingerprint = excluded.machine_fingerprint,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		l.ExternalID, l.OrganizationID, string(l.Plan), string(l.Status),
		string(l.GracePeriodStatus), nullableTimeUnix(l.GracePeriodStartedAt), nullableTimeUnix(l.GracePeriodEndsAt), string(emailsSent),
		bundle, nullableTimeUnix(l.ValidFrom), nullableTimeUnix(l.ExpiresAt),
		nullableTimeUnix(l.LastValidatedAt), boolToInt(l.LastValidationOK), l.ConsecutiveFailures,
		l.MachineFingerprint, string(metadata), l.CreatedAt.Unix(), l.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert license %q: %w", l.ExternalID, err)
	}
	return nil
}

func insertBillingEventTx(tx *sql.Tx, ev *licensing.BillingEvent) error {
	prev, err := marshalSnapshot(ev.PreviousState)
	if err != nil {
		return err
	}
	next, err := marshalSnapshot(ev.NewState)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO billing_events (
			id, organization_id, license_id, event_type, source, previous_state, new_state, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.OrganizationID, ev.LicenseID, string(ev.Type), string(ev.Source),
		prev, next, ev.OccurredAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert billing event %s: %w", ev.Type, err)
	}
	return nil
}

func marshalSnapshot(s *licensing.StateSnapshot) (any, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state snapshot: %w", err)
	}
	return string(raw), nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanLicense(s scanner) (*licensing.License, error) {
	var l licensing.License
	var plan, status, graceStatus, emailsSent, metadata string
	var bundle sql.NullString
	var graceStarted, graceEnds, validFrom, expiresAt, lastValidated sql.NullInt64
	var createdAt, updatedAt int64
	var validationOK int

	err := s.Scan(
		&l.ExternalID, &l.OrganizationID, &plan, &status,
		&graceStatus, &graceStarted, &graceEnds, &emailsSent,
		&bundle, &validFrom, &expiresAt,
		&lastValidated, &validationOK, &l.ConsecutiveFailures,
		&l.MachineFingerprint, &metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan license: %w", err)
	}

	l.Plan = entitlements.Plan(plan)
	l.Status = licensing.Status(status)
	l.GracePeriodStatus = licensing.GraceStatus(graceStatus)
	l.GracePeriodStartedAt = nullableUnixTime(graceStarted)
	l.GracePeriodEndsAt = nullableUnixTime(graceEnds)
	l.ValidFrom = nullableUnixTime(validFrom)
	l.ExpiresAt = nullableUnixTime(expiresAt)
	l.LastValidatedAt = nullableUnixTime(lastValidated)
	l.LastValidationOK = validationOK != 0
	l.CreatedAt = time.Unix(createdAt, 0).UTC()
	l.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if err := json.Unmarshal([]byte(emailsSent), &l.GracePeriodEmailsSent); err != nil {
		return nil, fmt.Errorf("decode grace emails sent for %q: %w", l.ExternalID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &l.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %q: %w", l.ExternalID, err)
	}
	if bundle.Valid && bundle.String != "" {
		var b entitlements.Bundle
		if err := json.Unmarshal([]byte(bundle.String), &b); err != nil {
			return nil, fmt.Errorf("decode entitlement snapshot for %q: %w", l.ExternalID, err)
		}
		l.Entitlements = &b
	}
	return &l, nil
}

func scanLicenses(rows *sql.Rows) ([]*licensing.License, error) {
	var licenses []*licensing.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, l)
	}
	return licenses, rows.Err()
}

func scanBillingEvent(s scanner) (*licensing.BillingEvent, error) {
	var ev licensing.BillingEvent
	var eventType, source string
	var prev, next sql.NullString
	var occurredAt int64

	err := s.Scan(&ev.ID, &ev.OrganizationID, &ev.LicenseID, &eventType, &source, &prev, &next, &occurredAt)
	if err != nil {
		return nil, fmt.Errorf("scan billing event: %w", err)
	}
	ev.Type = licensing.BillingEventType(eventType)
	ev.Source = licensing.EventSource(source)
	ev.OccurredAt = time.Unix(occurredAt, 0).UTC()

	if prev.Valid && prev.String != "" {
		ev.PreviousState = &licensing.StateSnapshot{}
		if err := json.Unmarshal([]byte(prev.String), ev.PreviousState); err != nil {
			return nil, fmt.Errorf("decode previous state snapshot: %w", err)
		}
	}
	if next.Valid && next.String != "" {
		ev.NewState = &licensing.StateSnapshot{}
		if err := json.Unmarshal([]byte(next.String), ev.NewState); err != nil {
			return nil, fmt.Errorf("decode new state snapshot: %w", err)
		}
	}
	return &ev, nil
}

// newEventID returns a ULID so the audit trail sorts by insertion time even
// across processes.
func newEventID(at time.Time) string {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullableUnixTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptySliceIfNil(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}

func emptyMapIfNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
