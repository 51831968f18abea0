package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cms-go/internal/cms"
	"cms-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements cms.StateStore using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens the database at path and brings its schema up to date.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating state database: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

// Provider state

func (s *SQLiteStore) LastSeenSHAs(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider_id, last_seen_sha FROM provider_state`)
	if err != nil {
		return nil, fmt.Errorf("loading provider state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, sha string
		if err := rows.Scan(&id, &sha); err != nil {
			return nil, fmt.Errorf("scanning provider state: %w", err)
		}
		out[id] = sha
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading provider state: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SetLastSeenSHA(ctx context.Context, providerID, sha string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_state (provider_id, last_seen_sha, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET
			last_seen_sha = excluded.last_seen_sha,
			updated_at = excluded.updated_at`,
		providerID, sha, at.UTC())
	if err != nil {
		return fmt.Errorf("recording last seen sha for %s: %w", providerID, err)
	}
	return nil
}

// Sync history

func (s *SQLiteStore) RecordSync(ctx context.Context, rec *cms.SyncRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (provider_id, commit_sha, trigger, started_at, finished_at, status, items, directories, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ProviderID, rec.CommitSHA, rec.Trigger, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
		rec.Status, rec.Items, rec.Directories, rec.Error)
	if err != nil {
		return fmt.Errorf("recording sync run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading sync run id: %w", err)
	}
	rec.ID = id
	return nil
}

func (s *SQLiteStore) RecentSyncs(ctx context.Context, providerID string, limit int) ([]*cms.SyncRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, provider_id, commit_sha, trigger, started_at, finished_at, status, items, directories, error
		FROM sync_runs`
	args := []any{}
	if providerID != "" {
		query += ` WHERE provider_id = ?`
		args = append(args, providerID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	defer rows.Close()

	var out []*cms.SyncRecord
	for rows.Next() {
		rec := &cms.SyncRecord{}
		if err := rows.Scan(&rec.ID, &rec.ProviderID, &rec.CommitSHA, &rec.Trigger, &rec.StartedAt,
			&rec.FinishedAt, &rec.Status, &rec.Items, &rec.Directories, &rec.Error); err != nil {
			return nil, fmt.Errorf("scanning sync run: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	return out, nil
}

// Webhooks

// RecordWebhook stores a delivery. A redelivery with the same ID replaces
// the earlier outcome. Deliveries without an ID are given a random one.
func (s *SQLiteStore) RecordWebhook(ctx context.Context, d *cms.WebhookDelivery) error {
	if d.DeliveryID == "" {
		d.DeliveryID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (delivery_id, event, provider_id, received_at, outcome)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(delivery_id) DO UPDATE SET
			event = excluded.event,
			provider_id = excluded.provider_id,
			received_at = excluded.received_at,
			outcome = excluded.outcome`,
		d.DeliveryID, d.Event, d.ProviderID, d.ReceivedAt.UTC(), d.Outcome)
	if err != nil {
		return fmt.Errorf("recording webhook delivery: %w", err)
	}
	return nil
}

// RecentWebhooks returns the most recent deliveries, newest first.
func (s *SQLiteStore) RecentWebhooks(ctx context.Context, limit int) ([]*cms.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT delivery_id, event, provider_id, received_at, outcome
		FROM webhook_deliveries
		ORDER BY received_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing webhook deliveries: %w", err)
	}
	defer rows.Close()

	var out []*cms.WebhookDelivery
	for rows.Next() {
		d := &cms.WebhookDelivery{}
		if err := rows.Scan(&d.DeliveryID, &d.Event, &d.ProviderID, &d.ReceivedAt, &d.Outcome); err != nil {
			return nil, fmt.Errorf("scanning webhook delivery: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing webhook deliveries: %w", err)
	}
	return out, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ cms.StateStore = (*SQLiteStore)(nil)
