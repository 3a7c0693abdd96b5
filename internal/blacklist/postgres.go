package blacklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/banking/fraud-service/internal/domain"
)

// PostgresStore persists blacklist entries and audit logs in PostgreSQL.
//
// Schema (reference DDL, managed by migrations outside this service):
//
//	CREATE TABLE blacklist_entries (
//	    entity_type  TEXT NOT NULL,
//	    entity_value TEXT NOT NULL,           -- normalized, unmasked
//	    reason       TEXT NOT NULL,
//	    severity     TEXT NOT NULL,
//	    source       TEXT NOT NULL,
//	    metadata     JSONB,
//	    added_at     TIMESTAMPTZ NOT NULL,
//	    added_by     TEXT NOT NULL,
//	    updated_at   TIMESTAMPTZ NOT NULL,
//	    active       BOOLEAN NOT NULL DEFAULT TRUE,
//	    PRIMARY KEY (entity_type, entity_value)
//	);
//
//	CREATE TABLE blacklist_audit_logs (
//	    id                  UUID PRIMARY KEY,
//	    action              TEXT NOT NULL,
//	    actor_id            TEXT NOT NULL,
//	    entity_type         TEXT,
//	    entity_value_masked TEXT,
//	    correlation_id      TEXT NOT NULL,
//	    before_state        JSONB,
//	    after_state         JSONB,
//	    created_at          TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *pgxpool.Pool
}

// Ensure the concrete store satisfies the registry's requirements.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a Postgres-backed blacklist store
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the active entry for the given key
func (s *PostgresStore) Get(ctx context.Context, entityType domain.EntityType, normValue string) (*domain.BlacklistEntry, error) {
	query := `
		SELECT entity_type, entity_value, reason, severity, source, metadata,
		       added_at, added_by, updated_at, active
		FROM blacklist_entries
		WHERE entity_type = $1 AND entity_value = $2 AND active = TRUE
	`

	entry, err := scanEntry(s.db.QueryRow(ctx, query, entityType, normValue))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blacklist get: %w", err)
	}
	return entry, nil
}

// Upsert inserts or replaces the active entry for its key
func (s *PostgresStore) Upsert(ctx context.Context, entry *domain.BlacklistEntry) (bool, error) {
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return false, fmt.Errorf("blacklist upsert: marshal metadata: %w", err)
	}

	query := `
		INSERT INTO blacklist_entries (
			entity_type, entity_value, reason, severity, source, metadata,
			added_at, added_by, updated_at, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
		ON CONFLICT (entity_type, entity_value) DO UPDATE SET
			reason = EXCLUDED.reason,
			severity = EXCLUDED.severity,
			source = EXCLUDED.source,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at,
			active = TRUE
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	err = s.db.QueryRow(ctx, query,
		entry.Type,
		entry.Value,
		entry.Reason,
		entry.Severity,
		entry.Source,
		metadataJSON,
		entry.AddedAt,
		entry.AddedBy,
		entry.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("blacklist upsert: %w", err)
	}

	return inserted, nil
}

// Deactivate soft-deletes the active entry and returns its prior state
func (s *PostgresStore) Deactivate(ctx context.Context, entityType domain.EntityType, normValue string) (*domain.BlacklistEntry, error) {
	query := `
		UPDATE blacklist_entries
		SET active = FALSE, updated_at = $3
		WHERE entity_type = $1 AND entity_value = $2 AND active = TRUE
		RETURNING entity_type, entity_value, reason, severity, source, metadata,
		          added_at, added_by, updated_at, active
	`

	entry, err := scanEntry(s.db.QueryRow(ctx, query, entityType, normValue, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blacklist deactivate: %w", err)
	}

	// The returned row reflects the pre-removal entry apart from flags
	entry.Active = false
	return entry, nil
}

// List returns active entries matching the filter, newest first
func (s *PostgresStore) List(ctx context.Context, filter domain.BlacklistFilter) ([]domain.BlacklistEntry, error) {
	query := `
		SELECT entity_type, entity_value, reason, severity, source, metadata,
		       added_at, added_by, updated_at, active
		FROM blacklist_entries
		WHERE active = TRUE
	`
	args := []interface{}{}
	argN := 1

	if filter.Type != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", argN)
		args = append(args, filter.Type)
		argN++
	}
	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", argN)
		args = append(args, filter.Severity)
		argN++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(" AND source = $%d", argN)
		args = append(args, filter.Source)
		argN++
	}
	if filter.AddedAfter != nil {
		query += fmt.Sprintf(" AND added_at > $%d", argN)
		args = append(args, *filter.AddedAfter)
		argN++
	}
	if filter.AddedBefore != nil {
		query += fmt.Sprintf(" AND added_at < $%d", argN)
		args = append(args, *filter.AddedBefore)
		argN++
	}

	query += " ORDER BY added_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, filter.Limit)
		argN++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argN)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("blacklist list: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.BlacklistEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("blacklist list: %w", err)
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

// Statistics aggregates counts over active entries
func (s *PostgresStore) Statistics(ctx context.Context) (*domain.BlacklistStatistics, error) {
	query := `
		SELECT entity_type, severity, source, COUNT(*)
		FROM blacklist_entries
		WHERE active = TRUE
		GROUP BY entity_type, severity, source
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("blacklist statistics: %w", err)
	}
	defer rows.Close()

	stats := &domain.BlacklistStatistics{
		ByType:     make(map[domain.EntityType]int),
		BySeverity: make(map[domain.Severity]int),
		BySource:   make(map[string]int),
	}

	for rows.Next() {
		var (
			entityType domain.EntityType
			severity   domain.Severity
			source     string
			count      int
		)
		if err := rows.Scan(&entityType, &severity, &source, &count); err != nil {
			return nil, fmt.Errorf("blacklist statistics: %w", err)
		}
		stats.TotalActive += count
		stats.ByType[entityType] += count
		stats.BySeverity[severity] += count
		stats.BySource[source] += count
	}

	return stats, rows.Err()
}

// AppendAudit appends an immutable audit record
func (s *PostgresStore) AppendAudit(ctx context.Context, entry *domain.AuditLogEntry) error {
	beforeJSON, err := json.Marshal(entry.BeforeState)
	if err != nil {
		return fmt.Errorf("audit append: marshal before state: %w", err)
	}
	afterJSON, err := json.Marshal(entry.AfterState)
	if err != nil {
		return fmt.Errorf("audit append: marshal after state: %w", err)
	}

	query := `
		INSERT INTO blacklist_audit_logs (
			id, action, actor_id, entity_type, entity_value_masked,
			correlation_id, before_state, after_state, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.db.Exec(ctx, query,
		entry.ID,
		entry.Action,
		entry.ActorID,
		entry.EntityType,
		entry.EntityValueMasked,
		entry.CorrelationID,
		beforeJSON,
		afterJSON,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}

// AuditLogs returns audit records matching the filter, newest first
func (s *PostgresStore) AuditLogs(ctx context.Context, filter domain.AuditLogFilter) ([]domain.AuditLogEntry, error) {
	query := `
		SELECT id, action, actor_id, entity_type, entity_value_masked,
		       correlation_id, before_state, after_state, created_at
		FROM blacklist_audit_logs
		WHERE 1=1
	`
	args := []interface{}{}
	argN := 1

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argN)
		args = append(args, filter.Action)
		argN++
	}
	if filter.After != nil {
		query += fmt.Sprintf(" AND created_at > $%d", argN)
		args = append(args, *filter.After)
		argN++
	}
	if filter.Before != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argN)
		args = append(args, *filter.Before)
		argN++
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d", argN)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLogEntry, 0)
	for rows.Next() {
		var (
			entry      domain.AuditLogEntry
			beforeJSON []byte
			afterJSON  []byte
		)
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.ActorID,
			&entry.EntityType,
			&entry.EntityValueMasked,
			&entry.CorrelationID,
			&beforeJSON,
			&afterJSON,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("audit logs: %w", err)
		}

		if len(beforeJSON) > 0 {
			if err := json.Unmarshal(beforeJSON, &entry.BeforeState); err != nil {
				entry.BeforeState = nil
			}
		}
		if len(afterJSON) > 0 {
			if err := json.Unmarshal(afterJSON, &entry.AfterState); err != nil {
				entry.AfterState = nil
			}
		}

		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

// rowScanner abstracts pgx.Row and pgx.Rows for shared scanning
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*domain.BlacklistEntry, error) {
	var (
		entry        domain.BlacklistEntry
		metadataJSON []byte
	)
	err := row.Scan(
		&entry.Type,
		&entry.Value,
		&entry.Reason,
		&entry.Severity,
		&entry.Source,
		&metadataJSON,
		&entry.AddedAt,
		&entry.AddedBy,
		&entry.UpdatedAt,
		&entry.Active,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			entry.Metadata = nil
		}
	}

	return &entry, nil
}
