package blacklist

import (
	"context"
	"errors"

	"github.com/banking/fraud-service/internal/domain"
)

// ErrNotFound is returned when no active entry exists for a key
var ErrNotFound = errors.New("blacklist entry not found")

// Store is the persistence contract for blacklist entries and their audit
// trail. The registry owns entry lifecycle; the store only holds state.
type Store interface {
	// Get returns the active entry for (type, normalized value), or ErrNotFound
	Get(ctx context.Context, entityType domain.EntityType, normValue string) (*domain.BlacklistEntry, error)

	// Upsert inserts or replaces the active entry for its key.
	// Returns true when a new entry was created, false on update.
	Upsert(ctx context.Context, entry *domain.BlacklistEntry) (created bool, err error)

	// Deactivate soft-deletes the active entry and returns it, or ErrNotFound.
	// History is retained; nothing is hard-deleted.
	Deactivate(ctx context.Context, entityType domain.EntityType, normValue string) (*domain.BlacklistEntry, error)

	// List returns active entries matching the filter
	List(ctx context.Context, filter domain.BlacklistFilter) ([]domain.BlacklistEntry, error)

	// Statistics aggregates counts over active entries
	Statistics(ctx context.Context) (*domain.BlacklistStatistics, error)

	// AppendAudit appends an immutable audit record
	AppendAudit(ctx context.Context, entry *domain.AuditLogEntry) error

	// AuditLogs returns audit records matching the filter, newest first
	AuditLogs(ctx context.Context, filter domain.AuditLogFilter) ([]domain.AuditLogEntry, error)
}
