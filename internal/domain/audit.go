package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction classifies what an audit entry records
type AuditAction string

const (
	AuditActionBlacklistAdd     AuditAction = "BLACKLIST_ADD"
	AuditActionBlacklistUpdate  AuditAction = "BLACKLIST_UPDATE"
	AuditActionBlacklistRemove  AuditAction = "BLACKLIST_REMOVE"
	AuditActionBlacklistImport  AuditAction = "BLACKLIST_IMPORT"
	AuditActionEvaluation       AuditAction = "TRANSACTION_EVALUATED"
	AuditActionAnalysisDegraded AuditAction = "ANALYSIS_DEGRADED"
)

// AuditLogEntry is an immutable, append-only record of a registry mutation
// or a pipeline decision. Entries are never updated or deleted. The entity
// value is masked before the entry leaves the registry's trusted boundary;
// only the authoritative store holds the unmasked value.
type AuditLogEntry struct {
	ID                uuid.UUID   `json:"id" db:"id"`
	Action            AuditAction `json:"action" db:"action"`
	ActorID           string      `json:"actor_id" db:"actor_id"`
	EntityType        EntityType  `json:"entity_type,omitempty" db:"entity_type"`
	EntityValueMasked string      `json:"entity_value" db:"entity_value_masked"`
	Timestamp         time.Time   `json:"timestamp" db:"created_at"`
	CorrelationID     string      `json:"correlation_id" db:"correlation_id"`

	BeforeState map[string]interface{} `json:"before_state,omitempty" db:"before_state"`
	AfterState  map[string]interface{} `json:"after_state,omitempty" db:"after_state"`
}

// AuditLogFilter narrows audit log queries
type AuditLogFilter struct {
	Action AuditAction `json:"action,omitempty"`
	After  *time.Time  `json:"after,omitempty"`
	Before *time.Time  `json:"before,omitempty"`
	Limit  int         `json:"limit,omitempty"`
}
