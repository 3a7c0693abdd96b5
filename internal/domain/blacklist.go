package domain

import (
	"strings"
	"time"
	"unicode"
)

// EntityType represents the kind of identifier held on the blacklist
type EntityType string

const (
	EntityTypeUser        EntityType = "user"
	EntityTypeWallet      EntityType = "wallet"
	EntityTypeEmail       EntityType = "email"
	EntityTypeIP          EntityType = "ip"
	EntityTypePhone       EntityType = "phone"
	EntityTypeDocument    EntityType = "document"
	EntityTypeBankAccount EntityType = "bank_account"
)

// ValidEntityTypes lists every accepted entity type, used for input validation
var ValidEntityTypes = []EntityType{
	EntityTypeUser,
	EntityTypeWallet,
	EntityTypeEmail,
	EntityTypeIP,
	EntityTypePhone,
	EntityTypeDocument,
	EntityTypeBankAccount,
}

// IsValid reports whether the entity type is one of the supported kinds
func (t EntityType) IsValid() bool {
	for _, v := range ValidEntityTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Severity represents how serious a blacklist entry is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank gives the total order low < medium < high < critical
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of the severity (0 for unknown values)
func (s Severity) Rank() int {
	return severityRank[s]
}

// IsValid reports whether the severity is one of the supported levels
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// MaxSeverity returns the more severe of two severities
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// BlacklistEntry represents a banned entity with provenance
// At most one active entry exists per (type, normalized value) pair;
// a second add for the same key updates the existing entry.
type BlacklistEntry struct {
	Type     EntityType             `json:"type" db:"entity_type"`
	Value    string                 `json:"value" db:"entity_value"`
	Reason   string                 `json:"reason" db:"reason"`
	Severity Severity               `json:"severity" db:"severity"`
	Source   string                 `json:"source" db:"source"`
	Metadata map[string]interface{} `json:"metadata,omitempty" db:"metadata"`

	AddedAt   time.Time `json:"added_at" db:"added_at"`
	AddedBy   string    `json:"added_by" db:"added_by"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Active is false once the entry has been soft-deleted. History is
	// never hard-deleted; removals remain in the audit trail.
	Active bool `json:"active" db:"active"`
}

// Masked returns a copy of the entry with its value masked for callers
// outside the registry's trusted boundary
func (e BlacklistEntry) Masked() BlacklistEntry {
	e.Value = MaskValue(e.Value)
	return e
}

// BlacklistCheckResult is the outcome of a single point lookup
type BlacklistCheckResult struct {
	Type          EntityType `json:"type"`
	Value         string     `json:"value"` // masked
	IsBlacklisted bool       `json:"is_blacklisted"`
	Severity      Severity   `json:"severity,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// BatchCheckSummary aggregates counts for a batch check
type BatchCheckSummary struct {
	Total       int `json:"total"`
	Blacklisted int `json:"blacklisted"`
	Whitelisted int `json:"whitelisted"`
}

// BatchCheckResult is the outcome of checking multiple entities at once
type BatchCheckResult struct {
	Success             bool                   `json:"success"`
	Error               string                 `json:"error,omitempty"`
	CorrelationID       string                 `json:"correlation_id"`
	Results             []BlacklistCheckResult `json:"results"`
	BlacklistedEntities []BlacklistCheckResult `json:"blacklisted_entities"`
	WhitelistedEntities []BlacklistCheckResult `json:"whitelisted_entities"`
	Summary             BatchCheckSummary      `json:"summary"`
}

// MaxMatchSeverity returns the highest severity among blacklisted entities
// in the batch, or the empty severity when nothing matched
func (r *BatchCheckResult) MaxMatchSeverity() Severity {
	var max Severity
	for _, m := range r.BlacklistedEntities {
		max = MaxSeverity(max, m.Severity)
	}
	return max
}

// HasCriticalMatch reports whether any matched entity carries critical severity
func (r *BatchCheckResult) HasCriticalMatch() bool {
	return r.MaxMatchSeverity() == SeverityCritical
}

// EntityRef identifies one entity to check, as submitted by callers
type EntityRef struct {
	Type  EntityType `json:"type"`
	Value string     `json:"value"`
}

// BulkImportError describes one entry that could not be imported
type BulkImportError struct {
	Index int    `json:"index"`
	Value string `json:"value"` // masked
	Error string `json:"error"`
}

// BulkImportResult summarizes an import run. Entries are processed
// independently, so a malformed entry never aborts the rest of the batch.
type BulkImportResult struct {
	Success  bool              `json:"success"`
	Imported int               `json:"imported"`
	Updated  int               `json:"updated"`
	Skipped  int               `json:"skipped"`
	Errors   []BulkImportError `json:"errors,omitempty"`
}

// BlacklistStatistics holds aggregate reporting counts
type BlacklistStatistics struct {
	TotalActive int                `json:"total_active"`
	ByType      map[EntityType]int `json:"by_type"`
	BySeverity  map[Severity]int   `json:"by_severity"`
	BySource    map[string]int     `json:"by_source"`
}

// BlacklistFilter narrows list/export queries
type BlacklistFilter struct {
	Type        EntityType `json:"type,omitempty"`
	Severity    Severity   `json:"severity,omitempty"`
	Source      string     `json:"source,omitempty"`
	AddedAfter  *time.Time `json:"added_after,omitempty"`
	AddedBefore *time.Time `json:"added_before,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Offset      int        `json:"offset,omitempty"`
}

// NormalizeValue canonicalizes an entity value before it is indexed or
// looked up, so that casing or formatting differences cannot bypass a match
func NormalizeValue(entityType EntityType, value string) string {
	value = strings.TrimSpace(value)

	switch entityType {
	case EntityTypeEmail, EntityTypeWallet:
		return strings.ToLower(value)
	case EntityTypePhone, EntityTypeDocument, EntityTypeBankAccount:
		// Keep digits and letters only; punctuation varies by source
		var b strings.Builder
		for _, r := range value {
			if unicode.IsLetter(r) || unicode.IsNumber(r) {
				b.WriteRune(unicode.ToLower(r))
			}
		}
		return b.String()
	default:
		return value
	}
}

// MaskValue hides all but the last 4 characters of a sensitive value.
// Values of 4 characters or fewer are fully masked.
func MaskValue(value string) string {
	runes := []rune(value)
	if len(runes) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
}
