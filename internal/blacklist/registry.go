package blacklist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banking/fraud-service/internal/config"
	"github.com/banking/fraud-service/internal/domain"
	"github.com/banking/fraud-service/internal/pkg/logger"
)

// Validation errors surfaced to admin callers before any store access
var (
	ErrEmptyValue        = errors.New("entity value must not be empty")
	ErrEmptyReason       = errors.New("reason must not be empty")
	ErrInvalidEntityType = errors.New("invalid entity type")
	ErrInvalidSeverity   = errors.New("invalid severity")
	ErrBatchTooLarge     = errors.New("batch exceeds the maximum size")
)

// Registry is the authoritative service for banned entities. It owns the
// entry lifecycle end to end: lookups, mutations, bulk import/export and the
// append-only audit trail. Values leaving the registry are masked except
// through Export, which serves the operator-trusted boundary.
type Registry struct {
	store Store
	cache Cache // optional; nil disables the hot layer
	cfg   *config.BlacklistConfig
	log   *logger.Logger

	// Mutations serialize per (type, normalized value) so an upsert and its
	// audit write are never torn by a concurrent remove on the same key.
	keys keyedMutex
}

// NewRegistry creates a blacklist registry
func NewRegistry(store Store, cache Cache, cfg *config.BlacklistConfig, log *logger.Logger) *Registry {
	return &Registry{
		store: store,
		cache: cache,
		cfg:   cfg,
		log:   log.Named("blacklist_registry"),
	}
}

// AddParams are the inputs to Add
type AddParams struct {
	Type     domain.EntityType
	Value    string
	Reason   string
	Severity domain.Severity
	Source   string
	Metadata map[string]interface{}
	ActorID  string
	LogAudit bool
	Imported bool // entry arrived through a bulk import run
}

// AddResult reports whether an Add created or updated an entry
type AddResult struct {
	Success bool                  `json:"success"`
	Action  string                `json:"action"` // "added" | "updated"
	Entry   domain.BlacklistEntry `json:"entry"`  // masked
}

// RemoveResult carries the soft-deleted entry
type RemoveResult struct {
	Success      bool                  `json:"success"`
	RemovedEntry domain.BlacklistEntry `json:"removed_entry"` // masked
}

// Check performs a single point lookup against the indexed store. The value
// is normalized before lookup so casing differences cannot bypass a match.
func (r *Registry) Check(ctx context.Context, entityType domain.EntityType, value string) (*domain.BlacklistCheckResult, error) {
	if !entityType.IsValid() {
		return nil, ErrInvalidEntityType
	}
	normValue := domain.NormalizeValue(entityType, value)
	if normValue == "" {
		return nil, ErrEmptyValue
	}

	result := &domain.BlacklistCheckResult{
		Type:  entityType,
		Value: domain.MaskValue(normValue),
	}

	entry, err := r.lookup(ctx, entityType, normValue)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return result, nil
		}
		return nil, err
	}

	result.IsBlacklisted = true
	result.Severity = entry.Severity
	result.Reason = entry.Reason
	return result, nil
}

// BatchCheck evaluates up to the configured batch limit of entities in one
// call. A store failure surfaces success=false with a descriptive error,
// never a silent empty result.
func (r *Registry) BatchCheck(ctx context.Context, entities []domain.EntityRef, correlationID string) (*domain.BatchCheckResult, error) {
	if len(entities) == 0 {
		return nil, ErrEmptyValue
	}
	if len(entities) > r.cfg.BatchCheckLimit {
		return nil, fmt.Errorf("%w: %d entities, limit %d", ErrBatchTooLarge, len(entities), r.cfg.BatchCheckLimit)
	}

	result := &domain.BatchCheckResult{
		Success:             true,
		CorrelationID:       correlationID,
		Results:             make([]domain.BlacklistCheckResult, 0, len(entities)),
		BlacklistedEntities: make([]domain.BlacklistCheckResult, 0),
		WhitelistedEntities: make([]domain.BlacklistCheckResult, 0),
	}

	for _, ref := range entities {
		check, err := r.Check(ctx, ref.Type, ref.Value)
		if err != nil {
			if errors.Is(err, ErrInvalidEntityType) || errors.Is(err, ErrEmptyValue) {
				return nil, err
			}
			// Store-level failure: fail the whole batch loudly
			result.Success = false
			result.Error = fmt.Sprintf("blacklist store unavailable: %v", err)
			return result, nil
		}

		result.Results = append(result.Results, *check)
		if check.IsBlacklisted {
			result.BlacklistedEntities = append(result.BlacklistedEntities, *check)
		} else {
			result.WhitelistedEntities = append(result.WhitelistedEntities, *check)
		}
	}

	result.Summary = domain.BatchCheckSummary{
		Total:       len(result.Results),
		Blacklisted: len(result.BlacklistedEntities),
		Whitelisted: len(result.WhitelistedEntities),
	}

	return result, nil
}

// Add upserts an entry. A second add for the same (type, value) key updates
// the existing entry rather than creating a duplicate. The mutation and its
// audit append hold the key lock together.
func (r *Registry) Add(ctx context.Context, params AddParams) (*AddResult, error) {
	if err := validateAdd(&params); err != nil {
		return nil, err
	}

	normValue := domain.NormalizeValue(params.Type, params.Value)
	now := time.Now().UTC()

	entry := &domain.BlacklistEntry{
		Type:      params.Type,
		Value:     normValue,
		Reason:    params.Reason,
		Severity:  params.Severity,
		Source:    params.Source,
		Metadata:  params.Metadata,
		AddedAt:   now,
		AddedBy:   params.ActorID,
		UpdatedAt: now,
		Active:    true,
	}

	unlock := r.keys.lock(string(params.Type), normValue)
	defer unlock()

	before, err := r.store.Get(ctx, params.Type, normValue)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	created, err := r.store.Upsert(ctx, entry)
	if err != nil {
		return nil, err
	}

	action := "added"
	auditAction := domain.AuditActionBlacklistAdd
	if params.Imported {
		auditAction = domain.AuditActionBlacklistImport
	}
	if !created {
		action = "updated"
		auditAction = domain.AuditActionBlacklistUpdate
		if before != nil {
			// Creation provenance survives updates
			entry.AddedAt = before.AddedAt
			entry.AddedBy = before.AddedBy
		}
	}

	if params.LogAudit {
		audit := &domain.AuditLogEntry{
			ID:                uuid.New(),
			Action:            auditAction,
			ActorID:           params.ActorID,
			EntityType:        params.Type,
			EntityValueMasked: domain.MaskValue(normValue),
			Timestamp:         now,
			CorrelationID:     uuid.New().String(),
			AfterState: map[string]interface{}{
				"severity": string(entry.Severity),
				"reason":   entry.Reason,
				"source":   entry.Source,
			},
		}
		if before != nil {
			audit.BeforeState = map[string]interface{}{
				"severity": string(before.Severity),
				"reason":   before.Reason,
				"source":   before.Source,
			}
		}
		if err := r.store.AppendAudit(ctx, audit); err != nil {
			return nil, err
		}
	}

	r.invalidateCache(ctx, params.Type, normValue)
	r.log.BlacklistMutation(action, string(params.Type), domain.MaskValue(normValue), params.ActorID)

	return &AddResult{
		Success: true,
		Action:  action,
		Entry:   entry.Masked(),
	}, nil
}

// Remove soft-deletes the active entry for a key. The audit record captures
// the removed entry's original severity and reason for traceability.
func (r *Registry) Remove(ctx context.Context, entityType domain.EntityType, value, reason, actorID string) (*RemoveResult, error) {
	if !entityType.IsValid() {
		return nil, ErrInvalidEntityType
	}
	normValue := domain.NormalizeValue(entityType, value)
	if normValue == "" {
		return nil, ErrEmptyValue
	}

	unlock := r.keys.lock(string(entityType), normValue)
	defer unlock()

	removed, err := r.store.Deactivate(ctx, entityType, normValue)
	if err != nil {
		return nil, err
	}

	audit := &domain.AuditLogEntry{
		ID:                uuid.New(),
		Action:            domain.AuditActionBlacklistRemove,
		ActorID:           actorID,
		EntityType:        entityType,
		EntityValueMasked: domain.MaskValue(normValue),
		Timestamp:         time.Now().UTC(),
		CorrelationID:     uuid.New().String(),
		BeforeState: map[string]interface{}{
			"severity": string(removed.Severity),
			"reason":   removed.Reason,
		},
		AfterState: map[string]interface{}{
			"removal_reason": reason,
		},
	}
	if err := r.store.AppendAudit(ctx, audit); err != nil {
		return nil, err
	}

	r.invalidateCache(ctx, entityType, normValue)
	r.log.BlacklistMutation("removed", string(entityType), domain.MaskValue(normValue), actorID)

	return &RemoveResult{
		Success:      true,
		RemovedEntry: removed.Masked(),
	}, nil
}

// ImportEntry is one row of a bulk import request
type ImportEntry struct {
	Type     domain.EntityType      `json:"type"`
	Value    string                 `json:"value"`
	Reason   string                 `json:"reason"`
	Severity domain.Severity        `json:"severity,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// BulkImport processes entries independently with bounded concurrency.
// A malformed entry is recorded in the result's errors and skipped; it never
// aborts the rest of the batch.
func (r *Registry) BulkImport(ctx context.Context, entries []ImportEntry, source, actorID string) (*domain.BulkImportResult, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyValue
	}
	if len(entries) > r.cfg.BulkImportLimit {
		return nil, fmt.Errorf("%w: %d entries, limit %d", ErrBatchTooLarge, len(entries), r.cfg.BulkImportLimit)
	}
	if source == "" {
		source = "bulk_import"
	}

	var (
		mu     sync.Mutex
		result domain.BulkImportResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ImportConcurrency)

	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			severity := entry.Severity
			if severity == "" {
				severity = domain.SeverityMedium
			}

			added, err := r.Add(gctx, AddParams{
				Type:     entry.Type,
				Value:    entry.Value,
				Reason:   entry.Reason,
				Severity: severity,
				Source:   source,
				Metadata: entry.Metadata,
				ActorID:  actorID,
				LogAudit: true,
				Imported: true,
			})

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				result.Errors = append(result.Errors, domain.BulkImportError{
					Index: i,
					Value: domain.MaskValue(entry.Value),
					Error: err.Error(),
				})
				return nil // per-entry failures never abort the batch
			}

			switch added.Action {
			case "added":
				result.Imported++
			case "updated":
				result.Updated++
			default:
				result.Skipped++
			}
			return nil
		})
	}

	// Goroutines only return nil; Wait is for completion
	_ = g.Wait()

	result.Success = len(result.Errors) == 0
	r.log.ImportCompleted(source, result.Imported, result.Updated, result.Skipped, len(result.Errors))

	return &result, nil
}

// Export returns matching entries with unmasked values. It serves the
// authenticated operator boundary only; every other read path masks.
func (r *Registry) Export(ctx context.Context, filter domain.BlacklistFilter) ([]domain.BlacklistEntry, error) {
	return r.store.List(ctx, filter)
}

// List returns matching entries with masked values for admin browsing
func (r *Registry) List(ctx context.Context, filter domain.BlacklistFilter) ([]domain.BlacklistEntry, error) {
	entries, err := r.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	masked := make([]domain.BlacklistEntry, len(entries))
	for i, e := range entries {
		masked[i] = e.Masked()
	}
	return masked, nil
}

// Statistics aggregates counts over active entries
func (r *Registry) Statistics(ctx context.Context) (*domain.BlacklistStatistics, error) {
	return r.store.Statistics(ctx)
}

// AuditLogs returns the registry's audit trail. Entity values in audit
// records are stored masked, so no further masking is needed here.
func (r *Registry) AuditLogs(ctx context.Context, filter domain.AuditLogFilter) ([]domain.AuditLogEntry, error) {
	return r.store.AuditLogs(ctx, filter)
}

// lookup consults the cache before the store and repopulates it on a miss
func (r *Registry) lookup(ctx context.Context, entityType domain.EntityType, normValue string) (*domain.BlacklistEntry, error) {
	if r.cache != nil {
		entry, found, err := r.cache.GetEntry(ctx, entityType, normValue)
		if err == nil && found {
			if entry == nil {
				return nil, ErrNotFound
			}
			return entry, nil
		}
		// Cache errors degrade to a store read
	}

	entry, err := r.store.Get(ctx, entityType, normValue)
	if err != nil {
		if errors.Is(err, ErrNotFound) && r.cache != nil {
			if cerr := r.cache.SetNegative(ctx, entityType, normValue); cerr != nil {
				r.log.Debug("negative cache set failed", logger.ErrorField(cerr))
			}
		}
		return nil, err
	}

	if r.cache != nil {
		if cerr := r.cache.SetEntry(ctx, entry); cerr != nil {
			r.log.Debug("cache set failed", logger.ErrorField(cerr))
		}
	}
	return entry, nil
}

func (r *Registry) invalidateCache(ctx context.Context, entityType domain.EntityType, normValue string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, entityType, normValue); err != nil {
		r.log.Warn("cache invalidation failed", logger.ErrorField(err))
	}
}

func validateAdd(params *AddParams) error {
	if !params.Type.IsValid() {
		return ErrInvalidEntityType
	}
	if strings.TrimSpace(params.Value) == "" {
		return ErrEmptyValue
	}
	if strings.TrimSpace(params.Reason) == "" {
		return ErrEmptyReason
	}
	if params.Severity == "" {
		params.Severity = domain.SeverityMedium
	}
	if !params.Severity.IsValid() {
		return ErrInvalidSeverity
	}
	if params.Source == "" {
		params.Source = "manual"
	}
	return nil
}

// keyedMutex serializes operations per blacklist key
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(parts ...string) func() {
	key := strings.Join(parts, "\x00")

	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
