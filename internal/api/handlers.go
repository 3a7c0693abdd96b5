// Package api exposes the HTTP surface: the transaction evaluation endpoint
// and the JWT-protected blacklist administration endpoints.
package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/banking/fraud-service/internal/blacklist"
	"github.com/banking/fraud-service/internal/config"
	"github.com/banking/fraud-service/internal/domain"
	"github.com/banking/fraud-service/internal/pipeline"
	"github.com/banking/fraud-service/internal/pkg/logger"
)

// Handler carries the dependencies of the HTTP endpoints
type Handler struct {
	pipeline *pipeline.Pipeline
	registry *blacklist.Registry
	cfg      *config.Config
	log      *logger.Logger
}

// NewHandler creates the HTTP handler set
func NewHandler(p *pipeline.Pipeline, registry *blacklist.Registry, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		pipeline: p,
		registry: registry,
		cfg:      cfg,
		log:      log.Named("api"),
	}
}

// Register mounts all routes on the echo instance
func (h *Handler) Register(e *echo.Echo) {
	v1 := e.Group("/api/v1")

	v1.POST("/fraud/evaluate", h.Evaluate)

	admin := v1.Group("/admin/blacklist", AdminAuth(&h.cfg.Security))
	admin.POST("", h.AddEntry)
	admin.GET("", h.ListEntries)
	admin.DELETE("/:type/:value", h.RemoveEntry)
	admin.POST("/check", h.CheckEntities)
	admin.POST("/import", h.Import)
	admin.GET("/export", h.Export)
	admin.GET("/statistics", h.Statistics)
	admin.GET("/audit-logs", h.AuditLogs)
}

// evaluateRequest wraps the transaction payload with per-call options
type evaluateRequest struct {
	Transaction domain.RawTransaction `json:"transaction"`
	Options     struct {
		SkipForLowRisk      bool `json:"skip_for_low_risk"`
		BlockOnMediumRisk   bool `json:"block_on_medium_risk"`
		RequireManualReview bool `json:"require_manual_review"`
	} `json:"options"`
}

// Evaluate runs the fraud pipeline for one transaction.
// Velocity rejections map to 429 with a Retry-After header; other
// rejections map to 403. Allowed and review outcomes return 200.
func (h *Handler) Evaluate(c echo.Context) error {
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Transaction.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	if req.Transaction.Amount <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be positive")
	}

	outcome, err := h.pipeline.Evaluate(c.Request().Context(), &req.Transaction, pipeline.Options{
		SkipForLowRisk:      req.Options.SkipForLowRisk,
		BlockOnMediumRisk:   req.Options.BlockOnMediumRisk,
		RequireManualReview: req.Options.RequireManualReview,
	})
	if err != nil {
		// The pipeline fails open internally; reaching here means a
		// programming error, not an infrastructure one
		return echo.NewHTTPError(http.StatusInternalServerError, "evaluation failed")
	}

	if outcome.Rejection != nil {
		if outcome.Rejection.Code == domain.CodeVelocityLimitExceeded {
			c.Response().Header().Set("Retry-After", outcome.Rejection.RetryAfter)
			return c.JSON(http.StatusTooManyRequests, outcome.Rejection)
		}
		return c.JSON(http.StatusForbidden, outcome.Rejection)
	}

	return c.JSON(http.StatusOK, outcome)
}

// addEntryRequest is the admin payload for creating a blacklist entry
type addEntryRequest struct {
	Type     string                 `json:"type"`
	Value    string                 `json:"value"`
	Reason   string                 `json:"reason"`
	Severity string                 `json:"severity"`
	Source   string                 `json:"source"`
	Metadata map[string]interface{} `json:"metadata"`
}

// AddEntry creates or updates a blacklist entry. Re-adding an existing
// entry updates it in place rather than failing.
func (h *Handler) AddEntry(c echo.Context) error {
	var req addEntryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := h.registry.Add(c.Request().Context(), blacklist.AddParams{
		Type:     domain.EntityType(req.Type),
		Value:    req.Value,
		Reason:   req.Reason,
		Severity: domain.Severity(req.Severity),
		Source:   req.Source,
		Metadata: req.Metadata,
		ActorID:  actorID(c),
		LogAudit: true,
	})
	if err != nil {
		return mapRegistryError(err)
	}

	status := http.StatusCreated
	if result.Action == "updated" {
		status = http.StatusOK
	}
	return c.JSON(status, result)
}

// RemoveEntry soft-deletes a blacklist entry
func (h *Handler) RemoveEntry(c echo.Context) error {
	entityType := domain.EntityType(c.Param("type"))
	value := c.Param("value")
	reason := c.QueryParam("reason")

	result, err := h.registry.Remove(c.Request().Context(), entityType, value, reason, actorID(c))
	if err != nil {
		return mapRegistryError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// ListEntries returns masked entries with aggregate statistics for admin
// browsing
func (h *Handler) ListEntries(c echo.Context) error {
	filter, err := filterFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	entries, err := h.registry.List(c.Request().Context(), filter)
	if err != nil {
		return mapRegistryError(err)
	}
	stats, err := h.registry.Statistics(c.Request().Context())
	if err != nil {
		return mapRegistryError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries":    entries,
		"count":      len(entries),
		"statistics": stats,
	})
}

// checkRequest accepts one or many entities to check
type checkRequest struct {
	Entities []domain.EntityRef `json:"entities"`
}

// CheckEntities runs a point or batch blacklist check
func (h *Handler) CheckEntities(c echo.Context) error {
	var req checkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := h.registry.BatchCheck(c.Request().Context(), req.Entities, c.Response().Header().Get(echo.HeaderXRequestID))
	if err != nil {
		return mapRegistryError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// importRequest is the bulk import payload
type importRequest struct {
	Source  string                  `json:"source"`
	Entries []blacklist.ImportEntry `json:"entries"`
}

// Import ingests a batch of entries. A fully clean run returns 200; a run
// with per-entry failures returns 207 so callers can inspect the errors.
func (h *Handler) Import(c echo.Context) error {
	var req importRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := h.registry.BulkImport(c.Request().Context(), req.Entries, req.Source, actorID(c))
	if err != nil {
		return mapRegistryError(err)
	}

	status := http.StatusOK
	if len(result.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, result)
}

// Export streams the full unmasked list for authorized sync jobs.
// Supported formats are json (default) and csv.
func (h *Handler) Export(c echo.Context) error {
	filter, err := filterFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	entries, err := h.registry.Export(c.Request().Context(), filter)
	if err != nil {
		return mapRegistryError(err)
	}

	if c.QueryParam("format") == "csv" {
		return h.exportCSV(c, entries)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *Handler) exportCSV(c echo.Context, entries []domain.BlacklistEntry) error {
	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="blacklist.csv"`)
	c.Response().WriteHeader(http.StatusOK)

	w := csv.NewWriter(c.Response())
	if err := w.Write([]string{"type", "value", "severity", "reason", "source", "added_by", "added_at"}); err != nil {
		return err
	}
	for _, e := range entries {
		record := []string{
			string(e.Type),
			e.Value,
			string(e.Severity),
			e.Reason,
			e.Source,
			e.AddedBy,
			e.AddedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Statistics returns aggregate blacklist counts
func (h *Handler) Statistics(c echo.Context) error {
	stats, err := h.registry.Statistics(c.Request().Context())
	if err != nil {
		return mapRegistryError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// AuditLogs returns the blacklist mutation trail
func (h *Handler) AuditLogs(c echo.Context) error {
	filter := domain.AuditLogFilter{
		Action: domain.AuditAction(c.QueryParam("action")),
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		filter.Limit = n
	}
	if after := c.QueryParam("after"); after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after timestamp")
		}
		filter.After = &t
	}
	if before := c.QueryParam("before"); before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid before timestamp")
		}
		filter.Before = &t
	}

	logs, err := h.registry.AuditLogs(c.Request().Context(), filter)
	if err != nil {
		return mapRegistryError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

// filterFromQuery parses the shared list/export query parameters
func filterFromQuery(c echo.Context) (domain.BlacklistFilter, error) {
	filter := domain.BlacklistFilter{
		Type:     domain.EntityType(c.QueryParam("type")),
		Severity: domain.Severity(c.QueryParam("severity")),
		Source:   c.QueryParam("source"),
	}
	if filter.Type != "" && !filter.Type.IsValid() {
		return filter, fmt.Errorf("invalid entity type %q", filter.Type)
	}
	if filter.Severity != "" && !filter.Severity.IsValid() {
		return filter, fmt.Errorf("invalid severity %q", filter.Severity)
	}
	if after := c.QueryParam("added_after"); after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return filter, fmt.Errorf("invalid added_after timestamp")
		}
		filter.AddedAfter = &t
	}
	if before := c.QueryParam("added_before"); before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return filter, fmt.Errorf("invalid added_before timestamp")
		}
		filter.AddedBefore = &t
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid limit")
		}
		filter.Limit = n
	}
	if offset := c.QueryParam("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid offset")
		}
		filter.Offset = n
	}
	return filter, nil
}

// mapRegistryError translates registry errors into HTTP responses without
// leaking internals
func mapRegistryError(err error) error {
	switch {
	case errors.Is(err, blacklist.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "entry not found")
	case errors.Is(err, blacklist.ErrInvalidEntityType),
		errors.Is(err, blacklist.ErrInvalidSeverity),
		errors.Is(err, blacklist.ErrEmptyValue),
		errors.Is(err, blacklist.ErrEmptyReason):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, blacklist.ErrBatchTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
