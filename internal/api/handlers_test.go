package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/banking/fraud-service/internal/audit"
	"github.com/banking/fraud-service/internal/blacklist"
	"github.com/banking/fraud-service/internal/config"
	"github.com/banking/fraud-service/internal/domain"
	"github.com/banking/fraud-service/internal/pipeline"
	"github.com/banking/fraud-service/internal/pkg/logger"
	"github.com/banking/fraud-service/internal/risk"
	"github.com/banking/fraud-service/internal/velocity"

	"github.com/labstack/echo/v4"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, entityType domain.EntityType, normValue string) (*domain.BlacklistEntry, error) {
	args := m.Called(ctx, entityType, normValue)
	entry, _ := args.Get(0).(*domain.BlacklistEntry)
	return entry, args.Error(1)
}

func (m *mockStore) Upsert(ctx context.Context, entry *domain.BlacklistEntry) (bool, error) {
	args := m.Called(ctx, entry)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) Deactivate(ctx context.Context, entityType domain.EntityType, normValue string) (*domain.BlacklistEntry, error) {
	args := m.Called(ctx, entityType, normValue)
	entry, _ := args.Get(0).(*domain.BlacklistEntry)
	return entry, args.Error(1)
}

func (m *mockStore) List(ctx context.Context, filter domain.BlacklistFilter) ([]domain.BlacklistEntry, error) {
	args := m.Called(ctx, filter)
	entries, _ := args.Get(0).([]domain.BlacklistEntry)
	return entries, args.Error(1)
}

func (m *mockStore) Statistics(ctx context.Context) (*domain.BlacklistStatistics, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*domain.BlacklistStatistics)
	return stats, args.Error(1)
}

func (m *mockStore) AppendAudit(ctx context.Context, entry *domain.AuditLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockStore) AuditLogs(ctx context.Context, filter domain.AuditLogFilter) ([]domain.AuditLogEntry, error) {
	args := m.Called(ctx, filter)
	logs, _ := args.Get(0).([]domain.AuditLogEntry)
	return logs, args.Error(1)
}

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) TransactionsSince(ctx context.Context, userID string, since time.Time) ([]domain.HistoricalTransaction, error) {
	args := m.Called(ctx, userID, since)
	history, _ := args.Get(0).([]domain.HistoricalTransaction)
	return history, args.Error(1)
}

func newTestHandler(store *mockStore, history *mockHistory) *Handler {
	log := logger.NewNop()
	cfg := &config.Config{
		Blacklist: config.BlacklistConfig{
			BatchCheckLimit:   100,
			BulkImportLimit:   10000,
			ImportConcurrency: 8,
		},
		Velocity: config.VelocityConfig{RetryAfter: time.Hour},
		Pipeline: config.PipelineConfig{
			EvaluationTimeout:  2 * time.Second,
			BreakerMaxFailures: 5,
			BreakerInterval:    time.Minute,
			BreakerTimeout:     30 * time.Second,
		},
		HighValue: config.HighValueConfig{
			GateThreshold:    50000,
			EnhancedKYC:      100000,
			ManagerApproval:  200000,
			ComplianceReview: 500000,
			RequiredKYCLevel: 3,
		},
		Security: config.SecurityConfig{AdminJWTSecret: testSecret, AdminRole: "compliance_admin"},
	}

	registry := blacklist.NewRegistry(store, nil, &cfg.Blacklist, log)
	tracker := velocity.NewTracker(history, &cfg.Velocity, log)
	recorder := audit.NewRecorder(store, nil, &config.KafkaConfig{}, log)
	gate := pipeline.NewHighValueGate(&cfg.HighValue)
	p := pipeline.NewPipeline(registry, tracker, risk.NewEngine(), gate, recorder,
		nil, &cfg.Pipeline, &cfg.Velocity, log)

	return NewHandler(p, registry, cfg, log)
}

func doJSON(t *testing.T, handler echo.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler(c)
	if err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestEvaluateEndpointAllows(t *testing.T) {
	store := new(mockStore)
	history := new(mockHistory)
	store.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(nil, blacklist.ErrNotFound)
	store.On("AppendAudit", mock.Anything, mock.Anything).Return(nil)
	history.On("TransactionsSince", mock.Anything, mock.Anything, mock.Anything).
		Return([]domain.HistoricalTransaction{}, nil)

	h := newTestHandler(store, history)

	body := `{"transaction":{"type":"pix_transfer","user_id":"user-1","amount":100,"currency":"BRL","kyc_level":2}}`
	rec := doJSON(t, h.Evaluate, http.MethodPost, "/api/v1/fraud/evaluate", body)

	assert.Equal(t, http.StatusOK, rec.Code)

	var outcome pipeline.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.True(t, outcome.Allowed)
	assert.NotEmpty(t, outcome.CorrelationID)
}

func TestEvaluateEndpointValidation(t *testing.T) {
	h := newTestHandler(new(mockStore), new(mockHistory))

	rec := doJSON(t, h.Evaluate, http.MethodPost, "/api/v1/fraud/evaluate",
		`{"transaction":{"type":"pix_transfer","amount":100}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.Evaluate, http.MethodPost, "/api/v1/fraud/evaluate",
		`{"transaction":{"type":"pix_transfer","user_id":"u1","amount":-5}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateEndpointVelocityMapsTo429(t *testing.T) {
	store := new(mockStore)
	history := new(mockHistory)
	store.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(nil, blacklist.ErrNotFound)
	store.On("AppendAudit", mock.Anything, mock.Anything).Return(nil)

	burst := make([]domain.HistoricalTransaction, 12)
	for i := range burst {
		burst[i] = domain.HistoricalTransaction{
			UserID:    "user-1",
			Amount:    10,
			Timestamp: time.Now().UTC().Add(-time.Minute),
		}
	}
	history.On("TransactionsSince", mock.Anything, mock.Anything, mock.Anything).Return(burst, nil)

	h := newTestHandler(store, history)

	body := `{"transaction":{"type":"pix_transfer","user_id":"user-1","amount":100,"currency":"BRL"}}`
	rec := doJSON(t, h.Evaluate, http.MethodPost, "/api/v1/fraud/evaluate", body)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))

	var rejection domain.Rejection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rejection))
	assert.Equal(t, domain.CodeVelocityLimitExceeded, rejection.Code)
}

func TestEvaluateEndpointBlockMapsTo403(t *testing.T) {
	store := new(mockStore)
	history := new(mockHistory)

	banned := &domain.BlacklistEntry{
		Type:     domain.EntityTypeUser,
		Value:    "user-1",
		Severity: domain.SeverityCritical,
		Reason:   "sanctioned",
		Active:   true,
	}
	store.On("Get", mock.Anything, domain.EntityTypeUser, "user-1").Return(banned, nil)
	store.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(nil, blacklist.ErrNotFound)
	store.On("AppendAudit", mock.Anything, mock.Anything).Return(nil)
	history.On("TransactionsSince", mock.Anything, mock.Anything, mock.Anything).
		Return([]domain.HistoricalTransaction{}, nil)

	h := newTestHandler(store, history)

	body := `{"transaction":{"type":"pix_transfer","user_id":"user-1","amount":100,"currency":"BRL"}}`
	rec := doJSON(t, h.Evaluate, http.MethodPost, "/api/v1/fraud/evaluate", body)

	assert.Equal(t, http.StatusForbidden, rec.Code)

	var rejection domain.Rejection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rejection))
	assert.Equal(t, domain.CodeBlacklistCritical, rejection.Code)
	assert.NotContains(t, rejection.Message, "sanctioned")
}

func TestAddEntryCreatedVsUpdated(t *testing.T) {
	store := new(mockStore)
	store.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(nil, blacklist.ErrNotFound)
	store.On("Upsert", mock.Anything, mock.Anything).Return(true, nil)
	store.On("AppendAudit", mock.Anything, mock.Anything).Return(nil)

	h := newTestHandler(store, new(mockHistory))

	body := `{"type":"email","value":"mule@example.com","reason":"confirmed mule","severity":"high"}`
	rec := doJSON(t, h.AddEntry, http.MethodPost, "/api/v1/admin/blacklist", body)
	assert.Equal(t, http.StatusCreated, rec.Code)

	updStore := new(mockStore)
	updStore.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(&domain.BlacklistEntry{
		Type: domain.EntityTypeEmail, Value: "mule@example.com", Active: true,
	}, nil)
	updStore.On("Upsert", mock.Anything, mock.Anything).Return(false, nil)
	updStore.On("AppendAudit", mock.Anything, mock.Anything).Return(nil)

	h2 := newTestHandler(updStore, new(mockHistory))
	rec = doJSON(t, h2.AddEntry, http.MethodPost, "/api/v1/admin/blacklist", body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAddEntryInvalidType(t *testing.T) {
	h := newTestHandler(new(mockStore), new(mockHistory))

	body := `{"type":"credit_card","value":"4111","reason":"test"}`
	rec := doJSON(t, h.AddEntry, http.MethodPost, "/api/v1/admin/blacklist", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEntriesDateFilters(t *testing.T) {
	var captured domain.BlacklistFilter
	store := new(mockStore)
	store.On("List", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(domain.BlacklistFilter)
	}).Return([]domain.BlacklistEntry{}, nil)
	store.On("Statistics", mock.Anything).Return(&domain.BlacklistStatistics{}, nil)

	h := newTestHandler(store, new(mockHistory))

	rec := doJSON(t, h.ListEntries, http.MethodGet,
		"/api/v1/admin/blacklist?added_after=2026-01-01T00:00:00Z&added_before=2026-06-01T00:00:00Z", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured.AddedAfter)
	require.NotNil(t, captured.AddedBefore)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), captured.AddedAfter.UTC())
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), captured.AddedBefore.UTC())
}

func TestListEntriesRejectsBadQueryValues(t *testing.T) {
	h := newTestHandler(new(mockStore), new(mockHistory))

	rec := doJSON(t, h.ListEntries, http.MethodGet, "/api/v1/admin/blacklist?added_after=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.ListEntries, http.MethodGet, "/api/v1/admin/blacklist?added_before=31-12-2026", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.ListEntries, http.MethodGet, "/api/v1/admin/blacklist?severity=extreme", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportPartialFailureReturns207(t *testing.T) {
	store := new(mockStore)
	store.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(nil, blacklist.ErrNotFound)
	store.On("Upsert", mock.Anything, mock.Anything).Return(true, nil)
	store.On("AppendAudit", mock.Anything, mock.Anything).Return(nil)

	h := newTestHandler(store, new(mockHistory))

	body := `{"source":"sanctions-feed","entries":[
		{"type":"email","value":"a@example.com","reason":"feed match"},
		{"type":"bogus","value":"b@example.com","reason":"feed match"}
	]}`
	rec := doJSON(t, h.Import, http.MethodPost, "/api/v1/admin/blacklist/import", body)

	assert.Equal(t, http.StatusMultiStatus, rec.Code)

	var result domain.BulkImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Imported)
	assert.Len(t, result.Errors, 1)
}

func TestImportWithoutSourceUsesDefault(t *testing.T) {
	var captured *domain.BlacklistEntry
	store := new(mockStore)
	store.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(nil, blacklist.ErrNotFound)
	store.On("Upsert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(*domain.BlacklistEntry)
	}).Return(true, nil)
	store.On("AppendAudit", mock.Anything, mock.Anything).Return(nil)

	h := newTestHandler(store, new(mockHistory))

	body := `{"entries":[{"type":"email","value":"c@example.com","reason":"feed match"}]}`
	rec := doJSON(t, h.Import, http.MethodPost, "/api/v1/admin/blacklist/import", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "bulk_import", captured.Source)
}

func TestExportCSV(t *testing.T) {
	store := new(mockStore)
	store.On("List", mock.Anything, mock.Anything).Return([]domain.BlacklistEntry{{
		Type:     domain.EntityTypeEmail,
		Value:    "fraudster@example.com",
		Severity: domain.SeverityHigh,
		Reason:   "confirmed mule",
		Source:   "manual",
		AddedBy:  "admin-1",
		AddedAt:  time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		Active:   true,
	}}, nil)

	h := newTestHandler(store, new(mockHistory))

	rec := doJSON(t, h.Export, http.MethodGet, "/api/v1/admin/blacklist/export?format=csv", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/csv")
	// Export is the one unmasked surface
	assert.Contains(t, rec.Body.String(), "fraudster@example.com")
}

func TestStatisticsEndpoint(t *testing.T) {
	store := new(mockStore)
	store.On("Statistics", mock.Anything).Return(&domain.BlacklistStatistics{
		TotalActive: 42,
		ByType:      map[domain.EntityType]int{domain.EntityTypeEmail: 42},
	}, nil)

	h := newTestHandler(store, new(mockHistory))

	rec := doJSON(t, h.Statistics, http.MethodGet, "/api/v1/admin/blacklist/statistics", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var stats domain.BlacklistStatistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 42, stats.TotalActive)
}
