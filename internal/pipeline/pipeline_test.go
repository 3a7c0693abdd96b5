package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/banking/fraud-service/internal/audit"
	"github.com/banking/fraud-service/internal/blacklist"
	"github.com/banking/fraud-service/internal/config"
	"github.com/banking/fraud-service/internal/domain"
	"github.com/banking/fraud-service/internal/pkg/logger"
	"github.com/banking/fraud-service/internal/risk"
	"github.com/banking/fraud-service/internal/velocity"
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

type stubSignals struct {
	signals risk.Signals
	err     error
}

func (s *stubSignals) Signals(context.Context, *domain.TransactionContext) (risk.Signals, error) {
	return s.signals, s.err
}

type testHarness struct {
	store    *mockStore
	history  *mockHistory
	signals  *stubSignals
	pipeline *Pipeline
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	log := logger.NewNop()

	store := new(mockStore)
	history := new(mockHistory)
	signals := &stubSignals{}

	registry := blacklist.NewRegistry(store, nil, &config.BlacklistConfig{
		BatchCheckLimit:   100,
		BulkImportLimit:   10000,
		ImportConcurrency: 8,
	}, log)

	tracker := velocity.NewTracker(history, nil, log)
	engine := risk.NewEngine()
	gate := NewHighValueGate(&config.HighValueConfig{
		GateThreshold:    50000,
		EnhancedKYC:      100000,
		ManagerApproval:  200000,
		ComplianceReview: 500000,
		RequiredKYCLevel: 3,
	})
	recorder := audit.NewRecorder(store, nil, &config.KafkaConfig{}, log)

	p := NewPipeline(registry, tracker, engine, gate, recorder, signals,
		&config.PipelineConfig{
			EvaluationTimeout:  2 * time.Second,
			BreakerMaxFailures: 5,
			BreakerInterval:    time.Minute,
			BreakerTimeout:     30 * time.Second,
		},
		&config.VelocityConfig{RetryAfter: time.Hour},
		log,
	)

	return &testHarness{store: store, history: history, signals: signals, pipeline: p}
}

func (h *testHarness) cleanStore() {
	h.store.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(nil, blacklist.ErrNotFound)
	h.store.On("AppendAudit", mock.Anything, mock.Anything).Return(nil)
}

func (h *testHarness) quietHistory() {
	h.history.On("TransactionsSince", mock.Anything, mock.Anything, mock.Anything).
		Return([]domain.HistoricalTransaction{}, nil)
}

func rawTx() *domain.RawTransaction {
	return &domain.RawTransaction{
		Type:      "pix_transfer",
		UserID:    "user-1",
		Amount:    150.00,
		Currency:  "BRL",
		UserEmail: "alice@example.com",
		UserIP:    "203.0.113.7",
		KYCLevel:  2,
		Timestamp: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateCleanTransactionAllowed(t *testing.T) {
	h := newHarness(t)
	h.cleanStore()
	h.quietHistory()

	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{})
	require.NoError(t, err)

	assert.True(t, outcome.Allowed)
	assert.False(t, outcome.RequiresReview)
	assert.False(t, outcome.Degraded)
	assert.Nil(t, outcome.Rejection)
	assert.Equal(t, domain.DecisionAllow, outcome.RiskAnalysis.Decision)
	assert.NotEmpty(t, outcome.CorrelationID)
}

func TestEvaluateCriticalBlacklistBlocks(t *testing.T) {
	h := newHarness(t)
	h.quietHistory()

	banned := &domain.BlacklistEntry{
		Type:     domain.EntityTypeEmail,
		Value:    "alice@example.com",
		Severity: domain.SeverityCritical,
		Reason:   "sanctioned entity",
		Active:   true,
	}
	h.store.On("Get", mock.Anything, domain.EntityTypeEmail, "alice@example.com").Return(banned, nil)
	h.store.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(nil, blacklist.ErrNotFound)
	h.store.On("AppendAudit", mock.Anything, mock.Anything).Return(nil)

	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{})
	require.NoError(t, err)

	assert.False(t, outcome.Allowed)
	require.NotNil(t, outcome.Rejection)
	assert.Equal(t, domain.CodeBlacklistCritical, outcome.Rejection.Code)
	assert.Equal(t, domain.DecisionBlock, outcome.RiskAnalysis.Decision)
	assert.Equal(t, 100, outcome.RiskAnalysis.RiskScore)

	// The user-facing message never explains the real cause
	assert.NotContains(t, outcome.Rejection.Message, "blacklist")
	assert.NotContains(t, outcome.Rejection.Message, "sanctioned")
	assert.Equal(t, outcome.CorrelationID, outcome.Rejection.SupportReference)
}

func TestEvaluateNonCriticalMatchFeedsScore(t *testing.T) {
	h := newHarness(t)
	h.quietHistory()

	flagged := &domain.BlacklistEntry{
		Type:     domain.EntityTypeEmail,
		Value:    "alice@example.com",
		Severity: domain.SeverityMedium,
		Reason:   "chargeback history",
		Active:   true,
	}
	h.store.On("Get", mock.Anything, domain.EntityTypeEmail, "alice@example.com").Return(flagged, nil)
	h.store.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(nil, blacklist.ErrNotFound)
	h.store.On("AppendAudit", mock.Anything, mock.Anything).Return(nil)

	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{})
	require.NoError(t, err)

	assert.True(t, outcome.Allowed)
	assert.Equal(t, 20, outcome.RiskAnalysis.RiskScore)
	assert.Contains(t, outcome.RiskAnalysis.Reasons, "blacklist_match_medium")
	assert.Len(t, outcome.BlacklistMatches, 1)
}

func TestEvaluateVelocityLimitIsHardStop(t *testing.T) {
	h := newHarness(t)
	h.cleanStore()

	burst := make([]domain.HistoricalTransaction, 10)
	for i := range burst {
		burst[i] = domain.HistoricalTransaction{
			UserID:    "user-1",
			Amount:    50,
			Timestamp: time.Now().UTC().Add(-5 * time.Minute),
		}
	}
	h.history.On("TransactionsSince", mock.Anything, "user-1", mock.Anything).Return(burst, nil)

	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{})
	require.NoError(t, err)

	assert.False(t, outcome.Allowed)
	require.NotNil(t, outcome.Rejection)
	assert.Equal(t, domain.CodeVelocityLimitExceeded, outcome.Rejection.Code)
	assert.Equal(t, "3600", outcome.Rejection.RetryAfter)
	assert.Equal(t, 10, outcome.VelocityMetrics.TransactionsLastHour)
}

func TestEvaluateUnderVelocityLimitPasses(t *testing.T) {
	h := newHarness(t)
	h.cleanStore()

	nine := make([]domain.HistoricalTransaction, 9)
	for i := range nine {
		nine[i] = domain.HistoricalTransaction{
			UserID:    "user-1",
			Amount:    50,
			Timestamp: time.Now().UTC().Add(-5 * time.Minute),
		}
	}
	h.history.On("TransactionsSince", mock.Anything, "user-1", mock.Anything).Return(nine, nil)

	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{})
	require.NoError(t, err)

	assert.True(t, outcome.Allowed)
	assert.Nil(t, outcome.Rejection)
}

func TestEvaluateFailsOpenOnStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.quietHistory()

	h.store.On("Get", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))
	h.store.On("AppendAudit", mock.Anything, mock.Anything).Return(nil)

	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{})
	require.NoError(t, err)

	assert.True(t, outcome.Allowed)
	assert.True(t, outcome.Degraded)
	assert.Equal(t, 0, outcome.RiskAnalysis.RiskScore)
	assert.Equal(t, domain.RiskLevelUnknown, outcome.RiskAnalysis.RiskLevel)
	assert.Equal(t, domain.DecisionAllow, outcome.RiskAnalysis.Decision)
	assert.Equal(t, []string{"analysis failed - allowed by default"}, outcome.RiskAnalysis.Reasons)
	assert.Nil(t, outcome.Rejection)
}

func TestEvaluateFailsOpenOnHistoryFailure(t *testing.T) {
	h := newHarness(t)
	h.cleanStore()

	h.history.On("TransactionsSince", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("timeout"))

	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{})
	require.NoError(t, err)

	assert.True(t, outcome.Allowed)
	assert.True(t, outcome.Degraded)
	assert.True(t, outcome.RiskAnalysis.IsDegraded())
}

func TestEvaluateFailsOpenEvenWhenAuditWriteFails(t *testing.T) {
	h := newHarness(t)
	h.quietHistory()

	h.store.On("Get", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))
	h.store.On("AppendAudit", mock.Anything, mock.Anything).
		Return(errors.New("connection refused"))

	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{})
	require.NoError(t, err)

	assert.True(t, outcome.Allowed)
	assert.True(t, outcome.Degraded)
}

func TestEvaluateFailsOpenOnSignalProviderFailure(t *testing.T) {
	h := newHarness(t)
	h.cleanStore()
	h.quietHistory()
	h.signals.err = errors.New("identity provider down")

	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{})
	require.NoError(t, err)

	assert.True(t, outcome.Allowed)
	assert.True(t, outcome.Degraded)
}

func TestEvaluateHighRiskSignalsTriggerReview(t *testing.T) {
	h := newHarness(t)
	h.cleanStore()
	h.quietHistory()
	// 35 + 25 = 60, inside the review band
	h.signals.signals = risk.Signals{
		IncomeIncompatibleAmount: true,
		UndefinedIncomeSource:    true,
	}

	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{})
	require.NoError(t, err)

	assert.True(t, outcome.Allowed)
	assert.True(t, outcome.RequiresReview)
	assert.Nil(t, outcome.Rejection)
	assert.Equal(t, domain.DecisionReview, outcome.RiskAnalysis.Decision)
}

func TestEvaluateBlockOnMediumRiskOption(t *testing.T) {
	h := newHarness(t)
	h.cleanStore()
	h.quietHistory()
	h.signals.signals = risk.Signals{
		IncomeIncompatibleAmount: true,
		UndefinedIncomeSource:    true,
	}

	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{BlockOnMediumRisk: true})
	require.NoError(t, err)

	assert.False(t, outcome.Allowed)
	require.NotNil(t, outcome.Rejection)
	assert.Equal(t, domain.CodeReviewRequired, outcome.Rejection.Code)
}

func TestEvaluateCriticalScoreBlocks(t *testing.T) {
	h := newHarness(t)
	h.cleanStore()
	h.quietHistory()
	// 35 + 25 + 30 = 90, critical band
	h.signals.signals = risk.Signals{
		IncomeIncompatibleAmount: true,
		UndefinedIncomeSource:    true,
		SuddenBehaviorChange:     true,
	}

	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{})
	require.NoError(t, err)

	assert.False(t, outcome.Allowed)
	require.NotNil(t, outcome.Rejection)
	assert.Equal(t, domain.CodeTransactionBlocked, outcome.Rejection.Code)
	assert.Equal(t, domain.RiskLevelCritical, outcome.RiskAnalysis.RiskLevel)
}

func TestEvaluateRequireManualReviewOption(t *testing.T) {
	h := newHarness(t)
	h.cleanStore()
	h.quietHistory()

	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{RequireManualReview: true})
	require.NoError(t, err)

	assert.True(t, outcome.Allowed)
	assert.True(t, outcome.RequiresReview)
}

func TestEvaluateEnhancedKYCRequired(t *testing.T) {
	h := newHarness(t)
	h.cleanStore()
	h.quietHistory()

	tx := rawTx()
	tx.Amount = 150000
	tx.KYCLevel = 1

	outcome, err := h.pipeline.Evaluate(context.Background(), tx, Options{})
	require.NoError(t, err)

	assert.False(t, outcome.Allowed)
	require.NotNil(t, outcome.Rejection)
	assert.Equal(t, domain.CodeEnhancedKYCRequired, outcome.Rejection.Code)
	assert.Equal(t, "LEVEL_3", outcome.Rejection.RequiredKYCLevel)
	assert.Equal(t, "LEVEL_1", outcome.Rejection.CurrentKYCLevel)
}

func TestEvaluateHighValueWithSufficientKYC(t *testing.T) {
	h := newHarness(t)
	h.cleanStore()
	h.quietHistory()

	tx := rawTx()
	tx.Amount = 250000
	tx.KYCLevel = 3

	outcome, err := h.pipeline.Evaluate(context.Background(), tx, Options{})
	require.NoError(t, err)

	assert.True(t, outcome.Allowed)
	require.NotNil(t, outcome.HighValue)
	assert.True(t, outcome.HighValue.RequiresEnhancedKYC)
	assert.True(t, outcome.HighValue.RequiresManagerApproval)
	assert.False(t, outcome.HighValue.RequiresComplianceReview)
}

func TestEvaluateInvokesHooks(t *testing.T) {
	h := newHarness(t)
	h.cleanStore()
	h.quietHistory()

	var got *Outcome
	h.pipeline.RegisterHook(func(_ *domain.TransactionContext, outcome *Outcome) {
		got = outcome
	})

	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{})
	require.NoError(t, err)
	assert.Same(t, outcome, got)
}

func TestEvaluateSkipForLowRiskSuppressesAudit(t *testing.T) {
	h := newHarness(t)
	h.quietHistory()
	h.store.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(nil, blacklist.ErrNotFound)

	// No AppendAudit expectation: a clean low-risk outcome with the skip
	// option writes nothing
	outcome, err := h.pipeline.Evaluate(context.Background(), rawTx(), Options{SkipForLowRisk: true})
	require.NoError(t, err)

	assert.True(t, outcome.Allowed)
	h.store.AssertNotCalled(t, "AppendAudit", mock.Anything, mock.Anything)
}
