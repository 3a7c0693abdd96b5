// Package pipeline orchestrates a fraud evaluation: it normalizes the
// transaction, fans out the blacklist and velocity checks, runs the risk
// engine, applies policy and the high-value gate, and records the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/banking/fraud-service/internal/audit"
	"github.com/banking/fraud-service/internal/blacklist"
	"github.com/banking/fraud-service/internal/config"
	"github.com/banking/fraud-service/internal/domain"
	"github.com/banking/fraud-service/internal/pkg/logger"
	"github.com/banking/fraud-service/internal/pkg/telemetry"
	"github.com/banking/fraud-service/internal/risk"
	"github.com/banking/fraud-service/internal/velocity"
)

// Options configure one call site of the pipeline. They are an explicit
// per-call record, not a global switch.
type Options struct {
	// SkipForLowRisk suppresses the evaluation audit record for clean
	// low-risk outcomes, keeping the trail focused on decisions that matter
	SkipForLowRisk bool
	// BlockOnMediumRisk hard-blocks REVIEW outcomes instead of flagging them
	BlockOnMediumRisk bool
	// RequireManualReview forces the review flag regardless of score
	RequireManualReview bool
}

// Outcome is the pipeline's answer for one transaction
type Outcome struct {
	Allowed          bool                          `json:"allowed"`
	RequiresReview   bool                          `json:"requires_review,omitempty"`
	Degraded         bool                          `json:"degraded,omitempty"`
	CorrelationID    string                        `json:"correlation_id"`
	RiskAnalysis     *domain.RiskAnalysisResult    `json:"fraud_analysis"`
	VelocityMetrics  *domain.VelocityMetrics       `json:"velocity_metrics,omitempty"`
	BlacklistMatches []domain.BlacklistCheckResult `json:"blacklist_matches,omitempty"`
	HighValue        *HighValueRequirements        `json:"high_value,omitempty"`

	// Rejection is set when Allowed is false
	Rejection *domain.Rejection `json:"rejection,omitempty"`
}

// SignalProvider enriches an evaluation with technical and financial
// signals from the identity/session provider. Implementations must be safe
// for concurrent use. A nil provider yields zero signals.
type SignalProvider interface {
	Signals(ctx context.Context, tc *domain.TransactionContext) (risk.Signals, error)
}

// Hook is invoked by the pipeline itself with the final decision, after the
// audit record is written. Hooks must not block; long work belongs in the
// hook's own goroutine.
type Hook func(tc *domain.TransactionContext, outcome *Outcome)

// Pipeline runs the full fraud evaluation for one transaction at a time.
// Construct one per process and share it across request handlers; all
// request-scoped state lives in local variables.
type Pipeline struct {
	registry *blacklist.Registry
	tracker  *velocity.Tracker
	engine   *risk.Engine
	gate     *HighValueGate
	recorder *audit.Recorder
	signals  SignalProvider // optional

	breaker    *gobreaker.CircuitBreaker
	retryAfter time.Duration
	timeout    time.Duration

	log   *logger.Logger
	hooks []Hook
}

// NewPipeline wires the evaluation stages together
func NewPipeline(
	registry *blacklist.Registry,
	tracker *velocity.Tracker,
	engine *risk.Engine,
	gate *HighValueGate,
	recorder *audit.Recorder,
	signals SignalProvider,
	cfg *config.PipelineConfig,
	velocityCfg *config.VelocityConfig,
	log *logger.Logger,
) *Pipeline {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "fraud-store",
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
	})

	retryAfter := velocityCfg.RetryAfter
	if retryAfter <= 0 {
		retryAfter = time.Hour
	}

	return &Pipeline{
		registry:   registry,
		tracker:    tracker,
		engine:     engine,
		gate:       gate,
		recorder:   recorder,
		signals:    signals,
		breaker:    breaker,
		retryAfter: retryAfter,
		timeout:    cfg.EvaluationTimeout,
		log:        log.Named("fraud_pipeline"),
	}
}

// RegisterHook adds a post-decision hook. Hooks run in registration order
// once per evaluation, including degraded ones.
func (p *Pipeline) RegisterHook(h Hook) {
	p.hooks = append(p.hooks, h)
}

// evidence holds the intermediate results of the concurrent checks
type evidence struct {
	blacklist *domain.BatchCheckResult
	metrics   *domain.VelocityMetrics
	signals   risk.Signals
}

// Evaluate inspects one transaction and renders allow, review or block.
//
// Any unexpected internal error fails open: the transaction is allowed with
// a zero-confidence UNKNOWN result, and the failure is logged and audited
// in full for offline investigation. Availability is deliberately preferred
// over false rejection; this contract must hold under all failure modes.
func (p *Pipeline) Evaluate(ctx context.Context, raw *domain.RawTransaction, opts Options) (*Outcome, error) {
	start := time.Now()
	tc := domain.NormalizeContext(raw)
	correlationID := uuid.New().String()

	ctx, span := telemetry.StartSpan(ctx, "fraud.evaluate",
		attribute.String("transaction.id", tc.ID.String()),
		attribute.String("transaction.type", string(tc.Type)),
		attribute.String("correlation.id", correlationID),
	)
	defer span.End()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	p.log.EvaluationStarted(tc.ID.String(), tc.UserID, string(tc.Type))

	outcome, err := p.analyze(ctx, tc, correlationID, opts)
	if err != nil {
		// Fail open: infrastructure failure must not reject the transaction
		outcome = p.failOpen(ctx, tc, correlationID, err)
	}

	span.SetAttributes(
		attribute.String("fraud.decision", string(outcome.RiskAnalysis.Decision)),
		attribute.Int("fraud.risk_score", outcome.RiskAnalysis.RiskScore),
		attribute.Bool("fraud.degraded", outcome.Degraded),
	)

	p.log.EvaluationCompleted(
		tc.ID.String(),
		string(outcome.RiskAnalysis.Decision),
		outcome.RiskAnalysis.RiskScore,
		time.Since(start).Milliseconds(),
	)

	for _, h := range p.hooks {
		h(tc, outcome)
	}

	return outcome, nil
}

// analyze runs the decision stages. Every returned error is an
// infrastructure failure the caller converts to the fail-open branch;
// policy rejections come back as non-error outcomes.
func (p *Pipeline) analyze(ctx context.Context, tc *domain.TransactionContext, correlationID string, opts Options) (*Outcome, error) {
	ev, err := p.gatherEvidence(ctx, tc, correlationID)
	if err != nil {
		return nil, err
	}

	// A critical blacklist match blocks unconditionally, before any scoring
	if ev.blacklist.HasCriticalMatch() {
		return p.reject(ctx, tc, correlationID, ev, &domain.RiskAnalysisResult{
			RiskScore: 100,
			RiskLevel: domain.RiskLevelCritical,
			Decision:  domain.DecisionBlock,
			Reasons:   []string{"critical_blacklist_match"},
		}, domain.CodeBlacklistCritical, opts)
	}

	// Velocity violations are a hard stop with a retry hint, never an
	// input to the risk score
	if eval := p.tracker.Evaluate(ev.metrics); eval.Exceeded {
		p.log.VelocityLimitExceeded(tc.ID.String(), tc.UserID, eval.Violations)
		outcome := &Outcome{
			Allowed:         false,
			CorrelationID:   correlationID,
			VelocityMetrics: ev.metrics,
			RiskAnalysis: &domain.RiskAnalysisResult{
				RiskScore: 100,
				RiskLevel: domain.RiskLevelCritical,
				Decision:  domain.DecisionBlock,
				Reasons:   eval.Violations,
			},
			Rejection: &domain.Rejection{
				Success:          false,
				Error:            "rate limit exceeded",
				Code:             domain.CodeVelocityLimitExceeded,
				SupportReference: correlationID,
				Message:          "Too many transactions. Please try again later.",
				RetryAfter:       strconv.Itoa(int(p.retryAfter.Seconds())),
			},
		}
		p.writeAudit(ctx, tc, correlationID, outcome, opts)
		return outcome, nil
	}

	analysis := p.engine.Score(tc, ev.blacklist, ev.metrics, ev.signals)

	switch analysis.Decision {
	case domain.DecisionBlock:
		return p.reject(ctx, tc, correlationID, ev, analysis, domain.CodeTransactionBlocked, opts)

	case domain.DecisionReview:
		if opts.BlockOnMediumRisk {
			return p.reject(ctx, tc, correlationID, ev, analysis, domain.CodeReviewRequired, opts)
		}
	}

	// Amount-threshold escalations, independent of the score
	highValue := p.gate.Apply(tc)
	if highValue.Any() {
		p.log.HighValueGateTriggered(tc.ID.String(), tc.Amount,
			highValue.RequiresEnhancedKYC, highValue.RequiresManagerApproval, highValue.RequiresComplianceReview)
	}
	if highValue.RequiresEnhancedKYC && tc.KYCLevel < p.gate.RequiredKYCLevel() {
		outcome := &Outcome{
			Allowed:         false,
			CorrelationID:   correlationID,
			RiskAnalysis:    analysis,
			VelocityMetrics: ev.metrics,
			HighValue:       &highValue,
			Rejection: &domain.Rejection{
				Success:          false,
				Error:            "enhanced verification required",
				Code:             domain.CodeEnhancedKYCRequired,
				SupportReference: correlationID,
				Message:          "This transaction requires an upgraded verification level.",
				RequiredKYCLevel: p.gate.RequiredKYCLevel().String(),
				CurrentKYCLevel:  tc.KYCLevel.String(),
			},
		}
		p.writeAudit(ctx, tc, correlationID, outcome, opts)
		return outcome, nil
	}

	outcome := &Outcome{
		Allowed:          true,
		CorrelationID:    correlationID,
		RiskAnalysis:     analysis,
		VelocityMetrics:  ev.metrics,
		BlacklistMatches: ev.blacklist.BlacklistedEntities,
	}
	if highValue.Any() {
		outcome.HighValue = &highValue
	}
	if analysis.Decision == domain.DecisionReview || opts.RequireManualReview {
		outcome.RequiresReview = true
	}

	p.writeAudit(ctx, tc, correlationID, outcome, opts)
	return outcome, nil
}

// gatherEvidence runs the blacklist batch check and the velocity fetch
// concurrently; neither depends on the other. Scoring waits for both.
func (p *Pipeline) gatherEvidence(ctx context.Context, tc *domain.TransactionContext, correlationID string) (*evidence, error) {
	ev := &evidence{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		result, err := p.throughBreaker(func() (interface{}, error) {
			return p.registry.BatchCheck(gctx, tc.Identifiers(), correlationID)
		})
		if err != nil {
			return fmt.Errorf("blacklist check: %w", err)
		}
		batch := result.(*domain.BatchCheckResult)
		if !batch.Success {
			return fmt.Errorf("blacklist check: %s", batch.Error)
		}
		ev.blacklist = batch

		for _, m := range batch.BlacklistedEntities {
			p.log.BlacklistHit(tc.ID.String(), string(m.Type), m.Value, string(m.Severity))
		}
		return nil
	})

	g.Go(func() error {
		result, err := p.throughBreaker(func() (interface{}, error) {
			return p.tracker.Metrics(gctx, tc.UserID)
		})
		if err != nil {
			return fmt.Errorf("velocity metrics: %w", err)
		}
		ev.metrics = result.(*domain.VelocityMetrics)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if p.signals != nil {
		sig, err := p.signals.Signals(ctx, tc)
		if err != nil {
			return nil, fmt.Errorf("signal provider: %w", err)
		}
		ev.signals = sig
	}

	return ev, nil
}

// throughBreaker guards a store-backed call with the shared circuit
// breaker. An open breaker is an infrastructure failure like any other and
// lands in the fail-open branch.
func (p *Pipeline) throughBreaker(fn func() (interface{}, error)) (interface{}, error) {
	result, err := p.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("store circuit open: %w", err)
		}
		return nil, err
	}
	return result, nil
}

// reject builds a blocking outcome with a generic user-facing message.
// Internal reasons stay in the audit trail and logs only.
func (p *Pipeline) reject(
	ctx context.Context,
	tc *domain.TransactionContext,
	correlationID string,
	ev *evidence,
	analysis *domain.RiskAnalysisResult,
	code domain.RejectionCode,
	opts Options,
) (*Outcome, error) {
	outcome := &Outcome{
		Allowed:          false,
		CorrelationID:    correlationID,
		RiskAnalysis:     analysis,
		VelocityMetrics:  ev.metrics,
		BlacklistMatches: ev.blacklist.BlacklistedEntities,
		Rejection: &domain.Rejection{
			Success:          false,
			Error:            "transaction rejected",
			Code:             code,
			SupportReference: correlationID,
			Message:          "This transaction cannot be processed at this time. Please contact support with your reference number.",
		},
	}

	p.writeAudit(ctx, tc, correlationID, outcome, opts)
	return outcome, nil
}

// failOpen converts an infrastructure failure into the degraded ALLOW
// outcome. The error is logged in full and the degradation is audited;
// nothing about the failure reaches the end user.
func (p *Pipeline) failOpen(ctx context.Context, tc *domain.TransactionContext, correlationID string, cause error) *Outcome {
	p.log.FailOpen(tc.ID.String(), correlationID, cause)

	outcome := &Outcome{
		Allowed:       true,
		Degraded:      true,
		CorrelationID: correlationID,
		RiskAnalysis:  domain.DegradedResult(),
	}

	entry := &domain.AuditLogEntry{
		ID:            uuid.New(),
		Action:        domain.AuditActionAnalysisDegraded,
		ActorID:       "system",
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		AfterState: map[string]interface{}{
			"transaction_id": tc.ID.String(),
			"user_id":        tc.UserID,
			"error":          cause.Error(),
		},
	}
	// Best effort: the store that failed analysis may also refuse the audit
	// write. The zap error log above is the fallback record.
	if err := p.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		p.log.Warn("degraded-analysis audit write failed", logger.ErrorField(err))
	}

	p.recorder.PublishDecision(&audit.DecisionEvent{
		TransactionID: tc.ID.String(),
		UserID:        tc.UserID,
		Type:          tc.Type,
		Decision:      outcome.RiskAnalysis.Decision,
		RiskAnalysis:  outcome.RiskAnalysis,
		CorrelationID: correlationID,
		Degraded:      true,
	})

	return outcome
}

// writeAudit records the evaluation outcome once, tagged with the
// correlation id, and publishes the decision event
func (p *Pipeline) writeAudit(ctx context.Context, tc *domain.TransactionContext, correlationID string, outcome *Outcome, opts Options) {
	lowRiskClean := outcome.Allowed && !outcome.RequiresReview &&
		outcome.RiskAnalysis.RiskLevel == domain.RiskLevelLow

	if !(opts.SkipForLowRisk && lowRiskClean) {
		entry := &domain.AuditLogEntry{
			ID:            uuid.New(),
			Action:        domain.AuditActionEvaluation,
			ActorID:       "system",
			Timestamp:     time.Now().UTC(),
			CorrelationID: correlationID,
			AfterState: map[string]interface{}{
				"transaction_id":  tc.ID.String(),
				"user_id":         tc.UserID,
				"type":            string(tc.Type),
				"decision":        string(outcome.RiskAnalysis.Decision),
				"risk_score":      outcome.RiskAnalysis.RiskScore,
				"risk_level":      string(outcome.RiskAnalysis.RiskLevel),
				"reasons":         outcome.RiskAnalysis.Reasons,
				"requires_review": outcome.RequiresReview,
			},
		}
		if err := p.recorder.Record(ctx, entry); err != nil {
			p.log.Warn("evaluation audit write failed", logger.ErrorField(err))
		}
	}

	p.recorder.PublishDecision(&audit.DecisionEvent{
		TransactionID: tc.ID.String(),
		UserID:        tc.UserID,
		Type:          tc.Type,
		Decision:      outcome.RiskAnalysis.Decision,
		RiskAnalysis:  outcome.RiskAnalysis,
		CorrelationID: correlationID,
	})
}
