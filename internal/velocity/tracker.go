package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/banking/fraud-service/internal/config"
	"github.com/banking/fraud-service/internal/domain"
	"github.com/banking/fraud-service/internal/pkg/logger"
)

// HistorySource reads a user's past transactions. The fraud engine never
// writes to it; persistence of transactions is the caller's responsibility,
// which also means an evaluation can never count itself.
type HistorySource interface {
	TransactionsSince(ctx context.Context, userID string, since time.Time) ([]domain.HistoricalTransaction, error)
}

// Tracker computes rolling per-user velocity metrics over sliding 1-hour
// and 24-hour windows and evaluates them against configured limits.
type Tracker struct {
	source HistorySource
	limits domain.VelocityLimits
	log    *logger.Logger
}

// NewTracker creates a velocity tracker
func NewTracker(source HistorySource, cfg *config.VelocityConfig, log *logger.Logger) *Tracker {
	limits := domain.DefaultVelocityLimits()
	if cfg != nil && cfg.VelocityLimitsConfigured() {
		limits = domain.VelocityLimits{
			MaxTransactionsPerHour: cfg.MaxTransactionsPerHour,
			MaxTransactionsPerDay:  cfg.MaxTransactionsPerDay,
			MaxVolumePerHour:       cfg.MaxVolumePerHour,
			MaxVolumePerDay:        cfg.MaxVolumePerDay,
		}
	}
	return &Tracker{
		source: source,
		limits: limits,
		log:    log.Named("velocity_tracker"),
	}
}

// Limits returns the limits the tracker evaluates against
func (t *Tracker) Limits() domain.VelocityLimits {
	return t.limits
}

// Metrics reads the user's history and reduces it to the four rolling
// metrics. Results live only for the current request; nothing is cached
// across evaluations.
func (t *Tracker) Metrics(ctx context.Context, userID string) (*domain.VelocityMetrics, error) {
	now := time.Now().UTC()
	dayAgo := now.Add(-24 * time.Hour)
	hourAgo := now.Add(-time.Hour)

	history, err := t.source.TransactionsSince(ctx, userID, dayAgo)
	if err != nil {
		return nil, fmt.Errorf("velocity history read: %w", err)
	}

	metrics := &domain.VelocityMetrics{}
	for _, tx := range history {
		if !tx.Timestamp.After(dayAgo) {
			continue
		}
		metrics.TransactionsLastDay++
		metrics.VolumeLastDay += tx.Amount
		if tx.Timestamp.After(hourAgo) {
			metrics.TransactionsLastHour++
			metrics.VolumeLastHour += tx.Amount
		}
	}

	return metrics, nil
}

// Evaluate compares metrics against limits. The boundary is inclusive: a
// metric at exactly its limit is a violation, one below it passes. A
// non-empty violation list is a hard stop in the pipeline, never an input
// to the risk score.
func Evaluate(metrics *domain.VelocityMetrics, limits domain.VelocityLimits) domain.VelocityEvaluation {
	eval := domain.VelocityEvaluation{Violations: []string{}}

	if limits.MaxTransactionsPerHour > 0 && metrics.TransactionsLastHour >= limits.MaxTransactionsPerHour {
		eval.Violations = append(eval.Violations, fmt.Sprintf(
			"hourly transaction count %d reached the limit of %d",
			metrics.TransactionsLastHour, limits.MaxTransactionsPerHour))
	}
	if limits.MaxTransactionsPerDay > 0 && metrics.TransactionsLastDay >= limits.MaxTransactionsPerDay {
		eval.Violations = append(eval.Violations, fmt.Sprintf(
			"daily transaction count %d reached the limit of %d",
			metrics.TransactionsLastDay, limits.MaxTransactionsPerDay))
	}
	if limits.MaxVolumePerHour > 0 && metrics.VolumeLastHour >= limits.MaxVolumePerHour {
		eval.Violations = append(eval.Violations, fmt.Sprintf(
			"hourly volume %.2f reached the limit of %.2f",
			metrics.VolumeLastHour, limits.MaxVolumePerHour))
	}
	if limits.MaxVolumePerDay > 0 && metrics.VolumeLastDay >= limits.MaxVolumePerDay {
		eval.Violations = append(eval.Violations, fmt.Sprintf(
			"daily volume %.2f reached the limit of %.2f",
			metrics.VolumeLastDay, limits.MaxVolumePerDay))
	}

	eval.Exceeded = len(eval.Violations) > 0
	return eval
}

// Evaluate runs the tracker's configured limits against metrics
func (t *Tracker) Evaluate(metrics *domain.VelocityMetrics) domain.VelocityEvaluation {
	return Evaluate(metrics, t.limits)
}
