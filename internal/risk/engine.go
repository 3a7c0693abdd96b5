// Package risk implements the weighted risk scoring engine. The engine is a
// pure function of its inputs: it holds no mutable state, reads no stores,
// and can be exercised in isolation.
package risk

import (
	"math"

	"github.com/banking/fraud-service/internal/domain"
)

// Factor names, exposed verbatim in RiskAnalysisResult.Reasons
const (
	FactorRapidRepeated        = "rapid_repeated_transactions"
	FactorRoundHighValue       = "round_high_value_amount"
	FactorStructuringPattern   = "structuring_pattern"
	FactorAtypicalHour         = "atypical_hour"
	FactorSuddenBehaviorChange = "sudden_behavior_change"

	FactorHighRiskIP            = "high_risk_ip"
	FactorVPNProxy              = "vpn_proxy_detected"
	FactorNewDevice             = "new_device"
	FactorSuspiciousGeolocation = "suspicious_geolocation"

	FactorIncomeIncompatible     = "income_incompatible_amount"
	FactorUndefinedIncomeSource  = "undefined_income_source"
	FactorDisproportionateAssets = "disproportionate_declared_assets"

	FactorBlacklistLow    = "blacklist_match_low"
	FactorBlacklistMedium = "blacklist_match_medium"
	FactorBlacklistHigh   = "blacklist_match_high"
)

// factorWeights are additive and independently triggerable; a transaction
// can trigger several at once. The total is clamped to [0, 100].
var factorWeights = map[string]int{
	FactorRapidRepeated:        25,
	FactorRoundHighValue:       15,
	FactorStructuringPattern:   20,
	FactorAtypicalHour:         10,
	FactorSuddenBehaviorChange: 30,

	FactorHighRiskIP:            20,
	FactorVPNProxy:              25,
	FactorNewDevice:             15,
	FactorSuspiciousGeolocation: 20,

	FactorIncomeIncompatible:     35,
	FactorUndefinedIncomeSource:  25,
	FactorDisproportionateAssets: 30,

	// Non-critical blacklist matches feed the score; only a critical match
	// is a hard block, enforced upstream in the pipeline.
	FactorBlacklistLow:    10,
	FactorBlacklistMedium: 20,
	FactorBlacklistHigh:   30,
}

// Signals are technical and financial indicators the engine cannot derive
// from the transaction itself. They come from the identity/session provider
// and the user's declared financial profile.
type Signals struct {
	HighRiskIP            bool `json:"high_risk_ip"`
	VPNProxyDetected      bool `json:"vpn_proxy_detected"`
	NewDevice             bool `json:"new_device"`
	SuspiciousGeolocation bool `json:"suspicious_geolocation"`

	IncomeIncompatibleAmount bool `json:"income_incompatible_amount"`
	UndefinedIncomeSource    bool `json:"undefined_income_source"`
	DisproportionateAssets   bool `json:"disproportionate_declared_assets"`

	SuddenBehaviorChange bool `json:"sudden_behavior_change"`
}

// Tuning thresholds for the behavioral factors
const (
	rapidRepeatedMinPerHour = 5       // hourly burst treated as rapid repetition
	roundAmountStep         = 1000.0  // "round number" granularity
	roundAmountFloor        = 10000.0 // round amounts only matter when high-value
	structuringFloor        = 9000.0  // just below common reporting thresholds
	structuringCeiling      = 10000.0
	structuringMinPerDay    = 3
	atypicalHourStart       = 0 // 00:00-05:59 UTC
	atypicalHourEnd         = 6
)

// Engine scores transactions against the fixed decision matrix
type Engine struct{}

// NewEngine creates a scoring engine
func NewEngine() *Engine {
	return &Engine{}
}

// Score combines behavioral, technical and financial factor hits into a
// 0-100 score and maps it to a risk level and recommended action. Reasons
// list every triggered factor by name for auditability.
func (e *Engine) Score(
	tc *domain.TransactionContext,
	blacklist *domain.BatchCheckResult,
	metrics *domain.VelocityMetrics,
	signals Signals,
) *domain.RiskAnalysisResult {
	total := 0
	reasons := make([]string, 0, 4)

	hit := func(factor string) {
		total += factorWeights[factor]
		reasons = append(reasons, factor)
	}

	// Behavioral
	if metrics != nil && metrics.TransactionsLastHour >= rapidRepeatedMinPerHour {
		hit(FactorRapidRepeated)
	}
	if isRoundHighValue(tc.Amount) {
		hit(FactorRoundHighValue)
	}
	if metrics != nil && isStructuring(tc.Amount, metrics) {
		hit(FactorStructuringPattern)
	}
	if h := tc.Timestamp.UTC().Hour(); h >= atypicalHourStart && h < atypicalHourEnd {
		hit(FactorAtypicalHour)
	}
	if signals.SuddenBehaviorChange {
		hit(FactorSuddenBehaviorChange)
	}

	// Technical
	if signals.HighRiskIP {
		hit(FactorHighRiskIP)
	}
	if signals.VPNProxyDetected {
		hit(FactorVPNProxy)
	}
	if signals.NewDevice {
		hit(FactorNewDevice)
	}
	if signals.SuspiciousGeolocation {
		hit(FactorSuspiciousGeolocation)
	}

	// Financial
	if signals.IncomeIncompatibleAmount {
		hit(FactorIncomeIncompatible)
	}
	if signals.UndefinedIncomeSource {
		hit(FactorUndefinedIncomeSource)
	}
	if signals.DisproportionateAssets {
		hit(FactorDisproportionateAssets)
	}

	// Non-critical blacklist matches contribute by severity
	if blacklist != nil {
		switch blacklist.MaxMatchSeverity() {
		case domain.SeverityLow:
			hit(FactorBlacklistLow)
		case domain.SeverityMedium:
			hit(FactorBlacklistMedium)
		case domain.SeverityHigh:
			hit(FactorBlacklistHigh)
		}
	}

	if total > 100 {
		total = 100
	}

	result := &domain.RiskAnalysisResult{
		RiskScore: total,
		RiskLevel: domain.RiskLevelForScore(total),
		Decision:  domain.DecisionForScore(total),
		Reasons:   reasons,
	}
	result.Monitored = result.RiskLevel == domain.RiskLevelLowMedium
	result.AdditionalDocsRequired = result.RiskLevel == domain.RiskLevelHigh

	return result
}

// isRoundHighValue flags high-value amounts that land exactly on a round
// step, a common marker of scripted or test transactions
func isRoundHighValue(amount float64) bool {
	if amount < roundAmountFloor {
		return false
	}
	return math.Mod(amount, roundAmountStep) == 0
}

// isStructuring flags repeated amounts sitting just below reporting
// thresholds combined with elevated daily activity
func isStructuring(amount float64, metrics *domain.VelocityMetrics) bool {
	return amount >= structuringFloor && amount < structuringCeiling &&
		metrics.TransactionsLastDay >= structuringMinPerDay
}
