package domain

// Decision represents the final outcome of a fraud evaluation
type Decision string

const (
	DecisionAllow  Decision = "ALLOW"
	DecisionReview Decision = "REVIEW"
	DecisionBlock  Decision = "BLOCK"
)

// RiskLevel represents the risk severity band of a score
type RiskLevel string

const (
	RiskLevelLow       RiskLevel = "LOW"
	RiskLevelLowMedium RiskLevel = "LOW_MEDIUM"
	RiskLevelMedium    RiskLevel = "MEDIUM"
	RiskLevelHigh      RiskLevel = "HIGH"
	RiskLevelCritical  RiskLevel = "CRITICAL"

	// RiskLevelUnknown marks a degraded result produced when analysis
	// failed and the transaction was allowed by the fail-open policy.
	RiskLevelUnknown RiskLevel = "UNKNOWN"
)

// RiskAnalysisResult is computed once per transaction evaluation, attached
// to the request outcome and written once to the audit trail. It is never
// mutated afterward.
type RiskAnalysisResult struct {
	RiskScore int       `json:"risk_score"` // 0-100
	RiskLevel RiskLevel `json:"risk_level"`
	Decision  Decision  `json:"decision"`
	Reasons   []string  `json:"reasons"`

	// Monitored is set for the 31-50 band: allowed, but watched
	Monitored bool `json:"monitored,omitempty"`
	// AdditionalDocsRequired is set for the 71-85 review band
	AdditionalDocsRequired bool `json:"additional_docs_required,omitempty"`
}

// DegradedResult is the zero-confidence result recorded when analysis
// failed and the fail-open policy let the transaction proceed. This is a
// deliberate availability-over-false-rejection decision.
func DegradedResult() *RiskAnalysisResult {
	return &RiskAnalysisResult{
		RiskScore: 0,
		RiskLevel: RiskLevelUnknown,
		Decision:  DecisionAllow,
		Reasons:   []string{"analysis failed - allowed by default"},
	}
}

// IsDegraded reports whether the result came from the fail-open branch
func (r *RiskAnalysisResult) IsDegraded() bool {
	return r.RiskLevel == RiskLevelUnknown
}

// RiskLevelForScore maps a 0-100 score to its risk band.
// Lower bounds are inclusive.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= 86:
		return RiskLevelCritical
	case score >= 71:
		return RiskLevelHigh
	case score >= 51:
		return RiskLevelMedium
	case score >= 31:
		return RiskLevelLowMedium
	default:
		return RiskLevelLow
	}
}

// DecisionForScore maps a 0-100 score to the recommended action.
// Scores of 31-50 remain ALLOW but are flagged as monitored by the engine.
func DecisionForScore(score int) Decision {
	switch {
	case score >= 86:
		return DecisionBlock
	case score >= 51:
		return DecisionReview
	default:
		return DecisionAllow
	}
}

// RejectionCode classifies structured policy rejections
type RejectionCode string

const (
	CodeTransactionBlocked    RejectionCode = "TRANSACTION_BLOCKED"
	CodeReviewRequired        RejectionCode = "REVIEW_REQUIRED"
	CodeBlacklistCritical     RejectionCode = "BLACKLIST_CRITICAL"
	CodeVelocityLimitExceeded RejectionCode = "VELOCITY_LIMIT_EXCEEDED"
	CodeEnhancedKYCRequired   RejectionCode = "ENHANCED_KYC_REQUIRED"
)

// Rejection is the structured payload returned when a transaction is not
// allowed to proceed. Message is a generic user-facing string; the internal
// reasons behind the decision are never included.
type Rejection struct {
	Success          bool          `json:"success"` // always false
	Error            string        `json:"error"`
	Code             RejectionCode `json:"code"`
	SupportReference string        `json:"support_reference"`
	Message          string        `json:"message"`

	// RetryAfter is set only for velocity rejections, in seconds
	RetryAfter string `json:"retry_after,omitempty"`

	// KYC tier detail, set only for ENHANCED_KYC_REQUIRED
	RequiredKYCLevel string `json:"required_kyc_level,omitempty"`
	CurrentKYCLevel  string `json:"current_kyc_level,omitempty"`
}
