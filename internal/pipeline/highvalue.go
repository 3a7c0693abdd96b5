package pipeline

import (
	"github.com/banking/fraud-service/internal/config"
	"github.com/banking/fraud-service/internal/domain"
)

// HighValueRequirements are the escalations derived purely from amount
type HighValueRequirements struct {
	RequiresEnhancedKYC      bool `json:"requires_enhanced_kyc"`
	RequiresManagerApproval  bool `json:"requires_manager_approval"`
	RequiresComplianceReview bool `json:"requires_compliance_review"`
}

// Any reports whether the gate produced any requirement
func (r HighValueRequirements) Any() bool {
	return r.RequiresEnhancedKYC || r.RequiresManagerApproval || r.RequiresComplianceReview
}

// HighValueGate escalates KYC and approval requirements from transaction
// amount thresholds alone, independent of the risk score.
type HighValueGate struct {
	cfg *config.HighValueConfig
}

// NewHighValueGate creates a gate with the configured thresholds
func NewHighValueGate(cfg *config.HighValueConfig) *HighValueGate {
	return &HighValueGate{cfg: cfg}
}

// Apply returns the escalation requirements for a transaction. Below the
// gate threshold nothing is required.
func (g *HighValueGate) Apply(tc *domain.TransactionContext) HighValueRequirements {
	var req HighValueRequirements

	if tc.Amount < g.cfg.GateThreshold {
		return req
	}

	req.RequiresEnhancedKYC = tc.Amount >= g.cfg.EnhancedKYC
	req.RequiresManagerApproval = tc.Amount >= g.cfg.ManagerApproval
	req.RequiresComplianceReview = tc.Amount >= g.cfg.ComplianceReview

	return req
}

// RequiredKYCLevel is the tier a user must hold once the enhanced-KYC
// requirement triggers
func (g *HighValueGate) RequiredKYCLevel() domain.KYCLevel {
	return domain.KYCLevel(g.cfg.RequiredKYCLevel)
}
