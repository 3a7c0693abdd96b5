package domain

// VelocityMetrics are rolling per-user transaction counts and volumes over
// sliding 1-hour and 24-hour windows. They are computed from the
// transaction-history source at evaluation time and are not cached beyond
// the single request's lifetime.
type VelocityMetrics struct {
	TransactionsLastHour int     `json:"transactions_last_hour"`
	TransactionsLastDay  int     `json:"transactions_last_day"`
	VolumeLastHour       float64 `json:"volume_last_hour"`
	VolumeLastDay        float64 `json:"volume_last_day"`
}

// VelocityLimits are the configurable per-user thresholds. A metric at or
// above its limit is a violation: a user with limit-1 transactions passes,
// a user with exactly limit is flagged.
type VelocityLimits struct {
	MaxTransactionsPerHour int     `json:"max_transactions_per_hour"`
	MaxTransactionsPerDay  int     `json:"max_transactions_per_day"`
	MaxVolumePerHour       float64 `json:"max_volume_per_hour"`
	MaxVolumePerDay        float64 `json:"max_volume_per_day"`
}

// DefaultVelocityLimits returns the product defaults
func DefaultVelocityLimits() VelocityLimits {
	return VelocityLimits{
		MaxTransactionsPerHour: 10,
		MaxTransactionsPerDay:  50,
		MaxVolumePerHour:       10000,
		MaxVolumePerDay:        100000,
	}
}

// VelocityEvaluation is the outcome of comparing metrics against limits
type VelocityEvaluation struct {
	Violations []string `json:"violations"`
	Exceeded   bool     `json:"exceeded"`
}
