package logger

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with fraud-engine specific functionality
type Logger struct {
	*zap.Logger
	serviceName string
}

// ContextKey for request context values
type ContextKey string

const (
	RequestIDKey     ContextKey = "request_id"
	UserIDKey        ContextKey = "user_id"
	CorrelationIDKey ContextKey = "correlation_id"
	TraceIDKey       ContextKey = "trace_id"
)

// New creates a new logger instance
func New(serviceName, environment string, debug bool) (*Logger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	// Add service metadata
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
		"env":     environment,
		"pid":     os.Getpid(),
	}

	zapLogger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger:      zapLogger,
		serviceName: serviceName,
	}, nil
}

// NewNop returns a no-op logger for tests
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), serviceName: "test"}
}

// Named returns a named sub-logger
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		Logger:      l.Logger.Named(name),
		serviceName: l.serviceName,
	}
}

// WithContext returns a logger with context values
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := []zap.Field{}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}
	if correlationID, ok := ctx.Value(CorrelationIDKey).(string); ok && correlationID != "" {
		fields = append(fields, zap.String("correlation_id", correlationID))
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}

	return &Logger{
		Logger:      l.With(fields...),
		serviceName: l.serviceName,
	}
}

// WithEvaluation returns a logger with evaluation context
func (l *Logger) WithEvaluation(txID, correlationID string) *Logger {
	return &Logger{
		Logger: l.With(
			zap.String("transaction_id", txID),
			zap.String("correlation_id", correlationID),
		),
		serviceName: l.serviceName,
	}
}

// EvaluationStarted logs the start of a fraud evaluation
func (l *Logger) EvaluationStarted(txID, userID, txType string) {
	l.Info("evaluation started",
		zap.String("transaction_id", txID),
		zap.String("user_id", userID),
		zap.String("transaction_type", txType),
	)
}

// EvaluationCompleted logs the completion of a fraud evaluation
func (l *Logger) EvaluationCompleted(txID, decision string, riskScore int, durationMs int64) {
	l.Info("evaluation completed",
		zap.String("transaction_id", txID),
		zap.String("decision", decision),
		zap.Int("risk_score", riskScore),
		zap.Int64("duration_ms", durationMs),
	)
}

// BlacklistHit logs a blacklist match during evaluation
func (l *Logger) BlacklistHit(txID, entityType, maskedValue, severity string) {
	l.Warn("blacklist hit",
		zap.String("transaction_id", txID),
		zap.String("entity_type", entityType),
		zap.String("entity_value", maskedValue),
		zap.String("severity", severity),
	)
}

// BlacklistMutation logs an add/update/remove on the registry
func (l *Logger) BlacklistMutation(action, entityType, maskedValue, actorID string) {
	l.Info("blacklist mutation",
		zap.String("action", action),
		zap.String("entity_type", entityType),
		zap.String("entity_value", maskedValue),
		zap.String("actor_id", actorID),
	)
}

// VelocityLimitExceeded logs a velocity hard stop
func (l *Logger) VelocityLimitExceeded(txID, userID string, violations []string) {
	l.Warn("velocity limit exceeded",
		zap.String("transaction_id", txID),
		zap.String("user_id", userID),
		zap.Strings("violations", violations),
	)
}

// HighValueGateTriggered logs escalation requirements from the amount gate
func (l *Logger) HighValueGateTriggered(txID string, amount float64, enhancedKYC, managerApproval, complianceReview bool) {
	l.Info("high value gate triggered",
		zap.String("transaction_id", txID),
		zap.Float64("amount", amount),
		zap.Bool("requires_enhanced_kyc", enhancedKYC),
		zap.Bool("requires_manager_approval", managerApproval),
		zap.Bool("requires_compliance_review", complianceReview),
	)
}

// FailOpen logs an analysis failure that was converted to an ALLOW.
// Full error detail is kept here for offline investigation; the caller
// only ever sees the allowed transaction.
func (l *Logger) FailOpen(txID, correlationID string, err error) {
	l.Error("analysis failed, failing open",
		zap.String("transaction_id", txID),
		zap.String("correlation_id", correlationID),
		zap.Error(err),
	)
}

// ImportCompleted logs the outcome of a bulk import
func (l *Logger) ImportCompleted(source string, imported, updated, skipped, failed int) {
	l.Info("bulk import completed",
		zap.String("source", source),
		zap.Int("imported", imported),
		zap.Int("updated", updated),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
}

// Helper field functions

// ErrorField creates an error field
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

// DurationField creates a duration field
func DurationField(name string, d time.Duration) zap.Field {
	return zap.Duration(name, d)
}

// StringField creates a string field
func StringField(key, value string) zap.Field {
	return zap.String(key, value)
}

// IntField creates an int field
func IntField(key string, value int) zap.Field {
	return zap.Int(key, value)
}

// Float64Field creates a float64 field
func Float64Field(key string, value float64) zap.Field {
	return zap.Float64(key, value)
}

// BoolField creates a bool field
func BoolField(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}
