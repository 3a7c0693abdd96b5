// Package audit persists the append-only audit trail and mirrors records to
// Kafka for downstream consumers. The Postgres write is authoritative; the
// Kafka publish is a fire-and-forget observability port and never fails an
// evaluation.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/banking/fraud-service/internal/config"
	"github.com/banking/fraud-service/internal/domain"
	"github.com/banking/fraud-service/internal/pkg/logger"
)

// Sink is the authoritative append-only store for audit records
type Sink interface {
	AppendAudit(ctx context.Context, entry *domain.AuditLogEntry) error
}

// DecisionEvent is the message published for every completed evaluation
type DecisionEvent struct {
	TransactionID string                     `json:"transaction_id"`
	UserID        string                     `json:"user_id"`
	Type          domain.TransactionType     `json:"transaction_type"`
	Decision      domain.Decision            `json:"decision"`
	RiskAnalysis  *domain.RiskAnalysisResult `json:"risk_analysis"`
	CorrelationID string                     `json:"correlation_id"`
	Degraded      bool                       `json:"degraded"`
}

// Recorder writes audit entries and publishes decision events
type Recorder struct {
	sink     Sink
	producer sarama.AsyncProducer // nil when Kafka is disabled
	cfg      *config.KafkaConfig
	log      *logger.Logger
}

// NewRecorder creates an audit recorder. The producer may be nil, which
// disables Kafka mirroring while keeping the authoritative store write.
func NewRecorder(sink Sink, producer sarama.AsyncProducer, cfg *config.KafkaConfig, log *logger.Logger) *Recorder {
	r := &Recorder{
		sink:     sink,
		producer: producer,
		cfg:      cfg,
		log:      log.Named("audit_recorder"),
	}

	if producer != nil {
		// Async producer errors surface on a channel; drain and log them
		go func() {
			for err := range producer.Errors() {
				r.log.Warn("audit event publish failed", logger.ErrorField(err))
			}
		}()
	}

	return r
}

// NewProducer builds a sarama async producer for the configured brokers
func NewProducer(cfg *config.KafkaConfig) (sarama.AsyncProducer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	saramaCfg.Producer.Compression = sarama.CompressionSnappy
	saramaCfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// Record appends an audit entry to the authoritative store and mirrors it
// to the audit topic
func (r *Recorder) Record(ctx context.Context, entry *domain.AuditLogEntry) error {
	if err := r.sink.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("audit record: %w", err)
	}

	r.publish(r.cfg.AuditTopic, entry.CorrelationID, entry)
	return nil
}

// PublishDecision emits a decision event. Publish failures are logged and
// dropped; the decision itself is already durably audited via Record.
func (r *Recorder) PublishDecision(event *DecisionEvent) {
	r.publish(r.cfg.DecisionsTopic, event.CorrelationID, event)
}

func (r *Recorder) publish(topic, key string, payload interface{}) {
	if r.producer == nil {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		r.log.Warn("audit event marshal failed", logger.ErrorField(err))
		return
	}

	r.producer.Input() <- &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(raw),
	}
}
