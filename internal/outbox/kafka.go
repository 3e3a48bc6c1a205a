// Package outbox implements ledger.EventPublisher: it turns ledger
// mutations into Kafka events for out-of-scope collaborators (cache
// invalidation, notification push) to consume, without the ledger package
// itself knowing Kafka exists.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher implements ledger.EventPublisher against real Kafka
// brokers. Grounded on jitenkr2030's KafkaAuditProducer: one *kafka.Writer
// per topic, built lazily and reused.
type KafkaPublisher struct {
	brokers []string
	prefix  string
	logger  *zap.Logger

	writers map[string]*kafka.Writer
}

// NewKafkaPublisher returns a publisher writing to brokers. topicPrefix,
// when non-empty, namespaces every topic (e.g. per environment).
func NewKafkaPublisher(brokers []string, topicPrefix string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		brokers: brokers,
		prefix:  topicPrefix,
		logger:  logger,
		writers: make(map[string]*kafka.Writer),
	}
}

const (
	topicSafeStatus         = "safe.status.changed"
	topicMultisigTransaction = "safe.multisig_transaction.changed"
)

func (p *KafkaPublisher) topicName(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return fmt.Sprintf("%s.%s", p.prefix, topic)
}

func (p *KafkaPublisher) writerFor(topic string) *kafka.Writer {
	full := p.topicName(topic)
	if w, ok := p.writers[full]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        full,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	p.writers[full] = w
	return w
}

func (p *KafkaPublisher) PublishSafeStatusChanged(ctx context.Context, safe common.Address, txHash common.Hash) error {
	return p.publish(ctx, topicSafeStatus, safe.Hex(), map[string]interface{}{
		"event_id":   uuid.New().String(),
		"event_type": "SAFE_STATUS_CHANGED",
		"safe":       safe.Hex(),
		"tx_hash":    txHash.Hex(),
		"emitted_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (p *KafkaPublisher) PublishMultisigTransactionChanged(ctx context.Context, safeTxHash common.Hash) error {
	return p.publish(ctx, topicMultisigTransaction, safeTxHash.Hex(), map[string]interface{}{
		"event_id":     uuid.New().String(),
		"event_type":   "MULTISIG_TRANSACTION_CHANGED",
		"safe_tx_hash": safeTxHash.Hex(),
		"emitted_at":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key string, value map[string]interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}

	msg := kafka.Message{Key: []byte(key), Value: data, Time: time.Now().UTC()}
	if err := p.writerFor(topic).WriteMessages(ctx, msg); err != nil {
		// A broker outage must never fail the ledger write that triggered
		// this publish; the mutation already committed.
		p.logger.Warn("outbox publish failed", zap.String("topic", topic), zap.String("key", key), zap.Error(err))
		return nil
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
