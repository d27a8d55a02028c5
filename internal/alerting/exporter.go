package alerting

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/fraudshield/backend/configs"
	"github.com/fraudshield/backend/internal/metrics"
	"github.com/fraudshield/backend/internal/models"
)

// KafkaExporter publishes high-criticality alerts to the alert topic for
// downstream case-management consumers.
type KafkaExporter struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaExporter creates a Kafka exporter, retrying the initial broker
// connection so the worker can start before the broker is up
func NewKafkaExporter(cfg configs.KafkaConfig) (*KafkaExporter, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V3_0_0_0

	var producer sarama.SyncProducer
	var err error
	for i := 0; i < 30; i++ {
		producer, err = sarama.NewSyncProducer(cfg.Brokers, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer after retries: %w", err)
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.AlertTopic).
		Msg("Kafka alert exporter initialized")

	return &KafkaExporter{
		producer: producer,
		topic:    cfg.AlertTopic,
	}, nil
}

// Export publishes a decision event to the alert topic
func (e *KafkaExporter) Export(event *models.DecisionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	partition, offset, err := e.producer.SendMessage(&sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(event.TransactionID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	metrics.ObserveAlertExport()

	log.Debug().
		Str("transaction_id", event.TransactionID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("Alert exported to Kafka")

	return nil
}

// Close closes the underlying producer
func (e *KafkaExporter) Close() error {
	return e.producer.Close()
}
