package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

// KafkaSASLConfig enables SASL authentication on the alert producer.
type KafkaSASLConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Mechanism string `mapstructure:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// KafkaSinkConfig configures the Kafka alert sink.
type KafkaSinkConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   string           `mapstructure:"topic"`
	SASL    *KafkaSASLConfig `mapstructure:"sasl"`
}

// KafkaSink publishes alerts as JSON messages, keyed by service type so one
// service's alerts stay ordered within a partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink connects a synchronous producer to the alert topic.
func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: no topic configured")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3

	if cfg.SASL != nil && cfg.SASL.Enabled {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.User = cfg.SASL.Username
		saramaCfg.Net.SASL.Password = cfg.SASL.Password
		switch cfg.SASL.Mechanism {
		case "SCRAM-SHA-256":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{hashGeneratorFcn: scramSHA256}
			}
		case "SCRAM-SHA-512":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{hashGeneratorFcn: scramSHA512}
			}
		default:
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: %w", err)
	}
	return &KafkaSink{producer: producer, topic: cfg.Topic}, nil
}

// Name identifies the sink in failure logs.
func (s *KafkaSink) Name() string { return "kafka" }

// Send publishes one alert message.
func (s *KafkaSink) Send(_ context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert %s: %w", alert.AlertID, err)
	}
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(alert.ServiceType.String()),
		Value: sarama.ByteEncoder(payload),
	})
	return err
}

// Close shuts the producer down.
func (s *KafkaSink) Close() error {
	return s.producer.Close()
}

var _ Sink = (*KafkaSink)(nil)
