/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"

	"github.com/telekom/kintone-mail-relay/pkg/metrics"
)

const defaultKafkaWriteTimeout = 10 * time.Second

// KafkaSinkConfig configures a KafkaSink.
type KafkaSinkConfig struct {
	// Name labels the sink in metrics and logs. Defaults to "kafka".
	Name    string
	Brokers []string
	// Topic receives one message per delivery event.
	Topic string

	TLS  *KafkaTLSConfig
	SASL *KafkaSASLConfig

	// WriteTimeout bounds a single Write, independent of the caller's context.
	// Defaults to 10 seconds.
	WriteTimeout time.Duration
}

type KafkaTLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
}

// KafkaSASLConfig selects PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
type KafkaSASLConfig struct {
	Mechanism string
	Username  string
	Password  string
}

// KafkaSink publishes delivery events to a Kafka topic. Writes are synchronous
// and single-attempt: an event either reaches the broker during Write or is
// reported as failed.
type KafkaSink struct {
	name    string
	writer  *kafka.Writer
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewKafkaSink creates a KafkaSink. No connection is made until the first Write.
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	transport, err := newKafkaTransport(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultKafkaWriteTimeout
	}
	name := cfg.Name
	if name == "" {
		name = "kafka"
	}

	logger.Info("Kafka delivery event sink created",
		zap.String("name", name),
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Bool("tls", transport.TLS != nil),
		zap.Bool("sasl", transport.SASL != nil))

	return &KafkaSink{
		name: name,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    1,
			MaxAttempts:  1,
			WriteTimeout: timeout,
			RequiredAcks: kafka.RequireAll,
			Transport:    transport,
		},
		timeout: timeout,
		logger:  logger.Named("kafka-events"),
	}, nil
}

func newKafkaTransport(cfg KafkaSinkConfig) (*kafka.Transport, error) {
	transport := &kafka.Transport{}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		transport.TLS = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // opt-in
		}
	}
	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		mechanism, err := saslMechanism(cfg.SASL)
		if err != nil {
			return nil, fmt.Errorf("kafka sasl: %w", err)
		}
		transport.SASL = mechanism
	}
	return transport, nil
}

var scramAlgorithms = map[string]scram.Algorithm{
	"SCRAM-SHA-256": scram.SHA256,
	"SCRAM-SHA-512": scram.SHA512,
}

func saslMechanism(cfg *KafkaSASLConfig) (sasl.Mechanism, error) {
	if cfg.Mechanism == "PLAIN" {
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	}
	algo, ok := scramAlgorithms[cfg.Mechanism]
	if !ok {
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.Mechanism)
	}
	return scram.Mechanism(algo, cfg.Username, cfg.Password)
}

// Write sends a delivery event keyed by the originating app, so events for one
// app land on one partition. The write outlives a canceled caller context but
// never the sink's write timeout.
func (s *KafkaSink) Write(ctx context.Context, event *DeliveryEvent) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		metrics.DeliveryEventErrors.WithLabelValues(s.name, "closed").Inc()
		return fmt.Errorf("kafka sink is closed")
	}

	msg, err := eventMessage(event)
	if err != nil {
		metrics.DeliveryEventErrors.WithLabelValues(s.name, "serialization").Inc()
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		class := classifyWriteError(err)
		metrics.DeliveryEventErrors.WithLabelValues(s.name, class).Inc()
		s.logger.Warn("Delivery event not written",
			zap.Error(err),
			zap.String("class", class),
			zap.Duration("duration", time.Since(start)),
			zap.String("eventId", event.ID))
		return fmt.Errorf("failed to write to Kafka (%s): %w", class, err)
	}

	metrics.DeliveryEventsWritten.WithLabelValues(s.name).Inc()
	return nil
}

func eventMessage(event *DeliveryEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal delivery event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.SourceApp),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(event.ID)},
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}, nil
}

// classifyWriteError maps a failed write to the metric label it is counted
// under: timeout, network, auth, topic, broker or other.
func classifyWriteError(err error) string {
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil {
				err = e
				break
			}
		}
	}

	var kerr kafka.Error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &kerr):
		switch kerr {
		case kafka.SASLAuthenticationFailed, kafka.TopicAuthorizationFailed, kafka.ClusterAuthorizationFailed:
			return "auth"
		case kafka.UnknownTopicOrPartition, kafka.InvalidTopic:
			return "topic"
		}
		if kerr.Timeout() {
			return "timeout"
		}
		return "broker"
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	default:
		return "other"
	}
}

func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Info("Closing Kafka delivery event sink", zap.String("name", s.name))
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	return nil
}

func (s *KafkaSink) Name() string {
	return s.name
}
