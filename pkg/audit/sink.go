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
	"time"

	"go.uber.org/zap"

	"github.com/telekom/kintone-mail-relay/pkg/config"
	"github.com/telekom/kintone-mail-relay/pkg/metrics"
)

// Sink defines the interface for delivery event destinations.
type Sink interface {
	// Write sends a delivery event to the sink.
	Write(ctx context.Context, event *DeliveryEvent) error

	// Close releases any resources held by the sink.
	Close() error

	// Name returns the sink's identifier.
	Name() string
}

// LogSink writes delivery events to a structured logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

// Write logs the delivery event.
func (s *LogSink) Write(_ context.Context, event *DeliveryEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.Time("timestamp", event.Timestamp),
		zap.String("source_app", event.SourceApp.String()),
		zap.String("hook_type", event.HookType),
		zap.String("smtp_profile", event.SMTPProfile),
		zap.String("message_id", event.MessageID),
		zap.Strings("accepted", event.Accepted),
	}
	if len(event.Rejected) > 0 {
		fields = append(fields, zap.Strings("rejected", event.Rejected))
	}
	if event.RecordID != "" {
		fields = append(fields, zap.String("record_id", event.RecordID))
	}
	if event.LogRecordID != "" {
		fields = append(fields, zap.String("log_record_id", event.LogRecordID))
	}

	s.logger.Info("delivery_event", fields...)
	metrics.DeliveryEventsWritten.WithLabelValues(s.Name()).Inc()
	return nil
}

// Close is a no-op for LogSink.
func (s *LogSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *LogSink) Name() string {
	return "log"
}

// MultiSink writes to several sinks in order.
type MultiSink struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMultiSink creates a sink that writes to multiple destinations.
func NewMultiSink(sinks []Sink, logger *zap.Logger) *MultiSink {
	return &MultiSink{
		sinks:  sinks,
		logger: logger,
	}
}

// Write sends the event to all sinks and returns the last error seen.
func (s *MultiSink) Write(ctx context.Context, event *DeliveryEvent) error {
	var lastErr error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, event); err != nil {
			s.logger.Warn("delivery event sink write failed",
				zap.String("sink", sink.Name()),
				zap.String("error", err.Error()))
			lastErr = err
		}
	}
	return lastErr
}

// Close closes all sinks.
func (s *MultiSink) Close() error {
	var lastErr error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Name returns the sink identifier.
func (s *MultiSink) Name() string {
	return "multi"
}

// NewSinkFromConfig returns a LogSink, plus a breaker-guarded KafkaSink when
// brokers are configured. The log sink is always included so events stay
// visible in the process log while Kafka is unreachable.
func NewSinkFromConfig(cfg config.Events, writeTimeout time.Duration, logger *zap.Logger) (Sink, error) {
	logSink := NewLogSink(logger)
	if len(cfg.Kafka.Brokers) == 0 {
		return logSink, nil
	}

	kcfg := KafkaSinkConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.Topic,
		WriteTimeout: writeTimeout,
	}
	if cfg.Kafka.TLS {
		kcfg.TLS = &KafkaTLSConfig{Enabled: true}
	}
	if cfg.Kafka.SASL.Mechanism != "" {
		kcfg.SASL = &KafkaSASLConfig{
			Mechanism: cfg.Kafka.SASL.Mechanism,
			Username:  cfg.Kafka.SASL.Username,
			Password:  cfg.Kafka.SASL.Password,
		}
	}
	kafkaSink, err := NewKafkaSink(kcfg, logger)
	if err != nil {
		return nil, err
	}
	breaker := NewBreakerSink(kafkaSink, DefaultBreakerConfig(), logger)
	return NewMultiSink([]Sink{logSink, breaker}, logger), nil
}
