package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/telekom/kintone-mail-relay/pkg/config"
	"github.com/telekom/kintone-mail-relay/pkg/mail"
)

type recordingSink struct {
	name   string
	err    error
	events []*DeliveryEvent
	closed bool
}

func (s *recordingSink) Write(_ context.Context, e *DeliveryEvent) error {
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) Close() error { s.closed = true; return nil }
func (s *recordingSink) Name() string { return s.name }

func TestNewDeliveryEvent(t *testing.T) {
	info := mail.DeliveryInfo{Accepted: []string{"b@y.com"}, Rejected: []string{}, MessageID: "<id@x.com>"}
	e := NewDeliveryEvent("7", "UPDATE_RECORD", "default", info)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, EventMailDelivered, e.Type)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, config.AppID("7"), e.SourceApp)
	assert.Equal(t, "UPDATE_RECORD", e.HookType)
	assert.Equal(t, "<id@x.com>", e.MessageID)
	assert.Equal(t, []string{"b@y.com"}, e.Accepted)
}

func TestLogSink_Write(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	e := NewDeliveryEvent("1", "ADD_RECORD", "default", mail.DeliveryInfo{Accepted: []string{"b@y.com"}, MessageID: "<m@x>"})
	e.LogRecordID = "42"
	require.NoError(t, sink.Write(context.Background(), e))

	entries := logs.FilterMessage("delivery_event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "1", fields["source_app"])
	assert.Equal(t, "<m@x>", fields["message_id"])
	assert.Equal(t, "42", fields["log_record_id"])
	assert.NotContains(t, fields, "rejected")
	assert.Equal(t, "log", sink.Name())
	assert.NoError(t, sink.Close())
}

func TestMultiSink(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	failing := &recordingSink{name: "failing", err: errors.New("broker down")}
	multi := NewMultiSink([]Sink{ok, failing}, zaptest.NewLogger(t))

	err := multi.Write(context.Background(), NewDeliveryEvent("1", "ADD_RECORD", "default", mail.DeliveryInfo{}))
	assert.EqualError(t, err, "broker down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, failing.events, 1)

	require.NoError(t, multi.Close())
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)
	assert.Equal(t, "multi", multi.Name())
}

func TestNewSinkFromConfig(t *testing.T) {
	logger := zaptest.NewLogger(t)

	sink, err := NewSinkFromConfig(config.Events{}, 0, logger)
	require.NoError(t, err)
	assert.IsType(t, &LogSink{}, sink)

	sink, err = NewSinkFromConfig(config.Events{Kafka: config.Kafka{
		Brokers: []string{"localhost:9092"},
		Topic:   "mail-deliveries",
		SASL:    config.KafkaSASL{Mechanism: "PLAIN", Username: "u", Password: "p"},
	}}, 0, logger)
	require.NoError(t, err)
	multi, ok := sink.(*MultiSink)
	require.True(t, ok)
	require.Len(t, multi.sinks, 2)
	assert.Equal(t, "log", multi.sinks[0].Name())
	assert.Equal(t, "kafka", multi.sinks[1].Name())
	assert.IsType(t, &BreakerSink{}, multi.sinks[1])
	_ = sink.Close()

	_, err = NewSinkFromConfig(config.Events{Kafka: config.Kafka{
		Brokers: []string{"localhost:9092"},
		Topic:   "mail-deliveries",
		SASL:    config.KafkaSASL{Mechanism: "KERBEROS"},
	}}, 0, logger)
	assert.Error(t, err)
}
