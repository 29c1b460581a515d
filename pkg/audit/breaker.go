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
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/kintone-mail-relay/pkg/metrics"
)

// BreakerState is the state of a BreakerSink.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned instead of writing while the breaker is open.
var ErrBreakerOpen = errors.New("event sink circuit is open")

type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit. Default 5.
	FailureThreshold int
	// OpenTimeout is how long the circuit stays open before a single probe
	// write is let through. Default 30s.
	OpenTimeout time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second}
}

// BreakerSink stops calling the wrapped sink for OpenTimeout after
// FailureThreshold consecutive failures, then lets a single probe through.
// Events skipped while open are dropped.
type BreakerSink struct {
	sink   Sink
	cfg    BreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

func NewBreakerSink(sink Sink, cfg BreakerConfig, logger *zap.Logger) *BreakerSink {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	metrics.DeliveryEventBreakerState.WithLabelValues(sink.Name()).Set(float64(BreakerClosed))
	return &BreakerSink{
		sink:   sink,
		cfg:    cfg,
		logger: logger.Named("breaker").With(zap.String("sink", sink.Name())),
		now:    time.Now,
	}
}

func (b *BreakerSink) Write(ctx context.Context, event *DeliveryEvent) error {
	if !b.allow() {
		metrics.DeliveryEventsSkipped.WithLabelValues(b.sink.Name()).Inc()
		return ErrBreakerOpen
	}
	err := b.sink.Write(ctx, event)
	b.record(err)
	return err
}

func (b *BreakerSink) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.transition(BreakerHalfOpen)
		b.probing = true
		return true
	case BreakerHalfOpen:
		// One probe at a time.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *BreakerSink) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.failures = 0
		if b.state != BreakerClosed {
			b.transition(BreakerClosed)
		}
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.transition(BreakerOpen)
	}
}

// transition must be called with mu held.
func (b *BreakerSink) transition(to BreakerState) {
	if b.state == to {
		return
	}
	b.logger.Info("event sink circuit state changed",
		zap.String("from", b.state.String()),
		zap.String("to", to.String()),
		zap.Int("consecutive_failures", b.failures))
	b.state = to
	if to == BreakerClosed {
		b.failures = 0
	}
	metrics.DeliveryEventBreakerState.WithLabelValues(b.sink.Name()).Set(float64(to))
}

// State returns the current breaker state.
func (b *BreakerSink) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BreakerSink) Close() error {
	return b.sink.Close()
}

func (b *BreakerSink) Name() string {
	return b.sink.Name()
}
