package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/headcount/broker"
	"github.com/maxpert/headcount/codec"
	"github.com/maxpert/headcount/hlc"
	"github.com/maxpert/headcount/telemetry"
	"github.com/rs/zerolog/log"
)

// Debouncer publishes a value to a topic only when it differs from the last
// value it successfully published
type Debouncer struct {
	broker   broker.Broker
	codec    codec.Codec
	topic    string
	producer string
	clock    *hlc.Clock

	observeMu sync.Mutex // serializes Observe

	mu      sync.Mutex // protects last, hasLast
	last    int64
	hasLast bool
}

// NewDebouncer creates a debouncer publishing to topic. producer identifies
// this process in stamped payloads.
func NewDebouncer(b broker.Broker, c codec.Codec, topic, producer string) *Debouncer {
	return &Debouncer{
		broker:   b,
		codec:    c,
		topic:    topic,
		producer: producer,
		clock:    hlc.NewClock(),
	}
}

// Observe publishes value if it changed. It returns true when a message was
// published. On error nothing is recorded, so the same value is retried on
// the next call.
func (d *Debouncer) Observe(ctx context.Context, value int64) (bool, error) {
	d.observeMu.Lock()
	defer d.observeMu.Unlock()

	if last, ok := d.Last(); ok && last == value {
		telemetry.PublishesTotal.With("unchanged").Inc()
		return false, nil
	}

	payload, err := d.codec.Encode(codec.Reading{
		Value:    value,
		Producer: d.producer,
		Stamp:    d.clock.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to encode value %d: %w", value, err)
	}

	start := time.Now()
	if err := d.broker.Publish(ctx, d.topic, payload); err != nil {
		telemetry.PublishesTotal.With("failed").Inc()
		telemetry.BrokerErrorsTotal.With("publish").Inc()
		return false, fmt.Errorf("failed to publish value %d to %s: %w", value, d.topic, err)
	}
	telemetry.PublishDurationSeconds.Observe(time.Since(start).Seconds())

	d.mu.Lock()
	d.last = value
	d.hasLast = true
	d.mu.Unlock()

	telemetry.PublishesTotal.With("published").Inc()
	telemetry.LastEmittedValue.Set(float64(value))

	log.Debug().
		Str("topic", d.topic).
		Int64("value", value).
		Msg("Published change")

	return true, nil
}

// Last returns the last published value, if any
func (d *Debouncer) Last() (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.hasLast
}

// Topic returns the topic values are published to
func (d *Debouncer) Topic() string {
	return d.topic
}
