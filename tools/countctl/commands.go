package main

import (
	"context"
	"fmt"

	"github.com/maxpert/headcount/broker"
	"github.com/maxpert/headcount/codec"
	"github.com/maxpert/headcount/hlc"
)

// executePublish encodes cfg.Value and publishes it once
func executePublish(ctx context.Context, b broker.Broker, cfg *Config) error {
	c, err := codec.New(cfg.Format)
	if err != nil {
		return err
	}

	producer := cfg.Producer
	if producer == "" {
		producer = cfg.ClientID
	}

	payload, err := c.Encode(codec.Reading{
		Value:    cfg.Value,
		Producer: producer,
		Stamp:    hlc.NewClock().Now(),
	})
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	return b.Publish(pubCtx, cfg.Topic, payload)
}

// executeWatch prints every delivery on cfg.Topic until ctx is done or
// cfg.Count messages have arrived
func executeWatch(ctx context.Context, b broker.Broker, cfg *Config, reporter *Reporter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := watchTopic(b, cfg, reporter, cancel); err != nil {
		return err
	}
	defer b.Unsubscribe(cfg.Topic)

	<-ctx.Done()
	return nil
}

// watchTopic subscribes the reporter to cfg.Topic. onLimit runs once
// cfg.Count messages have been recorded.
func watchTopic(b broker.Broker, cfg *Config, reporter *Reporter, onLimit func()) error {
	c, err := codec.New(cfg.Format)
	if err != nil {
		return err
	}

	err = b.Subscribe(cfg.Topic, func(msg broker.Message) {
		reading, decodeErr := c.Decode(msg.Payload)
		n := reporter.Record(msg.Topic, reading, decodeErr)
		if cfg.Count > 0 && n >= uint64(cfg.Count) {
			onLimit()
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.Topic, err)
	}
	return nil
}
