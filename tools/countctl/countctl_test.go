package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/maxpert/headcount/broker"
	"github.com/maxpert/headcount/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Type:    "mqtt",
		URL:     "tcp://localhost:1883",
		Topic:   "people/count",
		Format:  codec.FormatPlain,
		QoS:     1,
		Timeout: time.Second,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"type normalized", func(c *Config) { c.Type = " NATS " }, ""},
		{"empty type", func(c *Config) { c.Type = "" }, "broker type"},
		{"memory rejected", func(c *Config) { c.Type = "memory" }, "process-local"},
		{"empty url", func(c *Config) { c.URL = "" }, "url"},
		{"empty topic", func(c *Config) { c.Topic = "  " }, "topic"},
		{"unknown format", func(c *Config) { c.Format = "json" }, "unknown payload format"},
		{"bad qos", func(c *Config) { c.QoS = 3 }, "qos"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout"},
		{"negative value", func(c *Config) { c.Value = -1 }, "value"},
		{"negative count", func(c *Config) { c.Count = -1 }, "count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_BrokerConfig(t *testing.T) {
	c := validConfig()
	c.ClientID = "ctl-1"
	c.Timeout = 2500 * time.Millisecond

	bc := c.BrokerConfig()
	assert.Equal(t, "mqtt", bc.Type)
	assert.Equal(t, "ctl-1", bc.ClientID)
	assert.Equal(t, 2500, bc.ConnectTimeoutMS)
	assert.Equal(t, 1, bc.QoS)
}

func TestPublishThenWatch(t *testing.T) {
	for _, format := range []string{codec.FormatPlain, codec.FormatMsgpack} {
		t.Run(format, func(t *testing.T) {
			b := broker.NewMemoryBroker(0)
			defer b.Close()

			watchCfg := validConfig()
			watchCfg.Format = format
			watchCfg.Topic = "people/+"
			watchCfg.Count = 3

			var out bytes.Buffer
			reporter := NewReporter(&out)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			require.NoError(t, watchTopic(b, watchCfg, reporter, cancel))

			for _, v := range []int64{2, 2, 5} {
				pubCfg := validConfig()
				pubCfg.Format = format
				pubCfg.Topic = "people/lobby"
				pubCfg.ClientID = "ctl-test"
				pubCfg.Value = v
				require.NoError(t, executePublish(context.Background(), b, pubCfg))
			}

			<-ctx.Done()
			require.ErrorIs(t, ctx.Err(), context.Canceled, "watch did not stop after count messages")

			reporter.PrintSummary()
			text := out.String()
			assert.Contains(t, text, "Received:   3")
			assert.Contains(t, text, "Changes:    2")
			assert.Equal(t, 3, strings.Count(text, "people/lobby"))
			if format == codec.FormatMsgpack {
				assert.Contains(t, text, "producer: ctl-test")
			}
		})
	}
}

func TestWatch_MalformedPayload(t *testing.T) {
	b := broker.NewMemoryBroker(0)
	defer b.Close()

	cfg := validConfig()
	cfg.Count = 1

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, watchTopic(b, cfg, NewReporter(&out), cancel))
	require.NoError(t, b.Publish(context.Background(), cfg.Topic, []byte("many")))

	<-ctx.Done()
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Contains(t, out.String(), "malformed")
}

func TestWatch_StopsOnContext(t *testing.T) {
	b := broker.NewMemoryBroker(0)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := executeWatch(ctx, b, validConfig(), NewReporter(&bytes.Buffer{}))
	require.NoError(t, err)

	// Unsubscribed on return, so the topic can be claimed again
	assert.NoError(t, b.Subscribe("people/count", func(broker.Message) {}))
}
