package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/maxpert/headcount/broker"
	"github.com/maxpert/headcount/cfg"
	"github.com/rs/zerolog/log"
)

func init() {
	broker.Register("mqtt", func(config cfg.BrokerConfiguration) (broker.Broker, error) {
		return NewMQTTBroker(config)
	})
}

// MQTTBroker implements broker.Broker over an MQTT 3.1.1 connection.
// The client reconnects on its own; subscriptions are replayed from
// OnConnect because the session is clean.
type MQTTBroker struct {
	client mqtt.Client
	qos    byte

	mu       sync.Mutex
	handlers map[string]broker.Handler
}

// NewMQTTBroker connects to the broker at config.URL (e.g. tcp://localhost:1883)
func NewMQTTBroker(config cfg.BrokerConfiguration) (*MQTTBroker, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("mqtt broker requires a url")
	}

	b := &MQTTBroker{
		qos:      byte(config.QoS),
		handlers: make(map[string]broker.Handler),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.URL)
	opts.SetClientID(clientID(config))
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetKeepAlive(time.Duration(config.KeepAliveSeconds) * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(time.Duration(config.MaxReconnectMS) * time.Millisecond)
	opts.SetConnectTimeout(defaultPublishTimeout)

	opts.OnConnect = func(c mqtt.Client) {
		log.Info().Str("broker", config.URL).Msg("MQTT connection established")
		go b.resubscribe()
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", config.URL).Msg("MQTT connection lost, will auto-reconnect")
	}

	b.client = mqtt.NewClient(opts)

	err := broker.ConnectWithRetry(context.Background(), config, func() error {
		token := b.client.Connect()
		if !token.WaitTimeout(defaultPublishTimeout) {
			return fmt.Errorf("mqtt connection timeout")
		}
		return token.Error()
	})
	if err != nil {
		return nil, err
	}

	return b, nil
}

// Publish implements broker.Broker
func (b *MQTTBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if !b.client.IsConnectionOpen() {
		return &broker.ConnectivityError{Op: "publish", Broker: "mqtt", Err: broker.ErrNotConnected}
	}

	token := b.client.Publish(topic, b.qos, false, payload)
	if err := waitToken(ctx, token); err != nil {
		return &broker.ConnectivityError{Op: "publish", Broker: "mqtt", Err: err}
	}
	return nil
}

// Subscribe implements broker.Broker
func (b *MQTTBroker) Subscribe(topic string, handler broker.Handler) error {
	b.mu.Lock()
	if _, exists := b.handlers[topic]; exists {
		b.mu.Unlock()
		return broker.ErrAlreadySubscribed
	}
	b.handlers[topic] = handler
	b.mu.Unlock()

	token := b.client.Subscribe(topic, b.qos, wrapHandler(handler))
	if err := waitToken(context.Background(), token); err != nil {
		b.mu.Lock()
		delete(b.handlers, topic)
		b.mu.Unlock()
		return &broker.ConnectivityError{Op: "subscribe", Broker: "mqtt", Err: err}
	}

	log.Info().Str("topic", topic).Uint8("qos", b.qos).Msg("MQTT subscribed")
	return nil
}

// Unsubscribe implements broker.Broker
func (b *MQTTBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	_, exists := b.handlers[topic]
	delete(b.handlers, topic)
	b.mu.Unlock()

	if !exists || !b.client.IsConnectionOpen() {
		return nil
	}

	return waitToken(context.Background(), b.client.Unsubscribe(topic))
}

// Close implements broker.Broker
func (b *MQTTBroker) Close() error {
	if b.client.IsConnected() {
		b.client.Disconnect(250)
		log.Info().Msg("MQTT disconnected")
	}
	return nil
}

// resubscribe replays all subscriptions after a (re)connect
func (b *MQTTBroker) resubscribe() {
	b.mu.Lock()
	handlers := make(map[string]broker.Handler, len(b.handlers))
	for topic, h := range b.handlers {
		handlers[topic] = h
	}
	b.mu.Unlock()

	for topic, h := range handlers {
		token := b.client.Subscribe(topic, b.qos, wrapHandler(h))
		if err := waitToken(context.Background(), token); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("MQTT resubscribe failed")
			continue
		}
		log.Debug().Str("topic", topic).Msg("MQTT resubscribed")
	}
}

func wrapHandler(handler broker.Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		handler(broker.Message{Topic: m.Topic(), Payload: m.Payload()})
	}
}

// waitToken waits for token completion, bounded by ctx and a default timeout
func waitToken(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(defaultPublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt operation timeout")
	}
}
