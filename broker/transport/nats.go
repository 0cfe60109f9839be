package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/headcount/broker"
	"github.com/maxpert/headcount/cfg"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

func init() {
	broker.Register("nats", func(config cfg.BrokerConfiguration) (broker.Broker, error) {
		return NewNatsBroker(config)
	})
}

// NatsBroker implements broker.Broker over core NATS. Subscriptions are kept
// by the client across reconnects.
type NatsBroker struct {
	nc *nats.Conn

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewNatsBroker connects to config.URL (e.g. nats://localhost:4222)
func NewNatsBroker(config cfg.BrokerConfiguration) (*NatsBroker, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("nats broker requires a url")
	}

	opts := []nats.Option{
		nats.Name(clientID(config)),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(defaultReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Str("broker", config.URL).Msg("NATS disconnected, will auto-reconnect")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("broker", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if config.Username != "" {
		opts = append(opts, nats.UserInfo(config.Username, config.Password))
	}
	if config.KeepAliveSeconds > 0 {
		opts = append(opts, nats.PingInterval(time.Duration(config.KeepAliveSeconds)*time.Second))
	}

	var nc *nats.Conn
	err := broker.ConnectWithRetry(context.Background(), config, func() error {
		var err error
		nc, err = nats.Connect(config.URL, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &NatsBroker{nc: nc, subs: make(map[string]*nats.Subscription)}, nil
}

// Publish implements broker.Broker
func (n *NatsBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if !n.nc.IsConnected() {
		return &broker.ConnectivityError{Op: "publish", Broker: "nats", Err: broker.ErrNotConnected}
	}

	if err := n.nc.Publish(natsSubject(topic), payload); err != nil {
		return &broker.ConnectivityError{Op: "publish", Broker: "nats", Err: err}
	}

	// Flush only when the caller bounded the wait
	if _, ok := ctx.Deadline(); ok {
		if err := n.nc.FlushWithContext(ctx); err != nil {
			return &broker.ConnectivityError{Op: "publish", Broker: "nats", Err: err}
		}
	}
	return nil
}

// Subscribe implements broker.Broker
func (n *NatsBroker) Subscribe(topic string, handler broker.Handler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.subs[topic]; exists {
		return broker.ErrAlreadySubscribed
	}

	sub, err := n.nc.Subscribe(natsSubject(topic), func(m *nats.Msg) {
		handler(broker.Message{Topic: topicFromSubject(m.Subject), Payload: m.Data})
	})
	if err != nil {
		return &broker.ConnectivityError{Op: "subscribe", Broker: "nats", Err: err}
	}

	n.subs[topic] = sub
	log.Info().Str("topic", topic).Str("subject", sub.Subject).Msg("NATS subscribed")
	return nil
}

// Unsubscribe implements broker.Broker
func (n *NatsBroker) Unsubscribe(topic string) error {
	n.mu.Lock()
	sub, exists := n.subs[topic]
	delete(n.subs, topic)
	n.mu.Unlock()

	if !exists {
		return nil
	}
	return sub.Unsubscribe()
}

// Close implements broker.Broker
func (n *NatsBroker) Close() error {
	if n.nc != nil {
		if err := n.nc.Drain(); err != nil {
			n.nc.Close()
		}
	}
	return nil
}
