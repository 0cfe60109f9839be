package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/maxpert/headcount/broker"
	"github.com/maxpert/headcount/cfg"
	"github.com/rs/zerolog/log"
)

const (
	redisPublishRetries    = 3
	redisInitialBackoff    = 100 * time.Millisecond
	redisMaxPublishBackoff = 2 * time.Second
)

func init() {
	broker.Register("redis", func(config cfg.BrokerConfiguration) (broker.Broker, error) {
		return NewRedisBroker(config)
	})
}

type redisSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

// RedisBroker implements broker.Broker using Redis pub/sub. The go-redis
// PubSub reconnects and resubscribes internally.
type RedisBroker struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[string]*redisSubscription
}

// NewRedisBroker connects to config.URL, either redis://... or host:port
func NewRedisBroker(config cfg.BrokerConfiguration) (*RedisBroker, error) {
	opts, err := redisOptions(config)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	err = broker.ConnectWithRetry(context.Background(), config, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
		defer cancel()
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	return &RedisBroker{client: client, subs: make(map[string]*redisSubscription)}, nil
}

func redisOptions(config cfg.BrokerConfiguration) (*redis.Options, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("redis broker requires a url")
	}

	var opts *redis.Options
	if strings.HasPrefix(config.URL, "redis://") || strings.HasPrefix(config.URL, "rediss://") {
		parsed, err := redis.ParseURL(config.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: config.URL}
	}

	if config.Username != "" {
		opts.Username = config.Username
	}
	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.MaxReconnectMS > 0 {
		opts.MaxRetryBackoff = time.Duration(config.MaxReconnectMS) * time.Millisecond
	}
	return opts, nil
}

// Publish implements broker.Broker with a short bounded retry
func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	operation := func() error {
		return b.client.Publish(ctx, topic, payload).Err()
	}

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(redisInitialBackoff),
				backoff.WithMaxInterval(redisMaxPublishBackoff),
			),
			redisPublishRetries,
		),
		ctx,
	)

	err := backoff.RetryNotify(operation, strategy, func(err error, d time.Duration) {
		log.Debug().Err(err).Str("topic", topic).Dur("retry_in", d).Msg("Retrying Redis publish")
	})
	if err != nil {
		return &broker.ConnectivityError{Op: "publish", Broker: "redis", Err: err}
	}
	return nil
}

// Subscribe implements broker.Broker. Wildcard topics use PSUBSCRIBE.
func (b *RedisBroker) Subscribe(topic string, handler broker.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[topic]; exists {
		return broker.ErrAlreadySubscribed
	}

	ctx := context.Background()
	var pubsub *redis.PubSub
	if hasWildcard(topic) {
		pubsub = b.client.PSubscribe(ctx, redisPattern(topic))
	} else {
		pubsub = b.client.Subscribe(ctx, topic)
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return &broker.ConnectivityError{Op: "subscribe", Broker: "redis", Err: err}
	}

	sub := &redisSubscription{pubsub: pubsub, done: make(chan struct{})}
	b.subs[topic] = sub

	deliver := redisDelivery(topic, handler)
	go func() {
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			deliver(msg)
		}
	}()

	log.Info().Str("topic", topic).Msg("Redis subscribed")
	return nil
}

// redisDelivery forwards messages whose channel matches topic. Redis '*'
// spans '/' so a pattern for "people/+" also matches "people/a/b".
func redisDelivery(topic string, handler broker.Handler) func(*redis.Message) {
	return func(msg *redis.Message) {
		if !broker.TopicMatches(topic, msg.Channel) {
			return
		}
		handler(broker.Message{Topic: msg.Channel, Payload: []byte(msg.Payload)})
	}
}

// Unsubscribe implements broker.Broker
func (b *RedisBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	sub, exists := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()

	if !exists {
		return nil
	}

	err := sub.pubsub.Close()
	<-sub.done
	return err
}

// Close implements broker.Broker
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	topics := make([]string, 0, len(b.subs))
	for topic := range b.subs {
		topics = append(topics, topic)
	}
	b.mu.Unlock()

	for _, topic := range topics {
		if err := b.Unsubscribe(topic); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Failed to close Redis subscription")
		}
	}
	return b.client.Close()
}
