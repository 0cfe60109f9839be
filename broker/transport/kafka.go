package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maxpert/headcount/broker"
	"github.com/maxpert/headcount/cfg"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	kafkaReaderMaxBytes   = 1 << 20 // 1MB
	kafkaReadErrorBackoff = time.Second
)

func init() {
	broker.Register("kafka", func(config cfg.BrokerConfiguration) (broker.Broker, error) {
		return NewKafkaBroker(config)
	})
}

type kafkaSubscription struct {
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

// KafkaBroker implements broker.Broker on Kafka. Publishing goes through one
// synchronous writer; every subscription runs its own consumer-group reader,
// so a restarted subscriber resumes after its last committed offset.
type KafkaBroker struct {
	brokers []string
	groupID string
	writer  *kafka.Writer

	mu   sync.Mutex
	subs map[string]*kafkaSubscription
}

// NewKafkaBroker creates a Kafka broker for the comma separated addresses in
// config.URL. No connection is made until the first publish or subscribe.
func NewKafkaBroker(config cfg.BrokerConfiguration) (*KafkaBroker, error) {
	brokers := make([]string, 0)
	for _, addr := range strings.Split(config.URL, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			brokers = append(brokers, addr)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka broker requires at least one broker address")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond, // values are tiny and latency matters
	}

	return &KafkaBroker{
		brokers: brokers,
		groupID: clientID(config),
		writer:  writer,
		subs:    make(map[string]*kafkaSubscription),
	}, nil
}

// Publish implements broker.Broker. The topic is used as the message key so
// all values of one topic land on one partition and stay ordered.
func (k *KafkaBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	name, err := kafkaTopic(topic)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: name,
		Key:   []byte(topic),
		Value: payload,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return &broker.ConnectivityError{Op: "publish", Broker: "kafka", Err: err}
	}
	return nil
}

// Subscribe implements broker.Broker
func (k *KafkaBroker) Subscribe(topic string, handler broker.Handler) error {
	name, err := kafkaTopic(topic)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.subs[topic]; exists {
		return broker.ErrAlreadySubscribed
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		GroupID:     k.groupID,
		Topic:       name,
		MinBytes:    1,
		MaxBytes:    kafkaReaderMaxBytes,
		StartOffset: kafka.LastOffset,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sub := &kafkaSubscription{reader: reader, cancel: cancel, done: make(chan struct{})}
	k.subs[topic] = sub

	go k.readLoop(ctx, topic, sub, handler)

	log.Info().Str("topic", topic).Str("kafka_topic", name).Str("group", k.groupID).Msg("Kafka subscribed")
	return nil
}

func (k *KafkaBroker) readLoop(ctx context.Context, topic string, sub *kafkaSubscription, handler broker.Handler) {
	defer close(sub.done)

	for {
		m, err := sub.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(kafkaReadErrorBackoff):
			}
			continue
		}

		handler(broker.Message{Topic: topic, Payload: m.Value})
	}
}

// Unsubscribe implements broker.Broker
func (k *KafkaBroker) Unsubscribe(topic string) error {
	k.mu.Lock()
	sub, exists := k.subs[topic]
	delete(k.subs, topic)
	k.mu.Unlock()

	if !exists {
		return nil
	}
	return stopKafkaSubscription(sub)
}

// Close implements broker.Broker
func (k *KafkaBroker) Close() error {
	k.mu.Lock()
	subs := k.subs
	k.subs = make(map[string]*kafkaSubscription)
	k.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := stopKafkaSubscription(sub); err != nil {
			errs = append(errs, err)
		}
	}
	if k.writer != nil {
		if err := k.writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stopKafkaSubscription(sub *kafkaSubscription) error {
	sub.cancel()
	<-sub.done
	return sub.reader.Close()
}
