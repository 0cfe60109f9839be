// Package broker defines the pub/sub transport the pipeline runs over.
//
// A Broker carries opaque payloads on named topics with at-least-once
// semantics: a message may arrive more than once, and ordering is only
// guaranteed per topic within one connection. Consumers must tolerate both.
//
// Concrete transports (MQTT, NATS, Kafka, Redis) live in broker/transport and
// register themselves with Register. The in-process MemoryBroker is always
// available under the "memory" type.
package broker

import "context"

// Message is one delivery on a topic
type Message struct {
	Topic   string
	Payload []byte
}

// Handler receives messages for a subscription. Handlers are invoked
// sequentially per subscription on a goroutine owned by the transport and
// must return quickly; slow work belongs on another goroutine.
type Handler func(msg Message)

// Broker is a connected pub/sub client
type Broker interface {
	// Publish sends payload to topic
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers handler for topic. The subscription survives
	// reconnects for the lifetime of the Broker.
	Subscribe(topic string, handler Handler) error
	// Unsubscribe removes the handler for topic
	Unsubscribe(topic string) error
	// Close disconnects and releases resources
	Close() error
}
