// Package transport registers network brokers (MQTT, NATS, Kafka, Redis)
// with the broker registry. Import it for side effects:
//
//	import _ "github.com/maxpert/headcount/broker/transport"
//
// Topics are written MQTT-style everywhere in headcount ("people/count",
// "people/+", "people/#"). Each transport maps them onto its own naming.
package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maxpert/headcount/cfg"
)

const (
	defaultPublishTimeout = 5 * time.Second
	defaultReconnectWait  = time.Second
)

// clientID returns the configured client ID or a random one
func clientID(config cfg.BrokerConfiguration) string {
	if config.ClientID != "" {
		return config.ClientID
	}
	return "headcount-" + uuid.NewString()
}

// hasWildcard reports whether an MQTT-style topic contains wildcards
func hasWildcard(topic string) bool {
	for _, part := range strings.Split(topic, "/") {
		if part == "+" || part == "#" {
			return true
		}
	}
	return false
}

// natsSubject maps "people/+" to "people.*" and "people/#" to "people.>"
func natsSubject(topic string) string {
	parts := strings.Split(topic, "/")
	for i, p := range parts {
		switch p {
		case "+":
			parts[i] = "*"
		case "#":
			parts[i] = ">"
		}
	}
	return strings.Join(parts, ".")
}

// topicFromSubject is the inverse of natsSubject for concrete subjects
func topicFromSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

// kafkaTopic maps "people/count" to "people.count". Kafka has no wildcards.
func kafkaTopic(topic string) (string, error) {
	if hasWildcard(topic) {
		return "", fmt.Errorf("kafka does not support wildcard topic %q", topic)
	}
	name := strings.ReplaceAll(topic, "/", ".")
	for _, c := range name {
		valid := c == '.' || c == '_' || c == '-' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !valid {
			return "", fmt.Errorf("invalid character %q in kafka topic %q", c, topic)
		}
	}
	return name, nil
}

// redisPattern maps MQTT wildcards onto a Redis glob pattern
func redisPattern(topic string) string {
	parts := strings.Split(topic, "/")
	for i, p := range parts {
		if p == "+" || p == "#" {
			parts[i] = "*"
		}
	}
	return strings.Join(parts, "/")
}
