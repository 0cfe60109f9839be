// Package subscriber turns a stream of at-least-once deliveries into
// announcements of genuine changes.
//
// HandleMessage is the single entry point. For each delivery it:
//
//  1. drops topics outside the configured filter
//  2. decodes the payload, dropping malformed ones
//  3. for stamped readings, drops stamps not newer than the producer's last
//  4. compares the value with the last one observed on that topic
//  5. on change, hands an announcement to the Dispatcher and returns
//
// Steps 3-5 run under one lock, so a redelivered duplicate arriving while
// the previous announcement is still being spoken is suppressed.
package subscriber

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/headcount/announcer"
	"github.com/maxpert/headcount/broker"
	"github.com/maxpert/headcount/codec"
	"github.com/maxpert/headcount/hlc"
	"github.com/maxpert/headcount/notify"
	"github.com/maxpert/headcount/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultStampCacheSize is the number of producers remembered per topic
const DefaultStampCacheSize = 64

// Dispatcher receives announcements. It must not block.
type Dispatcher interface {
	Dispatch(a announcer.Announcement) bool
}

// Notifier receives every accepted change, announced or not. It must not block.
type Notifier interface {
	Signal(change notify.Change)
}

// Config configures a Subscriber
type Config struct {
	Topics          []string // broker subscriptions, MQTT-style wildcards allowed
	FilterTopics    []string // glob patterns applied to delivered topics
	AnnounceInitial bool     // announce the first value seen on a topic
	StampCacheSize  int
	Codec           codec.Codec
	Template        announcer.Template
	Dispatcher      Dispatcher
	Notifier        Notifier // optional
}

// Stats counts deliveries by outcome
type Stats struct {
	Received  uint64 `json:"received"`
	Changed   uint64 `json:"changed"`
	Duplicate uint64 `json:"duplicate"`
	Malformed uint64 `json:"malformed"`
	Stale     uint64 `json:"stale"`
	Filtered  uint64 `json:"filtered"`
}

// TopicSnapshot is the observed state of one topic
type TopicSnapshot struct {
	Value     *int64    `json:"value"` // nil until the first message
	UpdatedAt time.Time `json:"updated_at"`
	Producers int       `json:"producers"` // producers with a remembered stamp
}

type topicState struct {
	last      int64
	hasLast   bool
	updatedAt time.Time
	stamps    *lru.Cache[string, hlc.Timestamp]
}

// Subscriber suppresses repeated values and dispatches changes
type Subscriber struct {
	config Config
	filter *TopicFilter

	mu     sync.Mutex // Protects topics
	topics map[string]*topicState

	lifecycleMu sync.Mutex // Protects broker, subscribed
	broker      broker.Broker
	subscribed  []string

	received  atomic.Uint64
	changed   atomic.Uint64
	duplicate atomic.Uint64
	malformed atomic.Uint64
	stale     atomic.Uint64
	filtered  atomic.Uint64
}

// New creates a subscriber
func New(config Config) (*Subscriber, error) {
	if config.Codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	if config.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if config.StampCacheSize <= 0 {
		config.StampCacheSize = DefaultStampCacheSize
	}
	if config.Template == (announcer.Template{}) {
		config.Template = announcer.NewTemplate("")
	}

	filter, err := NewTopicFilter(config.FilterTopics)
	if err != nil {
		return nil, err
	}

	return &Subscriber{
		config: config,
		filter: filter,
		topics: make(map[string]*topicState),
	}, nil
}

// Start subscribes HandleMessage to every configured topic
func (s *Subscriber) Start(b broker.Broker) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.broker != nil {
		return fmt.Errorf("subscriber already started")
	}
	if len(s.config.Topics) == 0 {
		return fmt.Errorf("no topics to subscribe")
	}

	for _, topic := range s.config.Topics {
		if err := b.Subscribe(topic, s.HandleMessage); err != nil {
			telemetry.BrokerErrorsTotal.With("subscribe").Inc()
			s.unsubscribeLocked(b)
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		s.subscribed = append(s.subscribed, topic)
		log.Info().Str("topic", topic).Msg("Listening for changes")
	}

	s.broker = b
	return nil
}

// Stop unsubscribes from every topic. State is kept.
func (s *Subscriber) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.broker == nil {
		return
	}
	s.unsubscribeLocked(s.broker)
	s.broker = nil
}

func (s *Subscriber) unsubscribeLocked(b broker.Broker) {
	for _, topic := range s.subscribed {
		if err := b.Unsubscribe(topic); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Failed to unsubscribe")
		}
	}
	s.subscribed = nil
}

// HandleMessage processes one delivery. It never blocks on the side effect.
func (s *Subscriber) HandleMessage(msg broker.Message) {
	s.received.Add(1)

	if !s.filter.Match(msg.Topic) {
		s.filtered.Add(1)
		telemetry.MessagesReceivedTotal.With("filtered").Inc()
		return
	}

	reading, err := s.config.Codec.Decode(msg.Payload)
	if err != nil {
		s.malformed.Add(1)
		telemetry.MessagesReceivedTotal.With("malformed").Inc()
		log.Warn().Err(err).Str("topic", msg.Topic).Msg("Dropping malformed message")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.stateLocked(msg.Topic)

	if reading.Stamped() {
		if prev, ok := state.stamps.Get(reading.Producer); ok && !hlc.After(reading.Stamp, prev) {
			s.stale.Add(1)
			telemetry.MessagesReceivedTotal.With("stale").Inc()
			log.Debug().
				Str("topic", msg.Topic).
				Str("producer", reading.Producer).
				Stringer("stamp", reading.Stamp).
				Stringer("last_stamp", prev).
				Msg("Dropping stale redelivery")
			return
		}
		state.stamps.Add(reading.Producer, reading.Stamp)
	}

	first := !state.hasLast
	if !first && state.last == reading.Value {
		s.duplicate.Add(1)
		telemetry.MessagesReceivedTotal.With("duplicate").Inc()
		return
	}

	state.last = reading.Value
	state.hasLast = true
	state.updatedAt = time.Now()
	s.changed.Add(1)
	telemetry.MessagesReceivedTotal.With("changed").Inc()
	telemetry.LastObservedValue.With(msg.Topic).Set(float64(reading.Value))

	if s.config.Notifier != nil {
		s.config.Notifier.Signal(notify.Change{Topic: msg.Topic, Value: reading.Value, At: state.updatedAt})
	}

	if first && !s.config.AnnounceInitial {
		log.Info().
			Str("topic", msg.Topic).
			Int64("value", reading.Value).
			Msg("Initial value recorded")
		return
	}

	s.config.Dispatcher.Dispatch(announcer.Announcement{
		Topic:      msg.Topic,
		Value:      reading.Value,
		Text:       s.config.Template.Render(msg.Topic, reading.Value),
		ReceivedAt: state.updatedAt,
	})
}

func (s *Subscriber) stateLocked(topic string) *topicState {
	state, ok := s.topics[topic]
	if !ok {
		// Size is validated in New, so the error is unreachable
		stamps, _ := lru.New[string, hlc.Timestamp](s.config.StampCacheSize)
		state = &topicState{stamps: stamps}
		s.topics[topic] = state
	}
	return state
}

// Snapshot returns the observed state of every topic seen so far
func (s *Subscriber) Snapshot() map[string]TopicSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]TopicSnapshot, len(s.topics))
	for topic, state := range s.topics {
		snap := TopicSnapshot{
			UpdatedAt: state.updatedAt,
			Producers: state.stamps.Len(),
		}
		if state.hasLast {
			v := state.last
			snap.Value = &v
		}
		out[topic] = snap
	}
	return out
}

// Stats returns delivery counters
func (s *Subscriber) Stats() Stats {
	return Stats{
		Received:  s.received.Load(),
		Changed:   s.changed.Load(),
		Duplicate: s.duplicate.Load(),
		Malformed: s.malformed.Load(),
		Stale:     s.stale.Load(),
		Filtered:  s.filtered.Load(),
	}
}
