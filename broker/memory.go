package broker

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/maxpert/headcount/cfg"
	"github.com/puzpuzpuz/xsync/v3"
)

// defaultMemoryBufferSize is the per-subscription delivery buffer. Publishers
// block (bounded by their context) once a subscriber falls this far behind.
const defaultMemoryBufferSize = 64

func init() {
	Register("memory", func(config cfg.BrokerConfiguration) (Broker, error) {
		return NewMemoryBroker(config.Redelivery), nil
	})
}

// memorySubscription is a single topic filter with its own delivery goroutine
type memorySubscription struct {
	filter  string
	handler Handler
	ch      chan Message
	done    chan struct{}
	closed  atomic.Bool
}

func (s *memorySubscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
}

func (s *memorySubscription) deliverLoop(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case msg := <-s.ch:
			s.handler(msg)
		case <-s.done:
			return
		}
	}
}

// MemoryBroker is an in-process Broker. Each subscription gets a FIFO
// delivery goroutine, so handlers never run on the publisher's goroutine.
// Topic filters accept MQTT-style wildcards ("+" one level, "#" the rest).
//
// Redelivery > 0 delivers every message that many extra times, which is how
// tests exercise at-least-once behavior.
type MemoryBroker struct {
	subs       *xsync.MapOf[string, *memorySubscription]
	redelivery int
	published  atomic.Uint64
	closed     atomic.Bool
	wg         sync.WaitGroup
}

// NewMemoryBroker creates an empty in-process broker
func NewMemoryBroker(redelivery int) *MemoryBroker {
	if redelivery < 0 {
		redelivery = 0
	}
	return &MemoryBroker{
		subs:       xsync.NewMapOf[string, *memorySubscription](),
		redelivery: redelivery,
	}
}

// Publish implements Broker. It blocks only while a subscriber's buffer is
// full, and gives up when ctx is done.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	b.published.Add(1)

	var err error
	b.subs.Range(func(_ string, sub *memorySubscription) bool {
		if !TopicMatches(sub.filter, topic) {
			return true
		}
		for i := 0; i <= b.redelivery; i++ {
			select {
			case sub.ch <- msg:
			case <-sub.done:
				return true
			case <-ctx.Done():
				err = ctx.Err()
				return false
			}
		}
		return true
	})

	return err
}

// Subscribe implements Broker
func (b *MemoryBroker) Subscribe(topic string, handler Handler) error {
	if b.closed.Load() {
		return ErrClosed
	}

	sub := &memorySubscription{
		filter:  topic,
		handler: handler,
		ch:      make(chan Message, defaultMemoryBufferSize),
		done:    make(chan struct{}),
	}

	if _, loaded := b.subs.LoadOrStore(topic, sub); loaded {
		return ErrAlreadySubscribed
	}

	b.wg.Add(1)
	go sub.deliverLoop(&b.wg)
	return nil
}

// Unsubscribe implements Broker. It is a no-op for unknown topics.
func (b *MemoryBroker) Unsubscribe(topic string) error {
	if sub, ok := b.subs.LoadAndDelete(topic); ok {
		sub.close()
	}
	return nil
}

// Close implements Broker. Pending deliveries are discarded.
func (b *MemoryBroker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.subs.Range(func(topic string, sub *memorySubscription) bool {
		b.subs.Delete(topic)
		sub.close()
		return true
	})
	b.wg.Wait()
	return nil
}

// Published returns how many Publish calls were accepted
func (b *MemoryBroker) Published() uint64 {
	return b.published.Load()
}

// TopicMatches reports whether topic matches an MQTT-style filter
func TopicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}

	fParts := strings.Split(filter, "/")
	tParts := strings.Split(topic, "/")

	for i, f := range fParts {
		if f == "#" {
			return true
		}
		if i >= len(tParts) {
			return false
		}
		if f != "+" && f != tParts[i] {
			return false
		}
	}

	return len(fParts) == len(tParts)
}
