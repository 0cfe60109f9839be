package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/maxpert/headcount/codec"
)

// Reporter prints received readings and keeps totals for the summary.
type Reporter struct {
	mu        sync.Mutex
	out       io.Writer
	start     time.Time
	received  uint64
	changes   uint64
	malformed uint64
	last      map[string]int64
}

func NewReporter(out io.Writer) *Reporter {
	return &Reporter{
		out:   out,
		start: time.Now(),
		last:  make(map[string]int64),
	}
}

// Record prints one delivery and returns the number received so far
func (r *Reporter) Record(topic string, reading codec.Reading, err error) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.received++
	elapsed := time.Since(r.start).Seconds()

	if err != nil {
		r.malformed++
		fmt.Fprintf(r.out, "[%6.1fs] %s | malformed: %v\n", elapsed, topic, err)
		return r.received
	}

	marker := " "
	if prev, ok := r.last[topic]; !ok || prev != reading.Value {
		marker = "*"
		r.changes++
	}
	r.last[topic] = reading.Value

	if reading.Stamped() {
		fmt.Fprintf(r.out, "[%6.1fs] %s %s | value: %6d | producer: %s | stamp: %s\n",
			elapsed, marker, topic, reading.Value, reading.Producer, reading.Stamp)
	} else {
		fmt.Fprintf(r.out, "[%6.1fs] %s %s | value: %6d\n", elapsed, marker, topic, reading.Value)
	}
	return r.received
}

// PrintSummary writes the totals
func (r *Reporter) PrintSummary() {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "\n=== Watch Summary ===\n")
	fmt.Fprintf(r.out, "Duration:   %s\n", time.Since(r.start).Round(time.Millisecond))
	fmt.Fprintf(r.out, "Received:   %d\n", r.received)
	fmt.Fprintf(r.out, "Changes:    %d\n", r.changes)
	fmt.Fprintf(r.out, "Malformed:  %d\n", r.malformed)
	fmt.Fprintf(r.out, "Topics:     %d\n", len(r.last))
}
