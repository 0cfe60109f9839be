// Package publisher samples a value source and publishes the value to a
// broker topic only when it changes.
//
// # Architecture
//
// The publisher package consists of three components:
//
// 1. Source: produces the current count (counter, script, external command)
// 2. Debouncer: remembers the last emitted value and publishes on change
// 3. Sampler: polls the Source on an interval and feeds the Debouncer
//
// # Debouncing
//
// The first observed value is always published. After that a value is
// published iff it differs from the last successfully published one:
//
//	observed:  0 0 1 1 1 2 1
//	published: 0   1     2 1
//
// There is no hysteresis; a source alternating 3,4,3,4 publishes every tick.
//
// A failed publish leaves the last emitted value unchanged, so the next
// sample of the same value is published again. No separate retry queue is
// needed.
//
// Example usage:
//
//	source, err := NewSource(cfg.Config.Sampler)
//	if err != nil {
//		return err
//	}
//
//	debouncer := NewDebouncer(b, c, "people/count", cfg.Config.InstanceID)
//	sampler, err := NewSampler(SamplerConfig{
//		Name:      "people",
//		Source:    source,
//		Debouncer: debouncer,
//		Interval:  time.Second,
//	})
//	if err != nil {
//		return err
//	}
//
//	sampler.Start()
//	defer sampler.Stop()
//
// # Thread Safety
//
// Observe calls are serialized internally; Last may be called from any
// goroutine. Sources are polled from the sampling goroutine only.
package publisher
