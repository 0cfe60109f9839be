package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/headcount/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default interval between polls
	DefaultInterval = time.Second
	// Default bound on a single publish
	DefaultPublishTimeout = 5 * time.Second
)

// SamplerConfig configures the sampling worker
type SamplerConfig struct {
	Name           string        // For logs
	Source         Source        // Where values come from
	Debouncer      *Debouncer    // Where values go
	Interval       time.Duration // Time between polls
	PublishTimeout time.Duration // Bound on each publish
}

// Sampler polls a Source on an interval and feeds each value to a Debouncer
type Sampler struct {
	config      SamplerConfig
	ctx         context.Context // Cancelled on Stop so blocking polls return
	cancel      context.CancelFunc
	stopCh      chan struct{} // Stop signal
	doneCh      chan struct{} // Done signal
	running     atomic.Bool
	lifecycleMu sync.Mutex // Protects Start/Stop lifecycle operations

	ticks     atomic.Uint64
	failures  atomic.Uint64
	published atomic.Uint64
}

// SamplerStats is a point-in-time view of sampler progress
type SamplerStats struct {
	Ticks     uint64 `json:"ticks"`
	Failures  uint64 `json:"failures"`
	Published uint64 `json:"published"`
}

// NewSampler creates a new sampling worker
func NewSampler(config SamplerConfig) (*Sampler, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("sampler name is required")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if config.Debouncer == nil {
		return nil, fmt.Errorf("debouncer is required")
	}

	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultPublishTimeout
	}

	doneCh := make(chan struct{})
	close(doneCh) // not running

	return &Sampler{
		config: config,
		stopCh: make(chan struct{}),
		doneCh: doneCh,
	}, nil
}

// Start starts the sampling goroutine
func (s *Sampler) Start() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running.Load() {
		return // Already running
	}

	s.running.Store(true)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.ctx, s.cancel = context.WithCancel(context.Background())

	log.Info().
		Str("sampler", s.config.Name).
		Str("source", s.config.Source.Name()).
		Str("topic", s.config.Debouncer.Topic()).
		Dur("interval", s.config.Interval).
		Msg("Starting sampler")

	go s.pollLoop(s.ctx, s.stopCh, s.doneCh)
}

// Stop stops the sampler and waits for the in-flight tick to finish
func (s *Sampler) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.Load() {
		return // Not running
	}

	log.Info().Str("sampler", s.config.Name).Msg("Stopping sampler")

	close(s.stopCh)
	s.cancel()
	<-s.doneCh // Wait for goroutine to finish
	s.running.Store(false)

	log.Info().Str("sampler", s.config.Name).Msg("Sampler stopped")
}

// Done is closed when the sampling goroutine exits, either after Stop or
// because the source was exhausted
func (s *Sampler) Done() <-chan struct{} {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.doneCh
}

// Stats returns sampler counters
func (s *Sampler) Stats() SamplerStats {
	return SamplerStats{
		Ticks:     s.ticks.Load(),
		Failures:  s.failures.Load(),
		Published: s.published.Load(),
	}
}

// pollLoop is the main sampler loop
func (s *Sampler) pollLoop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if !s.tick(ctx) {
			return
		}

		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}

// tick samples once. Returns false when the source is exhausted.
func (s *Sampler) tick(ctx context.Context) bool {
	s.ticks.Add(1)

	start := time.Now()
	value, err := s.config.Source.Poll(ctx)
	telemetry.SampleDurationSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, ErrSourceExhausted) {
			log.Info().Str("sampler", s.config.Name).Msg("Source exhausted, sampler finished")
			return false
		}
		if ctx.Err() != nil {
			return true // stopping
		}

		s.failures.Add(1)
		telemetry.SamplesTotal.With("error").Inc()
		log.Warn().
			Err(err).
			Str("sampler", s.config.Name).
			Msg("Failed to sample source, skipping tick")
		return true
	}
	telemetry.SamplesTotal.With("ok").Inc()

	pubCtx, cancel := context.WithTimeout(ctx, s.config.PublishTimeout)
	defer cancel()

	changed, err := s.config.Debouncer.Observe(pubCtx, value)
	if err != nil {
		s.failures.Add(1)
		log.Warn().
			Err(err).
			Str("sampler", s.config.Name).
			Int64("value", value).
			Msg("Failed to publish change, will retry on next tick")
		return true
	}

	if changed {
		s.published.Add(1)
		log.Info().
			Str("sampler", s.config.Name).
			Str("topic", s.config.Debouncer.Topic()).
			Int64("value", value).
			Msg("Value changed")
	}
	return true
}
