// Package announcer runs the slow side effect (speech, a sound, a log line)
// for each change the subscriber accepts.
//
// Runner is a single-slot mailbox drained by one worker goroutine:
//   - Dispatch never blocks; it overwrites any announcement still waiting
//   - at most one render runs at a time
//   - an announcement superseded before it started is dropped, since only
//     the newest count is worth saying
//
// Backend failures and panics are logged and counted, never propagated.
package announcer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/headcount/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single render
const DefaultTimeout = 30 * time.Second

// Announcement is one accepted change waiting to be rendered
type Announcement struct {
	Topic      string
	Value      int64
	Text       string
	ReceivedAt time.Time
}

// Stats is a point-in-time view of the runner
type Stats struct {
	Dispatched     uint64    `json:"dispatched"`
	Rendered       uint64    `json:"rendered"`
	Failed         uint64    `json:"failed"`
	Superseded     uint64    `json:"superseded"`
	Busy           bool      `json:"busy"`
	Pending        bool      `json:"pending"`
	LastText       string    `json:"last_text,omitempty"`
	LastRenderedAt time.Time `json:"last_rendered_at,omitempty"`
}

// Runner serializes announcements through a single-slot mailbox
type Runner struct {
	backend Backend
	timeout time.Duration

	mu      sync.Mutex // Protects all fields below
	cond    *sync.Cond // Signals worker goroutine
	pending *Announcement
	busy    bool
	closed  bool
	stats   Stats

	ctx    context.Context // Parent of every render context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a runner and starts its worker
func NewRunner(backend Backend, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		backend: backend,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)

	go r.run()
	return r
}

// Dispatch hands an announcement to the worker and returns immediately.
// A pending announcement that has not started is replaced. Returns false
// once the runner is stopped.
func (r *Runner) Dispatch(a Announcement) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	if r.pending != nil {
		r.stats.Superseded++
		telemetry.AnnouncementsTotal.With("superseded").Inc()
		log.Debug().
			Str("dropped", r.pending.Text).
			Str("text", a.Text).
			Msg("Pending announcement superseded")
	}

	r.pending = &a
	r.stats.Dispatched++
	r.cond.Signal()
	return true
}

// Stop closes the mailbox, discards any pending announcement and waits for
// the in-flight render. If ctx ends first the render is cancelled and Stop
// still waits for the worker to exit before returning ctx's error.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		if r.pending != nil {
			r.stats.Superseded++
			r.pending = nil
		}
		r.cond.Broadcast()
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-r.done
		return ctx.Err()
	}
}

// Stats returns a snapshot of runner counters
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Busy = r.busy
	s.Pending = r.pending != nil
	return s
}

// Busy reports whether a render is in progress
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

// Pending reports whether an announcement waits in the slot
func (r *Runner) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

func (r *Runner) run() {
	defer close(r.done)

	for {
		r.mu.Lock()
		for r.pending == nil && !r.closed {
			r.cond.Wait()
		}
		if r.closed {
			r.mu.Unlock()
			return
		}

		a := *r.pending
		r.pending = nil
		r.busy = true
		r.mu.Unlock()

		err := r.render(a)

		r.mu.Lock()
		r.busy = false
		if err != nil {
			r.stats.Failed++
		} else {
			r.stats.Rendered++
			r.stats.LastText = a.Text
			r.stats.LastRenderedAt = time.Now()
		}
		r.mu.Unlock()
	}
}

// render runs the backend with a timeout, converting panics to errors
func (r *Runner) render(a Announcement) (err error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = &BackendError{Backend: r.backend.Name(), Text: a.Text, Err: fmt.Errorf("panic: %v", p)}
		}

		telemetry.AnnouncementDurationSeconds.With(r.backend.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			telemetry.AnnouncementsTotal.With("failed").Inc()
			log.Error().
				Err(err).
				Str("topic", a.Topic).
				Int64("value", a.Value).
				Msg("Announcement failed")
			return
		}

		telemetry.AnnouncementsTotal.With("rendered").Inc()
		log.Info().
			Str("topic", a.Topic).
			Int64("value", a.Value).
			Str("text", a.Text).
			Dur("latency", time.Since(a.ReceivedAt)).
			Msg("Announced")
	}()

	if err := r.backend.Render(ctx, a.Text); err != nil {
		var be *BackendError
		if errors.As(err, &be) {
			return err
		}
		return &BackendError{Backend: r.backend.Name(), Text: a.Text, Err: err}
	}
	return nil
}
