package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/maxpert/headcount/broker"
	"github.com/maxpert/headcount/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSource struct {
	mu    sync.Mutex
	calls int
}

func (f *failingSource) Name() string { return "failing" }

// Poll fails every other call
func (f *failingSource) Poll(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls%2 == 1 {
		return 0, &SamplingError{Source: "failing", Err: assert.AnError}
	}
	return int64(f.calls), nil
}

type blockingSource struct{}

func (blockingSource) Name() string { return "blocking" }

func (blockingSource) Poll(ctx context.Context) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestNewSampler_Validation(t *testing.T) {
	d := newPlainDebouncer(t, &mockBroker{})
	tests := []struct {
		name   string
		config SamplerConfig
	}{
		{"missing name", SamplerConfig{Source: NewCounterSource(0), Debouncer: d}},
		{"missing source", SamplerConfig{Name: "test", Debouncer: d}},
		{"missing debouncer", SamplerConfig{Name: "test", Source: NewCounterSource(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSampler(tt.config)
			assert.Error(t, err)
		})
	}
}

func TestNewSampler_Defaults(t *testing.T) {
	s, err := NewSampler(SamplerConfig{
		Name:      "test",
		Source:    NewCounterSource(0),
		Debouncer: newPlainDebouncer(t, &mockBroker{}),
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, s.config.Interval)
	assert.Equal(t, DefaultPublishTimeout, s.config.PublishTimeout)
}

func TestSampler_ScriptOverMemoryBroker(t *testing.T) {
	mb := broker.NewMemoryBroker(0)
	defer mb.Close()

	var mu sync.Mutex
	var received []string
	require.NoError(t, mb.Subscribe("people/count", func(msg broker.Message) {
		mu.Lock()
		received = append(received, string(msg.Payload))
		mu.Unlock()
	}))

	source, err := NewScriptSource([]int64{1, 1, 2, 3, 3}, false)
	require.NoError(t, err)

	c, err := codec.New(codec.FormatPlain)
	require.NoError(t, err)

	s, err := NewSampler(SamplerConfig{
		Name:      "test",
		Source:    source,
		Debouncer: NewDebouncer(mb, c, "people/count", "test"),
		Interval:  time.Millisecond,
	})
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("sampler did not finish the script")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"1", "2", "3"}, received)
	mu.Unlock()

	stats := s.Stats()
	assert.Equal(t, uint64(3), stats.Published)
	assert.Equal(t, uint64(6), stats.Ticks) // five values plus the exhausted poll
	assert.Equal(t, uint64(0), stats.Failures)
}

func TestSampler_SkipsFailedSamples(t *testing.T) {
	mb := &mockBroker{}
	s, err := NewSampler(SamplerConfig{
		Name:      "test",
		Source:    &failingSource{},
		Debouncer: newPlainDebouncer(t, mb),
		Interval:  time.Millisecond,
	})
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return len(mb.payloads()) >= 2 }, 2*time.Second, time.Millisecond)
	s.Stop()

	assert.Greater(t, s.Stats().Failures, uint64(0))
	payloads := mb.payloads()
	assert.Equal(t, "2", payloads[0])
	assert.Equal(t, "4", payloads[1])
}

func TestSampler_RetriesAfterPublishFailure(t *testing.T) {
	mb := &mockBroker{}
	mb.failCount.Store(3)

	source, err := NewScriptSource([]int64{9}, true)
	require.NoError(t, err)

	s, err := NewSampler(SamplerConfig{
		Name:      "test",
		Source:    source,
		Debouncer: newPlainDebouncer(t, mb),
		Interval:  time.Millisecond,
	})
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return len(mb.payloads()) == 1 }, 2*time.Second, time.Millisecond)
	s.Stop()

	assert.Equal(t, []string{"9"}, mb.payloads())
	assert.Equal(t, uint64(3), s.Stats().Failures)
}

func TestSampler_StopInterruptsBlockingPoll(t *testing.T) {
	s, err := NewSampler(SamplerConfig{
		Name:      "test",
		Source:    blockingSource{},
		Debouncer: newPlainDebouncer(t, &mockBroker{}),
		Interval:  time.Millisecond,
	})
	require.NoError(t, err)

	s.Start()
	s.Start() // no-op

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while source was blocked")
	}

	s.Stop() // idempotent
}
