package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maxpert/headcount/cfg"
)

// ErrSourceExhausted is returned by finite sources after their last value
var ErrSourceExhausted = errors.New("source exhausted")

// SamplingError reports a failed poll. The sampler skips the tick.
type SamplingError struct {
	Source string
	Err    error
}

func (e *SamplingError) Error() string {
	return fmt.Sprintf("sampling %s: %v", e.Source, e.Err)
}

func (e *SamplingError) Unwrap() error {
	return e.Err
}

// Source produces the current measured value
type Source interface {
	// Name identifies the source in logs
	Name() string
	// Poll returns the current value. It may block up to ctx.
	Poll(ctx context.Context) (int64, error)
}

// NewSource creates a source from sampler configuration
func NewSource(config cfg.SamplerConfiguration) (Source, error) {
	switch config.Source {
	case "counter":
		return NewCounterSource(config.Start), nil
	case "script":
		return NewScriptSource(config.Script, config.Loop)
	case "exec":
		return NewExecSource(config.Command, time.Duration(config.TimeoutMS)*time.Millisecond)
	default:
		return nil, fmt.Errorf("unknown sampler source: %s", config.Source)
	}
}

// CounterSource returns start, start+1, start+2, ... on successive polls
type CounterSource struct {
	mu   sync.Mutex
	next int64
}

// NewCounterSource creates a counter beginning at start
func NewCounterSource(start int64) *CounterSource {
	return &CounterSource{next: start}
}

// Name implements Source
func (c *CounterSource) Name() string { return "counter" }

// Poll implements Source
func (c *CounterSource) Poll(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.next
	c.next++
	return v, nil
}

// ScriptSource replays a fixed sequence of values
type ScriptSource struct {
	mu     sync.Mutex
	values []int64
	loop   bool
	pos    int
}

// NewScriptSource creates a source replaying values. With loop it starts
// over after the last value, otherwise it returns ErrSourceExhausted.
func NewScriptSource(values []int64, loop bool) (*ScriptSource, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("script source requires at least one value")
	}
	copied := make([]int64, len(values))
	copy(copied, values)
	return &ScriptSource{values: copied, loop: loop}, nil
}

// Name implements Source
func (s *ScriptSource) Name() string { return "script" }

// Poll implements Source
func (s *ScriptSource) Poll(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.values) {
		if !s.loop {
			return 0, ErrSourceExhausted
		}
		s.pos = 0
	}

	v := s.values[s.pos]
	s.pos++
	return v, nil
}

// ExecSource runs an external detector once per poll and reads the count
// from the last non-empty line of its standard output
type ExecSource struct {
	command []string
	timeout time.Duration
}

// NewExecSource creates a source running command with a per-poll timeout
func NewExecSource(command []string, timeout time.Duration) (*ExecSource, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("exec source requires a command")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("exec source timeout must be positive")
	}
	return &ExecSource{command: command, timeout: timeout}, nil
}

// Name implements Source
func (e *ExecSource) Name() string { return "exec:" + e.command[0] }

// Poll implements Source
func (e *ExecSource) Poll(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.command[0], e.command[1:]...)
	cmd.WaitDelay = time.Second // children holding stdout open
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return 0, &SamplingError{Source: e.Name(), Err: err}
	}

	v, err := parseCount(out)
	if err != nil {
		return 0, &SamplingError{Source: e.Name(), Err: err}
	}
	return v, nil
}

// parseCount parses the last non-empty line of out as a non-negative integer
func parseCount(out []byte) (int64, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return 0, fmt.Errorf("no output")
	}

	v, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q", last)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative count %d", v)
	}
	return v, nil
}
