package announcer

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/maxpert/headcount/cfg"
	"github.com/rs/zerolog/log"
)

// Backend performs the side effect. Render blocks until the effect is
// complete and must honor ctx.
type Backend interface {
	Name() string
	Render(ctx context.Context, text string) error
}

// BackendError reports a failed render. The announcement is dropped.
type BackendError struct {
	Backend string
	Text    string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend failed to render %q: %v", e.Backend, e.Text, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackend creates the backend named in configuration
func NewBackend(config cfg.AnnouncerConfiguration) (Backend, error) {
	switch config.Backend {
	case "log":
		return LogBackend{}, nil
	case "discard":
		return DiscardBackend{}, nil
	case "command":
		return NewCommandBackend(config.Command)
	default:
		return nil, fmt.Errorf("unknown announcer backend: %s", config.Backend)
	}
}

// LogBackend writes each announcement to the log
type LogBackend struct{}

// Name implements Backend
func (LogBackend) Name() string { return "log" }

// Render implements Backend
func (LogBackend) Render(ctx context.Context, text string) error {
	log.Info().Str("text", text).Msg("Speaking")
	return nil
}

// DiscardBackend does nothing
type DiscardBackend struct{}

// Name implements Backend
func (DiscardBackend) Name() string { return "discard" }

// Render implements Backend
func (DiscardBackend) Render(ctx context.Context, text string) error { return nil }

// CommandBackend runs an external program per announcement, such as
// ["espeak", "{text}"], ["say", "{text}"] or ["aplay", "alert.wav"].
// Every "{text}" in the arguments is replaced with the announcement text.
type CommandBackend struct {
	command []string
}

// NewCommandBackend creates a command backend
func NewCommandBackend(command []string) (*CommandBackend, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, fmt.Errorf("command backend requires a command")
	}
	return &CommandBackend{command: append([]string(nil), command...)}, nil
}

// Name implements Backend
func (c *CommandBackend) Name() string { return "command:" + c.command[0] }

// Render implements Backend
func (c *CommandBackend) Render(ctx context.Context, text string) error {
	args := make([]string, len(c.command)-1)
	for i, arg := range c.command[1:] {
		args[i] = strings.ReplaceAll(arg, "{text}", text)
	}

	cmd := exec.CommandContext(ctx, c.command[0], args...)
	cmd.WaitDelay = time.Second

	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
