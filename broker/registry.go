package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maxpert/headcount/cfg"
	"github.com/rs/zerolog/log"
)

const (
	initialConnectBackoff = 200 * time.Millisecond
	maxConnectBackoff     = 5 * time.Second
)

// Factory creates a connected Broker from configuration
type Factory func(config cfg.BrokerConfiguration) (Broker, error)

var (
	factories = make(map[string]Factory)
	factoryMu sync.RWMutex
)

// Register registers a broker factory for a type
func Register(brokerType string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[brokerType] = factory
}

// Open connects to the broker described by config
func Open(config cfg.BrokerConfiguration) (Broker, error) {
	factoryMu.RLock()
	factory, exists := factories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown broker type: %s", config.Type)
	}

	b, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s broker: %w", config.Type, err)
	}

	log.Info().Str("type", config.Type).Str("url", config.URL).Msg("Broker connected")
	return b, nil
}

// ConnectWithRetry runs connect with exponential backoff until it succeeds,
// the connect timeout elapses, or ctx is done. Transports use it for the
// initial connection; later reconnects are handled by the client libraries.
func ConnectWithRetry(ctx context.Context, config cfg.BrokerConfiguration, connect func() error) error {
	strategy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initialConnectBackoff),
		backoff.WithMaxInterval(maxConnectBackoff),
		backoff.WithMaxElapsedTime(time.Duration(config.ConnectTimeoutMS)*time.Millisecond),
	)

	err := backoff.RetryNotify(connect, backoff.WithContext(strategy, ctx), func(err error, d time.Duration) {
		log.Warn().
			Err(err).
			Str("type", config.Type).
			Str("url", config.URL).
			Dur("retry_in", d).
			Msg("Broker connect failed, retrying")
	})
	if err != nil {
		return &ConnectivityError{Op: "connect", Broker: config.Type, Err: err}
	}
	return nil
}
