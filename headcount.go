package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/headcount/admin"
	"github.com/maxpert/headcount/announcer"
	"github.com/maxpert/headcount/broker"
	_ "github.com/maxpert/headcount/broker/transport"
	"github.com/maxpert/headcount/cfg"
	"github.com/maxpert/headcount/codec"
	"github.com/maxpert/headcount/notify"
	"github.com/maxpert/headcount/publisher"
	"github.com/maxpert/headcount/subscriber"
	"github.com/maxpert/headcount/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	shutdownTimeout  = 10 * time.Second
	collectorPeriod  = 5 * time.Second
	httpReadTimeout  = 5 * time.Second
	httpWriteTimeout = 10 * time.Second
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance_id", cfg.Config.InstanceID).
		Str("role", string(cfg.Config.Role)).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("headcount - change-driven people count announcer")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	payloadCodec, err := codec.New(cfg.Config.Payload.Format)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize payload codec")
	}

	// Phase 1: connect to the broker
	brokerConfig := cfg.Config.Broker
	brokerConfig.ClientID = cfg.ClientID()
	b, err := broker.Open(brokerConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to broker")
	}

	components := admin.Components{
		InstanceID: cfg.Config.InstanceID,
		Role:       string(cfg.Config.Role),
		Broker:     brokerConfig.Type,
	}

	// Phase 2: subscriber before publisher so a single process sees its own first value
	var (
		runner    *announcer.Runner
		sub       *subscriber.Subscriber
		hub       *notify.Hub
		collector *telemetry.MetricsCollector
	)
	if cfg.Config.Role != cfg.RolePublisher {
		hub = notify.NewHub()
		runner, sub, err = startSubscriber(b, payloadCodec, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start subscriber")
		}
		components.Subscriber = sub
		components.Announcer = runner
		components.Changes = hub

		collector = telemetry.NewMetricsCollector(runner, collectorPeriod)
		collector.Start()
	}

	// Phase 3: publisher
	var sampler *publisher.Sampler
	if cfg.Config.Role != cfg.RoleSubscriber {
		var debouncer *publisher.Debouncer
		sampler, debouncer, err = startPublisher(b, payloadCodec)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start publisher")
		}
		components.Publisher = debouncer
		components.Sampler = sampler
	}

	// Phase 4: status and metrics
	var httpServer *http.Server
	if cfg.Config.HTTP.Enabled {
		httpServer = startHTTPServer(components)
	}

	log.Info().
		Str("broker", brokerConfig.Type).
		Str("topic", cfg.Config.Topic).
		Str("payload", payloadCodec.Name()).
		Msg("headcount is operational")

	// Wait for SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if sampler != nil {
		sampler.Stop()
	}
	if sub != nil {
		sub.Stop()
	}
	if runner != nil {
		if err := runner.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("Announcement interrupted by shutdown")
		}
	}
	if collector != nil {
		collector.Stop()
	}
	// Ends open watch streams so the HTTP shutdown below does not wait on them
	if hub != nil {
		hub.Close()
	}
	if err := b.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close broker cleanly")
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down HTTP server cleanly")
		}
	}

	log.Info().Msg("headcount stopped")
}

func startSubscriber(b broker.Broker, c codec.Codec, hub *notify.Hub) (*announcer.Runner, *subscriber.Subscriber, error) {
	backend, err := announcer.NewBackend(cfg.Config.Announcer)
	if err != nil {
		return nil, nil, err
	}

	runner := announcer.NewRunner(backend, time.Duration(cfg.Config.Announcer.TimeoutMS)*time.Millisecond)

	sub, err := subscriber.New(subscriber.Config{
		Topics:          cfg.Config.Subscriber.Topics,
		FilterTopics:    cfg.Config.Subscriber.FilterTopics,
		AnnounceInitial: cfg.Config.Subscriber.AnnounceInitial,
		StampCacheSize:  cfg.Config.Subscriber.StampCacheSize,
		Codec:           c,
		Template:        announcer.NewTemplate(cfg.Config.Announcer.Template),
		Dispatcher:      runner,
		Notifier:        hub,
	})
	if err != nil {
		runner.Stop(context.Background())
		return nil, nil, err
	}

	if err := sub.Start(b); err != nil {
		runner.Stop(context.Background())
		return nil, nil, err
	}

	log.Info().
		Strs("topics", cfg.Config.Subscriber.Topics).
		Str("backend", backend.Name()).
		Bool("announce_initial", cfg.Config.Subscriber.AnnounceInitial).
		Msg("Subscriber started")

	return runner, sub, nil
}

func startPublisher(b broker.Broker, c codec.Codec) (*publisher.Sampler, *publisher.Debouncer, error) {
	source, err := publisher.NewSource(cfg.Config.Sampler)
	if err != nil {
		return nil, nil, err
	}

	debouncer := publisher.NewDebouncer(b, c, cfg.Config.Topic, cfg.Config.InstanceID)
	sampler, err := publisher.NewSampler(publisher.SamplerConfig{
		Name:      cfg.Config.InstanceID,
		Source:    source,
		Debouncer: debouncer,
		Interval:  time.Duration(cfg.Config.Sampler.IntervalMS) * time.Millisecond,
	})
	if err != nil {
		return nil, nil, err
	}

	sampler.Start()
	return sampler, debouncer, nil
}

func startHTTPServer(components admin.Components) *http.Server {
	mux := http.NewServeMux()
	admin.RegisterRoutes(mux, admin.NewAdminHandlers(components), cfg.Config.HTTP.Secret)

	addr := fmt.Sprintf("%s:%d", cfg.Config.HTTP.Address, cfg.Config.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  httpReadTimeout,
		WriteTimeout: httpWriteTimeout,
	}

	go func() {
		log.Info().Str("address", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return server
}
