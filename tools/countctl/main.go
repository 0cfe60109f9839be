package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/headcount/broker"
	_ "github.com/maxpert/headcount/broker/transport"
	"github.com/maxpert/headcount/codec"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	// Transport logs go to stderr so watch output stays clean
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	switch cmd {
	case "publish":
		runPublish(args)
	case "watch":
		runWatch(args)
	case "version":
		fmt.Printf("countctl version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`countctl - headcount broker tool

Usage:
  countctl <command> [options]

Commands:
  publish   Publish one count to a topic
  watch     Print counts received on a topic
  version   Print version
  help      Show this help

Common Options:
  --type        Broker type: mqtt|nats|kafka|redis (default: mqtt)
  --url         Broker URL, comma separated for kafka (default: tcp://localhost:1883)
  --username    Broker username
  --password    Broker password
  --client-id   Client ID (default: countctl-<pid>)
  --qos         MQTT QoS level (default: 1)
  --timeout     Connect and publish timeout (default: 10s)
  --topic       Topic name or pattern (default: people/count)
  --format      Payload format: plain|msgpack (default: plain)

Publish Options:
  --value       Count to publish (required)
  --producer    Producer identity for stamped payloads (default: client ID)

Watch Options:
  --count       Stop after this many messages (default: 0 = until interrupted)
  --duration    Stop after this long, e.g. 60s (default: 0 = until interrupted)

Examples:
  countctl publish --type=mqtt --url=tcp://localhost:1883 --topic=people/lobby --value=3
  countctl watch --type=nats --url=nats://localhost:4222 --topic='people/#' --format=msgpack`)
}

func bindCommon(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Type, "type", "mqtt", "Broker type")
	fs.StringVar(&cfg.URL, "url", "tcp://localhost:1883", "Broker URL")
	fs.StringVar(&cfg.Username, "username", "", "Broker username")
	fs.StringVar(&cfg.Password, "password", "", "Broker password")
	fs.StringVar(&cfg.ClientID, "client-id", fmt.Sprintf("countctl-%d", os.Getpid()), "Client ID")
	fs.IntVar(&cfg.QoS, "qos", 1, "MQTT QoS level")
	fs.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "Connect and publish timeout")
	fs.StringVar(&cfg.Topic, "topic", "people/count", "Topic name or pattern")
	fs.StringVar(&cfg.Format, "format", codec.FormatPlain, "Payload format")
}

func runPublish(args []string) {
	cfg := &Config{}
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	bindCommon(fs, cfg)
	fs.Int64Var(&cfg.Value, "value", -1, "Count to publish")
	fs.StringVar(&cfg.Producer, "producer", "", "Producer identity for stamped payloads")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signalContext(0)
	defer cancel()

	b, err := broker.Open(cfg.BrokerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connect failed: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()

	if err := executePublish(ctx, b, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Published %d to %s\n", cfg.Value, cfg.Topic)
}

func runWatch(args []string) {
	cfg := &Config{}
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	bindCommon(fs, cfg)
	fs.IntVar(&cfg.Count, "count", 0, "Stop after this many messages")
	fs.DurationVar(&cfg.Duration, "duration", 0, "Stop after this long")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signalContext(cfg.Duration)
	defer cancel()

	b, err := broker.Open(cfg.BrokerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connect failed: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()

	reporter := NewReporter(os.Stdout)
	if err := executeWatch(ctx, b, cfg, reporter); err != nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		os.Exit(1)
	}
	reporter.PrintSummary()
}

// signalContext is cancelled on SIGINT/SIGTERM or after limit when positive
func signalContext(limit time.Duration) (context.Context, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if limit > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), limit)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
