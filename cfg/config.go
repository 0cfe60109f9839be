package cfg

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cespare/xxhash/v2"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// Role selects which half of the pipeline a process runs
type Role string

const (
	RolePublisher  Role = "publisher"  // sample a source and publish changes
	RoleSubscriber Role = "subscriber" // receive changes and announce them
	RoleAll        Role = "all"        // both, sharing one broker connection
)

// BrokerConfiguration selects and configures the pub/sub transport
type BrokerConfiguration struct {
	Type             string `toml:"type"` // memory, mqtt, nats, kafka, redis
	URL              string `toml:"url"`  // comma separated for kafka
	Username         string `toml:"username"`
	Password         string `toml:"password"`
	ClientID         string `toml:"client_id"`          // empty = derived from instance_id
	QoS              int    `toml:"qos"`                // mqtt only
	ConnectTimeoutMS int    `toml:"connect_timeout_ms"` // total time spent retrying the first connect
	KeepAliveSeconds int    `toml:"keepalive_seconds"`
	MaxReconnectMS   int    `toml:"max_reconnect_ms"` // cap on reconnect backoff
	Redelivery       int    `toml:"redelivery"`       // memory only: extra copies per message
}

// PayloadConfiguration controls the wire format
type PayloadConfiguration struct {
	Format string `toml:"format"` // "plain", "msgpack" or "cbor"
}

// SamplerConfiguration controls the value source and its polling rate
type SamplerConfiguration struct {
	Source     string   `toml:"source"` // counter, script, exec
	IntervalMS int      `toml:"interval_ms"`
	Start      int64    `toml:"start"`      // counter only
	Script     []int64  `toml:"script"`     // script only
	Loop       bool     `toml:"loop"`       // script only
	Command    []string `toml:"command"`    // exec only
	TimeoutMS  int      `toml:"timeout_ms"` // exec only, per poll
}

// SubscriberConfiguration controls the announcing consumer
type SubscriberConfiguration struct {
	Topics          []string `toml:"topics"`           // empty = [topic]
	FilterTopics    []string `toml:"filter_topics"`    // glob patterns, empty = all
	AnnounceInitial bool     `toml:"announce_initial"` // announce the first value seen on a topic
	StampCacheSize  int      `toml:"stamp_cache_size"` // producers tracked per topic
}

// AnnouncerConfiguration controls the side-effect backend
type AnnouncerConfiguration struct {
	Backend   string   `toml:"backend"`  // log, command, discard
	Template  string   `toml:"template"` // "{count}" and "{topic}" are substituted
	Command   []string `toml:"command"`  // command only; "{text}" is substituted
	TimeoutMS int      `toml:"timeout_ms"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// HTTPConfiguration for the status and metrics endpoint
type HTTPConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Secret  string `toml:"secret"` // empty = no auth on /admin
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID string `toml:"instance_id"`
	Role       Role   `toml:"role"`
	Topic      string `toml:"topic"`

	Broker     BrokerConfiguration     `toml:"broker"`
	Payload    PayloadConfiguration    `toml:"payload"`
	Sampler    SamplerConfiguration    `toml:"sampler"`
	Subscriber SubscriberConfiguration `toml:"subscriber"`
	Announcer  AnnouncerConfiguration  `toml:"announcer"`
	Logging    LoggingConfiguration    `toml:"logging"`
	HTTP       HTTPConfiguration       `toml:"http"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "headcount.toml", "Path to configuration file")
	RoleFlag       = flag.String("role", "", "Role: publisher, subscriber or all (overrides config)")
	BrokerURLFlag  = flag.String("broker-url", "", "Broker URL (overrides config)")
	TopicFlag      = flag.String("topic", "", "Topic to publish/subscribe (overrides config)")
)

// Default configuration
var Config = &Configuration{
	Role:  RoleAll,
	Topic: "people/count",

	Broker: BrokerConfiguration{
		Type:             "mqtt",
		URL:              "tcp://localhost:1883",
		QoS:              1, // at-least-once
		ConnectTimeoutMS: 30000,
		KeepAliveSeconds: 60,
		MaxReconnectMS:   30000,
	},

	Payload: PayloadConfiguration{
		Format: "plain",
	},

	Sampler: SamplerConfiguration{
		Source:     "counter",
		IntervalMS: 3000,
		TimeoutMS:  2000,
	},

	Subscriber: SubscriberConfiguration{
		AnnounceInitial: true,
		StampCacheSize:  64,
	},

	Announcer: AnnouncerConfiguration{
		Backend:   "log",
		Template:  "{count} people",
		TimeoutMS: 15000,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	HTTP: HTTPConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9464,
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *RoleFlag != "" {
		Config.Role = Role(*RoleFlag)
	}
	if *BrokerURLFlag != "" {
		Config.Broker.URL = *BrokerURLFlag
	}
	if *TopicFlag != "" {
		Config.Topic = *TopicFlag
	}

	if Config.InstanceID == "" {
		id, err := generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		Config.InstanceID = id
		log.Info().Str("instance_id", id).Msg("Auto-generated instance ID")
	}

	if len(Config.Subscriber.Topics) == 0 && Config.Topic != "" {
		Config.Subscriber.Topics = []string{Config.Topic}
	}

	return nil
}

// generateInstanceID derives a stable ID from the machine ID. Hosts without a
// readable machine ID fall back to the hostname.
func generateInstanceID() (string, error) {
	id, err := machineid.ProtectedID("headcount")
	if err != nil {
		host, hostErr := os.Hostname()
		if hostErr != nil {
			return "", err
		}
		id = host
	}
	return "hc-" + strconv.FormatUint(xxhash.Sum64String(id), 36), nil
}

// ClientID returns the broker client ID, defaulting to instance ID plus role
func ClientID() string {
	if Config.Broker.ClientID != "" {
		return Config.Broker.ClientID
	}
	return fmt.Sprintf("%s-%s", Config.InstanceID, Config.Role)
}

// Validate checks configuration for errors
func Validate() error {
	switch Config.Role {
	case RolePublisher, RoleSubscriber, RoleAll:
	default:
		return fmt.Errorf("invalid role: %q", Config.Role)
	}

	if strings.TrimSpace(Config.Topic) == "" {
		return fmt.Errorf("topic is required")
	}

	validBrokers := map[string]bool{
		"memory": true, "mqtt": true, "nats": true, "kafka": true, "redis": true,
	}
	if !validBrokers[Config.Broker.Type] {
		return fmt.Errorf("invalid broker type: %s", Config.Broker.Type)
	}
	if Config.Broker.Type != "memory" && Config.Broker.URL == "" {
		return fmt.Errorf("broker url is required for %s", Config.Broker.Type)
	}
	if Config.Broker.QoS < 0 || Config.Broker.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos: %d", Config.Broker.QoS)
	}
	if Config.Broker.ConnectTimeoutMS < 1 {
		return fmt.Errorf("broker connect timeout must be >= 1ms")
	}
	if Config.Broker.Redelivery < 0 {
		return fmt.Errorf("broker redelivery must be >= 0")
	}
	if Config.Broker.Type == "memory" && Config.Role != RoleAll {
		return fmt.Errorf("memory broker only works with role %q", RoleAll)
	}

	switch Config.Payload.Format {
	case "plain", "msgpack", "cbor":
	default:
		return fmt.Errorf("invalid payload format: %s", Config.Payload.Format)
	}

	if Config.Role != RoleSubscriber {
		if err := validateSampler(); err != nil {
			return err
		}
	}

	if Config.Role != RolePublisher {
		if err := validateSubscriber(); err != nil {
			return err
		}
	}

	if Config.HTTP.Enabled && (Config.HTTP.Port < 1 || Config.HTTP.Port > 65535) {
		return fmt.Errorf("invalid http port: %d", Config.HTTP.Port)
	}

	return nil
}

func validateSampler() error {
	if Config.Sampler.IntervalMS < 1 {
		return fmt.Errorf("sampler interval must be >= 1ms")
	}

	switch Config.Sampler.Source {
	case "counter":
	case "script":
		if len(Config.Sampler.Script) == 0 {
			return fmt.Errorf("script source requires at least one value")
		}
	case "exec":
		if len(Config.Sampler.Command) == 0 {
			return fmt.Errorf("exec source requires a command")
		}
		if Config.Sampler.TimeoutMS < 1 {
			return fmt.Errorf("exec source timeout must be >= 1ms")
		}
	default:
		return fmt.Errorf("invalid sampler source: %s", Config.Sampler.Source)
	}

	return nil
}

func validateSubscriber() error {
	if Config.Subscriber.StampCacheSize < 1 {
		return fmt.Errorf("subscriber stamp cache size must be >= 1")
	}

	switch Config.Announcer.Backend {
	case "log", "discard":
	case "command":
		if len(Config.Announcer.Command) == 0 {
			return fmt.Errorf("command announcer requires a command")
		}
	default:
		return fmt.Errorf("invalid announcer backend: %s", Config.Announcer.Backend)
	}

	if Config.Announcer.TimeoutMS < 1 {
		return fmt.Errorf("announcer timeout must be >= 1ms")
	}

	return nil
}
