package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/maxpert/headcount/cfg"
	"github.com/maxpert/headcount/codec"
)

type Config struct {
	// Connection
	Type     string
	URL      string
	Username string
	Password string
	ClientID string
	QoS      int
	Timeout  time.Duration

	// Payload
	Topic  string
	Format string

	// Publish options
	Value    int64
	Producer string

	// Watch options
	Count    int           // stop after this many messages (0 = until interrupted)
	Duration time.Duration // stop after this long (0 = until interrupted)
}

func (c *Config) Validate() error {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	switch c.Type {
	case "":
		return fmt.Errorf("broker type cannot be empty")
	case "memory":
		return fmt.Errorf("memory broker is process-local and cannot be reached from countctl")
	}

	if c.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if strings.TrimSpace(c.Topic) == "" {
		return fmt.Errorf("topic cannot be empty")
	}

	if _, err := codec.New(c.Format); err != nil {
		return err
	}

	if c.QoS < 0 || c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.Value < 0 {
		return fmt.Errorf("value must be non-negative")
	}

	if c.Count < 0 {
		return fmt.Errorf("count must be non-negative")
	}

	return nil
}

// BrokerConfig maps the flags onto the daemon's broker section
func (c *Config) BrokerConfig() cfg.BrokerConfiguration {
	return cfg.BrokerConfiguration{
		Type:             c.Type,
		URL:              c.URL,
		Username:         c.Username,
		Password:         c.Password,
		ClientID:         c.ClientID,
		QoS:              c.QoS,
		ConnectTimeoutMS: int(c.Timeout / time.Millisecond),
		KeepAliveSeconds: 30,
		MaxReconnectMS:   10000,
	}
}
