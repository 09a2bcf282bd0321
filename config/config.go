// Package config gathers the daemon's component configuration.
package config

import (
	"time"

	"netbuf/alloc"
	"netbuf/infra/journal"
	"netbuf/tracker"
	"netbuf/workq"

	"github.com/cockroachdb/errors"
)

type Kafka struct {
	Brokers []string
	Topic   string
	// Client is "sarama" or "kafka-go".
	Client   string
	Interval time.Duration
}

func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// Pipeline drives the loopback RX traffic.
type Pipeline struct {
	Devices   int
	Producers int
	FrameSize int
	// Interval between frames per producer; zero sends as fast as possible.
	Interval time.Duration
}

type Config struct {
	Tracker tracker.Config
	Alloc   alloc.Config
	Queues  workq.Config
	// Journal.Dir empty disables the lifecycle journal.
	Journal journal.Config

	// ReportDir empty disables report persistence and publishing.
	ReportDir      string
	ReportInterval time.Duration

	GRPCAddr    string
	MetricsAddr string
	Strict      bool

	Kafka    Kafka
	Pipeline Pipeline
}

func (c Config) WithDefaults() Config {
	c.Tracker = c.Tracker.WithDefaults()
	c.Alloc = c.Alloc.WithDefaults()
	if c.Queues.Name == "" {
		c.Queues.Name = "rx"
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = 30 * time.Second
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = ":50061"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "netbuf.leaks"
	}
	if c.Kafka.Client == "" {
		c.Kafka.Client = "sarama"
	}
	if c.Kafka.Interval <= 0 {
		c.Kafka.Interval = 5 * time.Second
	}
	if c.Pipeline.Devices <= 0 {
		c.Pipeline.Devices = 1
	}
	if c.Pipeline.Producers <= 0 {
		c.Pipeline.Producers = 2
	}
	if c.Pipeline.FrameSize <= 0 {
		c.Pipeline.FrameSize = 256
	}
	return c
}

func (c Config) Validate() error {
	if c.Queues.MaxQueues > 0 && c.Pipeline.Devices > c.Queues.MaxQueues {
		return errors.Newf("config: %d devices exceed the %d queue limit", c.Pipeline.Devices, c.Queues.MaxQueues)
	}
	if c.Pipeline.FrameSize > alloc.MaxBuffer {
		return errors.Newf("config: frame size %d over %d", c.Pipeline.FrameSize, alloc.MaxBuffer)
	}
	if c.Kafka.Enabled() {
		if c.ReportDir == "" {
			return errors.New("config: kafka publishing needs a report dir")
		}
		switch c.Kafka.Client {
		case "sarama", "kafka-go":
		default:
			return errors.Newf("config: unknown kafka client %q", c.Kafka.Client)
		}
	}
	return nil
}
