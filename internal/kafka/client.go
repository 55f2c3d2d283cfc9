// Package kafka carries desk commands in and desk snapshots out over Kafka.
package kafka

import (
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/rzzdr/options-risk-desk/config"
	"github.com/rzzdr/options-risk-desk/pkg/utils/logger"
)

// Header keys set on every snapshot message
const (
	HeaderContentType = "content-type"
	HeaderEvent       = "desk-event"
	HeaderSequence    = "desk-sequence"
)

// Client builds readers and writers from the kafka section of the config
type Client struct {
	config config.KafkaConfig
	log    *logger.Logger
}

// NewClient creates a new Kafka client
func NewClient(cfg config.KafkaConfig) *Client {
	return &Client{
		config: cfg,
		log:    logger.GetLogger("kafka.client"),
	}
}

// Config returns the client configuration
func (c *Client) Config() config.KafkaConfig {
	return c.config
}

// NewWriter creates a writer for topic
func (c *Client) NewWriter(topic string) *kafkago.Writer {
	p := c.config.Producer
	c.log.Infof("Creating writer for topic %s on %s", topic, strings.Join(c.config.Brokers, ","))

	return &kafkago.Writer{
		Addr:                   kafkago.TCP(c.config.Brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           requiredAcks(p.Acks),
		MaxAttempts:            positiveOr(p.MaxAttempts, 3),
		BatchTimeout:           durationOr(p.BatchTimeout, 10*time.Millisecond),
		WriteTimeout:           durationOr(p.WriteTimeout, 5*time.Second),
		AllowAutoTopicCreation: true,
	}
}

// NewReader creates a consumer group reader for topic
func (c *Client) NewReader(topic string) *kafkago.Reader {
	cc := c.config.Consumer
	c.log.Infof("Creating reader for topic %s, group %s", topic, cc.GroupID)

	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        c.config.Brokers,
		GroupID:        cc.GroupID,
		Topic:          topic,
		MinBytes:       positiveOr(cc.MinBytes, 1),
		MaxBytes:       positiveOr(cc.MaxBytes, 10e6),
		MaxWait:        durationOr(cc.MaxWait, 500*time.Millisecond),
		CommitInterval: cc.CommitInterval,
	})
}

func requiredAcks(acks string) kafkago.RequiredAcks {
	switch strings.ToLower(acks) {
	case "0", "none":
		return kafkago.RequireNone
	case "1", "one", "leader":
		return kafkago.RequireOne
	default:
		return kafkago.RequireAll
	}
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
