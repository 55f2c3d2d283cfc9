package kafka

import (
	"context"
	"errors"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/rzzdr/options-risk-desk/pkg/metrics"
	"github.com/rzzdr/options-risk-desk/pkg/models"
	"github.com/rzzdr/options-risk-desk/pkg/utils/logger"
)

// CommandHandler applies a decoded desk command
type CommandHandler func(ctx context.Context, cmd models.DeskCommand) error

// MessageReader is the subset of kafka-go's Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer reads desk commands and hands them to a handler
type Consumer struct {
	reader   MessageReader
	handler  CommandHandler
	recorder *metrics.Recorder
	log      *logger.Logger
}

// NewConsumer creates a command consumer
func NewConsumer(reader MessageReader, handler CommandHandler, recorder *metrics.Recorder) *Consumer {
	return &Consumer{
		reader:   reader,
		handler:  handler,
		recorder: recorder,
		log:      logger.GetLogger("kafka.consumer"),
	}
}

// Run consumes until ctx is cancelled. Every fetched message is committed,
// including ones that fail to decode or apply, so a bad command cannot stall
// the topic.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("Starting command consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.log.Info("Context cancelled, stopping command consumer")
				return nil
			}
			c.log.Errorf("Error fetching message: %v", err)
			return err
		}

		c.process(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Errorf("Error committing offset %d: %v", msg.Offset, err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafkago.Message) {
	cmd, err := DecodeCommand(msg.Value)
	if err != nil {
		c.recorder.RecordCommand("undecodable", "error")
		c.log.Warnf("Dropping message at offset %d: %v", msg.Offset, err)
		return
	}

	if err := c.handler(ctx, cmd); err != nil {
		c.recorder.RecordCommand(cmd.Type, "rejected")
		c.log.Warnf("Command %s at offset %d rejected: %v", cmd.Type, msg.Offset, err)
		return
	}

	c.recorder.RecordCommand(cmd.Type, "applied")
	c.log.Debugf("Applied %s command at offset %d", cmd.Type, msg.Offset)
}

// Close closes the underlying reader
func (c *Consumer) Close() error {
	c.log.Info("Closing consumer")
	return c.reader.Close()
}
