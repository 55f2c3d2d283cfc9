package kafka

import (
	"context"
	"errors"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/rzzdr/options-risk-desk/config"
	"github.com/rzzdr/options-risk-desk/pkg/models"
	apperrors "github.com/rzzdr/options-risk-desk/pkg/utils/errors"
	"github.com/rzzdr/options-risk-desk/pkg/utils/logger"
)

// MessageWriter is the subset of kafka-go's Writer the producer uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer publishes desk snapshots to a topic behind a circuit breaker
type Producer struct {
	writer  MessageWriter
	codec   Codec
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger
}

// NewProducer creates a snapshot producer on top of writer
func NewProducer(writer MessageWriter, codec Codec, cfg config.BreakerConfig) *Producer {
	log := logger.GetLogger("kafka.producer")

	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}

	st := gobreaker.Settings{
		Name:        "KafkaSnapshots",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnw("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	return &Producer{
		writer:  writer,
		codec:   codec,
		breaker: gobreaker.NewCircuitBreaker(st),
		log:     log,
	}
}

// Name identifies the producer as a snapshot sink
func (p *Producer) Name() string {
	return "kafka"
}

// Publish writes one snapshot message keyed by event type
func (p *Producer) Publish(ctx context.Context, snapshot *models.DeskSnapshot) error {
	value, err := p.codec.Encode(snapshot)
	if err != nil {
		return apperrors.Wrap(err, "failed to encode snapshot")
	}

	msg := kafkago.Message{
		Key:   []byte("desk"),
		Value: value,
		Headers: []kafkago.Header{
			{Key: HeaderContentType, Value: []byte(p.codec.ContentType())},
			{Key: HeaderEvent, Value: []byte(snapshot.Event)},
			{Key: HeaderSequence, Value: []byte(strconv.FormatUint(snapshot.Sequence, 10))},
		},
		Time: snapshot.Timestamp,
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return apperrors.Unavailable("snapshot topic circuit open", err)
		}
		return apperrors.Unavailable("failed to write snapshot", err)
	}

	p.log.Debugf("Snapshot %d (%s) written, %d bytes", snapshot.Sequence, snapshot.Event, len(value))
	return nil
}

// State reports the circuit breaker state
func (p *Producer) State() gobreaker.State {
	return p.breaker.State()
}

// Close closes the underlying writer
func (p *Producer) Close() error {
	p.log.Info("Closing producer")
	return p.writer.Close()
}
