package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/options-risk-desk/config"
	"github.com/rzzdr/options-risk-desk/pkg/metrics"
	"github.com/rzzdr/options-risk-desk/pkg/models"
	apperrors "github.com/rzzdr/options-risk-desk/pkg/utils/errors"
)

func sampleSnapshot() *models.DeskSnapshot {
	return &models.DeskSnapshot{
		Sequence:  7,
		Event:     models.EventTrade,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Spot:      101.5,
		Book: []models.BookRow{{
			ID: "a1", Kind: "Call", Side: "Long", Strike: 100, Quantity: 2,
			Volatility: 0.2, Rate: 0.01, Maturity: 0.5, EntryPrice: 5.88, Premium: -11.76, PnL: 1.25,
			OpenedAt: time.Date(2024, 3, 1, 11, 59, 0, 0, time.UTC),
		}},
		Risk: models.RiskSummary{Spot: 101.5, Positions: 1, PnL: 1.3, Delta: 54.2, AtSpot: models.GreekValues{Delta: 1.1}},
		Curves: models.CurveBundle{
			Grid: []float64{50, 100, 150}, PnL: []float64{-11.7, 0.1, 88}, Delta: []float64{0, 1.08, 2},
			Gamma: []float64{0, 0.05, 0}, Vega: []float64{0, 56, 1}, Theta: []float64{0, -12, -1},
			Rho: []float64{0, 48, 98}, Strikes: []float64{100},
		},
	}
}

func TestCodecsRoundTripSnapshot(t *testing.T) {
	for _, enc := range []string{EncodingJSON, EncodingProtobuf} {
		t.Run(enc, func(t *testing.T) {
			codec, err := NewCodec(enc)
			require.NoError(t, err)

			want := sampleSnapshot()
			data, err := codec.Encode(want)
			require.NoError(t, err)

			got, err := codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, want.Sequence, got.Sequence)
			assert.Equal(t, want.Event, got.Event)
			assert.True(t, want.Timestamp.Equal(got.Timestamp))
			assert.Equal(t, want.Curves, got.Curves)
			assert.Equal(t, want.Risk, got.Risk)
			require.Len(t, got.Book, 1)
			assert.Equal(t, want.Book[0].Premium, got.Book[0].Premium)
		})
	}
}

func TestProtobufIsNotJSON(t *testing.T) {
	codec, err := NewCodec(EncodingProtobuf)
	require.NoError(t, err)
	data, err := codec.Encode(sampleSnapshot())
	require.NoError(t, err)

	_, err = jsonCodec{}.Decode(data)
	assert.Error(t, err)
}

func TestUnknownEncoding(t *testing.T) {
	_, err := NewCodec("avro")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidArgument))
}

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"trade","trade":{"kind":"Put","side":"SELL","quantity":3,"entry_price":0}}`))
	require.NoError(t, err)
	assert.Equal(t, models.CommandTrade, cmd.Type)
	require.NotNil(t, cmd.Trade)
	assert.Equal(t, "Put", cmd.Trade.Kind)
	require.NotNil(t, cmd.Trade.Quantity)
	assert.Equal(t, 3, *cmd.Trade.Quantity)
	require.NotNil(t, cmd.Trade.EntryPrice)
	assert.Zero(t, *cmd.Trade.EntryPrice)
	assert.Nil(t, cmd.Trade.Strike)

	_, err = DecodeCommand([]byte("not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode desk command of 8 bytes")
}

type fakeWriter struct {
	mu   sync.Mutex
	err  error
	msgs []kafkago.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func header(msg kafkago.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducerWritesSnapshot(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w, jsonCodec{}, config.BreakerConfig{Timeout: time.Minute})

	require.NoError(t, p.Publish(context.Background(), sampleSnapshot()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "desk", string(msg.Key))
	assert.Equal(t, contentTypeJSON, header(msg, HeaderContentType))
	assert.Equal(t, "trade", header(msg, HeaderEvent))
	assert.Equal(t, "7", header(msg, HeaderSequence))

	got, err := jsonCodec{}.Decode(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Sequence)
	assert.Equal(t, "kafka", p.Name())
}

func TestProducerBreakerOpensAfterFailures(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	p := NewProducer(w, jsonCodec{}, config.BreakerConfig{ConsecutiveFailures: 2, Timeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := p.Publish(ctx, sampleSnapshot())
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUnavailable))
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())

	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()

	err := p.Publish(ctx, sampleSnapshot())
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Empty(t, w.msgs)
}

type fakeReader struct {
	msgs      chan kafkago.Message
	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafkago.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumerDispatchesAndCommitsEverything(t *testing.T) {
	reader := &fakeReader{msgs: make(chan kafkago.Message, 4)}
	reader.msgs <- kafkago.Message{Offset: 1, Value: []byte(`{"type":"trade","trade":{"kind":"Call"}}`)}
	reader.msgs <- kafkago.Message{Offset: 2, Value: []byte(`garbage`)}
	reader.msgs <- kafkago.Message{Offset: 3, Value: []byte(`{"type":"hedge"}`)}
	reader.msgs <- kafkago.Message{Offset: 4, Value: []byte(`{"type":"flatten"}`)}

	var mu sync.Mutex
	var seen []string
	handler := func(_ context.Context, cmd models.DeskCommand) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, cmd.Type)
		if cmd.Type == "hedge" {
			return apperrors.InvalidArgument("unknown command")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := NewConsumer(reader, handler, metrics.NewRecorder())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(reader.committedOffsets()) == 4
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"trade", "hedge", "flatten"}, seen)
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committedOffsets())
}

func TestRequiredAcks(t *testing.T) {
	assert.Equal(t, kafkago.RequireAll, requiredAcks("all"))
	assert.Equal(t, kafkago.RequireAll, requiredAcks(""))
	assert.Equal(t, kafkago.RequireOne, requiredAcks("1"))
	assert.Equal(t, kafkago.RequireNone, requiredAcks("none"))
}

func TestClientBuildsWriterFromConfig(t *testing.T) {
	c := NewClient(config.KafkaConfig{
		Brokers:  []string{"k1:9092"},
		Producer: config.KafkaProducerConfig{Acks: "1", MaxAttempts: 7},
	})
	w := c.NewWriter("desk.snapshots")
	defer w.Close()

	assert.Equal(t, "desk.snapshots", w.Topic)
	assert.Equal(t, 7, w.MaxAttempts)
	assert.Equal(t, kafkago.RequireOne, w.RequiredAcks)
	assert.Equal(t, 5*time.Second, w.WriteTimeout)
}
