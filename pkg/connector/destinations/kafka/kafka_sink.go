// Package kafka publishes rows as JSON messages, one topic per table.
// Merge streams are keyed by primary key so compacted topics keep the
// latest version of each row.
package kafka

import (
	"context"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
	jsonpkg "github.com/ajitpratap0/tidemark/pkg/json"
	"github.com/ajitpratap0/tidemark/pkg/logger"
)

// DestinationName is the registry name of the Kafka sink.
const DestinationName = "kafka"

// Sink sends each page with one SendMessages call.
type Sink struct {
	producer    sarama.SyncProducer
	topicPrefix string
	logger      *zap.Logger
}

// NewProducerConfig returns the producer settings used by the sink.
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "tidemark"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

// Dial connects a sync producer to brokers.
func Dial(brokers []string, topicPrefix string) (*Sink, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to kafka").
			WithDetail("brokers", strings.Join(brokers, ","))
	}
	return NewSink(producer, topicPrefix), nil
}

// NewSink wraps an existing producer.
func NewSink(producer sarama.SyncProducer, topicPrefix string) *Sink {
	return &Sink{
		producer:    producer,
		topicPrefix: topicPrefix,
		logger:      logger.Get().With(zap.String("component", "kafka_sink")),
	}
}

// Topic returns the topic a stream is published to.
func (s *Sink) Topic(stream *core.Stream) string {
	return s.topicPrefix + stream.TableName()
}

// Messages renders page as producer messages.
func (s *Sink) Messages(stream *core.Stream, page core.Page) ([]*sarama.ProducerMessage, error) {
	topic := s.Topic(stream)
	headers := []sarama.RecordHeader{
		{Key: []byte("stream"), Value: []byte(stream.Name)},
		{Key: []byte("write_mode"), Value: []byte(stream.WriteMode)},
	}
	if page.Tenant != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte("tenant"), Value: []byte(page.Tenant)})
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(page.Rows))
	for _, row := range page.Rows {
		value, err := jsonpkg.Marshal(row)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode row")
		}

		msg := &sarama.ProducerMessage{
			Topic:   topic,
			Value:   sarama.ByteEncoder(value),
			Headers: headers,
		}
		if stream.WriteMode == core.WriteModeMerge {
			key, err := stream.Key(row)
			if err != nil {
				return nil, err
			}
			msg.Key = sarama.StringEncoder(key)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Write publishes every row of page.
func (s *Sink) Write(ctx context.Context, stream *core.Stream, page core.Page) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msgs, err := s.Messages(stream, page)
	if err != nil {
		return err
	}

	if err := s.producer.SendMessages(msgs); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			s.logger.Error("messages failed",
				zap.String("topic", s.Topic(stream)),
				zap.Int("failed", len(perrs)),
				zap.Int("total", len(msgs)))
		}
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to publish page").
			WithDetail("topic", s.Topic(stream))
	}
	return nil
}

// Close closes the producer
func (s *Sink) Close(_ context.Context) error {
	if err := s.producer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to close producer")
	}
	return nil
}
