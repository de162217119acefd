package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer publishes to a single topic via segmentio/kafka-go.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer dials brokers (comma-separated) and returns a producer
// bound to topic.
func NewKafkaProducer(brokers, topic string) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireOne,
		},
	}
}

// Publish sends msg.Value keyed by msg.Key, carrying Attributes as Kafka
// message headers.
func (p *KafkaProducer) Publish(ctx context.Context, msg Message) error {
	headers := make([]kafka.Header, 0, len(msg.Attributes))
	for k, v := range msg.Attributes {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("queue: kafka publish to %s: %w", p.writer.Topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads one topic with long-poll batch semantics via
// kafka-go's Reader, committing offsets only once the caller confirms
// successful local persistence.
type KafkaConsumer struct {
	reader   *kafka.Reader
	waitTime time.Duration
}

// NewKafkaConsumer dials brokers and returns a consumer bound to topic
// within consumerGroup. waitTime bounds how long one FetchBatch call
// waits in total before returning what it has (spec default ~5s).
func NewKafkaConsumer(brokers, consumerGroup, topic string, waitTime time.Duration) *KafkaConsumer {
	return &KafkaConsumer{
		waitTime: waitTime,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  strings.Split(brokers, ","),
			Topic:    topic,
			GroupID:  consumerGroup,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
	}
}

// FetchBatch reads up to maxMessages, waiting at most c.waitTime for the
// batch to fill. It never returns an error for an empty batch caused by
// the wait timing out — that is the normal "nothing new yet" outcome.
func (c *KafkaConsumer) FetchBatch(ctx context.Context, maxMessages int) ([]Message, error) {
	batchCtx, cancel := context.WithTimeout(ctx, c.waitTime)
	defer cancel()

	out := make([]Message, 0, maxMessages)
	for len(out) < maxMessages {
		m, err := c.reader.FetchMessage(batchCtx)
		if err != nil {
			if batchCtx.Err() != nil {
				break
			}
			return out, fmt.Errorf("queue: kafka fetch from %s: %w", c.reader.Config().Topic, err)
		}
		attrs := make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			attrs[h.Key] = string(h.Value)
		}
		out = append(out, Message{
			Topic:      m.Topic,
			Key:        m.Key,
			Value:      m.Value,
			Attributes: attrs,
			ackToken:   m,
		})
	}
	return out, nil
}

// Commit acknowledges msg, advancing the consumer group's offset past it.
func (c *KafkaConsumer) Commit(ctx context.Context, msg Message) error {
	km, ok := msg.ackToken.(kafka.Message)
	if !ok {
		return fmt.Errorf("queue: commit called on message without a Kafka ack token")
	}
	if err := c.reader.CommitMessages(ctx, km); err != nil {
		return fmt.Errorf("queue: kafka commit: %w", err)
	}
	return nil
}

// Close releases the underlying reader.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
