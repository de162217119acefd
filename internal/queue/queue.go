// Package queue abstracts the outbound/inbound message transport so that
// internal/dispatch and internal/ingest depend on a narrow interface
// rather than segmentio/kafka-go directly.
package queue

import "context"

// Message is one queue message: a body plus string attributes carried
// alongside it. The dispatcher sends JSON bodies and the ingestor decodes
// bodies as JSON; internal/queue/wire holds a protobuf envelope codec
// that neither of them uses.
type Message struct {
	Topic      string
	Key        []byte
	Value      []byte
	Attributes map[string]string

	// ackToken is transport-specific state a Consumer needs to commit the
	// message later (a Kafka offset, for the in-process double an index).
	// Producers never set it; consumers attach it on fetch.
	ackToken any
}

// Producer publishes messages to a single named topic. Only the outbound
// dispatcher (C4) and the approval channel's reload notifier use this.
type Producer interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Consumer reads from one or more topics with long-poll batch semantics.
// FetchBatch blocks up to the implementation's configured wait (wait up
// to a few seconds, batch size bounded) and returns whatever arrived,
// possibly zero messages, without error. Commit acknowledges a message
// after it has been successfully and durably applied; an unacknowledged
// message is redelivered on a future FetchBatch call, giving "leave
// visible on failure" semantics.
type Consumer interface {
	FetchBatch(ctx context.Context, maxMessages int) ([]Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}
