package queue

import (
	"context"
	"sync"
)

// ChannelQueue is an in-process Producer+Consumer backed by a Go channel.
// Publish on one handle is visible to FetchBatch on any handle sharing the
// same channel; used by tests that need to drive the dispatcher and
// ingestor without a Kafka broker.
type ChannelQueue struct {
	ch        chan Message
	mu        sync.Mutex
	unacked   []Message
	committed map[int]bool
	nextID    int
}

// NewChannelQueue creates an empty in-process queue with the given buffer
// capacity.
func NewChannelQueue(capacity int) *ChannelQueue {
	return &ChannelQueue{
		ch:        make(chan Message, capacity),
		committed: make(map[int]bool),
	}
}

// Publish enqueues msg. Never blocks past the channel's buffer capacity.
func (q *ChannelQueue) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchBatch drains up to maxMessages currently buffered, waiting for at
// least one or until ctx is done. Each returned message carries an
// ackToken; messages not committed (via Commit) are redelivered the next
// time the caller calls Requeue, mirroring a Kafka consumer group's
// unacknowledged-offset redelivery.
func (q *ChannelQueue) FetchBatch(ctx context.Context, maxMessages int) ([]Message, error) {
	out := make([]Message, 0, maxMessages)

	select {
	case m := <-q.ch:
		out = append(out, q.tag(m))
	case <-ctx.Done():
		return out, nil
	}

	for len(out) < maxMessages {
		select {
		case m := <-q.ch:
			out = append(out, q.tag(m))
		default:
			return out, nil
		}
	}
	return out, nil
}

func (q *ChannelQueue) tag(m Message) Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextID
	q.nextID++
	m.ackToken = id
	q.unacked = append(q.unacked, m)
	return m
}

// Commit marks msg as durably applied. It will not be redelivered by
// Requeue.
func (q *ChannelQueue) Commit(ctx context.Context, msg Message) error {
	id, ok := msg.ackToken.(int)
	if !ok {
		return nil
	}
	q.mu.Lock()
	q.committed[id] = true
	q.mu.Unlock()
	return nil
}

// Requeue re-publishes every fetched-but-not-committed message, simulating
// a consumer group's visibility timeout expiring. Tests use this to
// exercise the "leave visible on failure" / at-least-once redelivery path.
func (q *ChannelQueue) Requeue(ctx context.Context) error {
	q.mu.Lock()
	pending := make([]Message, 0, len(q.unacked))
	for _, m := range q.unacked {
		id, _ := m.ackToken.(int)
		if !q.committed[id] {
			pending = append(pending, m)
		}
	}
	q.unacked = nil
	q.mu.Unlock()

	for _, m := range pending {
		if err := q.Publish(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying channel.
func (q *ChannelQueue) Close() error {
	close(q.ch)
	return nil
}
