// Package assembler implements the conversation assembler: it turns a
// source id's fragments into a canonical conversation document or a
// typed skip reason.
package assembler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/scalytics/cdcbridge/internal/catalog"
)

// SkipReason names why assembly did not produce a document. The empty
// string means assembly succeeded.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipShort           SkipReason = "short"
	SkipMissingChannels SkipReason = "missing-channels"
)

// Message is one ordered utterance in an assembled conversation.
type Message struct {
	ChannelTag string
	Text       string
	Timestamp  time.Time
}

// Conversation is the canonical document emitted to the outbound queue.
type Conversation struct {
	Type               string    `json:"type"`
	SourceID           string    `json:"source_id"`
	SourceCatalogID    string    `json:"source_catalog_id"`
	DestinationTypeTag string    `json:"destination_type_tag"`
	AccountKey         string    `json:"account_key"`
	SubscriberKey      string    `json:"subscriber_key"`
	StartTime          time.Time `json:"start_time"`
	Messages           []Message `json:"messages"`
	MessageCount       int       `json:"message_count"`
	AssembledAt        time.Time `json:"assembled_at"`
	Origin             string    `json:"origin"`
}

// MessageJSON is the wire shape of Message, with ISO-8601 timestamps.
type MessageJSON struct {
	ChannelTag string `json:"channel_tag"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
}

// MarshalDocument renders Conversation into the outbound document's
// exact field shapes, with RFC3339 timestamps.
func (c *Conversation) MarshalDocument() map[string]any {
	msgs := make([]MessageJSON, len(c.Messages))
	for i, m := range c.Messages {
		msgs[i] = MessageJSON{
			ChannelTag: m.ChannelTag,
			Text:       m.Text,
			Timestamp:  m.Timestamp.UTC().Format(time.RFC3339),
		}
	}
	return map[string]any{
		"type":                 c.Type,
		"source_id":            c.SourceID,
		"source_catalog_id":    c.SourceCatalogID,
		"destination_type_tag": c.DestinationTypeTag,
		"account_key":          c.AccountKey,
		"subscriber_key":       c.SubscriberKey,
		"start_time":           c.StartTime.UTC().Format(time.RFC3339),
		"messages":             msgs,
		"message_count":        c.MessageCount,
		"assembled_at":         c.AssembledAt.UTC().Format(time.RFC3339),
		"origin":               c.Origin,
	}
}

// Fragment is one raw row from the source table, in fragment-time
// ascending order (physical insertion order used as the tie-break — it
// is the SourceReader's job to preserve that order).
type Fragment struct {
	AccountKey    string
	SubscriberKey string
	ChannelTag    string
	Text          string
	FragmentTime  time.Time
}

// SourceReader fetches fragments for one source id. Implementations talk
// to the actual relational source (e.g. via database/sql and a driver
// appropriate to the deployment's RDBMS); assembler only depends on this
// narrow contract.
type SourceReader interface {
	FetchFragments(ctx context.Context, entry catalog.Entry, sourceID string) ([]Fragment, error)
}

// Assemble fetches fragments, checks the minimum-segment and required-
// channel invariants, and builds the canonical conversation document.
func Assemble(ctx context.Context, reader SourceReader, entry catalog.Entry, sourceID string, now time.Time) (*Conversation, SkipReason, error) {
	fragments, err := reader.FetchFragments(ctx, entry, sourceID)
	if err != nil {
		return nil, SkipNone, fmt.Errorf("assembler: fetch fragments for %s: %w", sourceID, err)
	}

	if len(fragments) < entry.MinSegments {
		return nil, SkipShort, nil
	}

	observed := make(map[string]bool, len(entry.ValidChannels))
	for _, f := range fragments {
		observed[f.ChannelTag] = true
	}
	for _, req := range entry.RequiredChannels {
		if !observed[req] {
			return nil, SkipMissingChannels, nil
		}
	}

	messages := make([]Message, 0, len(fragments))
	for _, f := range fragments {
		text := strings.TrimSpace(f.Text)
		if text == "" {
			continue
		}
		messages = append(messages, Message{
			ChannelTag: f.ChannelTag,
			Text:       text,
			Timestamp:  f.FragmentTime,
		})
	}
	if len(messages) == 0 {
		return nil, SkipShort, nil
	}

	first := fragments[0]
	conv := &Conversation{
		Type:               "CONVERSATION_TO_ML",
		SourceID:           sourceID,
		SourceCatalogID:    entry.SourceKey,
		DestinationTypeTag: entry.DestinationTypeTag,
		AccountKey:         first.AccountKey,
		SubscriberKey:      first.SubscriberKey,
		StartTime:          first.FragmentTime,
		Messages:           messages,
		MessageCount:       len(messages),
		AssembledAt:        now,
		Origin:             "on-premises-cdc",
	}
	return conv, SkipNone, nil
}
