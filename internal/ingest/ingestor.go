package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/scalytics/cdcbridge/internal/catalog"
	"github.com/scalytics/cdcbridge/internal/destsink"
	"github.com/scalytics/cdcbridge/internal/errlog"
	"github.com/scalytics/cdcbridge/internal/queue"
)

// DestinationTypeResolver supplies the two fallback routing sources used
// when a result payload lacks source_catalog_id: the dispatcher's
// pending_source_types cache, then "CALL".
type DestinationTypeResolver interface {
	TakeDestinationType(sourceID string) (string, bool)
}

// ConversationMetaLookup resolves the denormalized account/subscriber/
// conversation-time fields the conversation_summary write needs.
// Implementations consult the originating source table; when
// unavailable the ingestor persists the result with those fields blank
// rather than failing the write.
type ConversationMetaLookup interface {
	LookupConversationMeta(ctx context.Context, sourceID string) (meta ConversationMeta, ok bool, err error)
}

// ConversationMeta is the denormalized header data looked up per result.
type ConversationMeta struct {
	AccountKey       string
	SubscriberKey    string
	ConversationTime string // RFC3339; parsed by the caller if non-empty
}

// Ingestor drives the inbound-ingestion pass: it fetches a batch from
// the queue, parses + normalizes each message, writes the three
// destination tables, and commits only on successful persistence.
type Ingestor struct {
	consumer   queue.Consumer
	catalog    *catalog.Catalog
	resolver   DestinationTypeResolver
	metaLookup ConversationMetaLookup
	sink       *destsink.Sink
	errors     *errlog.Log
}

// New builds an Ingestor. metaLookup may be nil, in which case
// account/subscriber/conversation_time are left blank on every write.
func New(consumer queue.Consumer, cat *catalog.Catalog, resolver DestinationTypeResolver, metaLookup ConversationMetaLookup, sink *destsink.Sink, errors *errlog.Log) *Ingestor {
	return &Ingestor{
		consumer:   consumer,
		catalog:    cat,
		resolver:   resolver,
		metaLookup: metaLookup,
		sink:       sink,
		errors:     errors,
	}
}

// RunOnce performs one inbound-ingestion pass: fetch a batch (long-poll,
// bounded wait and batch size), process each message. It never returns
// an error for a single bad message — those are logged and left visible
// — only for a fetch-level transport failure.
func (in *Ingestor) RunOnce(ctx context.Context) (received, written int, err error) {
	batch, err := in.consumer.FetchBatch(ctx, 10)
	if err != nil {
		return 0, 0, err
	}
	received = len(batch)

	for _, msg := range batch {
		if msg.Attributes["messageType"] != "ML_RESULT" && msg.Attributes["messageType"] != "ML_PROCESSING_RESULT" {
			// Not an ML result: skip, leave visible.
			continue
		}
		if in.processOne(ctx, msg) {
			written++
		}
	}
	return received, written, nil
}

// processOne returns true if the message was successfully persisted and
// committed.
func (in *Ingestor) processOne(ctx context.Context, msg queue.Message) bool {
	parsed, err := ParseResult(msg.Value)
	if err != nil {
		_ = in.errors.Append(ctx, errlog.Entry{Message: err.Error(), Kind: errlog.KindResultParseError})
		slog.Warn("ingest: malformed result message", "error", err)
		return false
	}

	destType := in.resolveDestinationType(parsed)

	classif := normalizeClassification(parsed.Classification, parsed.Classifications)
	result := destsink.NormalizedResult{
		SourceID:              parsed.SourceID,
		DestinationType:       destType,
		Summary:               normalizeSummary(parsed.Summary),
		Sentiment:             normalizeSentiment(parsed.Sentiment),
		ClassificationPrimary: classif.Primary,
		Classifications:       classif.All,
		Confidence:            parsed.Confidence,
		ProcessingTime:        parsed.ProcessingTime,
		ModelVersion:          parsed.ModelVersion,
		Products:              normalizeList(parsed.Products),
		ActionItems:           normalizeActionItems(parsed.ActionItems),
		UnresolvedIssues:      normalizeList(parsed.UnresolvedIssues),
		CustomerSatisfaction:  normalizeSatisfaction(parsed.CustomerSatisfaction),
		ChurnScore:            normalizeChurnScore(parsed.ChurnConfidence),
	}

	if in.metaLookup != nil {
		if meta, ok, err := in.metaLookup.LookupConversationMeta(ctx, parsed.SourceID); err == nil && ok {
			result.AccountKey = meta.AccountKey
			result.SubscriberKey = meta.SubscriberKey
			if meta.ConversationTime != "" {
				if t, perr := time.Parse(time.RFC3339, meta.ConversationTime); perr == nil {
					result.ConversationTime = t
				}
			}
		}
	}

	if err := in.sink.WriteResult(ctx, result); err != nil {
		_ = in.errors.Append(ctx, errlog.Entry{
			SourceID: parsed.SourceID,
			Message:  err.Error(),
			Kind:     errlog.KindPersistenceError,
		})
		slog.Error("ingest: persistence failed, leaving message visible", "source_id", parsed.SourceID, "error", err)
		return false
	}

	if err := in.consumer.Commit(ctx, msg); err != nil {
		slog.Error("ingest: commit failed after successful write", "source_id", parsed.SourceID, "error", err)
		return false
	}
	slog.Info("ingest: result persisted", "source_id", parsed.SourceID, "destination_type", destType)
	return true
}

// resolveDestinationType applies the three-tier destination-type
// fallback: catalog lookup, then the dispatcher's remembered hint, then
// the CALL default.
func (in *Ingestor) resolveDestinationType(parsed *rawResult) string {
	if parsed.SourceCatalogID != "" {
		if entry, ok := in.catalog.Lookup(parsed.SourceCatalogID); ok {
			return entry.DestinationTypeTag
		}
	}
	if in.resolver != nil {
		if tag, ok := in.resolver.TakeDestinationType(parsed.SourceID); ok {
			return tag
		}
	}
	return "CALL"
}
