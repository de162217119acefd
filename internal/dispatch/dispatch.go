// Package dispatch implements the outbound dispatcher: it serializes a
// conversation document, sends it to the outbound queue with its
// attribute contract, and records the source id as processed only after
// the send succeeds.
package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/scalytics/cdcbridge/internal/assembler"
	"github.com/scalytics/cdcbridge/internal/cdcstore"
	"github.com/scalytics/cdcbridge/internal/errlog"
	"github.com/scalytics/cdcbridge/internal/metrics"
	"github.com/scalytics/cdcbridge/internal/queue"
)

// Dispatcher wraps a queue.Producer and the processed-ID store,
// maintaining a process-local pending_source_types cache behind a mutex-
// guarded map.
type Dispatcher struct {
	producer queue.Producer
	store    *cdcstore.Store
	errors   *errlog.Log

	mu                 sync.Mutex
	pendingSourceTypes map[string]string
}

// New builds a Dispatcher over the given producer, store, and error log.
func New(producer queue.Producer, store *cdcstore.Store, errors *errlog.Log) *Dispatcher {
	return &Dispatcher{
		producer:           producer,
		store:              store,
		errors:             errors,
		pendingSourceTypes: make(map[string]string),
	}
}

// Dispatch sends conv to the outbound queue and, on success, marks
// conv.SourceID processed before returning. On failure it logs a
// DISPATCH_SEND_FAILED error and leaves the id unmarked so the next CDC
// cycle retries it naturally.
func (d *Dispatcher) Dispatch(ctx context.Context, conv *assembler.Conversation) (token string, err error) {
	body, err := json.Marshal(conv.MarshalDocument())
	if err != nil {
		return "", fmt.Errorf("dispatch: marshal conversation %s: %w", conv.SourceID, err)
	}

	token = newToken()
	msg := queue.Message{
		Value: body,
		Attributes: map[string]string{
			"messageType":        "CONVERSATION_ASSEMBLY",
			"origin":             "on-premises-cdc",
			"source_id":          conv.SourceID,
			"source_catalog_id":  conv.SourceCatalogID,
			"destinationTypeTag": conv.DestinationTypeTag,
			"timestamp":          time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := d.producer.Publish(ctx, msg); err != nil {
		logErr := d.errors.Append(ctx, errlog.Entry{
			SourceID: conv.SourceID,
			Message:  err.Error(),
			Kind:     errlog.KindDispatchSendFailed,
		})
		if logErr != nil {
			return "", fmt.Errorf("dispatch: send failed for %s: %w (error-log write also failed: %v)", conv.SourceID, err, logErr)
		}
		return "", fmt.Errorf("dispatch: send failed for %s: %w", conv.SourceID, err)
	}

	d.rememberDestinationType(conv.SourceID, conv.DestinationTypeTag)

	if err := d.store.Mark(ctx, conv.SourceID, token, conv.StartTime); err != nil {
		return token, fmt.Errorf("dispatch: mark processed for %s after successful send: %w", conv.SourceID, err)
	}
	return token, nil
}

// rememberDestinationType records the best-effort routing hint the
// inbound ingestor consults when a result payload omits its catalog id.
// Loss on restart is acceptable by design.
func (d *Dispatcher) rememberDestinationType(sourceID, destinationTypeTag string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingSourceTypes[sourceID] = destinationTypeTag
	metrics.PendingSourceTypesSize.Set(float64(len(d.pendingSourceTypes)))
}

// TakeDestinationType pops and returns the remembered destination type
// for sourceID, if any. Used by the ingestor as its second-priority
// routing source.
func (d *Dispatcher) TakeDestinationType(sourceID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tag, ok := d.pendingSourceTypes[sourceID]
	if ok {
		delete(d.pendingSourceTypes, sourceID)
		metrics.PendingSourceTypesSize.Set(float64(len(d.pendingSourceTypes)))
	}
	return tag, ok
}

func newToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("token-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
