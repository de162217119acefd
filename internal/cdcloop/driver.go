// Package cdcloop drives the steady-state CDC cycle: each tick, every
// enabled catalog source is collected, assembled, and dispatched, then
// one inbound-ingestion pass runs before the loop sleeps again.
package cdcloop

import (
	"context"
	"log/slog"
	"time"

	"github.com/scalytics/cdcbridge/internal/assembler"
	"github.com/scalytics/cdcbridge/internal/catalog"
	"github.com/scalytics/cdcbridge/internal/cdcstore"
	"github.com/scalytics/cdcbridge/internal/dispatch"
	"github.com/scalytics/cdcbridge/internal/errlog"
	"github.com/scalytics/cdcbridge/internal/ingest"
	"github.com/scalytics/cdcbridge/internal/metrics"
)

// Config controls the driver's tick cadence and per-cycle limits.
type Config struct {
	PollInterval      time.Duration
	StatsEveryNCycles int
	BatchCap          int
	MaxSendFailures   int
}

// Driver ties the catalog, a Collector/SourceReader, the dispatcher, the
// ingestor, and the processed-id store into one ticker loop.
type Driver struct {
	cfg       Config
	catalog   *catalog.Catalog
	reader    *SQLReader
	store     *cdcstore.Store
	dispatcher *dispatch.Dispatcher
	ingestor  *ingest.Ingestor
	errors    *errlog.Log

	cycle int64
}

// New builds a Driver. reader supplies both candidate collection and
// fragment fetch; dispatcher and ingestor are the already-wired C4/C5
// components sharing the same queue and store.
func New(cfg Config, cat *catalog.Catalog, reader *SQLReader, store *cdcstore.Store, dispatcher *dispatch.Dispatcher, ingestor *ingest.Ingestor, errors *errlog.Log) *Driver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.StatsEveryNCycles <= 0 {
		cfg.StatsEveryNCycles = 10
	}
	if cfg.BatchCap <= 0 {
		cfg.BatchCap = 200
	}
	if cfg.MaxSendFailures <= 0 {
		cfg.MaxSendFailures = 20
	}
	return &Driver{
		cfg:        cfg,
		catalog:    cat,
		reader:     reader,
		store:      store,
		dispatcher: dispatcher,
		ingestor:   ingestor,
		errors:     errors,
	}
}

// Run blocks, ticking every cfg.PollInterval until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	slog.Info("cdcloop: started", "poll_interval", d.cfg.PollInterval, "sources", len(d.catalog.Enabled()))
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cdcloop: stopped")
			return ctx.Err()
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick runs one full cycle: dispatch pass over every enabled source,
// then one inbound-ingestion pass, then an occasional stats line.
func (d *Driver) tick(ctx context.Context) {
	start := time.Now()
	d.cycle++
	dispatched, rejected, errored := 0, 0, 0

	for _, entry := range d.catalog.Enabled() {
		n, r, e := d.runSource(ctx, entry)
		dispatched += n
		rejected += r
		errored += e
	}

	received, written, err := d.ingestor.RunOnce(ctx)
	if err != nil {
		slog.Error("cdcloop: ingest pass failed", "error", err)
		metrics.IngestResultsTotal.WithLabelValues("error").Inc()
	} else {
		metrics.IngestResultsTotal.WithLabelValues("ok").Add(float64(written))
	}

	metrics.CyclesTotal.WithLabelValues("cdc", "ok").Inc()
	metrics.CycleDurationSeconds.WithLabelValues("cdc").Observe(time.Since(start).Seconds())

	if d.cycle%int64(d.cfg.StatsEveryNCycles) == 0 {
		slog.Info("cdcloop: cycle stats",
			"cycle", d.cycle,
			"dispatched", dispatched,
			"rejected", rejected,
			"dispatch_errors", errored,
			"ingest_received", received,
			"ingest_written", written,
		)
	}
}

// runSource collects candidate ids for one catalog entry, assembles and
// dispatches each not-yet-processed id, and reports counts.
func (d *Driver) runSource(ctx context.Context, entry catalog.Entry) (dispatched, rejected, errored int) {
	since := time.Now().Add(-entry.HotWindow)
	excludeIDs, err := d.store.ProcessedIDsSince(ctx, since)
	if err != nil {
		slog.Error("cdcloop: load processed ids failed", "source", entry.SourceKey, "error", err)
		return 0, 0, 1
	}
	candidates, err := d.reader.CollectCandidates(ctx, entry, PhaseHot, since, d.cfg.BatchCap, excludeIDs)
	if err != nil {
		slog.Error("cdcloop: collect candidates failed", "source", entry.SourceKey, "error", err)
		return 0, 0, 1
	}

	for _, cand := range candidates {
		id := cand.ID
		if failed, err := d.store.IsPermanentlyFailed(ctx, id); err == nil && failed {
			continue
		}

		conv, skip, err := assembler.Assemble(ctx, d.reader, entry, id, time.Now())
		if err != nil {
			errored++
			metrics.CandidatesProcessed.WithLabelValues(entry.SourceKey, "error").Inc()
			_ = d.errors.Append(ctx, errlog.Entry{SourceID: id, Message: err.Error(), Kind: errlog.KindAssemblyRejected})
			continue
		}
		if skip != assembler.SkipNone {
			rejected++
			metrics.CandidatesProcessed.WithLabelValues(entry.SourceKey, "rejected").Inc()
			_ = d.errors.Append(ctx, errlog.Entry{SourceID: id, Message: string(skip), Kind: errlog.KindAssemblyRejected})
			_ = d.store.Mark(ctx, id, "rejected:"+string(skip), time.Now())
			continue
		}

		if _, err := d.dispatcher.Dispatch(ctx, conv); err != nil {
			errored++
			metrics.DispatchSendFailures.Inc()
			metrics.CandidatesProcessed.WithLabelValues(entry.SourceKey, "send_failed").Inc()
			if _, failErr := d.store.RecordSendFailure(ctx, id, err.Error(), d.cfg.MaxSendFailures); failErr != nil {
				slog.Error("cdcloop: record send failure", "source_id", id, "error", failErr)
			}
			continue
		}
		_ = d.store.ClearSendFailures(ctx, id)
		metrics.CandidatesProcessed.WithLabelValues(entry.SourceKey, "dispatched").Inc()
		dispatched++
	}
	return dispatched, rejected, errored
}
