package cli

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scalytics/cdcbridge/internal/catalog"
	"github.com/scalytics/cdcbridge/internal/cdcloop"
	"github.com/scalytics/cdcbridge/internal/cdcstore"
	"github.com/scalytics/cdcbridge/internal/config"
	"github.com/scalytics/cdcbridge/internal/destsink"
	"github.com/scalytics/cdcbridge/internal/dispatch"
	"github.com/scalytics/cdcbridge/internal/errlog"
	"github.com/scalytics/cdcbridge/internal/ingest"
	"github.com/scalytics/cdcbridge/internal/objectstore"
	"github.com/scalytics/cdcbridge/internal/queue"
)

// services bundles everything a CDC/backfill/ingest command needs,
// built from one config.Config so every subcommand wires itself the
// same way.
type services struct {
	cfg      *config.Config
	cat      *catalog.Catalog
	sourceDB *sql.DB
	reader   *cdcloop.SQLReader
	store    *cdcstore.Store
	sink     *destsink.Sink
	errors   *errlog.Log

	producer queue.Producer
	consumer queue.Consumer

	dispatcher *dispatch.Dispatcher
	ingestor   *ingest.Ingestor
}

// newServices loads config and opens every connection a pipeline
// command needs. Callers are responsible for calling close().
func newServices() (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	sourceDB, err := sql.Open(cfg.Source.Driver, cfg.Source.DataSourceName())
	if err != nil {
		return nil, fmt.Errorf("open source db: %w", err)
	}

	store, err := cdcstore.Open(cfg.Destination.StoreDBPath)
	if err != nil {
		sourceDB.Close()
		return nil, fmt.Errorf("open cdc store: %w", err)
	}

	sink, err := destsink.Open(cfg.Destination.DBPath)
	if err != nil {
		sourceDB.Close()
		store.Close()
		return nil, fmt.Errorf("open destination sink: %w", err)
	}

	errors := errlog.New(store)
	producer := queue.NewKafkaProducer(cfg.Queue.Brokers, cfg.Queue.OutboundTopic)
	consumer := queue.NewKafkaConsumer(cfg.Queue.Brokers, cfg.Queue.ConsumerGroup, cfg.Queue.InboundTopic, 5*time.Second)

	reader := cdcloop.NewSQLReader(sourceDB)
	cat := catalog.Default()
	dispatcher := dispatch.New(producer, store, errors)
	ingestor := ingest.New(consumer, cat, dispatcher, nil, sink, errors)

	return &services{
		cfg:        cfg,
		cat:        cat,
		sourceDB:   sourceDB,
		reader:     reader,
		store:      store,
		sink:       sink,
		errors:     errors,
		producer:   producer,
		consumer:   consumer,
		dispatcher: dispatcher,
		ingestor:   ingestor,
	}, nil
}

func (s *services) close() {
	s.producer.Close()
	s.consumer.Close()
	s.store.Close()
	s.sink.Close()
	s.sourceDB.Close()
}

// objectStore returns the approval channel's config-artifact store.
func (s *services) objectStore() objectstore.Store {
	return objectstore.NewLocalFS(s.cfg.ObjectStore.BaseDir)
}
