package services

import (
	"context"
	"fmt"

	"github.com/syntrixbase/searchsync/internal/api"
	"github.com/syntrixbase/searchsync/internal/cache"
	"github.com/syntrixbase/searchsync/internal/checkpoint"
	"github.com/syntrixbase/searchsync/internal/core/rediskv"
	"github.com/syntrixbase/searchsync/internal/events"
	"github.com/syntrixbase/searchsync/internal/hotkey"
	"github.com/syntrixbase/searchsync/internal/pipeline"
	"github.com/syntrixbase/searchsync/internal/pipeline/dlq"
	"github.com/syntrixbase/searchsync/internal/pipeline/idempotency"
	"github.com/syntrixbase/searchsync/internal/resync"
	"github.com/syntrixbase/searchsync/internal/retrieval"
	"github.com/syntrixbase/searchsync/internal/retrieval/vector"
	"github.com/syntrixbase/searchsync/internal/rowstore"
	"github.com/syntrixbase/searchsync/internal/searchindex"
	"github.com/syntrixbase/searchsync/internal/server"
	"github.com/syntrixbase/searchsync/internal/source"
	"github.com/syntrixbase/searchsync/internal/source/canal"
)

// Init connects the infrastructure and builds the components. On error,
// whatever was opened is left for Shutdown to close.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.initInfrastructure(ctx); err != nil {
		return err
	}

	if m.opts.RunSource {
		if err := m.initSource(); err != nil {
			return err
		}
	}
	if m.opts.RunConsumer {
		if err := m.initConsumer(); err != nil {
			return err
		}
	}
	if m.db != nil {
		if err := m.initResync(); err != nil {
			return err
		}
	}
	if m.opts.needsEngine() {
		m.initRetrieval()
	}
	if m.opts.RunAPI {
		m.initAPI()
	}

	m.logger.Info("Services initialized",
		"source", m.opts.RunSource,
		"consumer", m.opts.RunConsumer,
		"api", m.opts.RunAPI,
		"warmup", m.opts.RunWarmup,
		"scheduler", m.opts.RunScheduler,
	)
	return nil
}

func (m *Manager) initInfrastructure(ctx context.Context) error {
	cfg := m.cfg

	if m.opts.needsRedis() {
		client, err := rediskv.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		m.redis = client
	}

	if m.opts.needsBroker() {
		provider, err := newProvider(ctx, cfg.Broker)
		if err != nil {
			return err
		}
		m.provider = provider
	}

	if m.opts.needsIndex() {
		index, err := searchindex.NewBleve(cfg.Index)
		if err != nil {
			return fmt.Errorf("failed to open search index: %w", err)
		}
		m.index = index
	}

	// The API exposes admin syncs whenever a system of record is configured;
	// the scheduler cannot run without one.
	if cfg.Database.DSN != "" && (m.opts.RunScheduler || m.opts.RunAPI) {
		db, err := m.openDB(cfg.Database)
		if err != nil {
			return err
		}
		m.db = db
	} else if m.opts.RunScheduler {
		return fmt.Errorf("scheduler needs database.dsn")
	}

	if m.opts.RunSource || m.db != nil {
		store, err := checkpoint.Open(cfg.Checkpoint, m.logger)
		if err != nil {
			return err
		}
		m.checkpoints = store
	}

	if cfg.Vector.Enabled && m.opts.needsEngine() {
		client, src, err := vector.Connect(ctx, cfg.Vector)
		if err != nil {
			return err
		}
		m.mongo = client
		m.vectorSource = src
	}
	return nil
}

func (m *Manager) initSource() error {
	changes, err := m.provider.NewPublisher(m.cfg.Broker.PublisherOptions(events.ChangeStream, events.ChangeSubjectPrefix))
	if err != nil {
		return fmt.Errorf("failed to create change publisher: %w", err)
	}
	m.publishers = append(m.publishers, changes)

	router, err := m.newDeadLetterRouter()
	if err != nil {
		return err
	}

	m.connector = canal.New(m.cfg.Source.Canal, m.checkpoints, m.logger)
	m.adapter = source.NewAdapter(m.connector, events.NewChangePublisher(changes), router, m.cfg.Source, m.logger)
	return nil
}

func (m *Manager) initConsumer() error {
	router, err := m.newDeadLetterRouter()
	if err != nil {
		return err
	}

	sub, err := m.provider.NewConsumer(m.cfg.Pipeline.ConsumerOptions())
	if err != nil {
		return fmt.Errorf("failed to create change consumer: %w", err)
	}
	m.subscription = sub

	guard := idempotency.New(m.redis, m.cfg.Pipeline.Idempotency, m.logger)
	m.processor = pipeline.NewProcessor(m.index, guard, router, m.cfg.Pipeline, m.logger)
	m.consumer = pipeline.NewConsumer(sub, m.processor, m.cfg.Pipeline, m.logger)
	return nil
}

// newDeadLetterRouter creates a router on its own publisher; the source and
// the consumer each get one.
func (m *Manager) newDeadLetterRouter() (*dlq.Router, error) {
	pub, err := m.provider.NewPublisher(m.cfg.Broker.PublisherOptions(events.DeadLetterStream, events.DeadLetterSubjectPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to create dead-letter publisher: %w", err)
	}
	m.publishers = append(m.publishers, pub)
	return dlq.New(pub, 0, m.logger), nil
}

func (m *Manager) initResync() error {
	store, err := rowstore.NewStore(m.db, m.cfg.Database.Driver)
	if err != nil {
		return err
	}
	m.orchestrator = resync.NewOrchestrator(store, m.index, m.cfg.Database.Tables, m.checkpoints, m.cfg.Resync, m.logger)
	if m.opts.RunScheduler {
		m.scheduler = resync.NewScheduler(m.orchestrator, m.cfg.Resync, m.logger)
	}
	return nil
}

func (m *Manager) initRetrieval() {
	cfg := m.cfg

	indexes := cfg.Retrieval.Indexes
	if len(indexes) == 0 {
		for _, t := range cfg.Database.Tables {
			indexes = append(indexes, t.Index())
		}
	}

	m.cache = cache.New(m.redis, cfg.Cache, m.logger)
	m.detector = hotkey.NewDetector(m.redis, cfg.HotKey, m.logger)

	opts := []retrieval.Option{
		retrieval.WithLexical(retrieval.NewLexical(m.index, indexes, cfg.Index)),
		retrieval.WithCache(m.cache),
		retrieval.WithAccessRecorder(m.detector),
	}
	if m.vectorSource != nil {
		var embedder retrieval.Embedder = retrieval.HashEmbedder{Dimension: cfg.Retrieval.Embedding.Dimension}
		if cfg.Retrieval.Embedding.URL != "" {
			embedder = retrieval.NewHTTPEmbedder(cfg.Retrieval.Embedding)
		}
		opts = append(opts, retrieval.WithVector(m.vectorSource, embedder))
	}
	if cfg.Retrieval.Rerank.Enabled {
		opts = append(opts, retrieval.WithReranker(retrieval.NewHTTPReranker(cfg.Retrieval.Rerank, m.logger)))
	}
	m.engine = retrieval.NewEngine(cfg.Retrieval, m.logger, opts...)

	m.warmer = hotkey.NewWarmer(m.detector, m.cache, m.engine, cfg.HotKey, m.logger)
}

func (m *Manager) initAPI() {
	opts := []api.Option{
		api.WithCache(m.cache),
		api.WithWarmer(m.warmer),
		api.WithHealthCheck("redis", func(ctx context.Context) error {
			return m.redis.Ping(ctx).Err()
		}),
	}
	if m.orchestrator != nil {
		opts = append(opts,
			api.WithSyncer(m.orchestrator),
			api.WithHealthCheck("database", m.db.PingContext),
		)
	}
	if m.mongo != nil {
		opts = append(opts, api.WithHealthCheck("vector", func(ctx context.Context) error {
			return m.mongo.Ping(ctx, nil)
		}))
	}

	m.server = server.New(m.cfg.Server, m.logger)
	api.NewHandler(m.engine, m.logger, opts...).RegisterRoutes(m.server)
}
