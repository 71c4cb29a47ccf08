// Package services wires the components into runnable services and owns
// their lifecycle.
package services

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/syntrixbase/searchsync/internal/cache"
	"github.com/syntrixbase/searchsync/internal/checkpoint"
	"github.com/syntrixbase/searchsync/internal/config"
	"github.com/syntrixbase/searchsync/internal/core/pubsub"
	"github.com/syntrixbase/searchsync/internal/hotkey"
	"github.com/syntrixbase/searchsync/internal/pipeline"
	"github.com/syntrixbase/searchsync/internal/resync"
	"github.com/syntrixbase/searchsync/internal/retrieval"
	"github.com/syntrixbase/searchsync/internal/retrieval/vector"
	"github.com/syntrixbase/searchsync/internal/rowstore"
	"github.com/syntrixbase/searchsync/internal/searchindex"
	"github.com/syntrixbase/searchsync/internal/server"
	"github.com/syntrixbase/searchsync/internal/source"
	"github.com/syntrixbase/searchsync/internal/source/canal"
	"go.mongodb.org/mongo-driver/mongo"
)

// Options selects the services a process runs.
type Options struct {
	// RunSource tails the binlog and publishes change messages.
	RunSource bool
	// RunConsumer applies change messages to the search index.
	RunConsumer bool
	// RunAPI serves search and admin endpoints.
	RunAPI bool
	// RunWarmup refreshes the cache entries of hot queries.
	RunWarmup bool
	// RunScheduler runs startup and periodic resyncs.
	RunScheduler bool
}

// AllServices runs everything in one process.
func AllServices() Options {
	return Options{RunSource: true, RunConsumer: true, RunAPI: true, RunWarmup: true, RunScheduler: true}
}

func (o Options) needsBroker() bool { return o.RunSource || o.RunConsumer }
func (o Options) needsEngine() bool { return o.RunAPI || o.RunWarmup }
func (o Options) needsRedis() bool  { return o.RunConsumer || o.needsEngine() }
func (o Options) needsIndex() bool  { return o.RunConsumer || o.RunScheduler || o.needsEngine() }

// Manager builds the components selected by Options in Init, runs them in
// Start and tears them down in reverse order in Shutdown.
type Manager struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	redis       *redis.Client
	provider    pubsub.Provider
	index       *searchindex.Bleve
	db          *sql.DB
	mongo       *mongo.Client
	checkpoints *checkpoint.Store

	vectorSource *vector.Source

	connector    *canal.Connector
	adapter      *source.Adapter
	publishers   []pubsub.Publisher
	subscription pubsub.Consumer
	processor    *pipeline.Processor
	consumer     *pipeline.Consumer
	orchestrator *resync.Orchestrator
	scheduler    *resync.Scheduler
	cache        *cache.Cache
	detector     *hotkey.Detector
	engine       *retrieval.Engine
	warmer       *hotkey.Warmer
	server       *server.Server

	openDB func(rowstore.Config) (*sql.DB, error)

	loopCancel   context.CancelFunc
	writerCancel context.CancelFunc
	loops        sync.WaitGroup
	writerDone   chan struct{}
}

// NewManager creates a Manager. Call Init before Start.
func NewManager(cfg *config.Config, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With("component", "services"),
		openDB: rowstore.Open,
	}
}

// Engine returns the retrieval engine, or nil when no service needs it.
func (m *Manager) Engine() *retrieval.Engine {
	return m.engine
}

// Orchestrator returns the sync orchestrator, or nil when no database is
// configured.
func (m *Manager) Orchestrator() *resync.Orchestrator {
	return m.orchestrator
}

// HTTPHandler returns the API handler chain, or nil without RunAPI.
func (m *Manager) HTTPHandler() http.Handler {
	if m.server == nil {
		return nil
	}
	return m.server.Handler()
}
