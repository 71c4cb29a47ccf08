// Package canal reads row changes from the MySQL binlog through go-mysql's
// canal and serves them as entry batches.
package canal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/syntrixbase/searchsync/internal/checkpoint"
	"github.com/syntrixbase/searchsync/internal/source/entry"
)

var errClosed = errors.New("connector is closed")

// PositionStore persists the binlog position acknowledged batches reached.
type PositionStore interface {
	LoadPosition(source string) (checkpoint.Position, error)
	SavePosition(source string, pos checkpoint.Position) error
}

// binlogCanal is the part of *canal.Canal the connector drives.
type binlogCanal interface {
	SetEventHandler(h canal.EventHandler)
	GetMasterPos() (mysql.Position, error)
	RunFrom(pos mysql.Position) error
	Close()
}

type item struct {
	entry entry.Entry
	// pos is set on transaction-end markers: the position to resume from
	// once everything before the marker is acknowledged.
	pos *checkpoint.Position
}

// Connector implements entry.Connector over a binlog stream.
type Connector struct {
	cfg      Config
	store    PositionStore
	logger   *slog.Logger
	newCanal func(*canal.Config) (binlogCanal, error)
	now      func() time.Time

	canal  binlogCanal
	events chan item
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	requeued []item
	inflight map[int64][]item
	nextID   int64
	runErr   error
}

var _ entry.Connector = (*Connector)(nil)

// New creates a Connector. Call Connect to start reading.
func New(cfg Config, store PositionStore, logger *slog.Logger) *Connector {
	return newConnector(cfg, store, logger, func(c *canal.Config) (binlogCanal, error) {
		cn, err := canal.NewCanal(c)
		if err != nil {
			return nil, err
		}
		return cn, nil
	})
}

func newConnector(cfg Config, store PositionStore, logger *slog.Logger, factory func(*canal.Config) (binlogCanal, error)) *Connector {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		cfg:      cfg,
		store:    store,
		logger:   logger.With("component", "canal", "source", cfg.Name),
		newCanal: factory,
		now:      time.Now,
		events:   make(chan item, cfg.Buffer),
		done:     make(chan struct{}),
		inflight: make(map[int64][]item),
	}
}

func (c *Connector) canalConfig() *canal.Config {
	cc := canal.NewDefaultConfig()
	cc.Addr = c.cfg.Addr
	cc.User = c.cfg.User
	cc.Password = c.cfg.Password
	cc.Flavor = c.cfg.Flavor
	cc.ServerID = c.cfg.ServerID
	cc.IncludeTableRegex = c.cfg.IncludeTables
	cc.ExcludeTableRegex = c.cfg.ExcludeTables
	// binlog only, no initial mysqldump
	cc.Dump.ExecutionPath = ""
	return cc
}

// Connect resumes from the saved position, or from the current master
// position when none was saved, and starts reading in the background.
func (c *Connector) Connect(ctx context.Context) error {
	saved, err := c.store.LoadPosition(c.cfg.Name)
	if err != nil {
		return fmt.Errorf("failed to load binlog position: %w", err)
	}

	cn, err := c.newCanal(c.canalConfig())
	if err != nil {
		return fmt.Errorf("failed to create canal: %w", err)
	}
	cn.SetEventHandler(&eventHandler{conn: c})

	start := mysql.Position{Name: saved.File, Pos: saved.Offset}
	if saved.IsZero() {
		if start, err = cn.GetMasterPos(); err != nil {
			cn.Close()
			return fmt.Errorf("failed to read master position: %w", err)
		}
	}
	c.canal = cn

	c.logger.Info("Binlog connector starting", "file", start.Name, "offset", start.Pos)
	go func() {
		err := cn.RunFrom(start)
		select {
		case <-c.done:
			return
		default:
		}
		if err == nil {
			err = errors.New("binlog stream ended")
		}
		c.logger.Error("Binlog stream stopped", "error", err)
		c.mu.Lock()
		c.runErr = err
		c.mu.Unlock()
	}()
	return nil
}

// Get returns up to max entries, waiting at most wait for the first one.
// Rolled-back entries are returned first.
func (c *Connector) Get(ctx context.Context, max int, wait time.Duration) (entry.Batch, error) {
	c.mu.Lock()
	if c.runErr != nil {
		err := c.runErr
		c.mu.Unlock()
		return entry.Batch{}, err
	}
	n := min(max, len(c.requeued))
	items := append([]item(nil), c.requeued[:n]...)
	c.requeued = c.requeued[n:]
	c.mu.Unlock()

	if len(items) == 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case it := <-c.events:
			items = append(items, it)
		case <-timer.C:
			return entry.Batch{}, nil
		case <-ctx.Done():
			return entry.Batch{}, ctx.Err()
		case <-c.done:
			return entry.Batch{}, errClosed
		}
	}

drain:
	for len(items) < max {
		select {
		case it := <-c.events:
			items = append(items, it)
		default:
			break drain
		}
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.inflight[id] = items
	c.mu.Unlock()

	batch := entry.Batch{ID: id, Entries: make([]entry.Entry, len(items))}
	for i, it := range items {
		batch.Entries[i] = it.entry
	}
	return batch, nil
}

// Ack releases the batch and saves the last position it reached.
func (c *Connector) Ack(_ context.Context, batchID int64) error {
	c.mu.Lock()
	items, ok := c.inflight[batchID]
	delete(c.inflight, batchID)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	var last *checkpoint.Position
	for _, it := range items {
		if it.pos != nil {
			last = it.pos
		}
	}
	if last == nil {
		return nil
	}
	if err := c.store.SavePosition(c.cfg.Name, *last); err != nil {
		return fmt.Errorf("failed to save binlog position: %w", err)
	}
	return nil
}

// Rollback puts the batch back in front of the stream.
func (c *Connector) Rollback(_ context.Context, batchID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.inflight[batchID]
	if !ok {
		return nil
	}
	delete(c.inflight, batchID)
	c.requeued = append(items, c.requeued...)
	return nil
}

// Close stops the binlog stream.
func (c *Connector) Close() error {
	c.once.Do(func() {
		close(c.done)
		if c.canal != nil {
			c.canal.Close()
		}
	})
	return nil
}

func (c *Connector) push(it item) error {
	select {
	case c.events <- it:
		return nil
	case <-c.done:
		return errClosed
	}
}

type eventHandler struct {
	canal.DummyEventHandler
	conn *Connector
}

func (h *eventHandler) OnRow(e *canal.RowsEvent) error {
	return h.conn.push(item{entry: toEntry(e, h.conn.now())})
}

func (h *eventHandler) OnPosSynced(_ *replication.EventHeader, pos mysql.Position, _ mysql.GTIDSet, _ bool) error {
	p := checkpoint.Position{File: pos.Name, Offset: pos.Pos}
	return h.conn.push(item{entry: entry.Entry{Type: entry.TransactionEnd}, pos: &p})
}

func (h *eventHandler) String() string {
	return "searchsync"
}
