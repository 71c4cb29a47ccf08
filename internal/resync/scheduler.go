package resync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs the startup full sync and periodic incremental syncs of
// every configured table.
type Scheduler struct {
	orch   *Orchestrator
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(orch *Orchestrator, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{orch: orch, cfg: cfg, logger: logger.With("component", "resync-scheduler")}
}

// Start launches the scheduling loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop cancels running syncs and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	if s.cfg.StartupFullSync {
		s.runAll(ctx, StrategyFull)
	}
	if s.cfg.IncrementalInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.cfg.IncrementalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx, StrategyIncremental)
		}
	}
}

func (s *Scheduler) runAll(ctx context.Context, strategy Strategy) {
	for _, t := range s.orch.Tables() {
		if ctx.Err() != nil {
			return
		}
		// failures are logged by the orchestrator
		_, _ = s.orch.Run(ctx, Request{Strategy: strategy, Table: t.Index()})
	}
}
