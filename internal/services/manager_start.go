package services

import (
	"context"
)

// Start launches the selected services. It returns immediately; call
// Shutdown to stop them.
func (m *Manager) Start(ctx context.Context) {
	loopCtx, loopCancel := context.WithCancel(ctx)
	m.loopCancel = loopCancel

	if m.processor != nil {
		// The writer outlives the consumer loop so Shutdown can drain it.
		writerCtx, writerCancel := context.WithCancel(context.WithoutCancel(ctx))
		m.writerCancel = writerCancel
		m.writerDone = make(chan struct{})
		go func() {
			defer close(m.writerDone)
			m.processor.Writer().Run(writerCtx)
		}()
	}

	if m.adapter != nil {
		m.goLoop("source", func() error { return m.adapter.Run(loopCtx) })
	}
	if m.consumer != nil {
		m.goLoop("consumer", func() error { return m.consumer.Run(loopCtx) })
	}
	if m.scheduler != nil {
		m.scheduler.Start(loopCtx)
	}
	if m.warmer != nil && m.opts.RunWarmup && m.cfg.HotKey.WarmupEnabled {
		m.warmer.Start(loopCtx)
	}
	if m.server != nil {
		m.goLoop("http", func() error { return m.server.Start(loopCtx) })
	}
}

func (m *Manager) goLoop(name string, run func() error) {
	m.loops.Add(1)
	go func() {
		defer m.loops.Done()
		if err := run(); err != nil {
			m.logger.Error("Service stopped with error", "service", name, "error", err)
			return
		}
		m.logger.Info("Service stopped", "service", name)
	}()
}
