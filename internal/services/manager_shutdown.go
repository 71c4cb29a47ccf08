package services

import (
	"context"
	"io"
)

// Shutdown stops services in reverse start order, drains the bulk writer
// and closes the infrastructure. It is safe to call after a failed Init.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.server != nil {
		if err := m.server.Stop(ctx); err != nil {
			m.logger.Error("Failed to stop HTTP server", "error", err)
		}
	}
	if m.warmer != nil {
		m.warmer.Stop()
	}
	if m.scheduler != nil {
		m.scheduler.Stop()
	}

	if m.loopCancel != nil {
		m.loopCancel()
	}
	m.wait(ctx, "service loops", func() { m.loops.Wait() })

	if m.writerCancel != nil {
		m.writerCancel()
		m.wait(ctx, "bulk writer", func() { <-m.writerDone })
	}

	if m.subscription != nil {
		m.close("change subscription", m.subscription)
	}
	for _, pub := range m.publishers {
		m.close("publisher", pub)
	}
	if m.connector != nil {
		m.close("binlog connector", m.connector)
	}
	if m.provider != nil {
		m.close("broker", m.provider)
	}
	if m.index != nil {
		m.close("search index", m.index)
	}
	if m.checkpoints != nil {
		m.close("checkpoint store", m.checkpoints)
	}
	if m.db != nil {
		m.close("database", m.db)
	}
	if m.mongo != nil {
		if err := m.mongo.Disconnect(ctx); err != nil {
			m.logger.Error("Failed to disconnect MongoDB", "error", err)
		}
	}
	if m.redis != nil {
		m.close("redis", m.redis)
	}

	m.logger.Info("Services stopped")
}

func (m *Manager) wait(ctx context.Context, what string, fn func()) {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timed out waiting for shutdown", "what", what)
	}
}

func (m *Manager) close(what string, c io.Closer) {
	if err := c.Close(); err != nil {
		m.logger.Error("Failed to close", "what", what, "error", err)
	}
}
