package memory

import (
	"sync"
	"time"

	"github.com/syntrixbase/searchsync/internal/core/pubsub"
)

type deliveryState int

const (
	statePending deliveryState = iota
	stateInFlight
	stateAcked
	stateTermed
)

// memoryMessage implements pubsub.Message for one durable.
type memoryMessage struct {
	engine  *Engine
	stream  *stream
	durable *durable
	record  *record

	mu           sync.Mutex
	state        deliveryState
	numDelivered uint64
}

func newMessage(e *Engine, s *stream, d *durable, r *record) *memoryMessage {
	return &memoryMessage{engine: e, stream: s, durable: d, record: r}
}

func (m *memoryMessage) deliver() {
	m.mu.Lock()
	m.state = stateInFlight
	m.numDelivered++
	m.mu.Unlock()
}

func (m *memoryMessage) Data() []byte    { return m.record.data }
func (m *memoryMessage) Subject() string { return m.record.subject }

// Ack acknowledges successful processing.
func (m *memoryMessage) Ack() error {
	m.settle(stateAcked)
	return nil
}

// Term terminates the message (no redelivery).
func (m *memoryMessage) Term() error {
	m.settle(stateTermed)
	return nil
}

// Nak requeues the message for immediate redelivery.
func (m *memoryMessage) Nak() error {
	if m.release() {
		m.engine.requeue(m)
	}
	return nil
}

// NakWithDelay requeues the message after delay.
func (m *memoryMessage) NakWithDelay(delay time.Duration) error {
	if m.release() {
		time.AfterFunc(delay, func() { m.engine.requeue(m) })
	}
	return nil
}

// Metadata returns delivery metadata.
func (m *memoryMessage) Metadata() (pubsub.MessageMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return pubsub.MessageMetadata{
		NumDelivered: m.numDelivered,
		Timestamp:    m.record.timestamp,
		Subject:      m.record.subject,
		Stream:       m.stream.name,
		Consumer:     m.durable.name,
	}, nil
}

func (m *memoryMessage) settle(state deliveryState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateInFlight {
		m.state = state
	}
}

// release moves an in-flight message back to pending. Only the first
// settlement of a delivery counts.
func (m *memoryMessage) release() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateInFlight {
		return false
	}
	m.state = statePending
	return true
}
