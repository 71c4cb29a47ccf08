package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/syntrixbase/searchsync/internal/core/pubsub"
)

var _ pubsub.Provider = (*Engine)(nil)

// Engine is an in-memory broker. Streams retain every message; each durable
// consumer keeps its own queue of unacknowledged deliveries.
type Engine struct {
	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
}

type stream struct {
	name    string
	subject string // "<prefix>.>"
	log     []*record
	seenIDs map[string]struct{}
	durable map[string]*durable
}

type record struct {
	subject   string
	data      []byte
	timestamp time.Time
}

type durable struct {
	name   string
	filter string
	queue  []*memoryMessage
	notify chan struct{}
}

// New creates a new in-memory pubsub engine.
func New() *Engine {
	return &Engine{streams: make(map[string]*stream)}
}

// NewPublisher creates a publisher and its stream.
func (e *Engine) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if opts.StreamName != "" {
		prefix := opts.SubjectPrefix
		if prefix == "" {
			prefix = opts.StreamName
		}
		e.ensureStreamLocked(opts.StreamName, prefix)
	}
	return &memoryPublisher{engine: e, opts: opts}, nil
}

// NewConsumer creates a durable batch consumer. A new durable starts from
// the beginning of the stream.
func (e *Engine) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if opts.StreamName == "" {
		opts.StreamName = "default"
	}
	if opts.ConsumerName == "" {
		opts.ConsumerName = "consumer"
	}
	if opts.FilterSubject == "" {
		opts.FilterSubject = opts.StreamName + ".>"
	}

	s := e.ensureStreamLocked(opts.StreamName, prefixOf(opts.FilterSubject))
	d, ok := s.durable[opts.ConsumerName]
	if !ok {
		d = &durable{name: opts.ConsumerName, filter: opts.FilterSubject, notify: make(chan struct{}, 1)}
		for _, r := range s.log {
			if matchSubject(d.filter, r.subject) {
				d.queue = append(d.queue, newMessage(e, s, d, r))
			}
		}
		s.durable[opts.ConsumerName] = d
	}
	return &memoryConsumer{engine: e, durable: d}, nil
}

// Close shuts down the engine. Pending fetches return.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for _, s := range e.streams {
		for _, d := range s.durable {
			d.signal()
		}
	}
	return nil
}

// IsClosed returns true if the engine is closed.
func (e *Engine) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// StreamLen returns how many messages a stream has retained.
func (e *Engine) StreamLen(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.streams[name]; ok {
		return len(s.log)
	}
	return 0
}

func (e *Engine) ensureStreamLocked(name, prefix string) *stream {
	if s, ok := e.streams[name]; ok {
		return s
	}
	s := &stream{
		name:    name,
		subject: prefix + ".>",
		seenIDs: make(map[string]struct{}),
		durable: make(map[string]*durable),
	}
	e.streams[name] = s
	return s
}

func (e *Engine) publish(ctx context.Context, subject string, data []byte, msgID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	delivered := false
	for _, s := range e.streams {
		if !matchSubject(s.subject, subject) {
			continue
		}
		delivered = true
		if msgID != "" {
			if _, dup := s.seenIDs[msgID]; dup {
				continue
			}
			s.seenIDs[msgID] = struct{}{}
		}
		r := &record{subject: subject, data: append([]byte(nil), data...), timestamp: time.Now()}
		s.log = append(s.log, r)
		for _, d := range s.durable {
			if matchSubject(d.filter, subject) {
				d.queue = append(d.queue, newMessage(e, s, d, r))
				d.signal()
			}
		}
	}
	if !delivered {
		return ErrNoStream
	}
	return nil
}

// requeue puts a nak'ed message back at the head of its durable's queue.
func (e *Engine) requeue(m *memoryMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	m.durable.queue = append([]*memoryMessage{m}, m.durable.queue...)
	m.durable.signal()
}

func (d *durable) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func prefixOf(filter string) string {
	if i := strings.IndexAny(filter, "*>"); i > 0 {
		return strings.TrimSuffix(filter[:i], ".")
	}
	return filter
}
