package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchsync/internal/core/pubsub"
	"github.com/syntrixbase/searchsync/internal/core/pubsub/memory"
	"github.com/syntrixbase/searchsync/internal/events"
	"github.com/syntrixbase/searchsync/internal/searchindex"
)

type fakeMessage struct {
	data    []byte
	subject string

	mu      sync.Mutex
	acked   bool
	nakked  bool
	delay   time.Duration
	settles int
}

func (m *fakeMessage) Data() []byte    { return m.data }
func (m *fakeMessage) Subject() string { return m.subject }
func (m *fakeMessage) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = true
	m.settles++
	return nil
}
func (m *fakeMessage) Nak() error { return m.NakWithDelay(0) }
func (m *fakeMessage) NakWithDelay(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nakked = true
	m.delay = d
	m.settles++
	return nil
}
func (m *fakeMessage) Term() error { return nil }
func (m *fakeMessage) Metadata() (pubsub.MessageMetadata, error) {
	return pubsub.MessageMetadata{Subject: m.subject}, nil
}

type fakeGuard struct {
	mu        sync.Mutex
	processed map[string]bool
}

func newFakeGuard(ids ...string) *fakeGuard {
	g := &fakeGuard{processed: make(map[string]bool)}
	for _, id := range ids {
		g.processed[id] = true
	}
	return g
}

func (g *fakeGuard) IsProcessed(_ context.Context, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.processed[id]
}

func (g *fakeGuard) MarkProcessed(_ context.Context, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.processed[id] = true
}

type sentLetter struct {
	messageID string
	subject   string
	retryable bool
	raw       []byte
}

type fakeDLQ struct {
	mu   sync.Mutex
	sent []sentLetter
	fail bool
}

func (d *fakeDLQ) Send(_ context.Context, msg *events.DataChangeMessage, _ error, retryable bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return false
	}
	d.sent = append(d.sent, sentLetter{messageID: msg.MessageID, subject: msg.Subject(), retryable: retryable})
	return true
}

func (d *fakeDLQ) SendRaw(_ context.Context, subject string, payload []byte, _ error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return false
	}
	d.sent = append(d.sent, sentLetter{subject: subject, raw: payload})
	return true
}

// docIndex keeps the last document written per index and id.
type docIndex struct {
	searchindex.Index
	mu   sync.Mutex
	docs map[string]map[string]map[string]any
	fail map[string]error
}

func newDocIndex() *docIndex {
	return &docIndex{docs: make(map[string]map[string]map[string]any), fail: make(map[string]error)}
}

func (x *docIndex) Bulk(_ context.Context, index string, ops []searchindex.Op) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.fail[index]; err != nil {
		return err
	}
	if x.docs[index] == nil {
		x.docs[index] = make(map[string]map[string]any)
	}
	for _, op := range ops {
		if op.Type == searchindex.OpDelete {
			delete(x.docs[index], op.ID)
			continue
		}
		x.docs[index][op.ID] = op.Doc
	}
	return nil
}

func (x *docIndex) doc(index, id string) (map[string]any, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	d, ok := x.docs[index][id]
	return d, ok
}

func (x *docIndex) count(index string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.docs[index])
}

func change(op events.OperationType, table, pk string, ts int64, fields ...events.Field) *events.DataChangeMessage {
	msg := &events.DataChangeMessage{
		MessageID:     events.BuildMessageID("t", table, pk, ts),
		OperationType: op,
		Database:      "t",
		Table:         table,
		PrimaryKey:    pk,
		Timestamp:     ts,
	}
	row := append(events.Row{{Name: "id", Value: pk}}, fields...)
	if op == events.OperationDelete {
		msg.BeforeData = row
	} else {
		msg.AfterData = row
	}
	return msg
}

func toMessage(t *testing.T, msg *events.DataChangeMessage) *fakeMessage {
	t.Helper()
	data, err := msg.Encode()
	require.NoError(t, err)
	return &fakeMessage{data: data, subject: "cdc." + msg.Subject()}
}

func newProcessor(idx searchindex.Index, guard Deduper, dlq DeadLetterRouter) *Processor {
	cfg := DefaultConfig()
	cfg.RedeliveryDelay = 7 * time.Second
	return NewProcessor(idx, guard, dlq, cfg, nil)
}

func asMessages(in ...*fakeMessage) []pubsub.Message {
	out := make([]pubsub.Message, len(in))
	for i, m := range in {
		out[i] = m
	}
	return out
}

func TestProcessor_AppliesAndMarksProcessed(t *testing.T) {
	idx := newDocIndex()
	guard := newFakeGuard()
	p := newProcessor(idx, guard, &fakeDLQ{})

	insert := change(events.OperationInsert, "tpl", "42", 1000, events.Field{Name: "name", Value: "x"})
	m := toMessage(t, insert)

	result := p.ProcessBatch(context.Background(), asMessages(m))

	assert.Equal(t, BatchResult{Applied: 1}, result)
	doc, ok := idx.doc("t_tpl", "42")
	require.True(t, ok)
	assert.Equal(t, "x", doc["name"])
	assert.True(t, guard.IsProcessed(context.Background(), "t.tpl.42.1000"))
	assert.True(t, m.acked)
	assert.Equal(t, 1, m.settles)
}

func TestProcessor_SkipsDuplicates(t *testing.T) {
	idx := newDocIndex()
	p := newProcessor(idx, newFakeGuard("t.tpl.1.1000"), &fakeDLQ{})

	m := toMessage(t, change(events.OperationInsert, "tpl", "1", 1000))
	result := p.ProcessBatch(context.Background(), asMessages(m))

	assert.Equal(t, BatchResult{Duplicates: 1}, result)
	assert.Zero(t, idx.count("t_tpl"))
	assert.True(t, m.acked)
}

func TestProcessor_MalformedGoesToDeadLetterAsNonRetryable(t *testing.T) {
	dlq := &fakeDLQ{}
	p := newProcessor(newDocIndex(), newFakeGuard(), dlq)

	m := &fakeMessage{data: []byte("{broken"), subject: "cdc.t.tpl"}
	result := p.ProcessBatch(context.Background(), asMessages(m))

	assert.Equal(t, BatchResult{DeadLettered: 1}, result)
	require.Len(t, dlq.sent, 1)
	assert.Equal(t, "cdc.t.tpl", dlq.sent[0].subject)
	assert.Equal(t, []byte("{broken"), dlq.sent[0].raw)
	assert.False(t, dlq.sent[0].retryable)
	assert.True(t, m.acked)
}

func TestProcessor_IndexFailureGoesToDeadLetterAsRetryable(t *testing.T) {
	idx := newDocIndex()
	idx.fail["t_bad"] = errors.New("index unavailable")
	guard := newFakeGuard()
	dlq := &fakeDLQ{}
	p := newProcessor(idx, guard, dlq)

	bad := toMessage(t, change(events.OperationInsert, "bad", "1", 1000))
	good := toMessage(t, change(events.OperationInsert, "tpl", "2", 1000))
	result := p.ProcessBatch(context.Background(), asMessages(bad, good))

	assert.Equal(t, BatchResult{Applied: 1, DeadLettered: 1}, result)
	require.Len(t, dlq.sent, 1)
	assert.Equal(t, "t.bad.1.1000", dlq.sent[0].messageID)
	assert.True(t, dlq.sent[0].retryable)
	assert.False(t, guard.IsProcessed(context.Background(), "t.bad.1.1000"))
	assert.True(t, guard.IsProcessed(context.Background(), "t.tpl.2.1000"))
	assert.True(t, bad.acked)
	assert.True(t, good.acked)
}

func TestProcessor_DeadLetterFailureRedelivers(t *testing.T) {
	p := newProcessor(newDocIndex(), newFakeGuard(), &fakeDLQ{fail: true})

	m := &fakeMessage{data: []byte("nope"), subject: "cdc.t.tpl"}
	result := p.ProcessBatch(context.Background(), asMessages(m))

	assert.Equal(t, BatchResult{Redelivered: 1}, result)
	assert.False(t, m.acked)
	assert.True(t, m.nakked)
	assert.Equal(t, 7*time.Second, m.delay)
}

func TestProcessor_KeepsPerRowOrder(t *testing.T) {
	idx := newDocIndex()
	p := newProcessor(idx, newFakeGuard(), &fakeDLQ{})

	var msgs []*fakeMessage
	for v := 1; v <= 20; v++ {
		for row := 0; row < 5; row++ {
			pk := fmt.Sprintf("%d", row)
			msgs = append(msgs, toMessage(t, change(events.OperationUpdate, "tpl", pk, int64(v),
				events.Field{Name: "version", Value: int64(v)})))
		}
	}
	// row 4 ends deleted
	msgs = append(msgs, toMessage(t, change(events.OperationDelete, "tpl", "4", 21)))

	result := p.ProcessBatch(context.Background(), asMessages(msgs...))
	assert.Equal(t, 101, result.Applied)

	for row := 0; row < 4; row++ {
		doc, ok := idx.doc("t_tpl", fmt.Sprintf("%d", row))
		require.True(t, ok)
		assert.Equal(t, int64(20), doc["version"])
	}
	_, ok := idx.doc("t_tpl", "4")
	assert.False(t, ok)
}

func TestProcessor_LogicalDeleteRemovesDocument(t *testing.T) {
	idx := newDocIndex()
	p := newProcessor(idx, newFakeGuard(), &fakeDLQ{})

	insert := toMessage(t, change(events.OperationInsert, "tpl", "9", 1, events.Field{Name: "deleted", Value: int64(0)}))
	p.ProcessBatch(context.Background(), asMessages(insert))
	_, ok := idx.doc("t_tpl", "9")
	require.True(t, ok)

	softDelete := toMessage(t, change(events.OperationUpdate, "tpl", "9", 2, events.Field{Name: "deleted", Value: int64(1)}))
	p.ProcessBatch(context.Background(), asMessages(softDelete))
	_, ok = idx.doc("t_tpl", "9")
	assert.False(t, ok)
}

func TestPartition(t *testing.T) {
	assert.Equal(t, 0, Partition("t.tpl:1", 1))
	assert.Equal(t, 0, Partition("t.tpl:1", 0))
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("t.tpl:%d", i)
		w := Partition(key, 3)
		assert.GreaterOrEqual(t, w, 0)
		assert.Less(t, w, 3)
		assert.Equal(t, w, Partition(key, 3))
	}
}

func TestConsumer_RunDrainsStream(t *testing.T) {
	engine := memory.New()
	defer engine.Close()

	cfg := DefaultConfig()
	cfg.FetchWait = 20 * time.Millisecond

	pub, err := engine.NewPublisher(pubsub.PublisherOptions{
		StreamName:    events.ChangeStream,
		SubjectPrefix: events.ChangeSubjectPrefix,
	})
	require.NoError(t, err)
	source, err := engine.NewConsumer(cfg.ConsumerOptions())
	require.NoError(t, err)

	changes := events.NewChangePublisher(pub)
	for i := 0; i < 10; i++ {
		require.NoError(t, changes.Publish(context.Background(),
			change(events.OperationInsert, "tpl", fmt.Sprintf("%d", i), 1000)))
	}

	idx := newDocIndex()
	c := NewConsumer(source, NewProcessor(idx, newFakeGuard(), &fakeDLQ{}, cfg, nil), cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return idx.count("t_tpl") == 10 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
