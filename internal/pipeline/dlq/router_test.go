package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchsync/internal/core/pubsub"
	"github.com/syntrixbase/searchsync/internal/core/pubsub/memory"
	"github.com/syntrixbase/searchsync/internal/events"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, subject string, data []byte, opts ...pubsub.PublishOption) error {
	args := m.Called(ctx, subject, data)
	return args.Error(0)
}

func (m *mockPublisher) Close() error { return nil }

func newDeadLetterStream(t *testing.T) (*Router, pubsub.Consumer) {
	t.Helper()
	engine := memory.New()
	t.Cleanup(func() { engine.Close() })

	pub, err := engine.NewPublisher(pubsub.PublisherOptions{
		StreamName:    events.DeadLetterStream,
		SubjectPrefix: events.DeadLetterSubjectPrefix,
	})
	require.NoError(t, err)
	c, err := engine.NewConsumer(pubsub.ConsumerOptions{
		StreamName:    events.DeadLetterStream,
		ConsumerName:  "dlq-test",
		FilterSubject: events.DeadLetterSubjectPrefix + ".>",
	})
	require.NoError(t, err)

	r := New(pub, time.Second, nil)
	r.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return r, c
}

func sampleMessage() *events.DataChangeMessage {
	return &events.DataChangeMessage{
		MessageID:     "t.tpl.42.1700000000000",
		OperationType: events.OperationUpdate,
		Database:      "t",
		Table:         "tpl",
		PrimaryKey:    "42",
		BeforeData:    events.Row{{Name: "id", Value: int64(42)}, {Name: "name", Value: "old"}},
		AfterData:     events.Row{{Name: "id", Value: int64(42)}, {Name: "name", Value: "new"}},
		Timestamp:     1700000000000,
	}
}

func TestRouter_SendPreservesFields(t *testing.T) {
	r, c := newDeadLetterStream(t)
	ctx := context.Background()

	ok := r.Send(ctx, sampleMessage(), errors.New("bulk timeout"), true)
	require.True(t, ok)

	msgs, err := c.Fetch(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "dlq.t.tpl", msgs[0].Subject())

	var dl events.DeadLetterMessage
	require.NoError(t, json.Unmarshal(msgs[0].Data(), &dl))
	assert.Equal(t, "t.tpl.42.1700000000000.dlq", dl.MessageID)
	assert.Equal(t, "t.tpl.42.1700000000000", dl.OriginalMessageID)
	assert.Equal(t, events.OperationUpdate, dl.OperationType)
	assert.Equal(t, "42", dl.PrimaryKey)
	assert.Equal(t, int64(1700000000000), dl.Timestamp)
	assert.Equal(t, int64(1700000000123), dl.CapturedAt)
	assert.True(t, dl.Retryable)
	assert.Equal(t, "bulk timeout", dl.Error)
	v, _ := dl.AfterData.Get("name")
	assert.Equal(t, "new", v)
	v, _ = dl.BeforeData.Get("name")
	assert.Equal(t, "old", v)
}

func TestRouter_SendRaw(t *testing.T) {
	r, c := newDeadLetterStream(t)
	ctx := context.Background()

	ok := r.SendRaw(ctx, "cdc.t.tpl", []byte("{not json"), events.ErrMalformed)
	require.True(t, ok)

	msgs, err := c.Fetch(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "dlq.t.tpl", msgs[0].Subject())

	var dl events.DeadLetterMessage
	require.NoError(t, json.Unmarshal(msgs[0].Data(), &dl))
	assert.False(t, dl.Retryable)
	assert.Equal(t, []byte("{not json"), dl.Raw)
	assert.Contains(t, dl.Error, "malformed")
}

func TestRouter_SendFailureReturnsFalse(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, "t.tpl", mock.Anything).Return(errors.New("broker down"))
	r := New(pub, 0, nil)

	assert.False(t, r.Send(context.Background(), sampleMessage(), errors.New("x"), false))
	pub.AssertExpectations(t)
}

func TestRawSubject(t *testing.T) {
	assert.Equal(t, "t.tpl", rawSubject("cdc.t.tpl"))
	assert.Equal(t, "t.tpl", rawSubject("t.tpl"))
	assert.Equal(t, "unknown", rawSubject(""))
}
