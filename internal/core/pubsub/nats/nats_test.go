package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchsync/internal/core/pubsub"
)

// MockJetStream is a mock implementation of the JetStream interface.
type MockJetStream struct {
	mock.Mock
}

func (m *MockJetStream) CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	args := m.Called(ctx, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(jetstream.Stream), args.Error(1)
}

func (m *MockJetStream) CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	args := m.Called(ctx, stream, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(jetstream.Consumer), args.Error(1)
}

func (m *MockJetStream) Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	args := m.Called(ctx, subject, data, len(opts))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jetstream.PubAck), args.Error(1)
}

// MockConsumer overrides Fetch on jetstream.Consumer.
type MockConsumer struct {
	mock.Mock
	jetstream.Consumer
}

func (m *MockConsumer) Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error) {
	args := m.Called(batch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(jetstream.MessageBatch), args.Error(1)
}

type fakeBatch struct {
	jetstream.MessageBatch
	msgs chan jetstream.Msg
	err  error
}

func newFakeBatch(err error, msgs ...jetstream.Msg) *fakeBatch {
	ch := make(chan jetstream.Msg, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &fakeBatch{msgs: ch, err: err}
}

func (b *fakeBatch) Messages() <-chan jetstream.Msg { return b.msgs }
func (b *fakeBatch) Error() error                   { return b.err }

type fakeMsg struct {
	jetstream.Msg
	subject string
	data    []byte
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }

func TestPublisher_EnsuresStreamAndPrefixesSubject(t *testing.T) {
	js := new(MockJetStream)
	js.On("CreateOrUpdateStream", mock.Anything, mock.MatchedBy(func(cfg jetstream.StreamConfig) bool {
		return cfg.Name == "CDC" && cfg.Subjects[0] == "cdc.>" && cfg.Storage == jetstream.FileStorage && cfg.Duplicates == 2*time.Minute
	})).Return(nil, nil)
	js.On("Publish", mock.Anything, "cdc.t.tpl", []byte("payload"), 1).Return(&jetstream.PubAck{}, nil)

	var observed string
	pub, err := NewPublisher(js, pubsub.PublisherOptions{
		StreamName:      "CDC",
		SubjectPrefix:   "cdc",
		DuplicateWindow: 2 * time.Minute,
		OnPublish:       func(subject string, _ error, _ time.Duration) { observed = subject },
	})
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), "t.tpl", []byte("payload"), pubsub.WithMsgID("t.tpl.42.1")))
	assert.Equal(t, "cdc.t.tpl", observed)
	js.AssertExpectations(t)
}

func TestPublisher_PublishError(t *testing.T) {
	js := new(MockJetStream)
	js.On("Publish", mock.Anything, "t.tpl", mock.Anything, 0).Return(nil, errors.New("no responders"))

	pub, err := NewPublisher(js, pubsub.PublisherOptions{})
	require.NoError(t, err)

	err = pub.Publish(context.Background(), "t.tpl", []byte("x"))
	assert.ErrorContains(t, err, "no responders")
}

func TestPublisher_StreamError(t *testing.T) {
	js := new(MockJetStream)
	js.On("CreateOrUpdateStream", mock.Anything, mock.Anything).Return(nil, errors.New("denied"))

	_, err := NewPublisher(js, pubsub.PublisherOptions{StreamName: "CDC", SubjectPrefix: "cdc"})
	assert.ErrorContains(t, err, "failed to ensure stream CDC")
}

func TestConsumer_FetchCreatesDurableOnce(t *testing.T) {
	js := new(MockJetStream)
	jc := new(MockConsumer)

	js.On("CreateOrUpdateStream", mock.Anything, mock.MatchedBy(func(cfg jetstream.StreamConfig) bool {
		return cfg.Name == "CDC" && cfg.Subjects[0] == "cdc.>"
	})).Return(nil, nil).Once()
	js.On("CreateOrUpdateConsumer", mock.Anything, "CDC", mock.MatchedBy(func(cfg jetstream.ConsumerConfig) bool {
		return cfg.Durable == "searchsync" && cfg.AckPolicy == jetstream.AckExplicitPolicy && cfg.FilterSubject == "cdc.>"
	})).Return(jc, nil).Once()

	jc.On("Fetch", 2).Return(newFakeBatch(nil,
		&fakeMsg{subject: "cdc.t.tpl", data: []byte("a")},
		&fakeMsg{subject: "cdc.t.tpl", data: []byte("b")},
	), nil).Once()
	jc.On("Fetch", 2).Return(newFakeBatch(nats.ErrTimeout), nil).Once()

	c, err := NewConsumer(js, pubsub.ConsumerOptions{StreamName: "CDC", ConsumerName: "searchsync", FilterSubject: "cdc.>"})
	require.NoError(t, err)

	msgs, err := c.Fetch(context.Background(), 2, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("a"), msgs[0].Data())
	assert.Equal(t, "cdc.t.tpl", msgs[1].Subject())

	msgs, err = c.Fetch(context.Background(), 2, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	js.AssertExpectations(t)
	jc.AssertExpectations(t)
}

func TestConsumer_FetchCancelled(t *testing.T) {
	c, err := NewConsumer(new(MockJetStream), pubsub.ConsumerOptions{StreamName: "CDC"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Fetch(ctx, 1, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewConsumer_RequiresStream(t *testing.T) {
	_, err := NewConsumer(new(MockJetStream), pubsub.ConsumerOptions{})
	assert.Error(t, err)
}

func TestProvider_RequiresConnect(t *testing.T) {
	p := NewProvider("nats://localhost:4222", "searchsync")
	_, err := p.NewPublisher(pubsub.PublisherOptions{})
	assert.Error(t, err)
	_, err = p.NewConsumer(pubsub.ConsumerOptions{StreamName: "CDC"})
	assert.Error(t, err)
	assert.NoError(t, p.Close())
}

func TestProvider_ConnectWithInjectedJetStream(t *testing.T) {
	js := new(MockJetStream)
	p := NewProvider("nats://example:4222", "searchsync")
	p.natsConnect = func(url, name string) (*nats.Conn, JetStream, error) {
		assert.Equal(t, "nats://example:4222", url)
		return nil, js, nil
	}
	require.NoError(t, p.Connect(context.Background()))

	pub, err := p.NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, err)
	assert.NotNil(t, pub)

	p.natsConnect = func(string, string) (*nats.Conn, JetStream, error) { return nil, nil, errors.New("refused") }
	assert.ErrorContains(t, p.Connect(context.Background()), "refused")
}

func TestSubjectPrefixOf(t *testing.T) {
	assert.Equal(t, "cdc", subjectPrefixOf("cdc.>"))
	assert.Equal(t, "dlq.t", subjectPrefixOf("dlq.t.*"))
	assert.Equal(t, "plain", subjectPrefixOf("plain"))
}
