package events

import (
	"context"
	"fmt"

	"github.com/syntrixbase/searchsync/internal/core/pubsub"
)

const (
	// ChangeStream carries DataChangeMessages on cdc.<database>.<table>.
	ChangeStream        = "CDC"
	ChangeSubjectPrefix = "cdc"

	// DeadLetterStream carries DeadLetterMessages on dlq.<database>.<table>.
	DeadLetterStream        = "CDC_DLQ"
	DeadLetterSubjectPrefix = "dlq"
)

// ChangePublisher puts change messages on the change stream. The message
// id doubles as the broker deduplication id.
type ChangePublisher struct {
	pub pubsub.Publisher
}

// NewChangePublisher wraps a publisher bound to ChangeStream.
func NewChangePublisher(pub pubsub.Publisher) *ChangePublisher {
	return &ChangePublisher{pub: pub}
}

// Publish encodes and sends msg.
func (p *ChangePublisher) Publish(ctx context.Context, msg *DataChangeMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.MessageID, err)
	}
	return p.pub.Publish(ctx, msg.Subject(), data, pubsub.WithMsgID(msg.MessageID))
}

// Close closes the underlying publisher.
func (p *ChangePublisher) Close() error {
	return p.pub.Close()
}
