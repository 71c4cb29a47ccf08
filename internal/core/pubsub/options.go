package pubsub

import "time"

// StorageType defines the storage backend for streams.
type StorageType int

const (
	// FileStorage stores data on disk (default).
	FileStorage StorageType = iota
	// MemoryStorage stores data in memory.
	MemoryStorage
)

// PublisherOptions configures publisher behavior.
type PublisherOptions struct {
	// StreamName is the name of the stream to publish to.
	StreamName string

	// SubjectPrefix is prepended to all subjects and bounds the stream.
	SubjectPrefix string

	// RetryAttempts is the number of retry attempts for publishing.
	RetryAttempts int

	// Storage is the storage type for the stream.
	Storage StorageType

	// MaxAge bounds how long the stream keeps messages. Zero keeps forever.
	MaxAge time.Duration

	// DuplicateWindow is the broker-side MsgID deduplication window.
	DuplicateWindow time.Duration

	// OnPublish is called after each publish attempt (for metrics).
	OnPublish func(subject string, err error, latency time.Duration)
}

// ConsumerOptions configures consumer behavior.
type ConsumerOptions struct {
	// StreamName is the name of the stream to consume from.
	StreamName string

	// ConsumerName is the durable consumer name, shared by every instance
	// of the same consumer group.
	ConsumerName string

	// FilterSubject filters messages by subject pattern.
	FilterSubject string

	// AckWait is how long a fetched message stays pending before the
	// broker redelivers it.
	AckWait time.Duration

	// MaxAckPending bounds unacknowledged messages across the group.
	MaxAckPending int
}

// DefaultConsumerOptions returns ConsumerOptions with sensible defaults.
func DefaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{
		AckWait:       30 * time.Second,
		MaxAckPending: 5000,
	}
}
