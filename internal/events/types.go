// Package events defines the canonical change message carried on the change
// topic and its dead-letter form. Producers and consumers MUST use these types.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed marks a payload that can never be processed. Messages failing
// with it are dead-lettered as non-retryable.
var ErrMalformed = errors.New("malformed change message")

// OperationType is the row-level change kind.
type OperationType string

const (
	OperationInsert OperationType = "INSERT"
	OperationUpdate OperationType = "UPDATE"
	OperationDelete OperationType = "DELETE"
)

// IsValid checks if the operation type is a known valid type.
func (o OperationType) IsValid() bool {
	switch o {
	case OperationInsert, OperationUpdate, OperationDelete:
		return true
	default:
		return false
	}
}

// DataChangeMessage is the canonical change unit.
type DataChangeMessage struct {
	MessageID     string        `json:"messageId"`
	OperationType OperationType `json:"operationType"`
	Database      string        `json:"database"`
	Table         string        `json:"table"`
	PrimaryKey    string        `json:"primaryKey"`
	BeforeData    Row           `json:"beforeData,omitempty"`
	AfterData     Row           `json:"afterData,omitempty"`
	// Timestamp is the event time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// BuildMessageID returns database.table.primaryKey.timestamp.
func BuildMessageID(database, table, primaryKey string, timestamp int64) string {
	return database + "." + table + "." + primaryKey + "." + strconv.FormatInt(timestamp, 10)
}

// BuildSequencedMessageID is BuildMessageID with seq folded into the
// timestamp part as "<timestamp>-<seq>", so changes to one row within the
// same timestamp tick stay distinct. A zero seq yields BuildMessageID.
func BuildSequencedMessageID(database, table, primaryKey string, timestamp int64, seq uint64) string {
	id := BuildMessageID(database, table, primaryKey, timestamp)
	if seq == 0 {
		return id
	}
	return id + "-" + strconv.FormatUint(seq, 10)
}

// IndexName is the search index a change of database.table lands in.
func IndexName(database, table string) string {
	return strings.ToLower(database + "_" + table)
}

// IndexName returns the target index of this change.
func (m *DataChangeMessage) IndexName() string {
	return IndexName(m.Database, m.Table)
}

// PartitionKey groups every change of one row so that they are handled in
// order by a single worker.
func (m *DataChangeMessage) PartitionKey() string {
	return m.Database + "." + m.Table + ":" + m.PrimaryKey
}

// Subject returns the transport subject suffix "<database>.<table>".
func (m *DataChangeMessage) Subject() string {
	return SubjectToken(m.Database) + "." + SubjectToken(m.Table)
}

// SubjectToken makes a name safe for use as a single NATS subject token.
func SubjectToken(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, name)
}

// Validate checks the fields every consumer relies on.
func (m *DataChangeMessage) Validate() error {
	switch {
	case m.MessageID == "":
		return fmt.Errorf("%w: missing messageId", ErrMalformed)
	case !m.OperationType.IsValid():
		return fmt.Errorf("%w: invalid operationType %q", ErrMalformed, m.OperationType)
	case m.Database == "" || m.Table == "":
		return fmt.Errorf("%w: missing database or table", ErrMalformed)
	case m.PrimaryKey == "":
		return fmt.Errorf("%w: missing primaryKey", ErrMalformed)
	}
	return nil
}

// Encode serializes the message as JSON.
func (m *DataChangeMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses and validates a change payload. Every failure wraps
// ErrMalformed.
func Decode(data []byte) (*DataChangeMessage, error) {
	var msg DataChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
