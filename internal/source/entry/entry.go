// Package entry holds the raw row-change model produced by binlog connectors,
// before normalization.
package entry

import (
	"context"
	"time"
)

// Type classifies a binlog entry. Only RowData entries carry row changes.
type Type int

const (
	RowData Type = iota
	DDL
	TransactionBegin
	TransactionEnd
)

func (t Type) String() string {
	switch t {
	case RowData:
		return "ROWDATA"
	case DDL:
		return "DDL"
	case TransactionBegin:
		return "TRANSACTIONBEGIN"
	case TransactionEnd:
		return "TRANSACTIONEND"
	default:
		return "UNKNOWN"
	}
}

// EventType is the row-level operation reported by the connector.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Column is one column value as the connector reports it: a string rendering
// plus the declared SQL type used to convert it back.
type Column struct {
	Name   string
	Type   string
	Value  string
	IsNull bool
	IsKey  bool
}

// RowChange is a single row's before and after images.
type RowChange struct {
	EventType EventType
	Before    []Column
	After     []Column
}

// Entry is one binlog entry for one table.
type Entry struct {
	Type   Type
	Schema string
	Table  string
	// ExecuteTime is the event time in unix milliseconds.
	ExecuteTime int64
	// Sequence tells apart entries that share an ExecuteTime. Binlog
	// connectors set it to the event's log position; zero means unknown.
	Sequence uint64
	Changes  []RowChange
}

// Batch is a unit of entries acknowledged or rolled back together.
type Batch struct {
	ID      int64
	Entries []Entry
}

// Empty reports whether the batch carries no entries.
func (b Batch) Empty() bool {
	return len(b.Entries) == 0
}

// Connector wraps a binlog connector. Get returns up to max entries, waiting
// at most wait for the first one. Entries of a batch are redelivered by the
// next Get after Rollback.
type Connector interface {
	Connect(ctx context.Context) error
	Get(ctx context.Context, max int, wait time.Duration) (Batch, error)
	Ack(ctx context.Context, batchID int64) error
	Rollback(ctx context.Context, batchID int64) error
	Close() error
}
