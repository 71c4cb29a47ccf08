package normalizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchsync/internal/events"
	"github.com/syntrixbase/searchsync/internal/source/entry"
)

func col(name, typ, value string) entry.Column {
	return entry.Column{Name: name, Type: typ, Value: value}
}

func rowEntry(changes ...entry.RowChange) *entry.Entry {
	return &entry.Entry{
		Type:        entry.RowData,
		Schema:      "t",
		Table:       "tpl",
		ExecuteTime: 1700000000000,
		Changes:     changes,
	}
}

func TestNormalize_Insert(t *testing.T) {
	n := New(nil)
	e := rowEntry(entry.RowChange{
		EventType: entry.EventInsert,
		After:     []entry.Column{col("id", "int(11)", "42"), col("name", "varchar(64)", "x")},
	})

	msgs, failed := n.Normalize(e)
	require.Empty(t, failed)
	require.Len(t, msgs, 1)

	msg := msgs[0]
	assert.Equal(t, "t.tpl.42.1700000000000", msg.MessageID)
	assert.Equal(t, events.OperationInsert, msg.OperationType)
	assert.Equal(t, "42", msg.PrimaryKey)
	assert.Equal(t, "t_tpl", msg.IndexName())
	assert.Nil(t, msg.BeforeData)
	assert.Equal(t, events.Row{{Name: "id", Value: int64(42)}, {Name: "name", Value: "x"}}, msg.AfterData)
}

func TestNormalize_SameSecondUpdatesGetDistinctIDs(t *testing.T) {
	n := New(nil)
	update := func(seq uint64, name string) *events.DataChangeMessage {
		e := rowEntry(entry.RowChange{
			EventType: entry.EventUpdate,
			Before:    []entry.Column{col("id", "int(11)", "42"), col("name", "varchar(64)", "v0")},
			After:     []entry.Column{col("id", "int(11)", "42"), col("name", "varchar(64)", name)},
		})
		e.Sequence = seq
		msgs, failed := n.Normalize(e)
		require.Empty(t, failed)
		require.Len(t, msgs, 1)
		return msgs[0]
	}

	first, second := update(1200, "v1"), update(1650, "v2")
	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.Equal(t, "t.tpl.42.1700000000000-1200", first.MessageID)
	assert.Equal(t, "t.tpl.42.1700000000000-1650", second.MessageID)
	assert.Equal(t, first.PartitionKey(), second.PartitionKey())
}

func TestNormalize_DeleteUsesBeforeImage(t *testing.T) {
	n := New(nil)
	e := rowEntry(entry.RowChange{
		EventType: entry.EventDelete,
		Before:    []entry.Column{col("id", "bigint", "7"), col("title", "text", "gone")},
	})

	msgs, failed := n.Normalize(e)
	require.Empty(t, failed)
	require.Len(t, msgs, 1)
	assert.Equal(t, events.OperationDelete, msgs[0].OperationType)
	assert.Equal(t, "7", msgs[0].PrimaryKey)
	assert.Nil(t, msgs[0].AfterData)
}

func TestNormalize_UpdateKeepsBothImages(t *testing.T) {
	n := New(nil)
	e := rowEntry(entry.RowChange{
		EventType: entry.EventUpdate,
		Before:    []entry.Column{col("id", "int", "1"), col("deleted", "tinyint(1)", "0")},
		After:     []entry.Column{col("id", "int", "1"), col("deleted", "tinyint(1)", "1")},
	})

	msgs, _ := n.Normalize(e)
	require.Len(t, msgs, 1)
	v, _ := msgs[0].BeforeData.Get("deleted")
	assert.Equal(t, int64(0), v)
	v, _ = msgs[0].AfterData.Get("deleted")
	assert.Equal(t, int64(1), v)
}

func TestNormalize_PrimaryKeyResolution(t *testing.T) {
	tests := []struct {
		name     string
		keys     map[string][]string
		columns  []entry.Column
		expected string
	}{
		{
			name:     "configured composite key",
			keys:     map[string][]string{"t.tpl": {"tenant", "code"}},
			columns:  []entry.Column{col("code", "varchar", "A1"), col("tenant", "varchar", "acme"), col("id", "int", "9")},
			expected: "acme_A1",
		},
		{
			name:     "configured by bare table name",
			keys:     map[string][]string{"TPL": {"code"}},
			columns:  []entry.Column{col("id", "int", "9"), col("code", "varchar", "A1")},
			expected: "A1",
		},
		{
			name:     "flagged key column",
			columns:  []entry.Column{col("name", "varchar", "x"), {Name: "tpl_id", Type: "int", Value: "5", IsKey: true}},
			expected: "5",
		},
		{
			name:     "id fallback",
			columns:  []entry.Column{col("name", "varchar", "x"), col("ID", "int", "3")},
			expected: "3",
		},
		{
			name:     "uid fallback",
			columns:  []entry.Column{col("name", "varchar", "x"), col("uid", "varchar", "u-1")},
			expected: "u-1",
		},
		{
			name:     "first column fallback",
			columns:  []entry.Column{col("code", "varchar", "c9"), col("name", "varchar", "x")},
			expected: "c9",
		},
		{
			name:     "configured key missing falls through",
			keys:     map[string][]string{"t.tpl": {"nope"}},
			columns:  []entry.Column{col("id", "int", "4")},
			expected: "4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := New(tt.keys)
			msg, err := n.NormalizeRow(rowEntry(), &entry.RowChange{EventType: entry.EventInsert, After: tt.columns})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, msg.PrimaryKey)
		})
	}
}

func TestNormalize_DropsNonRowEntries(t *testing.T) {
	n := New(nil)
	for _, typ := range []entry.Type{entry.DDL, entry.TransactionBegin, entry.TransactionEnd} {
		e := rowEntry(entry.RowChange{EventType: entry.EventInsert, After: []entry.Column{col("id", "int", "1")}})
		e.Type = typ
		msgs, failed := n.Normalize(e)
		assert.Empty(t, msgs, typ.String())
		assert.Empty(t, failed, typ.String())
	}
}

func TestNormalize_MalformedRowsDoNotBlockBatch(t *testing.T) {
	n := New(nil)
	e := rowEntry(
		entry.RowChange{EventType: entry.EventInsert},
		entry.RowChange{EventType: entry.EventInsert, After: []entry.Column{{Name: "id", Type: "int", IsNull: true}}},
		entry.RowChange{EventType: "truncate", After: []entry.Column{col("id", "int", "1")}},
		entry.RowChange{EventType: entry.EventInsert, After: []entry.Column{col("id", "int", "2")}},
	)

	msgs, failed := n.Normalize(e)
	require.Len(t, msgs, 1)
	assert.Equal(t, "2", msgs[0].PrimaryKey)
	require.Len(t, failed, 3)
	for _, f := range failed {
		assert.True(t, errors.Is(f, events.ErrMalformed))
		require.NotNil(t, f.Partial)
		assert.Equal(t, "tpl", f.Partial.Table)
	}
}

func TestConvertValue(t *testing.T) {
	tests := []struct {
		column   entry.Column
		expected any
	}{
		{col("a", "int(11) unsigned", "12"), int64(12)},
		{col("a", "BIGINT", "-5"), int64(-5)},
		{col("a", "decimal(10,2)", "3.50"), 3.5},
		{col("a", "double", "1e3"), 1000.0},
		{col("a", "bit(1)", "1"), true},
		{col("a", "boolean", "false"), false},
		{col("a", "varchar(10)", "hello"), "hello"},
		{col("a", "datetime", "2024-01-01 00:00:00"), "2024-01-01 00:00:00"},
		{col("a", "int", "not-a-number"), "not-a-number"},
		{entry.Column{Name: "a", Type: "int", IsNull: true}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.column.Type+"/"+tt.column.Value, func(t *testing.T) {
			assert.Equal(t, tt.expected, ConvertValue(tt.column))
		})
	}
}
