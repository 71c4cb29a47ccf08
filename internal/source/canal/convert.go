package canal

import (
	"fmt"
	"time"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/schema"
	"github.com/syntrixbase/searchsync/internal/source/entry"
)

const datetimeLayout = "2006-01-02 15:04:05"

// toEntry converts a rows event. Update events carry before/after pairs.
// The event header time is used when present, otherwise now. Header times
// have second resolution, so the header log position becomes the sequence.
func toEntry(e *canal.RowsEvent, now time.Time) entry.Entry {
	ts := now.UnixMilli()
	var seq uint64
	if e.Header != nil {
		if e.Header.Timestamp > 0 {
			ts = int64(e.Header.Timestamp) * 1000
		}
		seq = uint64(e.Header.LogPos)
	}

	out := entry.Entry{
		Type:        entry.RowData,
		Schema:      e.Table.Schema,
		Table:       e.Table.Name,
		ExecuteTime: ts,
		Sequence:    seq,
	}

	keys := make(map[int]bool, len(e.Table.PKColumns))
	for _, i := range e.Table.PKColumns {
		keys[i] = true
	}

	switch e.Action {
	case canal.InsertAction:
		for _, row := range e.Rows {
			out.Changes = append(out.Changes, entry.RowChange{
				EventType: entry.EventInsert,
				After:     columns(e.Table, keys, row),
			})
		}
	case canal.UpdateAction:
		for i := 0; i+1 < len(e.Rows); i += 2 {
			out.Changes = append(out.Changes, entry.RowChange{
				EventType: entry.EventUpdate,
				Before:    columns(e.Table, keys, e.Rows[i]),
				After:     columns(e.Table, keys, e.Rows[i+1]),
			})
		}
	case canal.DeleteAction:
		for _, row := range e.Rows {
			out.Changes = append(out.Changes, entry.RowChange{
				EventType: entry.EventDelete,
				Before:    columns(e.Table, keys, row),
			})
		}
	}
	return out
}

func columns(t *schema.Table, keys map[int]bool, row []interface{}) []entry.Column {
	cols := make([]entry.Column, len(t.Columns))
	for i, col := range t.Columns {
		var v interface{}
		if i < len(row) {
			v = row[i]
		}
		cols[i] = entry.Column{
			Name:   col.Name,
			Type:   col.RawType,
			Value:  render(v),
			IsNull: v == nil,
			IsKey:  keys[i],
		}
	}
	return cols
}

func render(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(datetimeLayout)
	default:
		return fmt.Sprint(x)
	}
}
