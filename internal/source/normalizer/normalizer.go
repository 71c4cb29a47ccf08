// Package normalizer converts raw binlog row changes into canonical
// DataChangeMessages.
package normalizer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/syntrixbase/searchsync/internal/events"
	"github.com/syntrixbase/searchsync/internal/source/entry"
)

// fallbackKeyColumns are tried when no key column is configured or flagged.
var fallbackKeyColumns = []string{"id", "uid"}

// Normalizer converts raw entries into DataChangeMessages.
type Normalizer struct {
	// keyColumns maps "database.table" or "table" to its key columns
	keyColumns map[string][]string
}

// New creates a Normalizer. keyColumns may be nil.
func New(keyColumns map[string][]string) *Normalizer {
	keys := make(map[string][]string, len(keyColumns))
	for table, cols := range keyColumns {
		keys[strings.ToLower(table)] = cols
	}
	return &Normalizer{keyColumns: keys}
}

// Accepts reports whether the entry type yields messages. DDL and
// transaction markers are dropped.
func Accepts(e *entry.Entry) bool {
	return e.Type == entry.RowData
}

// Normalize converts every row change of a row-data entry. A failing row is
// reported as a RowError and does not stop the remaining rows.
func (n *Normalizer) Normalize(e *entry.Entry) ([]*events.DataChangeMessage, []*RowError) {
	if !Accepts(e) {
		return nil, nil
	}
	msgs := make([]*events.DataChangeMessage, 0, len(e.Changes))
	var failed []*RowError
	for i := range e.Changes {
		msg, err := n.NormalizeRow(e, &e.Changes[i])
		if err != nil {
			failed = append(failed, &RowError{Partial: Partial(e, &e.Changes[i]), Err: err})
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, failed
}

// RowError reports one row change that could not be normalized.
type RowError struct {
	// Partial carries whatever could be recovered, for dead-lettering.
	Partial *events.DataChangeMessage
	Err     error
}

func (e *RowError) Error() string { return e.Err.Error() }
func (e *RowError) Unwrap() error { return e.Err }

// NormalizeRow converts a single row change.
func (n *Normalizer) NormalizeRow(e *entry.Entry, rc *entry.RowChange) (*events.DataChangeMessage, error) {
	op, err := operationType(rc.EventType)
	if err != nil {
		return nil, err
	}
	if e.Schema == "" || e.Table == "" {
		return nil, fmt.Errorf("%w: missing schema or table", events.ErrMalformed)
	}

	image := rc.After
	if op == events.OperationDelete {
		image = rc.Before
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: %s on %s.%s has no row image", events.ErrMalformed, op, e.Schema, e.Table)
	}

	pk, err := n.primaryKey(e.Schema, e.Table, image)
	if err != nil {
		return nil, err
	}

	msg := &events.DataChangeMessage{
		MessageID:     events.BuildSequencedMessageID(e.Schema, e.Table, pk, e.ExecuteTime, e.Sequence),
		OperationType: op,
		Database:      e.Schema,
		Table:         e.Table,
		PrimaryKey:    pk,
		Timestamp:     e.ExecuteTime,
	}
	if len(rc.Before) > 0 {
		msg.BeforeData = convertColumns(rc.Before)
	}
	if len(rc.After) > 0 {
		msg.AfterData = convertColumns(rc.After)
	}
	return msg, nil
}

// Partial builds a best-effort message for a row change that failed to
// normalize, so it can still be quarantined.
func Partial(e *entry.Entry, rc *entry.RowChange) *events.DataChangeMessage {
	op, _ := operationType(rc.EventType)
	msg := &events.DataChangeMessage{
		OperationType: op,
		Database:      e.Schema,
		Table:         e.Table,
		Timestamp:     e.ExecuteTime,
		BeforeData:    rawColumns(rc.Before),
		AfterData:     rawColumns(rc.After),
	}
	msg.MessageID = events.BuildSequencedMessageID(e.Schema, e.Table, "unknown", e.ExecuteTime, e.Sequence)
	return msg
}

func operationType(t entry.EventType) (events.OperationType, error) {
	switch t {
	case entry.EventInsert:
		return events.OperationInsert, nil
	case entry.EventUpdate:
		return events.OperationUpdate, nil
	case entry.EventDelete:
		return events.OperationDelete, nil
	default:
		return "", fmt.Errorf("%w: unknown event type %q", events.ErrMalformed, t)
	}
}

// primaryKey resolves the row key: configured key columns, then columns the
// connector flagged as keys, then id/uid, then the first column. Composite
// keys are joined with "_".
func (n *Normalizer) primaryKey(schema, table string, image []entry.Column) (string, error) {
	if cols, ok := n.configuredKey(schema, table); ok {
		if pk, ok := joinKey(image, func(*entry.Column) bool { return true }, cols); ok {
			return pk, nil
		}
	}

	var flagged []string
	for _, c := range image {
		if c.IsKey {
			flagged = append(flagged, c.Name)
		}
	}
	if len(flagged) > 0 {
		if pk, ok := joinKey(image, func(c *entry.Column) bool { return c.IsKey }, flagged); ok {
			return pk, nil
		}
	}

	for _, name := range fallbackKeyColumns {
		for i := range image {
			if strings.EqualFold(image[i].Name, name) && !image[i].IsNull && image[i].Value != "" {
				return image[i].Value, nil
			}
		}
	}

	if first := image[0]; !first.IsNull && first.Value != "" {
		return first.Value, nil
	}
	return "", fmt.Errorf("%w: no primary key in %s.%s", events.ErrMalformed, schema, table)
}

func (n *Normalizer) configuredKey(schema, table string) ([]string, bool) {
	if cols, ok := n.keyColumns[strings.ToLower(schema+"."+table)]; ok && len(cols) > 0 {
		return cols, true
	}
	cols, ok := n.keyColumns[strings.ToLower(table)]
	return cols, ok && len(cols) > 0
}

// joinKey joins the values of the matching columns in the order given by
// names. It fails if any named column is missing or null.
func joinKey(image []entry.Column, match func(*entry.Column) bool, names []string) (string, bool) {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		found := false
		for i := range image {
			c := &image[i]
			if strings.EqualFold(c.Name, name) && match(c) {
				if c.IsNull || c.Value == "" {
					return "", false
				}
				parts = append(parts, c.Value)
				found = true
				break
			}
		}
		if !found {
			return "", false
		}
	}
	return strings.Join(parts, "_"), len(parts) > 0
}

func convertColumns(cols []entry.Column) events.Row {
	row := make(events.Row, 0, len(cols))
	for _, c := range cols {
		row = append(row, events.Field{Name: c.Name, Value: ConvertValue(c)})
	}
	return row
}

func rawColumns(cols []entry.Column) events.Row {
	if len(cols) == 0 {
		return nil
	}
	row := make(events.Row, 0, len(cols))
	for _, c := range cols {
		row = append(row, events.Field{Name: c.Name, Value: c.Value})
	}
	return row
}

// ConvertValue converts a column's string rendering using its declared type:
// integral types become int64, floating and decimal types float64, boolean
// and bit types bool, everything else stays a string. A value that does not
// parse is kept as its string.
func ConvertValue(c entry.Column) any {
	if c.IsNull {
		return nil
	}
	switch baseType(c.Type) {
	case "int", "integer", "tinyint", "smallint", "mediumint", "bigint", "serial", "int2", "int4", "int8":
		if v, err := strconv.ParseInt(strings.TrimSpace(c.Value), 10, 64); err == nil {
			return v
		}
	case "float", "double", "decimal", "numeric", "real", "float4", "float8":
		if v, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64); err == nil {
			return v
		}
	case "bool", "boolean", "bit":
		if v, err := strconv.ParseBool(strings.TrimSpace(c.Value)); err == nil {
			return v
		}
	}
	return c.Value
}

// baseType strips length, precision and modifiers: "int(11) unsigned" -> "int".
func baseType(declared string) string {
	t := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexAny(t, "( "); i >= 0 {
		t = t[:i]
	}
	return t
}
