package resync

import (
	"fmt"
	"strings"
	"time"
)

// Strategy selects how a table is brought back in line with the index.
type Strategy int

const (
	// StrategyFull clears the index and re-indexes every active row.
	StrategyFull Strategy = iota + 1
	// StrategyIncremental applies rows updated since a watermark, then
	// removes index documents whose rows are gone.
	StrategyIncremental
	// StrategyDeleted only removes index documents whose rows are gone.
	StrategyDeleted
	// StrategySingle re-syncs one row.
	StrategySingle
)

func (s Strategy) String() string {
	switch s {
	case StrategyFull:
		return "full"
	case StrategyIncremental:
		return "incremental"
	case StrategyDeleted:
		return "deleted"
	case StrategySingle:
		return "single"
	default:
		return "unknown"
	}
}

// ParseStrategy parses a strategy name, case-insensitively.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "full":
		return StrategyFull, nil
	case "incremental":
		return StrategyIncremental, nil
	case "deleted":
		return StrategyDeleted, nil
	case "single":
		return StrategySingle, nil
	default:
		return 0, fmt.Errorf("%w: unknown sync strategy %q", ErrInvalidRequest, name)
	}
}

// Request is one sync run.
type Request struct {
	Strategy Strategy
	// Table is a configured table name, "database.table" or its index name.
	Table string
	// Since overrides the stored watermark of an incremental sync.
	Since time.Time
	// ID is the row of a single-row sync.
	ID string
}

// Result reports a finished sync run.
type Result struct {
	Strategy Strategy
	Table    string
	// Count is the number of index documents written or removed.
	Count    int
	Duration time.Duration
}
