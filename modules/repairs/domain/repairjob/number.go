package repairjob

import (
	"fmt"
	"time"
)

// Job numbers are {prefix}-{YYYYMM}-{sequence}, unique under concurrent
// creation through a per-period monotonic counter owned by the store.

// NumberPeriod formats the counter period for t.
func NumberPeriod(t time.Time) string {
	return t.UTC().Format("200601")
}

// FormatNumber renders a job number from its parts.
func FormatNumber(prefix, period string, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, period, seq)
}
