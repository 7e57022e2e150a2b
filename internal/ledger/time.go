package ledger

import "time"

// DayOf converts an epoch-millisecond timestamp to its UTC accounting day in
// YYYY-MM-DD form.
func DayOf(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.DateOnly)
}
