package audit

import "time"

const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}
