package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/webtally/webtally/internal/storage"
)

// parseDailyRecord converts a Redis hash to a DailyRecord.
func parseDailyRecord(data map[string]string) (storage.DailyRecord, error) {
	var rec storage.DailyRecord

	if v, ok := data["time_ms"]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return rec, fmt.Errorf("failed to parse time_ms: %w", err)
		}
		rec.TimeMS = ms
	}

	if v, ok := data["visit_count"]; ok {
		count, err := strconv.Atoi(v)
		if err != nil {
			return rec, fmt.Errorf("failed to parse visit_count: %w", err)
		}
		rec.VisitCount = count
	}

	if v, ok := data["last_visited"]; ok && v != "" {
		visited, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return rec, fmt.Errorf("failed to parse last_visited: %w", err)
		}
		rec.LastVisited = visited
	}

	rec.Favicon = data["favicon"]
	rec.Notifications.Sent80 = data["sent_80"] == "1"
	rec.Notifications.Sent100 = data["sent_100"] == "1"

	return rec, nil
}

// recordFields converts a DailyRecord to the Redis hash representation.
func recordFields(rec storage.DailyRecord) map[string]interface{} {
	sent80, sent100 := "0", "0"
	if rec.Notifications.Sent80 {
		sent80 = "1"
	}
	if rec.Notifications.Sent100 {
		sent100 = "1"
	}
	fields := map[string]interface{}{
		"time_ms":     rec.TimeMS,
		"visit_count": rec.VisitCount,
		"favicon":     rec.Favicon,
		"sent_80":     sent80,
		"sent_100":    sent100,
	}
	if !rec.LastVisited.IsZero() {
		fields["last_visited"] = rec.LastVisited.Format(time.RFC3339Nano)
	}
	return fields
}
