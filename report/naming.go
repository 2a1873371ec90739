package report

import (
	"fmt"
	"time"
)

// LatestKey is overwritten on every run so that consumers can always find the
// most recent report
const LatestKey = "health_check_latest.json"

// ObjectKey returns the key that a report created at the given time is
// stored under, e.g. health_check_2024-05-01_12-30-00.json
func ObjectKey(t time.Time) string {
	return fmt.Sprintf("health_check_%v.json", t.UTC().Format("2006-01-02_15-04-05"))
}
