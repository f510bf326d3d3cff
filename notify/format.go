package notify

import (
	"fmt"
	"time"
)

// FormatDuration renders a duration as fixed-width hh:mm:ss. Hours are not
// clamped: a 100-hour shift prints as 100:00:00. Negative durations render as
// zero.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
