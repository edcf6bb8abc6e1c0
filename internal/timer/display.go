package timer

import (
	"fmt"
	"time"
)

// FormatElapsed renders d as zero-padded HH:MM:SS. Hours are not capped and
// sub-second remainders are dropped.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
