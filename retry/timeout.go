package retry

import "time"

// Timeout bounds a single retry attempt. An attempt exceeding it is canceled,
// counted as a failure and retried. Zero means attempts may run indefinitely.
type Timeout time.Duration
