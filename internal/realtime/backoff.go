package realtime

import (
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
)

// linearBackoff - попытка n ждёт n*base; после limit попыток - стоп.
func linearBackoff(base time.Duration, limit int) retry.Backoff {
	if limit < 0 {
		limit = 0
	}

	var n atomic.Int64

	next := retry.BackoffFunc(func() (time.Duration, bool) {
		return time.Duration(n.Add(1)) * base, false
	})

	return retry.WithMaxRetries(uint64(limit), next)
}
