// Package coarsetime is a wall clock in seconds, refreshed in the background.
//
// A listing pass compares the expiry of every key against the current time;
// reading an atomic is much cheaper than calling time.Now for each of them.
package coarsetime

import (
	"sync/atomic"
	"time"
)

const refresh = 100 * time.Millisecond

var unix atomic.Int64

func init() {
	unix.Store(time.Now().Unix())

	ticker := time.NewTicker(refresh)
	go func() {
		for t := range ticker.C {
			unix.Store(t.Unix())
		}
	}()
}

// Unix returns the current time in seconds, as memcached reports expiries.
// It lags the wall clock by at most a second.
func Unix() int64 {
	return unix.Load()
}
