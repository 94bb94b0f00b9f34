package core

import "time"

// CancelFunc cancels a scheduled callback. It reports whether the callback was still pending.
type CancelFunc func() bool

// Scheduler runs callbacks after a delay without blocking the caller.
// Implementations must let shutdown cancel every pending callback.
type Scheduler interface {
	After(d time.Duration, fn func()) CancelFunc
}
