// Package sync provides the kernel's only lock primitive: a spinlock. It
// exists because sync.Mutex relies on runtime support (park/unpark via the
// scheduler) that is not trustworthy this early in boot or inside an
// interrupt handler; a spinlock only ever needs atomic.CompareAndSwap,
// which works identically whether or not goroutines have been bootstrapped.
package sync

import "sync/atomic"

var (
	// yieldFn is substituted by tests with runtime.Gosched to avoid
	// deadlocking a hosted test run; in the kernel proper there is no
	// scheduler to yield to until kernel/sched is up, so it stays nil and
	// Acquire just keeps spinning.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// until the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Re-acquiring a lock already held by the current task will deadlock.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		if yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock
// could be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock, allowing other tasks to acquire it.
// Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
