// Package affinity runs clipboard work on goroutines wired to their own OS
// thread. The Win32 clipboard is owned per thread (OpenClipboard/CloseClipboard
// pair up on the calling thread), and the chain's message loop thread must never
// block on clipboard access, so every clipboard call goes through here.
package affinity

import "runtime"

// Go runs fn on a new goroutine locked to a fresh OS thread.
// The thread is discarded when fn returns.
func Go(fn func()) {
	go func() {
		runtime.LockOSThread()
		// Exiting while still locked terminates the thread instead of
		// returning it to the scheduler pool.
		fn()
	}()
}

// Run is like Go but blocks until fn has returned.
func Run(fn func()) {
	done := make(chan struct{})
	Go(func() {
		defer close(done)
		fn()
	})
	<-done
}
