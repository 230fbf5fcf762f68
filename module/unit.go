// Package module holds the interfaces and small concurrency primitives
// shared across chainbook's engines: Local identity and the Unit helper
// engines use to run their event loop and serialize state mutation (§5).
// Network registration lives in package network.
package module

import "sync"

// Unit bundles the goroutine-lifecycle and call-serialization helpers
// every chainbook engine embeds, mirroring how the teacher's engines
// (e.g. engine/simulation/coldstuff.Engine) drive their event loop via
// *engine.Unit: Launch starts background work, Do runs a closure with
// the engine's mutation serialized against every other Do/Launch call,
// Quit signals Launch'd goroutines to return, and Done reports once they
// all have.
type Unit struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	ready    chan struct{}
	readyOne sync.Once
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// NewUnit returns a ready-to-use Unit.
func NewUnit() *Unit {
	return &Unit{
		ready: make(chan struct{}),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Launch runs f on its own goroutine, tracked so Done can wait for it. f
// should select on Quit() to know when to return.
func (u *Unit) Launch(f func()) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		f()
	}()
}

// Do runs f with the unit's mutation lock held, so that no two Do calls
// (or a Do and a Launch-triggered mutation) interleave. No I/O should
// happen while holding this lock (§5): callers defer to the event loop
// instead of blocking inside Do.
func (u *Unit) Do(f func() error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return f()
}

// MarkReady closes the Ready channel, signaling startup completed.
func (u *Unit) MarkReady() {
	u.readyOne.Do(func() { close(u.ready) })
}

// Ready returns a channel that closes once MarkReady has been called.
func (u *Unit) Ready() <-chan struct{} {
	return u.ready
}

// Quit returns a channel that closes once Stop has been called, for
// Launch'd goroutines to select on alongside their real work.
func (u *Unit) Quit() <-chan struct{} {
	return u.quit
}

// Stop signals every Launch'd goroutine to return via Quit and begins
// waiting for them; Done reports once they all have. Safe to call more
// than once.
func (u *Unit) Stop() {
	u.quitOnce.Do(func() { close(u.quit) })
	u.doneOnce.Do(func() {
		go func() {
			u.wg.Wait()
			close(u.done)
		}()
	})
}

// Done returns a channel that closes once every Launch'd goroutine has
// returned after Stop was called. It does not itself request shutdown.
func (u *Unit) Done() <-chan struct{} {
	return u.done
}
