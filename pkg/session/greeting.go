package session

import "sync/atomic"

// GreetingInjector is a one-shot latch. Fire succeeds for exactly one
// caller; Resolve marks the greeting slot as settled whether or not audio
// was produced.
type GreetingInjector struct {
	fired    atomic.Bool
	greeted  atomic.Bool
	resolved chan struct{}
}

func NewGreetingInjector() *GreetingInjector {
	return &GreetingInjector{resolved: make(chan struct{})}
}

// Fire returns true the first time it is called and false afterwards.
func (g *GreetingInjector) Fire() bool {
	return g.fired.CompareAndSwap(false, true)
}

// Resolve settles the greeting slot. Only the first call has effect.
func (g *GreetingInjector) Resolve() {
	if g.greeted.CompareAndSwap(false, true) {
		close(g.resolved)
	}
}

// Resolved is closed once the greeting was emitted or skipped.
func (g *GreetingInjector) Resolved() <-chan struct{} { return g.resolved }

// HasGreeted goes false to true at most once.
func (g *GreetingInjector) HasGreeted() bool { return g.greeted.Load() }
