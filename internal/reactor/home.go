package reactor

// Home names the one Reactor a logical handle is bound to. All clones of one logical
// handle share a single Home value (spec.md §3's HomeHandle invariant); Home itself is
// a cheap, copyable value, so sharing it just means copying the struct.
type Home struct {
	r *Reactor
}

// NewHome binds a fresh handle to its home reactor.
func NewHome(r *Reactor) Home {
	if r == nil {
		panic("reactor: NewHome called with a nil Reactor")
	}
	return Home{r: r}
}

// Reactor returns the home reactor.
func (h Home) Reactor() *Reactor { return h.r }

// Guard is the inert value returned by FireHomingMissile. It carries no release
// obligation; it exists purely so that every call site that touches a homed handle
// reads, unmissably, as having fired the missile first:
//
//	guard := w.home.FireHomingMissile(func() { ... })
//	_ = guard
type Guard struct{}

// FireHomingMissile runs fn on the home reactor's loop goroutine and blocks the
// calling goroutine until it returns. Every public method of every homed handle calls
// this before touching handle state, converting what would otherwise be an illegal
// cross-thread touch into an implicit migration with no change to the caller's API.
//
// Unlike the reference description in spec.md §4.1, this implementation does not
// special-case "caller is already on the home goroutine": see SPEC_FULL.md §4's
// implementation notes for why that fast path is intentionally not implemented.
func (h Home) FireHomingMissile(fn func()) Guard {
	h.r.Run(fn)
	return Guard{}
}

// FireHomingMissileSched is FireHomingMissile, but also returns the home Reactor for
// callers that need to submit further reactor-thread-only work (e.g. scheduling an
// accept loop) after the missile fires.
func (h Home) FireHomingMissileSched(fn func(*Reactor)) (Guard, *Reactor) {
	h.r.RunSched(fn)
	return Guard{}, h.r
}
