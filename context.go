package uthread

// machineContext stands in for the register/stack-pointer snapshot
// §4.1 describes. Go gives no user-space capture/restore primitive
// without cgo and per-architecture assembly, so this realizes the same
// contract with a goroutine parked on a channel receive: capturing a
// context is the goroutine blocking on resume, and restoring it is the
// scheduler sending on that channel to wake it back up. See DESIGN.md
// for why this is the one accepted departure from a literal MCP.
type machineContext struct {
	// resume wakes the parked goroutine to continue execution.
	resume chan struct{}
	// abandoned wakes a parked goroutine that must exit instead of
	// resuming, because its TCB was destroyed while Ready or Blocked.
	abandoned chan struct{}
}

func newMachineContext() *machineContext {
	return &machineContext{
		resume:    make(chan struct{}),
		abandoned: make(chan struct{}),
	}
}

// capture parks the calling goroutine until restore or abandon is
// called on this context. It returns true if the goroutine was woken
// to resume, or false if it was abandoned and must exit without
// running further.
func (c *machineContext) capture() bool {
	select {
	case <-c.resume:
		return true
	case <-c.abandoned:
		return false
	}
}

// restore wakes the goroutine parked in capture so it resumes.
func (c *machineContext) restore() {
	c.resume <- struct{}{}
}

// abandon wakes the goroutine parked in capture so it exits instead of
// resuming. Used when a Ready or Blocked thread is terminated by
// another thread.
func (c *machineContext) abandon() {
	c.abandoned <- struct{}{}
}
