package uthread

// state is a logical thread's position in the state machine of §4.5:
// Ready -> Running -> (Ready | Blocked | destroyed), Blocked -> Ready.
type state int

const (
	stateReady state = iota
	stateRunning
	stateBlocked
)

func (s state) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateRunning:
		return "running"
	case stateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// tcb is the thread control block of §3/§4.2: the owned record for one
// logical thread. In place of an owned fixed-size stack buffer, a
// freshly spawned tcb owns a goroutine running entry on Go's own
// managed stack; the goroutine is this rewrite's stack.
type tcb struct {
	id           int
	priority     int
	state        state
	quantumCount int
	ctx          *machineContext

	// needsWake is scheduler bookkeeping, mutated only while the
	// Scheduler's mutex is held: true exactly when this tcb's
	// goroutine is genuinely blocked inside ctx.capture(), so a later
	// dispatch must call ctx.restore() to continue it. It is true from
	// creation until first dispatched, and again from the moment a
	// self-block, or a cooperative checkpoint call, parks the goroutine
	// until it is resumed and redispatched. It is false for a thread
	// that was moved back to Ready by involuntary timer preemption and
	// has not yet reached a checkpoint: nothing in pure Go can force
	// that goroutine to actually stop running (see DESIGN.md), so it is
	// still live and needs no wake signal until it calls Checkpoint
	// itself — until then, dispatching it again is bookkeeping only.
	needsWake bool

	// destroyed makes destroy idempotent.
	destroyed bool
}

// newTCB creates a tcb for id with a freshly synthesized context. When
// entry is non-nil this starts the logical thread's goroutine, which
// parks immediately awaiting its first restore before running entry;
// with entry == nil no goroutine is started. onExit is invoked (with
// id) when entry returns normally, realizing the implicit
// self-termination supplemented from original_source/uthreads.cpp
// (see SPEC_FULL.md §3.1).
//
// id 0 (the main thread) is not built by newTCB: newScheduler
// constructs it directly in state Running with no goroutine; its
// context is never restored because it was never captured from a
// synthesized entry point, only from the real call site that becomes
// the running thread.
func newTCB(id, priority int, entry func(), onExit func(id int)) *tcb {
	t := &tcb{
		id:        id,
		priority:  priority,
		state:     stateReady,
		ctx:       newMachineContext(),
		needsWake: entry != nil,
	}
	if entry != nil {
		go func() {
			if !t.ctx.capture() {
				return
			}
			entry()
			onExit(id)
		}()
	}
	return t
}

// incQuantum records that this tcb has just been dispatched.
func (t *tcb) incQuantum() {
	t.quantumCount++
}

// destroy abandons the tcb's parked goroutine, if it has one currently
// waiting in ctx.capture(); it is a no-op otherwise (already destroyed,
// no goroutine at all as for id 0, or a goroutine that is unsupervised
// in the background per needsWake's doc comment — nothing to wake, and
// nothing further will ever try to schedule it once its slot is freed).
func (t *tcb) destroy() {
	if t.destroyed {
		return
	}
	t.destroyed = true
	if t.needsWake {
		t.ctx.abandon()
	}
}
