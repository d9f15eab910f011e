package uthread

import (
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// Scheduler is the control plane of §4.5: the one place that
// manipulates runningID, the ready queue, tcb state fields, and the
// host timer. Per §9's design note it is localized into one object
// rather than a set of free-floating globals, but a single instance is
// still reachable process-wide (see global/globalMu in api.go) because
// the signal facility it is driven by is itself process-wide.
type Scheduler struct {
	instance uuid.UUID

	mu sync.Mutex

	priorityQuanta []int
	table          threadTable
	ready          readyQueue
	runningID      int
	hasRunning     bool
	totalQuanta    int

	timer *preemptionTimer
}

// newScheduler constructs a Scheduler with TCB 0 already Running, per
// the Open Question resolution in DESIGN.md: context 0 is never
// captured/restored through the machineContext machinery, it is simply
// the calling goroutine.
func newScheduler(priorityQuanta []int) (*Scheduler, error) {
	if len(priorityQuanta) == 0 {
		return nil, libErr(uuid.Nil, "priority_quanta must have at least one entry")
	}
	for i, q := range priorityQuanta {
		if q <= 0 {
			return nil, libErr(uuid.Nil, "priority %d has non-positive quantum %d", i, q)
		}
	}

	// Go has no register/stack-pointer capture primitive, so the only way
	// to make "exactly one logical thread executes at any moment" true at
	// the OS level rather than just in this package's bookkeeping is to
	// take real multi-core parallelism off the table entirely.
	runtime.GOMAXPROCS(1)

	s := &Scheduler{
		instance:       uuid.New(),
		priorityQuanta: append([]int(nil), priorityQuanta...),
		totalQuanta:    1,
	}

	main := &tcb{id: 0, priority: 0, state: stateRunning, quantumCount: 1, ctx: newMachineContext()}
	s.table.install(main)
	s.runningID = 0
	s.hasRunning = true

	s.timer = newPreemptionTimer(s.instance, s.onPreempt)
	s.timer.arm(s.priorityQuanta[0])

	return s, nil
}

// onPreempt is the SIGVTALRM entry point (relayed through
// preemptionTimer.loop, never true signal context, and running on that
// relay goroutine — never the goroutine of the thread being preempted,
// which is exactly why this rewrite cannot literally suspend it here;
// see DESIGN.md and checkpoint). It masks further preemption and runs
// the dispatch algorithm with the current running thread marked
// still-runnable, leaving it to notice at its own next checkpoint call.
func (s *Scheduler) onPreempt() {
	s.mu.Lock()
	s.timer.mask()
	if !s.hasRunning {
		s.mu.Unlock()
		s.timer.unmask()
		return
	}
	s.dispatch(true)
}

// dispatch is the selection half of §4.5's algorithm. Callers must
// hold s.mu and have already masked the timer; dispatch always leaves
// s.mu unlocked and the timer unmasked by the time it returns (via
// dispatchCommon), on every path including the fatal one.
func (s *Scheduler) dispatch(outgoingStillRunnable bool) {
	if outgoingStillRunnable && s.hasRunning {
		outgoing := s.table.lookup(s.runningID)
		outgoing.state = stateReady
		outgoing.needsWake = false
		s.ready.pushBack(outgoing.id)
	}

	nextID, ok := s.ready.popFront()
	if !ok {
		// Every correct program keeps at least one thread runnable;
		// the main thread can never be Blocked, so it is always
		// either Running or sitting in ready_queue. Reaching here
		// means that invariant was violated by the caller.
		s.mu.Unlock()
		s.timer.unmask()
		fatalProgrammerError(s.instance, "ready queue empty with no runnable thread")
		return
	}

	next := s.table.lookup(nextID)
	wake := next.needsWake
	next.needsWake = false
	next.state = stateRunning
	s.runningID = nextID
	s.hasRunning = true
	s.dispatchCommon(next, wake)
}

// dispatchCommon performs the counter bumps, timer arm, and (if the
// target is genuinely parked) context restore shared by every dispatch
// path, per §4.5 steps 3-5. It releases s.mu and unmasks the timer
// before waking the target. The restore itself runs on a helper
// goroutine rather than inline: dispatch is frequently called by the
// very goroutine that is about to park itself (block's and terminate's
// self-cases), and that goroutine's next step is to reach its own
// capture/Goexit with no code of its own running in between. Spawning
// the handoff keeps that gap to goroutine-launch scheduling latency
// instead of a function call's worth of our own instructions racing the
// newly woken thread.
func (s *Scheduler) dispatchCommon(next *tcb, wake bool) {
	next.incQuantum()
	s.totalQuanta++
	s.timer.arm(s.priorityQuanta[next.priority])

	s.mu.Unlock()
	s.timer.unmask()
	if wake {
		go next.ctx.restore()
	}
}

// checkpoint is the cooperative preemption point documented in
// SPEC_FULL.md §3.3 and DESIGN.md's mitigated simplification: Go has no
// primitive to forcibly suspend an arbitrary running goroutine, so an
// involuntary preemption (onPreempt) can only record that id's tcb is
// Ready again — its goroutine keeps executing in the background until
// it calls checkpoint. An entry that never calls it can run forever
// across quantum boundaries unsupervised; one that calls it periodically
// genuinely parks at the next call after its quantum expired, and does
// not resume running until it is dispatched again.
func (s *Scheduler) checkpoint(id int) error {
	s.mu.Lock()
	target := s.table.lookup(id)
	if target == nil {
		s.mu.Unlock()
		return libErr(s.instance, "checkpoint: unknown thread id %d", id)
	}
	if target.state != stateReady {
		// Either still Running (no preemption landed since the last
		// checkpoint) or Blocked/destroyed by a concurrent call into
		// the library; in neither case is there anything to park.
		s.mu.Unlock()
		return nil
	}
	target.needsWake = true
	s.mu.Unlock()

	if !target.ctx.capture() {
		runtime.Goexit()
	}
	return nil
}

// spawn implements §4.5's spawn.
func (s *Scheduler) spawn(entry func(), priority int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if priority < 0 || priority >= len(s.priorityQuanta) {
		return 0, libErr(s.instance, "invalid priority %d", priority)
	}
	if entry == nil {
		return 0, libErr(s.instance, "entry function must not be nil")
	}
	id, ok := s.table.freeID()
	if !ok {
		return 0, libErr(s.instance, "thread table is full (capacity %d)", threadCapacity)
	}

	t := newTCB(id, priority, entry, s.selfTerminate)
	s.table.install(t)
	s.ready.pushBack(id)
	return id, nil
}

// terminate implements §4.5's three terminate sub-cases. The self-
// terminating sub-case ends with runtime.Goexit rather than a normal
// return: per §4.5 and §6, terminate on the caller's own id must never
// return to that caller, including when the caller is itself an entry
// function mid-execution (not just via the implicit return-from-entry
// path), and Goexit is the one construct that guarantees that in Go.
func (s *Scheduler) terminate(id int) error {
	s.mu.Lock()

	if id == 0 {
		s.timer.mask()
		for slotID := 0; slotID < threadCapacity; slotID++ {
			if t := s.table.lookup(slotID); t != nil {
				t.destroy()
			}
		}
		s.timer.stop()
		s.mu.Unlock()
		osExit(0)
		return nil // unreachable
	}

	target := s.table.lookup(id)
	if target == nil {
		s.mu.Unlock()
		return libErr(s.instance, "terminate: unknown thread id %d", id)
	}

	if id == s.runningID {
		s.timer.mask()
		s.hasRunning = false
		target.destroy()
		s.table.free(id)
		s.dispatch(false) // unlocks s.mu internally
		runtime.Goexit()
		return nil // unreachable
	}

	s.timer.mask()
	s.ready.remove(id)
	target.destroy()
	s.table.free(id)
	s.timer.unmask()
	s.mu.Unlock()
	return nil
}

// selfTerminate is the onExit callback threaded into newTCB: it is
// invoked from inside a logical thread's own goroutine because its
// entry function returned normally, the implicit-termination feature
// supplemented from original_source/uthreads.cpp.
func (s *Scheduler) selfTerminate(id int) {
	_ = s.terminate(id)
}

// block implements §4.5's block.
func (s *Scheduler) block(id int) error {
	s.mu.Lock()

	if id == 0 {
		s.mu.Unlock()
		return libErr(s.instance, "cannot block the main thread")
	}
	target := s.table.lookup(id)
	if target == nil {
		s.mu.Unlock()
		return libErr(s.instance, "block: unknown thread id %d", id)
	}
	if target.state == stateBlocked {
		s.mu.Unlock()
		return nil
	}

	s.timer.mask()
	s.ready.remove(id)
	target.state = stateBlocked

	if id == s.runningID {
		s.hasRunning = false
		// Mark ourselves as a genuine restore target before giving up
		// the lock: dispatch's restore of our successor, or a
		// concurrent resume+redispatch of this thread, must never
		// race ahead of this assignment — both need the lock we are
		// still holding to observe Blocked in the first place.
		target.needsWake = true
		s.dispatch(false) // unlocks s.mu internally

		// dispatch() has already handed control to our successor.
		// Actually park this goroutine now until resume wakes it or
		// abandon cuts it loose.
		if !target.ctx.capture() {
			runtime.Goexit() // abandoned: our tcb was destroyed while blocked
		}
		return nil
	}

	s.timer.unmask()
	s.mu.Unlock()
	return nil
}

// resume implements §4.5's resume.
func (s *Scheduler) resume(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.table.lookup(id)
	if target == nil {
		return libErr(s.instance, "resume: unknown thread id %d", id)
	}
	if target.state != stateBlocked {
		return nil
	}
	target.state = stateReady
	s.ready.pushBack(id)
	return nil
}

// changePriority implements §4.5's change_priority.
func (s *Scheduler) changePriority(id, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if priority < 0 || priority >= len(s.priorityQuanta) {
		return libErr(s.instance, "invalid priority %d", priority)
	}
	target := s.table.lookup(id)
	if target == nil {
		return libErr(s.instance, "change_priority: unknown thread id %d", id)
	}
	target.priority = priority
	return nil
}

func (s *Scheduler) getTid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningID
}

func (s *Scheduler) getTotalQuantums() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalQuanta
}

func (s *Scheduler) getQuantums(id int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.table.lookup(id)
	if target == nil {
		return 0, libErr(s.instance, "get_quantums: unknown thread id %d", id)
	}
	return target.quantumCount, nil
}
