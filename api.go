package uthread

import (
	"sync"

	"github.com/google/uuid"
)

// global is the single process-wide Scheduler instance. The signal
// facility that drives preemption is itself process-wide (there is
// exactly one SIGVTALRM relay per process), so per §9's design note a
// package-level handle is unavoidable even though every other piece of
// state lives inside the Scheduler object it points to.
var (
	global   *Scheduler
	globalMu sync.Mutex
)

// Init implements the init operation of §4.5/§6: it stores
// quantaUsec (one positive microsecond count per priority level),
// creates the main thread (id 0, already Running), installs the
// preemption handler, and arms the timer for priority 0's quantum.
// Init must be called exactly once per process.
func Init(quantaUsec []int) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global != nil {
		return libErr(global.instance, "Init called more than once")
	}
	s, err := newScheduler(quantaUsec)
	if err != nil {
		return err
	}
	global = s
	return nil
}

func current() (*Scheduler, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		return nil, libErr(uuid.Nil, "library not initialized: call Init first")
	}
	return global, nil
}

// Spawn implements the spawn operation of §4.5/§6: it allocates a new
// logical thread running entry at priority, appended to the ready
// queue, and returns its id.
func Spawn(entry func(), priority int) (int, error) {
	s, err := current()
	if err != nil {
		return 0, err
	}
	return s.spawn(entry, priority)
}

// Terminate implements the terminate operation of §4.5/§6. Terminating
// id 0 exits the process; terminating the calling thread's own id does
// not return to the caller (see Scheduler.terminate); terminating any
// other thread returns nil on success.
func Terminate(id int) error {
	s, err := current()
	if err != nil {
		return err
	}
	return s.terminate(id)
}

// Block implements the block operation of §4.5/§6.
func Block(id int) error {
	s, err := current()
	if err != nil {
		return err
	}
	return s.block(id)
}

// Resume implements the resume operation of §4.5/§6.
func Resume(id int) error {
	s, err := current()
	if err != nil {
		return err
	}
	return s.resume(id)
}

// ChangePriority implements the change_priority operation of §4.5/§6.
func ChangePriority(id, priority int) error {
	s, err := current()
	if err != nil {
		return err
	}
	return s.changePriority(id, priority)
}

// Checkpoint is the cooperative preemption point supplemented in
// SPEC_FULL.md §3.3: Go cannot forcibly suspend a running goroutine, so
// a logical thread whose entry function runs a CPU-bound loop across
// more than one quantum must call Checkpoint(id) periodically (using
// the id it reads once from GetTid at the top of entry) for an
// involuntary preemption to actually take effect. An entry that blocks
// quickly via Block, Terminate, or a channel receive has no need to
// call it. Checkpoint is a no-op unless id's tcb has been moved to
// Ready by a preemption since the caller last ran; in that case it
// parks the calling goroutine until the scheduler redispatches id.
func Checkpoint(id int) error {
	s, err := current()
	if err != nil {
		return err
	}
	return s.checkpoint(id)
}

// GetTid implements the get_tid operation of §4.5/§6.
func GetTid() (int, error) {
	s, err := current()
	if err != nil {
		return 0, err
	}
	return s.getTid(), nil
}

// GetTotalQuantums implements the get_total_quantums operation of
// §4.5/§6.
func GetTotalQuantums() (int, error) {
	s, err := current()
	if err != nil {
		return 0, err
	}
	return s.getTotalQuantums(), nil
}

// GetQuantums implements the get_quantums operation of §4.5/§6.
func GetQuantums(id int) (int, error) {
	s, err := current()
	if err != nil {
		return 0, err
	}
	return s.getQuantums(id)
}
