//go:build unix

package uthread

import (
	"os"
	"os/signal"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// preemptionTimer wires §6's virtual-time interval timer and signal
// facility onto the real host: golang.org/x/sys/unix.Setitimer against
// ITIMER_VIRTUAL, and os/signal.Notify against SIGVTALRM. There is no
// teacher grounding for this file (toysched drives dispatch from an
// explicit loop, never a real timer); it is pulled from the wider pack
// per SPEC_FULL.md §2.
type preemptionTimer struct {
	instance uuid.UUID
	onFire   func()

	mu     sync.Mutex
	masked bool

	sigCh    chan os.Signal
	done     chan struct{}
	stopOnce sync.Once
}

// newPreemptionTimer installs the SIGVTALRM handler and starts the
// goroutine that turns signal deliveries into onFire calls. onFire is
// invoked from that goroutine, never from true signal context, since
// Go's os/signal already moves delivery off the signal handler and
// onto a channel before user code ever runs.
func newPreemptionTimer(instance uuid.UUID, onFire func()) *preemptionTimer {
	pt := &preemptionTimer{
		instance: instance,
		onFire:   onFire,
		sigCh:    make(chan os.Signal, 1),
		done:     make(chan struct{}),
	}
	signal.Notify(pt.sigCh, unix.SIGVTALRM)
	go pt.loop()
	return pt
}

func (pt *preemptionTimer) loop() {
	for {
		select {
		case <-pt.sigCh:
			pt.mu.Lock()
			masked := pt.masked
			pt.mu.Unlock()
			if masked {
				// Dropped: the running critical section protected
				// invariants at the cost of this one quantum's
				// preemption point. The next arm call (always issued
				// before unmasking a dispatch-bearing section) covers
				// the following quantum.
				continue
			}
			pt.onFire()
		case <-pt.done:
			return
		}
	}
}

// arm programs the timer to deliver SIGVTALRM once after quantumUsec
// microseconds. A host-facility failure here is fatal per §7.2.
func (pt *preemptionTimer) arm(quantumUsec int) {
	it := unix.Itimerval{
		Value: unix.NsecToTimeval(int64(quantumUsec) * 1000),
	}
	if _, err := unix.Setitimer(unix.ITIMER_VIRTUAL, it); err != nil {
		fatal(pt.instance, errors.WithStack(err), "arming virtual-time interval timer")
	}
}

// mask and unmask bracket a scheduler critical section per §5: while
// masked, a delivered SIGVTALRM is not dispatched into onFire.
func (pt *preemptionTimer) mask() {
	pt.mu.Lock()
	pt.masked = true
	pt.mu.Unlock()
}

func (pt *preemptionTimer) unmask() {
	pt.mu.Lock()
	pt.masked = false
	pt.mu.Unlock()
}

// stop tears down the signal relay, used only by terminate(0). It is
// safe to call more than once.
func (pt *preemptionTimer) stop() {
	pt.stopOnce.Do(func() {
		signal.Stop(pt.sigCh)
		close(pt.done)
	})
}
