package uthread

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// osExit is overridden in tests so a fatal path doesn't kill the test
// binary.
var osExit = os.Exit

// CallerError reports caller misuse: an unknown id, an out-of-range
// priority, capacity exhaustion, or blocking the main thread. It is
// returned to the caller alongside the diagnostic already printed to
// stderr; the sentinel value the original library returned (-1) has no
// place in a Go API and is dropped in favor of this error.
type CallerError struct {
	instance uuid.UUID
	msg      string
}

func (e *CallerError) Error() string { return e.msg }

// libErr builds and reports a CallerError, printing the
// "thread library error: " diagnostic the spec requires.
func libErr(instance uuid.UUID, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "thread library error: %s\n", msg)
	return &CallerError{instance: instance, msg: msg}
}

// fatal reports a host-facility failure: installs/arms the timer, or a
// signal operation, failed. These are unrecoverable per the spec, so
// this prints the diagnostic and terminates the process with status 1.
// It never returns.
func fatal(instance uuid.UUID, cause error, context string) {
	wrapped := errors.Wrap(cause, context)
	fmt.Fprintf(os.Stderr, "system error: [%s] %s\n", instance, wrapped)
	osExit(1)
}

// fatalProgrammerError reports the one programmer-error condition the
// spec calls out: the dispatch routine found no runnable thread at all.
// Every correct program keeps at least one thread runnable (the main
// thread, if nothing else), so reaching this is a bug in the caller or
// the scheduler itself.
func fatalProgrammerError(instance uuid.UUID, context string) {
	fmt.Fprintf(os.Stderr, "system error: [%s] no runnable thread: %s\n", instance, context)
	osExit(1)
}
