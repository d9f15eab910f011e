// Package uthread is a user-space thread library: it multiplexes many
// logical threads of control onto a single OS thread, preempting the
// running one on a virtual-time timer and dispatching the next ready
// thread via a captured/restored machine context.
//
// Callers Init the library with a table of per-priority quanta, Spawn
// entry functions onto fresh logical threads, and use Block/Resume/
// Terminate/ChangePriority to manage them.
//
// Init pins the process to a single OS thread (GOMAXPROCS(1)), so two
// logical threads never execute Go code simultaneously. Go still gives
// no way to forcibly suspend an arbitrary running goroutine, so a
// quantum expiring on an entry function that is in the middle of a
// tight CPU-bound loop only records that thread as Ready again; it
// keeps running, unsupervised, until it calls Checkpoint. Entry
// functions that perform real work across more than one quantum must
// call Checkpoint periodically for preemption to actually take effect;
// entry functions that block quickly (Block, Terminate, a channel
// receive) never need to.
package uthread
