package uthread

// threadCapacity is CAP from §3: the fixed number of thread-id slots.
const threadCapacity = 100

// threadTable is the fixed-capacity slotted registry of §4.3: source
// of truth for existence and the id allocator. It exclusively owns
// every tcb it references; the ready queue below only ever holds ids.
type threadTable struct {
	slots [threadCapacity]*tcb
}

// freeID returns the smallest currently unallocated id and true, or
// (0, false) if the table is at capacity. It does not install
// anything; call install with the returned id to allocate it. The two
// are split so a caller can construct a tcb whose goroutine closes
// over its own final id before the tcb is visible to lookups.
func (tt *threadTable) freeID() (int, bool) {
	for id := 0; id < threadCapacity; id++ {
		if tt.slots[id] == nil {
			return id, true
		}
	}
	return 0, false
}

// install stores t at t.id, which must have come from a prior freeID
// call with no intervening install at that id.
func (tt *threadTable) install(t *tcb) {
	tt.slots[t.id] = t
}

// lookup returns the tcb for id, or nil if id has never been
// allocated or has already been freed.
func (tt *threadTable) lookup(id int) *tcb {
	if id < 0 || id >= threadCapacity {
		return nil
	}
	return tt.slots[id]
}

// free releases id's slot, making it immediately reusable by a later
// freeID. It does not destroy the tcb; callers destroy before freeing.
func (tt *threadTable) free(id int) {
	if id < 0 || id >= threadCapacity {
		return
	}
	tt.slots[id] = nil
}
