package launcher

import (
	"time"

	"github.com/google/uuid"
)

// HardMax is the hard, unconfigurable upper bound on concurrent routines per
// host.
const HardMax = 32

// NeverKill is the sentinel timeoutSeconds value meaning "never kill this
// routine on timeline grounds".
const NeverKill = -1

// slot is one slot record, owned exclusively by the Slot Table.
type slot struct {
	routine        *Routine
	startTime      time.Time
	pid            int
	timeoutSeconds int
	upstream       Upstream
	child          *Conn
	alive          bool
	launchID       uuid.UUID
}

// occupied reports whether this slot currently holds a running routine.
func (s *slot) occupied() bool {
	return s.pid > 0
}

// slotTable is the fixed-capacity array of slot records. It is not safe for
// concurrent use: all access comes from the single Launcher Core goroutine.
type slotTable struct {
	slots        [HardMax]slot
	runningCount int
}

// allocate returns the index of the first free slot without populating it;
// the caller fills routine, timeout, start time, endpoints and pid in that
// order.
func (t *slotTable) allocate() (int, bool) {
	for i := range t.slots {
		if !t.slots[i].occupied() {
			return i, true
		}
	}

	return 0, false
}

// reclaim closes the slot's child endpoint, zeros the record, marks its
// routine DONE, and decrements runningCount. It is a no-op on an
// already-empty slot.
func (t *slotTable) reclaim(index int) {
	s := &t.slots[index]
	if !s.occupied() && s.child == nil {
		return
	}

	if s.child != nil {
		_ = s.child.Close()
	}

	if s.routine != nil {
		s.routine.setState(DONE)
	}

	if s.pid > 0 {
		t.runningCount--
	}

	*s = slot{}
}

// occupiedIndices returns the indices of every occupied slot, in index
// order.
func (t *slotTable) occupiedIndices() []int {
	out := make([]int, 0, t.runningCount)
	for i := range t.slots {
		if t.slots[i].occupied() {
			out = append(out, i)
		}
	}

	return out
}

// repairRunningCount resets the cached running count to the number of
// actually occupied slots. Used by the tick's reconciliation step after
// reaping.
func (t *slotTable) repairRunningCount() {
	t.runningCount = len(t.occupiedIndices())
}
