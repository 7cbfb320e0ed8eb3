package launcher

import (
	"time"

	"golang.org/x/sys/unix"
)

// PollTick is the Poller's bounded wait ceiling. Every cooperative tick the
// Launcher Core takes is bounded by this, so the admission loop, the
// conflict-wait loop and the wait-variants never busy-spin.
const PollTick = 500 * time.Millisecond

// pollReady builds the read set from every occupied slot's child endpoint
// and waits up to timeout for at least one to become readable, retrying on
// signal interruption. It returns the indices ready for read, or nil on
// timeout.
func pollReady(table *slotTable, timeout time.Duration) []int {
	indices := table.occupiedIndices()
	if len(indices) == 0 {
		return nil
	}

	fds := make([]unix.PollFd, len(indices))
	for i, idx := range indices {
		fds[i] = unix.PollFd{Fd: int32(table.slots[idx].child.Fd()), Events: unix.POLLIN}
	}

	timeoutMs := int(timeout / time.Millisecond)

	for {
		n, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			continue
		}

		if err != nil || n == 0 {
			return nil
		}

		break
	}

	ready := make([]int, 0, len(indices))
	for i, idx := range indices {
		if fds[i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			ready = append(ready, idx)
		}
	}

	return ready
}
