package launcher

import "golang.org/x/sys/unix"

// reapNoHang repeatedly reaps any already-exited child without blocking,
// retrying on signal interruption, until there is nothing left to reap. It
// does not touch slot state; it exists purely to prevent zombie
// accumulation between the channel-driven and deadline-driven slot
// transitions.
func reapNoHang() {
	for {
		var status unix.WaitStatus

		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}

		if err != nil || pid <= 0 {
			return
		}
	}
}

// reapChild blocks until the specific pid has been reaped, retrying on
// signal interruption. Used by the Deadline Enforcer once a slot is known
// dead.
func reapChild(pid int) {
	for {
		var status unix.WaitStatus

		_, err := unix.Wait4(pid, &status, 0, nil)
		if err == unix.EINTR {
			continue
		}

		return
	}
}
