package launcher

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/greenbone/nvt-launcher/internal/logger"
)

// SoftStopGrace is the grace period given to a SIGTERM'd child before it is
// escalated to SIGKILL, both in the Deadline Enforcer and in Core.Stop.
const SoftStopGrace = 20 * time.Millisecond

// timeoutFrame renders the byte-exact upstream error frame for a timed-out
// routine. oid is replaced with the literal "0" if empty.
func timeoutFrame(hostname, oid string, timeoutSeconds int) []byte {
	if oid == "" {
		oid = "0"
	}

	return []byte(fmt.Sprintf(
		"SERVER <|> ERRMSG <|> %s <|> general/tcp <|> NVT timed out after %d seconds. <|> %s <|> SERVER\n",
		hostname, timeoutSeconds, oid))
}

// isAlive reports whether pid still exists in the process table.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// terminateProcess sends SIGTERM to pid, polls for up to grace for it to
// exit, then escalates to SIGKILL if it is still alive. A child of this
// process is reaped once it has exited, so it does not linger as a zombie.
func terminateProcess(pid int, grace time.Duration) {
	if pid <= 0 {
		return
	}

	_ = unix.Kill(pid, unix.SIGTERM)

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		var status unix.WaitStatus
		if wpid, _ := unix.Wait4(pid, &status, unix.WNOHANG, nil); wpid == pid || !isAlive(pid) {
			return
		}

		time.Sleep(time.Millisecond)
	}

	if isAlive(pid) {
		_ = unix.Kill(pid, unix.SIGKILL)
		reapChild(pid)
	}
}

// sweep is the Deadline Enforcer. It classifies each occupied slot and
// reclaims those that are dead or have exceeded their timeout.
func sweep(table *slotTable, hostname string) {
	now := time.Now()

	for _, idx := range table.occupiedIndices() {
		s := &table.slots[idx]

		switch {
		case s.alive && s.timeoutSeconds > 0 && now.Sub(s.startTime) >= time.Duration(s.timeoutSeconds)*time.Second:
			oid := ""
			if s.routine != nil {
				oid = s.routine.OID
			}

			frame := timeoutFrame(hostname, oid, s.timeoutSeconds)
			if err := forward(s.upstream, frame, FrameData); err != nil {
				logger.Warn("failed forwarding timeout frame upstream", logger.Ctx{"oid": oid, "err": err})
			}

			logger.Info("routine timed out; terminating", logger.Ctx{"oid": oid, "pid": s.pid, "timeout": s.timeoutSeconds})
			terminateProcess(s.pid, SoftStopGrace)
			s.alive = false
			reapChild(s.pid)
			table.reclaim(idx)

		case !s.alive:
			reapChild(s.pid)
			table.reclaim(idx)
		}
	}
}
