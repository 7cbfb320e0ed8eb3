package launcher

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReapNoHang_ReapsExitedChild(t *testing.T) {
	cmd := exec.Command("/bin/true")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Release()

	// Give the child a moment to exit before polling for it, non-blocking.
	deadline := time.Now().Add(2 * time.Second)
	for isAlive(cmd.Process.Pid) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	reapNoHang()

	require.False(t, isAlive(cmd.Process.Pid))
}

func TestReapNoHang_NoChildrenIsANoOp(t *testing.T) {
	reapNoHang()
}

func TestReapChild_BlocksUntilExit(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 0.1")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	defer cmd.Process.Release()

	reapChild(pid)

	require.False(t, isAlive(pid))
}
