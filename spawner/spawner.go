// Package spawner provides a concrete implementation of the routine-launcher
// primitive: given a pre-created communication endpoint, fork and execute a
// routine. This is deliberately a small, real implementation, not just an
// interface definition, since a standalone binary that launched nothing
// would not exercise the Launcher Core at all.
package spawner

import (
	"fmt"
	"os"
	"os/exec"

	petname "github.com/dustinkirkland/golang-petname"
	shellquote "github.com/kballard/go-shellquote"

	"github.com/greenbone/nvt-launcher/internal/logger"
	"github.com/greenbone/nvt-launcher/launcher"
)

// Resolver maps a routine OID and display name to an executable path and
// argument list. Callers supply this; it is the one piece of the real
// OpenVAS plugin-loading machinery (pluginload.c, nasl_plugin_launch) that
// stays genuinely out of scope here.
type Resolver func(oid, name string) (path string, args []string, err error)

// ExecSpawner launches routines as plain child processes via os/exec,
// handing the child end of the Launcher Core's socketpair to the process as
// file descriptor 3 (the first entry in ExtraFiles).
//
// ExecSpawner deliberately never calls cmd.Wait: ownership of reaping the
// process belongs to the Launcher Core's Reaper and Deadline Enforcer, not
// to os/exec's own bookkeeping, so the process handle is released
// immediately after a successful start.
type ExecSpawner struct {
	Resolve Resolver
	Catalog launcher.Catalog
}

// Spawn implements launcher.Spawner.
func (s *ExecSpawner) Spawn(_ launcher.HostContext, _ launcher.KnowledgeBase, name, oid string, peer *os.File) (int, error) {
	path, args, err := s.Resolve(oid, name)
	if err != nil {
		return 0, fmt.Errorf("spawner: resolve %q: %w", oid, err)
	}

	display := name
	if display == "" && s.Catalog != nil {
		display, _ = s.Catalog.DisplayName(oid)
	}

	if display == "" {
		display = petname.Generate(2, "-")
	}

	cmd := exec.Command(path, args...)
	cmd.ExtraFiles = []*os.File{peer}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = os.Stderr

	logger.Debug("spawning routine", logger.Ctx{
		"oid": oid, "display": display, "cmd": shellquote.Join(append([]string{path}, args...)...),
	})

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawner: start %q: %w", path, err)
	}

	pid := cmd.Process.Pid

	// Detach Go's own process bookkeeping: the Launcher Core's Reaper and
	// Deadline Enforcer own waitpid from here on, not os/exec.
	_ = cmd.Process.Release()

	return pid, nil
}
