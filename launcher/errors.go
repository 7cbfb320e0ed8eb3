package launcher

import "github.com/greenbone/nvt-launcher/internal/sentinel"

// Caller-visible errors. Everything else observable only at the
// child-channel boundary (a closed or broken endpoint) is recovered locally
// and never returned to a caller.
const (
	// ErrNoSlot is returned by launch when every slot is full even after
	// draining progress.
	ErrNoSlot = sentinel.Error("launcher: no free slot")
	// ErrSpawnFailed is returned by launch when the external spawner
	// returned a non-positive pid.
	ErrSpawnFailed = sentinel.Error("launcher: spawn failed")
	// ErrCatalogUnavailable names a failed catalog lookup. Core never returns
	// it: resolving a routine's effective timeout falls back to NeverKill on
	// a catalog failure, and the Conflict Oracle treats the same condition
	// as "no conflict".
	ErrCatalogUnavailable = sentinel.Error("launcher: catalog unavailable")
)
