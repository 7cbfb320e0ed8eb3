package launcher

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/greenbone/nvt-launcher/internal/logger"
)

// Core is the Launcher Core: the top-level state machine driving a single
// host's routine pool. A Core is owned by a single goroutine; none of its
// methods are safe to call concurrently from more than one goroutine.
type Core struct {
	catalog Catalog
	prefs   Preferences
	spawner Spawner

	hostname       string
	nonSimultPorts []string
	softMax        int
	oldSoftMax     int

	table slotTable
}

// NewCore constructs a Core bound to the given catalog, preference store
// and routine-launcher. Init must be called before Launch.
func NewCore(catalog Catalog, prefs Preferences, spawner Spawner) *Core {
	return &Core{catalog: catalog, prefs: prefs, spawner: spawner}
}

// Init records the host label, parses the non-simultaneous-ports CSV, zeros
// the slot table and clamps the configured soft max to HardMax-1.
func (c *Core) Init(hostLabel, nonSimultPortsCSV string, configuredSoftMax int) {
	c.hostname = hostLabel
	c.nonSimultPorts = splitPorts(nonSimultPortsCSV)
	c.table = slotTable{}

	max := configuredSoftMax
	if max >= HardMax {
		logger.Warn("configured soft max exceeds hard max; clamping", logger.Ctx{
			"configured": configuredSoftMax, "hardMax": HardMax,
		})

		max = HardMax - 1
	}

	c.softMax = max
	c.oldSoftMax = max
}

// RunningCount returns the number of currently occupied slots.
func (c *Core) RunningCount() int {
	return c.table.runningCount
}

// SoftMax returns the current effective concurrency limit.
func (c *Core) SoftMax() int {
	return c.softMax
}

// SlotInfo is a point-in-time, read-only view of one occupied slot, for
// status reporting. It is a snapshot: mutating it has no effect on the Core.
type SlotInfo struct {
	OID       string       `json:"oid"`
	PID       int          `json:"pid"`
	State     RunningState `json:"state"`
	StartTime time.Time    `json:"startTime"`
	Timeout   int          `json:"timeoutSeconds"`
}

// Snapshot returns a SlotInfo for every currently occupied slot, in index
// order. Like every other Core method, it must only be called from the
// owning goroutine.
func (c *Core) Snapshot() []SlotInfo {
	indices := c.table.occupiedIndices()
	out := make([]SlotInfo, 0, len(indices))

	for _, idx := range indices {
		s := &c.table.slots[idx]

		oid := ""
		state := UNRUN

		if s.routine != nil {
			oid = s.routine.OID
			state = s.routine.State()
		}

		out = append(out, SlotInfo{
			OID: oid, PID: s.pid, State: state, StartTime: s.startTime, Timeout: s.timeoutSeconds,
		})
	}

	return out
}

// DisableParallel sets the effective concurrency limit to 1. In-flight
// children are unaffected; only new Launch calls observe the new limit.
func (c *Core) DisableParallel() {
	c.softMax = 1
}

// EnableParallel restores the effective concurrency limit to the value it
// had before the most recent DisableParallel.
func (c *Core) EnableParallel() {
	c.softMax = c.oldSoftMax
}

// tick is the cooperative "reap -> poll -> handle ready -> enforce
// deadlines" step shared by the admission loop, the conflict-wait loop, the
// two public wait variants (WaitAll, WaitForSlotChange) and Stop's soft
// drain.
func (c *Core) tick() {
	reapNoHang()

	if len(c.table.occupiedIndices()) == 0 && c.table.runningCount > 0 {
		c.table.repairRunningCount()
	}

	ready := pollReady(&c.table, PollTick)
	for _, idx := range ready {
		c.processOne(idx)
	}

	sweep(&c.table, c.hostname)
}

// processOne handles one ready child endpoint: data is forwarded upstream,
// a finished control frame tears the routine down, and a closed or broken
// endpoint marks the slot for reclamation on the next sweep.
func (c *Core) processOne(idx int) {
	s := &c.table.slots[idx]
	if s.child == nil {
		return
	}

	frame := s.child.Recv()

	switch frame.Kind {
	case KindData:
		if err := forward(s.upstream, frame.Payload, frame.Type); err != nil {
			logger.Warn("failed forwarding data frame upstream", logger.Ctx{"pid": s.pid, "err": err})
		}

	case KindControl:
		if frame.Finished() {
			_ = unix.Kill(s.pid, unix.SIGTERM)
			s.alive = false
		} else {
			logger.Debug("ignoring unrecognized control bits", logger.Ctx{"pid": s.pid, "type": frame.Type})
		}

	case KindClosed, KindError:
		if frame.Err != nil {
			logger.Debug("child endpoint error; will reclaim on next sweep", logger.Ctx{"pid": s.pid, "err": frame.Err})
		}

		s.alive = false
	}
}

// resolveTimeout resolves a routine's effective timeout: preference
// override, then catalog value, then category default, then -1. A catalog
// failure, whether resolving the declared timeout or the category default,
// is fatal to resolution and defaults to -1 (never kill), unlike the
// Conflict Oracle, which treats the same condition conservatively instead.
func (c *Core) resolveTimeout(oid string) int {
	if seconds, ok := c.prefs.TimeoutOverride(oid); ok {
		return seconds
	}

	seconds, err := c.catalog.Timeout(oid)
	if err != nil {
		return NeverKill
	}

	if seconds != 0 {
		return seconds
	}

	category, err := c.catalog.Category(oid)
	if err != nil {
		return NeverKill
	}

	if category == CategoryScanner {
		return c.prefs.ScannerPluginsTimeout()
	}

	return c.prefs.PluginsTimeout()
}

// nextFreeSlot reaps zombies, then waits out any routine that conflicts
// with the upcoming one on shared ports, then returns the first free slot.
func (c *Core) nextFreeSlot(oid string) (int, error) {
	reapNoHang()

	for _, idx := range c.table.occupiedIndices() {
		other := &c.table.slots[idx]
		if other.routine == nil {
			continue
		}

		// otherOID is captured up front: c.tick() inside this loop can reclaim
		// and zero this very slot (other aliases the table entry), and
		// other.routine would then be nil.
		otherOID := other.routine.OID

		for other.occupied() && portsConflict(c.catalog, otherOID, oid, c.nonSimultPorts) && isAlive(other.pid) {
			c.tick()
		}
	}

	index, ok := c.table.allocate()
	if !ok {
		return 0, ErrNoSlot
	}

	return index, nil
}

// Launch admits a routine into a slot, resolves its timeout, creates its
// communication channel, and hands it to the spawner.
func (c *Core) Launch(routine *Routine, upstream Upstream, host HostContext, kb KnowledgeBase, name string) (int, error) {
	for c.table.runningCount >= c.softMax {
		c.tick()
	}

	index, err := c.nextFreeSlot(routine.OID)
	if err != nil {
		return 0, err
	}

	timeoutSeconds := c.resolveTimeout(routine.OID)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, fmt.Errorf("launcher: create child socketpair: %w", err)
	}

	localConn := NewConn(fds[0])
	peer := os.NewFile(uintptr(fds[1]), "nvt-child")

	s := &c.table.slots[index]
	s.routine = routine
	s.timeoutSeconds = timeoutSeconds
	s.startTime = time.Now()
	s.upstream = upstream
	s.child = localConn
	s.launchID = uuid.New()

	pid, spawnErr := c.spawner.Spawn(host, kb, name, routine.OID, peer)
	_ = peer.Close()

	if spawnErr != nil || pid <= 0 {
		logger.Warn("spawn failed", logger.Ctx{"oid": routine.OID, "name": name, "err": spawnErr})
		// reclaim marks the routine DONE; a routine that never started goes
		// back to UNRUN afterwards.
		c.table.reclaim(index)
		routine.setState(UNRUN)

		if spawnErr != nil {
			return 0, fmt.Errorf("%w: %v", ErrSpawnFailed, spawnErr)
		}

		return 0, ErrSpawnFailed
	}

	s.pid = pid
	s.alive = true
	routine.setState(RUNNING)
	c.table.runningCount++

	if c.prefs.LogWholeAttack() {
		logger.Info("routine launched", logger.Ctx{
			"oid": routine.OID, "name": name, "pid": pid, "timeout": timeoutSeconds, "launchID": s.launchID,
		})
	}

	return pid, nil
}

// WaitAll loops the cooperative tick until every slot is empty.
func (c *Core) WaitAll() {
	for c.table.runningCount != 0 {
		c.tick()
	}
}

// WaitForSlotChange loops the cooperative tick until the running count
// differs from its value on entry.
func (c *Core) WaitForSlotChange() {
	observed := c.table.runningCount
	for c.table.runningCount == observed {
		c.tick()
	}
}

// Stop halts the Core. When soft is true, it first drains one Poller step
// and gives every occupied slot a chance to exit on SIGTERM before
// escalating; it always finishes by SIGKILLing and reclaiming every
// remaining occupied slot.
func (c *Core) Stop(soft bool) {
	if soft {
		c.tick()

		for _, idx := range c.table.occupiedIndices() {
			_ = unix.Kill(c.table.slots[idx].pid, unix.SIGTERM)
		}

		time.Sleep(SoftStopGrace)
	}

	for _, idx := range c.table.occupiedIndices() {
		pid := c.table.slots[idx].pid
		_ = unix.Kill(pid, unix.SIGKILL)
		reapChild(pid)
		c.table.reclaim(idx)
	}
}

// ChildCleanup closes every still-open child endpoint inherited by a
// process that has just forked a routine, so the new routine process
// cannot inadvertently hold write ends that would keep other routines'
// channels open indefinitely. It does not touch pids or accounting, since
// it runs in the forked child, not the owning goroutine.
func (c *Core) ChildCleanup() {
	for i := range c.table.slots {
		if c.table.slots[i].child != nil {
			_ = c.table.slots[i].child.Close()
		}
	}
}
