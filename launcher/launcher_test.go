package launcher

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test doubles -----------------------------------------------------

// fakePrefs is a minimal launcher.Preferences backed by plain fields, for
// tests that don't need preferences.Store's decoding machinery.
type fakePrefs struct {
	logWholeAttack bool
	nonSimult      string
	scannerTimeout int
	pluginsTimeout int
	overrides      map[string]int
}

func newFakePrefs() *fakePrefs {
	return &fakePrefs{scannerTimeout: NeverKill, pluginsTimeout: NeverKill, overrides: map[string]int{}}
}

func (p *fakePrefs) LogWholeAttack() bool        { return p.logWholeAttack }
func (p *fakePrefs) NonSimultPorts() string      { return p.nonSimult }
func (p *fakePrefs) ScannerPluginsTimeout() int  { return p.scannerTimeout }
func (p *fakePrefs) PluginsTimeout() int         { return p.pluginsTimeout }
func (p *fakePrefs) TimeoutOverride(oid string) (int, bool) {
	s, ok := p.overrides[oid]
	return s, ok
}

// recordingUpstream records every forwarded frame, in order, safe for
// concurrent Forward calls even though Core itself is single-threaded,
// since assertions run from the test goroutine after WaitAll returns.
type recordingUpstream struct {
	mu     sync.Mutex
	frames []Frame
}

func (u *recordingUpstream) Forward(payload []byte, typ FrameType) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.frames = append(u.frames, Frame{Type: typ, Payload: append([]byte(nil), payload...)})

	return nil
}

func (u *recordingUpstream) snapshot() []Frame {
	u.mu.Lock()
	defer u.mu.Unlock()

	return append([]Frame(nil), u.frames...)
}

// scriptSpawner runs the shell script carried in the host argument as the
// routine's child process, handing it the socketpair peer as fd 3. It
// stands in for the real ExecSpawner so tests can make a "routine" emit
// exact wire frames without a compiled helper binary.
type scriptSpawner struct{}

func (scriptSpawner) Spawn(host HostContext, _ KnowledgeBase, _, _ string, peer *os.File) (int, error) {
	script, _ := host.(string)

	cmd := exec.Command("/bin/sh", "-c", script)
	cmd.ExtraFiles = []*os.File{peer}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	pid := cmd.Process.Pid
	_ = cmd.Process.Release()

	return pid, nil
}

// --- wire-frame script construction ------------------------------------

func octalEscape(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		fmt.Fprintf(&sb, "\\%03o", c)
	}

	return sb.String()
}

func frameBytes(typ FrameType, payload []byte) []byte {
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(typ))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))

	return append(header, payload...)
}

// shellEmit builds a /bin/sh script that writes the given frames to fd 3 in
// one printf call, then sleeps past the test's own timeout so that a
// missing SIGTERM/SIGKILL would make the test hang instead of passing by
// accident.
func shellEmit(frames ...[]byte) string {
	var all []byte
	for _, f := range frames {
		all = append(all, f...)
	}

	return fmt.Sprintf("printf '%s' >&3; sleep 5", octalEscape(all))
}

func dataFrame(payload string) []byte { return frameBytes(FrameData, []byte(payload)) }
func finishedFrame() []byte           { return frameBytes(FrameControl|FrameControlFinished, nil) }

// failingSpawner always reports a spawn failure, for tests of the
// error path without relying on a particular missing-binary message.
type failingSpawner struct{}

func (failingSpawner) Spawn(HostContext, KnowledgeBase, string, string, *os.File) (int, error) {
	return 0, fmt.Errorf("fake: resolve failed")
}

// --- scenarios -----------------------------------------------------------

func TestCore_LaunchAndFinishedControlReclaimsSlot(t *testing.T) {
	cat := newFakeCatalog()
	prefs := newFakePrefs()
	core := NewCore(cat, prefs, scriptSpawner{})
	core.Init("target.example", "", 4)

	up := &recordingUpstream{}
	routine := NewRoutine("1.3.6.1.4.1.25623.1.0.100001")

	script := shellEmit(dataFrame("hello upstream"), finishedFrame())
	pid, err := core.Launch(routine, up, script, nil, "probe-a")
	require.NoError(t, err)
	require.Positive(t, pid)

	core.WaitAll()

	assert.Equal(t, 0, core.RunningCount())
	assert.Equal(t, DONE, routine.State())

	frames := up.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, FrameData, frames[0].Type)
	assert.Equal(t, "hello upstream", string(frames[0].Payload))
}

func TestCore_AdmissionBoundedBySoftMax(t *testing.T) {
	cat := newFakeCatalog()
	prefs := newFakePrefs()
	core := NewCore(cat, prefs, scriptSpawner{})
	core.Init("target.example", "", 2)

	up := &recordingUpstream{}

	script := shellEmit(finishedFrame())

	for i := 0; i < 5; i++ {
		r := NewRoutine(fmt.Sprintf("oid.%d", i))
		_, err := core.Launch(r, up, script, nil, fmt.Sprintf("probe-%d", i))
		require.NoError(t, err)
		assert.LessOrEqual(t, core.RunningCount(), 2, "running count must never exceed soft max")
	}

	core.WaitAll()
	assert.Equal(t, 0, core.RunningCount())
}

func TestCore_TimeoutKillsAndEmitsTimeoutFrame(t *testing.T) {
	cat := newFakeCatalog()
	prefs := newFakePrefs()
	prefs.overrides["slow.oid"] = 1 // seconds

	core := NewCore(cat, prefs, scriptSpawner{})
	core.Init("target.example", "", 4)

	up := &recordingUpstream{}
	routine := NewRoutine("slow.oid")

	// Never sends a finished control frame; relies on the deadline enforcer.
	script := "sleep 10"
	_, err := core.Launch(routine, up, script, nil, "slow-probe")
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for core.RunningCount() != 0 && time.Now().Before(deadline) {
		core.tick()
	}

	assert.Equal(t, 0, core.RunningCount())
	assert.Equal(t, DONE, routine.State())

	frames := up.snapshot()
	require.Len(t, frames, 1)
	assert.Contains(t, string(frames[0].Payload), "NVT timed out after 1 seconds")
	assert.Contains(t, string(frames[0].Payload), "slow.oid")
}

func TestCore_ConflictingRoutinesDoNotOverlap(t *testing.T) {
	cat := newFakeCatalog()
	cat.ports["a"] = "139"
	cat.ports["b"] = "139"

	prefs := newFakePrefs()
	prefs.nonSimult = "139"

	core := NewCore(cat, prefs, scriptSpawner{})
	core.Init("target.example", prefs.nonSimult, 4)

	up := &recordingUpstream{}

	slowScript := shellEmit(finishedFrame())
	slowScript = "sleep 0.3 && " + slowScript

	routineA := NewRoutine("a")
	start := time.Now()
	_, err := core.Launch(routineA, up, slowScript, nil, "probe-a")
	require.NoError(t, err)

	routineB := NewRoutine("b")
	fastScript := shellEmit(finishedFrame())
	_, err = core.Launch(routineB, up, fastScript, nil, "probe-b")
	require.NoError(t, err)

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond,
		"launch of a conflicting routine must wait for the port-sharing routine to vacate its slot")

	core.WaitAll()
	assert.Equal(t, DONE, routineA.State())
	assert.Equal(t, DONE, routineB.State())
}

func TestCore_NonConflictingRoutinesRunConcurrently(t *testing.T) {
	cat := newFakeCatalog()
	cat.ports["a"] = "139"
	cat.ports["b"] = "80"

	prefs := newFakePrefs()
	prefs.nonSimult = "139, 80"

	core := NewCore(cat, prefs, scriptSpawner{})
	core.Init("target.example", prefs.nonSimult, 4)

	up := &recordingUpstream{}

	slowScript := "sleep 0.3 && " + shellEmit(finishedFrame())
	fastScript := shellEmit(finishedFrame())

	start := time.Now()

	_, err := core.Launch(NewRoutine("a"), up, slowScript, nil, "probe-a")
	require.NoError(t, err)

	_, err = core.Launch(NewRoutine("b"), up, fastScript, nil, "probe-b")
	require.NoError(t, err)

	elapsed := time.Since(start)
	assert.Less(t, elapsed, 250*time.Millisecond,
		"launching a non-conflicting routine must not wait on an unrelated running routine")

	core.WaitAll()
}

func TestCore_DisableEnableParallelTogglesSoftMax(t *testing.T) {
	cat := newFakeCatalog()
	prefs := newFakePrefs()
	core := NewCore(cat, prefs, scriptSpawner{})
	core.Init("target.example", "", 8)

	require.Equal(t, 8, core.SoftMax())

	core.DisableParallel()
	assert.Equal(t, 1, core.SoftMax())

	core.EnableParallel()
	assert.Equal(t, 8, core.SoftMax())
}

func TestCore_InitClampsSoftMaxToHardLimit(t *testing.T) {
	cat := newFakeCatalog()
	prefs := newFakePrefs()
	core := NewCore(cat, prefs, scriptSpawner{})

	core.Init("target.example", "", HardMax+10)

	assert.Equal(t, HardMax-1, core.SoftMax())
}

func TestCore_SpawnFailureReturnsErrSpawnFailedAndFreesSlot(t *testing.T) {
	cat := newFakeCatalog()
	prefs := newFakePrefs()
	core := NewCore(cat, prefs, failingSpawner{})
	core.Init("target.example", "", 4)

	up := &recordingUpstream{}
	routine := NewRoutine("broken.oid")

	_, err := core.Launch(routine, up, "", nil, "broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.Equal(t, 0, core.RunningCount())
	assert.Equal(t, UNRUN, routine.State())
}

func TestCore_SnapshotReflectsOccupiedSlots(t *testing.T) {
	cat := newFakeCatalog()
	prefs := newFakePrefs()
	core := NewCore(cat, prefs, scriptSpawner{})
	core.Init("target.example", "", 4)

	up := &recordingUpstream{}
	routine := NewRoutine("snap.oid")

	script := "sleep 0.2 && " + shellEmit(finishedFrame())
	_, err := core.Launch(routine, up, script, nil, "snap-probe")
	require.NoError(t, err)

	snap := core.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "snap.oid", snap[0].OID)
	assert.Equal(t, RUNNING, snap[0].State)

	core.WaitAll()
	assert.Empty(t, core.Snapshot())
}
