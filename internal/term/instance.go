package term

import (
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shellpane/backend/internal/buffer"
	"github.com/shellpane/backend/internal/model"
	"github.com/shellpane/backend/internal/pty"
	"github.com/shellpane/backend/internal/recorder"
)

const readBufferSize = 4096

// Instance owns one spawned shell process: its PTY, its callbacks, and
// its shutdown state. Instances are never handed out by the manager; all
// access goes through manager methods.
type Instance struct {
	id        string
	projectID string
	shell     string
	cwd       string
	castPath  string
	createdAt time.Time

	proc *pty.Process
	ring *buffer.RingBuffer
	rec  *recorder.Recorder
	log  *zap.Logger

	onData func(data []byte)
	onExit func(exitCode int)

	mu           sync.Mutex
	tracker      *nameTracker
	shuttingDown bool

	// exitCh is closed by waitLoop once the process has been reaped.
	exitCh   chan struct{}
	exitCode int

	finalizeOnce sync.Once
}

// Title returns the current display title.
func (inst *Instance) Title() string {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.tracker.Title()
}

// Descriptor returns a snapshot of the instance. The snapshot carries no
// live reference to the process. A terminal whose shutdown has begun
// reports the killed status; one whose process has been reaped without a
// kill reports exited, with the exit code attached.
func (inst *Instance) Descriptor() *model.Terminal {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	status := model.TerminalStatusRunning
	if inst.shuttingDown {
		status = model.TerminalStatusKilled
	}

	var exitCode *int
	select {
	case <-inst.exitCh:
		code := inst.exitCode
		exitCode = &code
		if !inst.shuttingDown {
			status = model.TerminalStatusExited
		}
	default:
	}

	return &model.Terminal{
		ID:          inst.id,
		ProjectID:   inst.projectID,
		ProjectName: inst.tracker.project,
		Title:       inst.tracker.Title(),
		Shell:       inst.shell,
		Cwd:         inst.cwd,
		PID:         inst.proc.PID(),
		Status:      status,
		ExitCode:    exitCode,
		CastPath:    inst.castPath,
		CreatedAt:   inst.createdAt,
		UpdatedAt:   time.Now(),
	}
}

// write forwards data to the process and feeds the title heuristic.
// Forwarding is unconditional; the heuristic never blocks or fails it.
func (inst *Instance) write(data []byte) {
	if _, err := inst.proc.PTY.Write(data); err != nil {
		inst.log.Debug("pty write failed", zap.String("id", inst.id), zap.Error(err))
	}

	if inst.rec != nil {
		inst.rec.WriteInput(data)
	}

	inst.mu.Lock()
	if !inst.shuttingDown && inst.tracker.Feed(data) {
		inst.log.Debug("terminal title updated",
			zap.String("id", inst.id),
			zap.String("title", inst.tracker.Title()))
	}
	inst.mu.Unlock()
}

// resize changes the PTY window size.
func (inst *Instance) resize(cols, rows uint16) error {
	return inst.proc.PTY.Resize(cols, rows)
}

// history returns the buffered output collected so far.
func (inst *Instance) history() []byte {
	return inst.ring.ReadAll()
}

// readLoop relays process output to the ring buffer, the recorder, and
// the data callback, in production order. The data slice passed to the
// callback is only valid for the duration of the call.
func (inst *Instance) readLoop() {
	buf := make([]byte, readBufferSize)

	for {
		n, err := inst.proc.PTY.Read(buf)
		if n > 0 {
			data := buf[:n]
			inst.ring.Write(data)
			if inst.rec != nil {
				inst.rec.WriteOutput(data)
			}
			if inst.onData != nil {
				inst.onData(data)
			}
		}
		if err != nil {
			if err != io.EOF {
				inst.log.Debug("pty read ended", zap.String("id", inst.id), zap.Error(err))
			}
			return
		}
	}
}

// waitLoop reaps the process and finalizes the instance.
func (inst *Instance) waitLoop(m *Manager) {
	code, err := inst.proc.Wait()
	if err != nil {
		inst.log.Debug("process wait failed", zap.String("id", inst.id), zap.Error(err))
	}

	inst.mu.Lock()
	inst.exitCode = code
	inst.mu.Unlock()
	close(inst.exitCh)

	inst.finalize(m, code)
}

// exited reports whether the process has been reaped, and its exit code
// if so (-1 otherwise).
func (inst *Instance) exited() (int, bool) {
	select {
	case <-inst.exitCh:
		inst.mu.Lock()
		defer inst.mu.Unlock()
		return inst.exitCode, true
	default:
		return -1, false
	}
}

// awaitExit waits up to d for the process to be reaped.
func (inst *Instance) awaitExit(d time.Duration) bool {
	select {
	case <-inst.exitCh:
		return true
	case <-time.After(d):
		return false
	}
}

// finalize deregisters the instance, releases the PTY and recorder, and
// fires the exit callback. Exactly one caller wins; kill paths and the
// wait loop may race here safely.
func (inst *Instance) finalize(m *Manager, exitCode int) {
	inst.finalizeOnce.Do(func() {
		m.remove(inst)

		inst.proc.Close()
		if inst.rec != nil {
			inst.rec.Close()
		}

		if inst.onExit != nil {
			inst.onExit(exitCode)
		}
	})
}

// kill drives the shutdown state machine. It returns once the process
// is confirmed dead or the bounded escalation has run its course.
//
// Re-entry is idempotent: the first caller owns the escalation, any
// concurrent call observes shuttingDown and reports success immediately.
func (inst *Instance) kill(m *Manager, force bool) bool {
	inst.mu.Lock()
	if inst.shuttingDown {
		inst.mu.Unlock()
		return true
	}
	inst.shuttingDown = true
	inst.mu.Unlock()

	if inst.proc == nil || inst.proc.PID() <= 0 {
		// No live process behind this instance; clean up bookkeeping.
		inst.finalize(m, -1)
		return true
	}

	if force || !pty.GracefulSignals {
		inst.proc.ForceKill()
		inst.awaitExit(immediateKillWait)
		code, _ := inst.exited()
		inst.finalize(m, code)
		return true
	}

	if err := inst.proc.Terminate(); err != nil {
		// Signal delivery failed: the process is already gone, which is
		// the state we wanted.
		code, _ := inst.exited()
		inst.finalize(m, code)
		return true
	}

	timer := time.NewTimer(m.GracefulTimeout)
	defer timer.Stop()

	select {
	case <-inst.exitCh:
		inst.log.Debug("terminal exited gracefully", zap.String("id", inst.id))
	case <-timer.C:
		inst.log.Warn("terminal ignored terminate signal, escalating",
			zap.String("id", inst.id),
			zap.Int("pid", inst.proc.PID()))
		inst.proc.ForceKill()
		// Bounded allowance: resolve even if the OS is slow to report
		// the death.
		inst.awaitExit(forceKillWait)
	}

	code, _ := inst.exited()
	inst.finalize(m, code)
	return true
}
