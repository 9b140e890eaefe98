// Package term implements the terminal lifecycle manager: spawning
// shell processes on pseudo-terminals, multiplexing their I/O to
// registered callbacks, and driving bounded-time shutdown of one or all
// of them.
package term

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shellpane/backend/internal/buffer"
	"github.com/shellpane/backend/internal/env"
	"github.com/shellpane/backend/internal/model"
	"github.com/shellpane/backend/internal/pty"
	"github.com/shellpane/backend/internal/recorder"
	"github.com/shellpane/backend/internal/shell"
)

const (
	// GracefulKillTimeout is how long a terminal gets to exit after a
	// terminate signal before the kill escalates to a forced one.
	GracefulKillTimeout = 2 * time.Second

	// KillAllTimeout is the overall budget for a bulk shutdown. Once
	// exceeded, remaining terminals are force-killed synchronously.
	KillAllTimeout = 5 * time.Second

	// forceKillWait is the allowance after a forced kill for the OS to
	// report termination. The kill resolves when it elapses even if the
	// exit has not been observed yet.
	forceKillWait = 500 * time.Millisecond

	// immediateKillWait is the short grace period after an immediate
	// (forced or Windows) kill.
	immediateKillWait = 100 * time.Millisecond

	// Fixed spawn size; the consumer corrects it with a resize once the
	// UI is laid out.
	initialCols = 80
	initialRows = 24

	// DefaultRingBufferSize is the per-terminal output history capacity.
	DefaultRingBufferSize = 64 * 1024
)

// Manager is the registry of live terminal instances. It exclusively
// owns every instance; callers interact with terminals only through ids.
type Manager struct {
	mu        sync.Mutex
	terminals map[string]*Instance

	log *zap.Logger

	// CastDir, when set, enables Asciinema recording of each terminal
	// to CastDir/<id>.cast.
	CastDir string

	// RingBufferSize is the output history capacity per terminal.
	RingBufferSize int

	// GracefulTimeout is the per-terminal grace window before a kill
	// escalates. Defaults to GracefulKillTimeout.
	GracefulTimeout time.Duration

	// KillAllBudget is the overall bulk-shutdown budget. Defaults to
	// KillAllTimeout.
	KillAllBudget time.Duration
}

// NewManager creates a terminal manager. castDir may be empty to
// disable session recording.
func NewManager(log *zap.Logger, castDir string) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		terminals:       make(map[string]*Instance),
		log:             log,
		CastDir:         castDir,
		RingBufferSize:  DefaultRingBufferSize,
		GracefulTimeout: GracefulKillTimeout,
		KillAllBudget:   KillAllTimeout,
	}
}

// CreateOptions describes a terminal to spawn.
type CreateOptions struct {
	// ID is the caller-supplied unique identifier.
	ID string

	// Cwd is the absolute working directory for the shell.
	Cwd string

	// ProjectID and ProjectName identify the owning project; the name
	// seeds the display title.
	ProjectID   string
	ProjectName string

	// Shell optionally overrides the platform default shell path.
	Shell string

	// Settings is the persisted settings snapshot affecting the spawn.
	Settings *model.Settings

	// OnData receives output bytes in the order the process produced
	// them. The slice is only valid for the duration of the call.
	OnData func(data []byte)

	// OnExit receives the exit code once, after which the id is free
	// for reuse.
	OnExit func(exitCode int)
}

// Create spawns a shell terminal and registers it under opts.ID.
//
// If a live terminal already holds the id it is first driven through the
// full kill protocol, so a reused id never leaks its old process. Shell
// validation failures surface as model.ErrShellRejected and spawn
// failures propagate; in both cases nothing is registered.
func (m *Manager) Create(opts CreateOptions) (*model.Terminal, error) {
	if opts.Cwd == "" {
		return nil, model.ErrCwdRequired
	}

	// Idempotent replace: fully terminate any prior holder of this id.
	if m.Exists(opts.ID) {
		m.Kill(opts.ID, false)
	}

	shellPath := opts.Shell
	if shellPath == "" {
		shellPath = shell.DefaultShell()
	}
	if !shell.IsValidShell(shellPath) {
		return nil, fmt.Errorf("%w: %q", model.ErrShellRejected, shellPath)
	}

	args := shellArgs(shellPath, opts.Settings)
	environ := env.Build(opts.Settings)

	var rec *recorder.Recorder
	var castPath string
	if m.CastDir != "" {
		castPath = filepath.Join(m.CastDir, opts.ID+".cast")
		var err error
		rec, err = recorder.New(castPath, initialCols, initialRows)
		if err != nil {
			return nil, fmt.Errorf("failed to create recorder: %w", err)
		}
	}

	proc, err := pty.Start(pty.StartOptions{
		Command:     shellPath,
		Args:        args,
		Env:         environ,
		Dir:         opts.Cwd,
		InitialCols: initialCols,
		InitialRows: initialRows,
	})
	if err != nil {
		if rec != nil {
			rec.Close()
		}
		return nil, fmt.Errorf("failed to spawn shell: %w", err)
	}

	inst := &Instance{
		id:        opts.ID,
		projectID: opts.ProjectID,
		shell:     shellPath,
		cwd:       opts.Cwd,
		castPath:  castPath,
		createdAt: time.Now(),
		proc:      proc,
		ring:      buffer.NewRingBuffer(m.RingBufferSize),
		rec:       rec,
		log:       m.log,
		onData:    opts.OnData,
		onExit:    opts.OnExit,
		tracker:   newNameTracker(opts.ProjectName),
		exitCh:    make(chan struct{}),
	}

	m.mu.Lock()
	m.terminals[opts.ID] = inst
	m.mu.Unlock()

	go inst.readLoop()
	go inst.waitLoop(m)

	m.log.Info("terminal spawned",
		zap.String("id", opts.ID),
		zap.String("shell", shellPath),
		zap.String("cwd", opts.Cwd),
		zap.Int("pid", proc.PID()))

	return inst.Descriptor(), nil
}

// shellArgs computes the shell invocation arguments: a login flag when
// requested and supported, a reduced-banner flag for PowerShell.
func shellArgs(shellPath string, settings *model.Settings) []string {
	if shell.IsPowerShell(shellPath) {
		return []string{"-NoLogo"}
	}
	if settings != nil && settings.LoginShell && shell.SupportsLoginMode(shellPath) {
		return []string{"-l"}
	}
	return nil
}

// Write forwards data to the terminal's process. Returns false without
// forwarding when the id is unknown (already terminated). Write
// failures on a live instance are contained, never raised.
func (m *Manager) Write(id string, data []byte) bool {
	inst, ok := m.get(id)
	if !ok {
		return false
	}
	inst.write(data)
	return true
}

// Resize changes the terminal's window size. Returns false when the id
// is unknown or the resize fails (for example the process has exited).
func (m *Manager) Resize(id string, cols, rows uint16) bool {
	inst, ok := m.get(id)
	if !ok {
		return false
	}
	if err := inst.resize(cols, rows); err != nil {
		m.log.Debug("resize failed", zap.String("id", id), zap.Error(err))
		return false
	}
	return true
}

// Kill terminates the terminal with id. force skips the graceful
// protocol. Returns false when the id is unknown; a kill already in
// progress reports success without re-entering the escalation.
// The call blocks until the protocol resolves (at most roughly the
// manager's grace window plus the forced-kill allowance).
func (m *Manager) Kill(id string, force bool) bool {
	inst, ok := m.get(id)
	if !ok {
		return false
	}
	return inst.kill(m, force)
}

// KillSync is the best-effort synchronous fallback: immediate forced
// kill with no escalation, for callers that cannot block on the full
// protocol. The instance is always removed from the registry.
func (m *Manager) KillSync(id string) {
	inst, ok := m.get(id)
	if !ok {
		return
	}

	inst.mu.Lock()
	inst.shuttingDown = true
	inst.mu.Unlock()

	if inst.proc != nil && inst.proc.PID() > 0 {
		inst.proc.ForceKill()
	}
	code, _ := inst.exited()
	inst.finalize(m, code)
}

// KillAll terminates every live terminal. Kills run concurrently under
// the overall KillAllBudget; on timeout the remaining terminals are
// force-killed synchronously and the outcome is flagged. Every
// snapshotted id is tallied exactly once: kills that resolve while the
// budget fires are drained, and on the timeout path everything not
// reported failed counts as terminated. The registry is unconditionally
// empty when KillAll returns.
func (m *Manager) KillAll() model.KillAllOutcome {
	m.mu.Lock()
	ids := make([]string, 0, len(m.terminals))
	for id := range m.terminals {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var outcome model.KillAllOutcome
	if len(ids) == 0 {
		return outcome
	}

	m.log.Info("shutting down all terminals", zap.Int("count", len(ids)))

	results := make(chan bool, len(ids))
	for _, id := range ids {
		go func(id string) {
			results <- m.Kill(id, false)
		}(id)
	}

	budget := time.NewTimer(m.KillAllBudget)
	defer budget.Stop()

	received := 0
collect:
	for received < len(ids) {
		select {
		case ok := <-results:
			received++
			if ok {
				outcome.Success++
			} else {
				outcome.Failed++
			}
		case <-budget.C:
			outcome.TimedOut = true
			break collect
		}
	}

	if outcome.TimedOut {
		// Kills that resolved while the budget was firing still count.
	drain:
		for received < len(ids) {
			select {
			case ok := <-results:
				received++
				if !ok {
					outcome.Failed++
				}
			default:
				break drain
			}
		}

		m.mu.Lock()
		remaining := make([]string, 0, len(m.terminals))
		for id := range m.terminals {
			remaining = append(remaining, id)
		}
		m.mu.Unlock()

		m.log.Warn("bulk shutdown exceeded budget, forcing remaining kills",
			zap.Int("remaining", len(remaining)))

		for _, id := range remaining {
			m.KillSync(id)
		}

		// Every id is dead one way or another at this point; anything
		// not reported failed was terminated.
		outcome.Success = len(ids) - outcome.Failed
	}

	// Hard post-condition: no instance survives KillAll. The
	// application shutdown path depends on it.
	m.mu.Lock()
	if n := len(m.terminals); n > 0 {
		m.log.Warn("registry not empty after bulk shutdown, clearing",
			zap.Int("count", n))
		m.terminals = make(map[string]*Instance)
	}
	m.mu.Unlock()

	m.log.Info("bulk shutdown complete",
		zap.Int("success", outcome.Success),
		zap.Int("failed", outcome.Failed),
		zap.Bool("timeout", outcome.TimedOut))

	return outcome
}

// Exists reports whether a live terminal holds id.
func (m *Manager) Exists(id string) bool {
	_, ok := m.get(id)
	return ok
}

// Get returns a descriptor snapshot for the terminal with id.
func (m *Manager) Get(id string) (*model.Terminal, bool) {
	inst, ok := m.get(id)
	if !ok {
		return nil, false
	}
	return inst.Descriptor(), true
}

// List returns descriptor snapshots of all live terminals.
func (m *Manager) List() []*model.Terminal {
	m.mu.Lock()
	instances := make([]*Instance, 0, len(m.terminals))
	for _, inst := range m.terminals {
		instances = append(instances, inst)
	}
	m.mu.Unlock()

	out := make([]*model.Terminal, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.Descriptor())
	}
	return out
}

// History returns the buffered output history of a live terminal, for
// replaying to a client that attaches mid-session.
func (m *Manager) History(id string) ([]byte, bool) {
	inst, ok := m.get(id)
	if !ok {
		return nil, false
	}
	return inst.history(), true
}

func (m *Manager) get(id string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.terminals[id]
	return inst, ok
}

// remove deletes inst from the registry, but only while the id still
// maps to this exact instance; a later Create may have reused the id.
func (m *Manager) remove(inst *Instance) {
	m.mu.Lock()
	if current, ok := m.terminals[inst.id]; ok && current == inst {
		delete(m.terminals, inst.id)
	}
	m.mu.Unlock()
}
