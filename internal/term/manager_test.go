//go:build !windows

package term

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/shellpane/backend/internal/model"
)

const testShell = "/bin/sh"

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(zaptest.NewLogger(t), "")
	t.Cleanup(func() { m.KillAll() })
	return m
}

func createTerminal(t *testing.T, m *Manager, id string, onExit func(int)) *model.Terminal {
	t.Helper()
	desc, err := m.Create(CreateOptions{
		ID:          id,
		Cwd:         t.TempDir(),
		ProjectID:   "p1",
		ProjectName: "proj",
		Shell:       testShell,
		OnExit:      onExit,
	})
	if err != nil {
		t.Fatalf("Create(%q) failed: %v", id, err)
	}
	return desc
}

func TestManager_UnknownIDOperations(t *testing.T) {
	m := newTestManager(t)

	if m.Write("nope", []byte("x")) {
		t.Error("Write on unknown id should return false")
	}
	if m.Resize("nope", 80, 24) {
		t.Error("Resize on unknown id should return false")
	}
	if m.Kill("nope", false) {
		t.Error("Kill on unknown id should return false")
	}
	if m.Exists("nope") {
		t.Error("Exists on unknown id should return false")
	}
	if _, ok := m.Get("nope"); ok {
		t.Error("Get on unknown id should return false")
	}
	if _, ok := m.History("nope"); ok {
		t.Error("History on unknown id should return false")
	}
	// Must not panic.
	m.KillSync("nope")
}

func TestManager_CreateRequiresCwd(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Create(CreateOptions{ID: "t1", Shell: testShell})
	if err != model.ErrCwdRequired {
		t.Errorf("expected ErrCwdRequired, got %v", err)
	}
}

func TestManager_CreateRejectsInvalidShell(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Create(CreateOptions{
		ID:    "t1",
		Cwd:   t.TempDir(),
		Shell: "/tmp/definitely-not-a-shell",
	})
	if err == nil {
		t.Fatal("expected a security error for an invalid shell")
	}
	if !strings.Contains(err.Error(), model.ErrShellRejected.Error()) {
		t.Errorf("expected shell rejection, got: %v", err)
	}
	if m.Exists("t1") {
		t.Error("no instance may be registered after a rejected create")
	}
}

func TestManager_CreateWriteKillScenario(t *testing.T) {
	m := newTestManager(t)

	exited := make(chan int, 1)
	desc := createTerminal(t, m, "t1", func(code int) { exited <- code })

	if desc.Shell != testShell {
		t.Errorf("descriptor shell = %q, want %q", desc.Shell, testShell)
	}
	if desc.PID <= 0 {
		t.Errorf("descriptor pid = %d, want > 0", desc.PID)
	}
	if desc.Title != "proj | >" {
		t.Errorf("initial title = %q, want 'proj | >'", desc.Title)
	}

	if !m.Write("t1", []byte("echo hi\r")) {
		t.Fatal("Write should return true for a live terminal")
	}

	if got, _ := m.Get("t1"); !strings.HasSuffix(got.Title, "echo hi") {
		t.Errorf("title = %q, want suffix 'echo hi'", got.Title)
	}

	if !m.Kill("t1", false) {
		t.Error("Kill should return true for a live terminal")
	}
	if m.Exists("t1") {
		t.Error("id must be absent from the registry after Kill resolves")
	}

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Error("exit callback did not fire")
	}
}

func TestManager_OutputIsDelivered(t *testing.T) {
	m := newTestManager(t)

	output := make(chan []byte, 64)
	_, err := m.Create(CreateOptions{
		ID:          "t1",
		Cwd:         t.TempDir(),
		ProjectName: "proj",
		Shell:       testShell,
		OnData: func(data []byte) {
			cp := make([]byte, len(data))
			copy(cp, data)
			select {
			case output <- cp:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	m.Write("t1", []byte("echo marker-4711\r"))

	deadline := time.After(3 * time.Second)
	var all []byte
	for {
		select {
		case chunk := <-output:
			all = append(all, chunk...)
			if strings.Contains(string(all), "marker-4711") {
				return
			}
		case <-deadline:
			t.Fatalf("output %q never contained marker", string(all))
		}
	}
}

func TestManager_HistoryBuffersOutput(t *testing.T) {
	m := newTestManager(t)

	createTerminal(t, m, "t1", nil)
	m.Write("t1", []byte("echo replay-me\r"))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if history, ok := m.History("t1"); ok && strings.Contains(string(history), "replay-me") {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("history never contained the echoed marker")
}

func TestManager_CreateReplacesExistingID(t *testing.T) {
	m := newTestManager(t)

	firstExited := make(chan int, 1)
	first := createTerminal(t, m, "t1", func(code int) { firstExited <- code })

	second := createTerminal(t, m, "t1", nil)

	// The first process's exit callback fires before or during the
	// second create.
	select {
	case <-firstExited:
	default:
		t.Error("first terminal's exit callback should have fired during replace")
	}

	if first.PID == second.PID {
		t.Error("replacement must spawn a new process")
	}

	terminals := m.List()
	if len(terminals) != 1 {
		t.Fatalf("expected exactly one live terminal, got %d", len(terminals))
	}
	if terminals[0].PID != second.PID {
		t.Errorf("surviving terminal pid = %d, want %d", terminals[0].PID, second.PID)
	}
}

func TestManager_IDReusableAfterKill(t *testing.T) {
	m := newTestManager(t)

	createTerminal(t, m, "t1", nil)
	if !m.Kill("t1", false) {
		t.Fatal("Kill failed")
	}

	// Freed ids are reusable.
	createTerminal(t, m, "t1", nil)
	if !m.Exists("t1") {
		t.Error("expected t1 to exist after re-create")
	}
}

func TestManager_KillLatencyIsBounded(t *testing.T) {
	m := newTestManager(t)

	createTerminal(t, m, "t1", nil)

	start := time.Now()
	if !m.Kill("t1", false) {
		t.Fatal("Kill failed")
	}
	// Worst case: full grace window, then the forced-kill allowance.
	if elapsed := time.Since(start); elapsed > GracefulKillTimeout+time.Second {
		t.Errorf("kill took %v, escalation must bound worst-case latency", elapsed)
	}
	if m.Exists("t1") {
		t.Error("terminal must be deregistered after Kill resolves")
	}
}

func TestManager_NaturalExitDeregisters(t *testing.T) {
	m := newTestManager(t)

	exited := make(chan int, 1)
	createTerminal(t, m, "t1", func(code int) { exited <- code })

	m.Write("t1", []byte("exit\r"))

	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		t.Fatal("exit callback did not fire after the shell exited")
	}

	deadline := time.Now().Add(time.Second)
	for m.Exists("t1") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if m.Exists("t1") {
		t.Error("terminal must leave the registry when its process exits")
	}
}

func TestManager_KillEscalatesWhenTerminateIgnored(t *testing.T) {
	if testing.Short() {
		t.Skip("escalation test needs the full grace window")
	}

	m := newTestManager(t)
	createTerminal(t, m, "t1", nil)

	// Make the shell ignore SIGTERM, then give it a moment to process.
	m.Write("t1", []byte("trap '' TERM\r"))
	time.Sleep(300 * time.Millisecond)

	start := time.Now()
	if !m.Kill("t1", false) {
		t.Fatal("Kill failed")
	}
	elapsed := time.Since(start)

	if elapsed < GracefulKillTimeout {
		t.Errorf("kill resolved in %v, expected the full grace window first", elapsed)
	}
	if elapsed > GracefulKillTimeout+time.Second {
		t.Errorf("kill took %v, escalation must bound worst-case latency", elapsed)
	}
	if m.Exists("t1") {
		t.Error("terminal must be deregistered after escalated kill")
	}
}

func TestManager_KillIdempotentWhileInProgress(t *testing.T) {
	if testing.Short() {
		t.Skip("needs the full grace window")
	}

	m := newTestManager(t)
	createTerminal(t, m, "t1", nil)

	m.Write("t1", []byte("trap '' TERM\r"))
	time.Sleep(300 * time.Millisecond)

	done := make(chan bool, 1)
	go func() { done <- m.Kill("t1", false) }()
	time.Sleep(100 * time.Millisecond)

	// A second kill while the first escalation runs must short-circuit.
	start := time.Now()
	if !m.Kill("t1", false) {
		t.Error("concurrent Kill should report success")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("concurrent Kill should return immediately, took %v", elapsed)
	}

	if ok := <-done; !ok {
		t.Error("original Kill should have succeeded")
	}
}

func TestManager_ForceKillSkipsGraceWindow(t *testing.T) {
	m := newTestManager(t)
	createTerminal(t, m, "t1", nil)

	m.Write("t1", []byte("trap '' TERM\r"))
	time.Sleep(300 * time.Millisecond)

	start := time.Now()
	if !m.Kill("t1", true) {
		t.Fatal("forced Kill failed")
	}
	if elapsed := time.Since(start); elapsed >= GracefulKillTimeout {
		t.Errorf("forced kill must not wait out the grace window, took %v", elapsed)
	}
}

func TestManager_KillSyncRemovesInstance(t *testing.T) {
	m := newTestManager(t)
	createTerminal(t, m, "t1", nil)

	m.KillSync("t1")

	if m.Exists("t1") {
		t.Error("KillSync must remove the instance from the registry")
	}
}

func TestManager_KillAllEmpty(t *testing.T) {
	m := newTestManager(t)

	outcome := m.KillAll()

	if outcome.Success != 0 || outcome.Failed != 0 || outcome.TimedOut {
		t.Errorf("unexpected outcome for empty registry: %+v", outcome)
	}
}

func TestManager_KillAllEmptiesRegistry(t *testing.T) {
	m := newTestManager(t)

	for _, id := range []string{"t1", "t2", "t3"} {
		createTerminal(t, m, id, nil)
	}

	outcome := m.KillAll()

	if outcome.Success != 3 {
		t.Errorf("expected 3 successful kills, got %+v", outcome)
	}
	if len(m.List()) != 0 {
		t.Error("registry must be empty after KillAll")
	}
}

func TestManager_KillAllTimeoutForcesRemainder(t *testing.T) {
	if testing.Short() {
		t.Skip("needs terminals that outlast the shutdown budget")
	}

	// Nop logger: the graceful kill goroutines outlive this function.
	m := NewManager(zap.NewNop(), "")
	m.KillAllBudget = 100 * time.Millisecond
	t.Cleanup(func() { m.KillAll() })

	for _, id := range []string{"t1", "t2"} {
		createTerminal(t, m, id, nil)
		m.Write(id, []byte("trap '' TERM\r"))
	}
	time.Sleep(300 * time.Millisecond)

	outcome := m.KillAll()

	if !outcome.TimedOut {
		t.Error("outcome must be flagged timed out when kills outlast the budget")
	}
	if outcome.Success+outcome.Failed != 2 {
		t.Errorf("every terminal must be tallied exactly once, got %+v", outcome)
	}
	if outcome.Failed != 0 {
		t.Errorf("force-killed remainder counts as success, got %+v", outcome)
	}
	if len(m.List()) != 0 {
		t.Error("registry must be empty after a timed-out KillAll")
	}
}

func TestManager_DescriptorReflectsShutdown(t *testing.T) {
	m := newTestManager(t)
	createTerminal(t, m, "t1", nil)

	desc, ok := m.Get("t1")
	if !ok || desc.Status != model.TerminalStatusRunning {
		t.Fatalf("expected a running descriptor, got %+v", desc)
	}

	inst, ok := m.get("t1")
	if !ok {
		t.Fatal("instance missing from registry")
	}
	inst.mu.Lock()
	inst.shuttingDown = true
	inst.mu.Unlock()

	desc, ok = m.Get("t1")
	if !ok {
		t.Fatal("descriptor must remain available mid-shutdown")
	}
	if desc.Status != model.TerminalStatusKilled {
		t.Errorf("mid-shutdown descriptor must not report running, got %q", desc.Status)
	}

	// Restore so cleanup can run the real kill protocol.
	inst.mu.Lock()
	inst.shuttingDown = false
	inst.mu.Unlock()
}

func TestManager_ResizeLiveTerminal(t *testing.T) {
	m := newTestManager(t)
	createTerminal(t, m, "t1", nil)

	if !m.Resize("t1", 120, 40) {
		t.Error("Resize on a live terminal should return true")
	}
}
