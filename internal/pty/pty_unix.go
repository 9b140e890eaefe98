//go:build !windows

package pty

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// GracefulSignals reports whether the platform supports a catchable
// terminate signal. Unix processes can be asked to exit with SIGTERM
// before being force-killed.
const GracefulSignals = true

// Process is a running PTY-attached process.
type Process struct {
	// PTY is the master side of the pseudo-terminal.
	PTY PTY

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	pid int
}

// PID returns the OS process id.
func (p *Process) PID() int {
	return p.pid
}

// Wait blocks until the process exits and returns its exit code.
// Returns -1 if the process was terminated by a signal.
func (p *Process) Wait() (int, error) {
	err := p.Cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// Close releases the PTY master. It does not signal the process.
func (p *Process) Close() error {
	return p.PTY.Close()
}

// unixPTY wraps the PTY master file returned by creack/pty.
type unixPTY struct {
	master *os.File
}

func (p *unixPTY) Read(b []byte) (int, error)  { return p.master.Read(b) }
func (p *unixPTY) Write(b []byte) (int, error) { return p.master.Write(b) }
func (p *unixPTY) Close() error                { return p.master.Close() }

func (p *unixPTY) Resize(cols, rows uint16) error {
	ws := &unix.Winsize{
		Col: cols,
		Row: rows,
	}
	return unix.IoctlSetWinsize(int(p.master.Fd()), unix.TIOCSWINSZ, ws)
}

// Start spawns a process attached to a new pseudo-terminal.
func Start(opts StartOptions) (*Process, error) {
	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}

	master, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: opts.InitialCols,
		Rows: opts.InitialRows,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY process: %w", err)
	}

	return &Process{
		PTY: &unixPTY{master: master},
		Cmd: cmd,
		pid: cmd.Process.Pid,
	}, nil
}

// Terminate sends a catchable terminate signal (SIGTERM), giving the
// process a chance to clean up before exiting.
func (p *Process) Terminate() error {
	if p.Cmd.Process == nil {
		return nil
	}
	return p.Cmd.Process.Signal(syscall.SIGTERM)
}

// ForceKill delivers an uncatchable SIGKILL.
func (p *Process) ForceKill() error {
	if p.Cmd.Process == nil {
		return nil
	}
	return p.Cmd.Process.Kill()
}
