//go:build windows

package pty

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// GracefulSignals is false on Windows: there is no catchable terminate
// signal, so shutdown always takes the immediate kill path.
const GracefulSignals = false

var (
	kernel32                = windows.NewLazySystemDLL("kernel32.dll")
	procCreatePseudoConsole = kernel32.NewProc("CreatePseudoConsole")
	procResizePseudoConsole = kernel32.NewProc("ResizePseudoConsole")
	procClosePseudoConsole  = kernel32.NewProc("ClosePseudoConsole")
)

// Process is a running ConPTY-attached process.
type Process struct {
	// PTY is the master side of the pseudo console.
	PTY PTY

	process windows.Handle
	pid     int
}

// PID returns the OS process id.
func (p *Process) PID() int {
	return p.pid
}

// Wait blocks until the process exits and returns its exit code.
func (p *Process) Wait() (int, error) {
	if _, err := windows.WaitForSingleObject(p.process, windows.INFINITE); err != nil {
		return -1, err
	}
	var code uint32
	if err := windows.GetExitCodeProcess(p.process, &code); err != nil {
		return -1, err
	}
	return int(code), nil
}

// Close releases the pseudo console and the process handle. It does not
// terminate the process.
func (p *Process) Close() error {
	err := p.PTY.Close()
	if p.process != 0 {
		windows.CloseHandle(p.process)
		p.process = 0
	}
	return err
}

// Terminate kills the process. Windows has no catchable terminate
// signal, so this is identical to ForceKill.
func (p *Process) Terminate() error {
	return p.ForceKill()
}

// ForceKill terminates the process immediately.
func (p *Process) ForceKill() error {
	if p.process == 0 {
		return nil
	}
	return windows.TerminateProcess(p.process, 1)
}

// conPTY implements the PTY interface on top of Windows ConPTY.
type conPTY struct {
	console windows.Handle
	outRead *os.File // read end of the console output pipe
	inWrite *os.File // write end of the console input pipe
}

func (p *conPTY) Read(b []byte) (int, error)  { return p.outRead.Read(b) }
func (p *conPTY) Write(b []byte) (int, error) { return p.inWrite.Write(b) }

func (p *conPTY) Close() error {
	var firstErr error
	if p.outRead != nil {
		if err := p.outRead.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.inWrite != nil {
		if err := p.inWrite.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.console != 0 {
		procClosePseudoConsole.Call(uintptr(p.console))
		p.console = 0
	}
	return firstErr
}

func (p *conPTY) Resize(cols, rows uint16) error {
	size := (int32(rows) << 16) | int32(cols)
	ret, _, err := procResizePseudoConsole.Call(uintptr(p.console), uintptr(size))
	if ret != 0 {
		return fmt.Errorf("ResizePseudoConsole failed: %w", err)
	}
	return nil
}

// Start spawns a process attached to a ConPTY pseudo console. The
// console handle is passed to CreateProcess through a
// PROC_THREAD_ATTRIBUTE_PSEUDOCONSOLE attribute so the child's standard
// I/O is wired to the console's pipes. Requires Windows 10 1809 or later.
func Start(opts StartOptions) (*Process, error) {
	if err := procCreatePseudoConsole.Find(); err != nil {
		return nil, fmt.Errorf("ConPTY not available: %w", err)
	}

	// outRead/outWrite: console output -> our reader.
	// inRead/inWrite: our writer -> console input.
	var outRead, outWrite, inRead, inWrite windows.Handle

	if err := windows.CreatePipe(&outRead, &outWrite, nil, 0); err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	if err := windows.CreatePipe(&inRead, &inWrite, nil, 0); err != nil {
		windows.CloseHandle(outRead)
		windows.CloseHandle(outWrite)
		return nil, fmt.Errorf("failed to create input pipe: %w", err)
	}

	cols := opts.InitialCols
	rows := opts.InitialRows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	size := (int32(rows) << 16) | int32(cols)

	var console windows.Handle
	ret, _, err := procCreatePseudoConsole.Call(
		uintptr(size),
		uintptr(inRead),
		uintptr(outWrite),
		0,
		uintptr(unsafe.Pointer(&console)),
	)
	if ret != 0 {
		windows.CloseHandle(outRead)
		windows.CloseHandle(outWrite)
		windows.CloseHandle(inRead)
		windows.CloseHandle(inWrite)
		return nil, fmt.Errorf("CreatePseudoConsole failed: %w", err)
	}

	// The console now owns its ends of the pipes.
	windows.CloseHandle(inRead)
	windows.CloseHandle(outWrite)

	master := &conPTY{
		console: console,
		outRead: os.NewFile(uintptr(outRead), "conpty-out"),
		inWrite: os.NewFile(uintptr(inWrite), "conpty-in"),
	}

	pi, err := spawn(console, opts)
	if err != nil {
		master.Close()
		return nil, err
	}
	windows.CloseHandle(pi.Thread)

	return &Process{
		PTY:     master,
		process: pi.Process,
		pid:     int(pi.ProcessId),
	}, nil
}

// spawn creates the child with the pseudo console attached via an
// extended startup attribute list.
func spawn(console windows.Handle, opts StartOptions) (*windows.ProcessInformation, error) {
	attrs, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate attribute list: %w", err)
	}
	defer attrs.Delete()

	if err := attrs.Update(
		windows.PROC_THREAD_ATTRIBUTE_PSEUDOCONSOLE,
		unsafe.Pointer(console),
		unsafe.Sizeof(console),
	); err != nil {
		return nil, fmt.Errorf("failed to attach pseudo console: %w", err)
	}

	cmdline, err := windows.UTF16PtrFromString(
		windows.ComposeCommandLine(append([]string{opts.Command}, opts.Args...)))
	if err != nil {
		return nil, fmt.Errorf("invalid command line: %w", err)
	}

	var dir *uint16
	if opts.Dir != "" {
		dir, err = windows.UTF16PtrFromString(opts.Dir)
		if err != nil {
			return nil, fmt.Errorf("invalid working directory: %w", err)
		}
	}

	env := opts.Env
	if env == nil {
		env = os.Environ()
	}
	envBlock, err := createEnvBlock(env)
	if err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	siEx := new(windows.StartupInfoEx)
	siEx.ProcThreadAttributeList = attrs.List()
	siEx.Cb = uint32(unsafe.Sizeof(*siEx))

	var pi windows.ProcessInformation
	flags := uint32(windows.EXTENDED_STARTUPINFO_PRESENT | windows.CREATE_UNICODE_ENVIRONMENT)
	if err := windows.CreateProcess(
		nil,
		cmdline,
		nil,
		nil,
		false,
		flags,
		envBlock,
		dir,
		&siEx.StartupInfo,
		&pi,
	); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	return &pi, nil
}

// createEnvBlock flattens KEY=value pairs into the double-NUL-terminated
// UTF-16 block CreateProcess expects.
func createEnvBlock(env []string) (*uint16, error) {
	var block []uint16
	for _, kv := range env {
		u, err := windows.UTF16FromString(kv)
		if err != nil {
			return nil, err
		}
		block = append(block, u...)
	}
	block = append(block, 0)
	return &block[0], nil
}
