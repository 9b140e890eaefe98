// Package pty provides cross-platform pseudo-terminal process spawning.
//
// The Unix implementation is built on creack/pty; Windows uses ConPTY.
// The package owns nothing above the process boundary: lifecycle policy
// (graceful shutdown, escalation, registries) lives in internal/term.
package pty

import "io"

// PTY is a platform-independent handle to the master side of a
// pseudo-terminal.
type PTY interface {
	io.Reader
	io.Writer
	io.Closer

	// Resize changes the terminal window size.
	Resize(cols, rows uint16) error
}

// StartOptions configures a PTY process spawn.
type StartOptions struct {
	// Command is the executable to run.
	Command string

	// Args are the arguments passed to the command.
	Args []string

	// Env is the process environment. If nil, the current environment
	// is inherited.
	Env []string

	// Dir is the working directory. If empty, the current directory is used.
	Dir string

	// InitialCols and InitialRows set the terminal size at spawn.
	InitialCols uint16
	InitialRows uint16
}
