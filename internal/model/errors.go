package model

import "errors"

var (
	// ErrShellRejected is returned when a shell path fails validation.
	// The spawn is refused outright; there is no fallback shell.
	ErrShellRejected = errors.New("shell path rejected by validation")

	// ErrCwdRequired is returned when a terminal creation request is
	// missing the working directory.
	ErrCwdRequired = errors.New("working directory is required")

	// ErrTerminalNotFound is returned when a terminal record is not found.
	ErrTerminalNotFound = errors.New("terminal not found")
)
