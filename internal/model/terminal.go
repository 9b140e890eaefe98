package model

import "time"

// TerminalStatus represents the status of a terminal record.
type TerminalStatus string

const (
	TerminalStatusRunning TerminalStatus = "running"
	TerminalStatusExited  TerminalStatus = "exited"
	TerminalStatusKilled  TerminalStatus = "killed"
)

// Terminal is a snapshot descriptor of a spawned terminal. It is returned
// by the manager at creation time and persisted for listing; it is not a
// live handle to the process.
type Terminal struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"projectId"`
	ProjectName string         `json:"projectName"`
	Title       string         `json:"title"`
	Shell       string         `json:"shell"`
	Cwd         string         `json:"cwd"`
	PID         int            `json:"pid"`
	Status      TerminalStatus `json:"status"`
	ExitCode    *int           `json:"exitCode,omitempty"`
	CastPath    string         `json:"castPath,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Settings is the subset of persisted user settings that affects how a
// shell process is spawned.
type Settings struct {
	// LoginShell requests a login-mode shell when the shell type supports it.
	LoginShell bool `json:"loginShell"`

	// RuntimeBinDir is the bin directory of a managed runtime (for example
	// a version-managed Node or Python install). When set it is placed on
	// PATH ahead of the inherited environment.
	RuntimeBinDir string `json:"runtimeBinDir,omitempty"`
}

// KillAllOutcome reports the result of a bulk shutdown.
type KillAllOutcome struct {
	// Success is the number of terminals confirmed terminated.
	Success int `json:"success"`

	// Failed is the number of terminals whose kill did not succeed.
	Failed int `json:"failed"`

	// TimedOut is true when the overall shutdown budget was exceeded and
	// remaining terminals had to be force-killed.
	TimedOut bool `json:"timeout"`
}
