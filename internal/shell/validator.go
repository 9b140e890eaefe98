// Package shell decides which executables may be spawned as a terminal
// shell and resolves platform defaults.
package shell

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// knownShells is the fast-path allow-list of absolute shell paths per
// platform family. A path equal to one of these entries is accepted
// without touching the filesystem.
var knownShells = map[string][]string{
	"posix": {
		"/bin/sh",
		"/bin/bash",
		"/bin/zsh",
		"/bin/dash",
		"/bin/csh",
		"/bin/tcsh",
		"/bin/ksh",
		"/usr/bin/sh",
		"/usr/bin/bash",
		"/usr/bin/zsh",
		"/usr/bin/fish",
		"/usr/bin/dash",
		"/usr/local/bin/bash",
		"/usr/local/bin/zsh",
		"/usr/local/bin/fish",
		"/opt/homebrew/bin/bash",
		"/opt/homebrew/bin/zsh",
		"/opt/homebrew/bin/fish",
	},
	"windows": {
		`C:\Windows\System32\cmd.exe`,
		`C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`,
		`C:\Program Files\PowerShell\7\pwsh.exe`,
	},
}

// trustedPrefixes are the directory prefixes a non-allow-listed shell
// must live under to be accepted.
var trustedPrefixes = map[string][]string{
	"posix": {
		"/bin/",
		"/usr/bin/",
		"/usr/local/bin/",
		"/opt/homebrew/bin/",
	},
	"windows": {
		`C:\Windows\System32\`,
		`C:\Program Files\PowerShell\`,
	},
}

// shellNames are the basenames recognized as shells.
var shellNames = map[string]bool{
	"sh":             true,
	"bash":           true,
	"zsh":            true,
	"fish":           true,
	"csh":            true,
	"tcsh":           true,
	"ksh":            true,
	"dash":           true,
	"cmd.exe":        true,
	"powershell.exe": true,
	"pwsh.exe":       true,
}

// loginCapable lists the shell basenames that accept a login flag.
var loginCapable = map[string]bool{
	"sh":   true,
	"bash": true,
	"zsh":  true,
	"fish": true,
	"ksh":  true,
	"dash": true,
}

func platformFamily() string {
	if runtime.GOOS == "windows" {
		return "windows"
	}
	return "posix"
}

// IsValidShell reports whether path is permitted to be spawned as a shell.
//
// The check exists because the shell path originates from user settings;
// a corrupted or malicious value could otherwise point the spawner at an
// arbitrary executable. Fast path is an exact allow-list match. Slow path
// requires the file to exist, to live under a trusted directory, and to
// have a known shell basename.
func IsValidShell(path string) bool {
	if path == "" {
		return false
	}

	family := platformFamily()
	caseFold := family == "windows"

	for _, known := range knownShells[family] {
		if equalPath(path, known, caseFold) {
			return true
		}
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	trusted := false
	for _, prefix := range trustedPrefixes[family] {
		if hasPathPrefix(path, prefix, caseFold) {
			trusted = true
			break
		}
	}
	if !trusted {
		return false
	}

	return isShellName(filepath.Base(path), caseFold)
}

// DefaultShell returns the platform default shell path used when the
// caller supplies none. SHELL is consulted first on POSIX, but only if
// it passes validation.
func DefaultShell() string {
	if runtime.GOOS == "windows" {
		return `C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`
	}
	if s := os.Getenv("SHELL"); s != "" && IsValidShell(s) {
		return s
	}
	if IsValidShell("/bin/zsh") {
		return "/bin/zsh"
	}
	return "/bin/bash"
}

// SupportsLoginMode reports whether the shell at path accepts a login
// flag (-l). PowerShell variants and cmd.exe do not.
func SupportsLoginMode(path string) bool {
	name := filepath.Base(path)
	if platformFamily() == "windows" {
		name = strings.ToLower(name)
	}
	return loginCapable[name]
}

// IsPowerShell reports whether the shell at path is a PowerShell variant.
func IsPowerShell(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	return name == "powershell.exe" || name == "pwsh.exe" || name == "pwsh"
}

func isShellName(base string, caseFold bool) bool {
	if caseFold {
		base = strings.ToLower(base)
	}
	return shellNames[base]
}

func equalPath(a, b string, caseFold bool) bool {
	if caseFold {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func hasPathPrefix(path, prefix string, caseFold bool) bool {
	if caseFold {
		return strings.HasPrefix(strings.ToLower(path), strings.ToLower(prefix))
	}
	return strings.HasPrefix(path, prefix)
}
