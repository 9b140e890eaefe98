// Package env assembles the process environment for spawned shells.
package env

import (
	"fmt"
	"os"
	"strings"

	"github.com/shellpane/backend/internal/model"
)

const (
	termName    = "xterm-256color"
	termProgram = "shellpane"
	utf8Locale  = "en_US.UTF-8"
)

// Build produces the environment slice for a shell process. It starts
// from the inherited environment, layers TTY-emulation variables on top,
// defaults the locale to UTF-8 when unset, and prepends a managed
// runtime bin directory to PATH when settings request one.
func Build(settings *model.Settings) []string {
	vars := toMap(os.Environ())

	vars["TERM"] = termName
	vars["COLORTERM"] = "truecolor"
	vars["FORCE_COLOR"] = "1"
	vars["TERM_PROGRAM"] = termProgram

	if vars["LANG"] == "" {
		vars["LANG"] = utf8Locale
	}
	if vars["LC_ALL"] == "" {
		vars["LC_ALL"] = utf8Locale
	}
	if vars["LC_CTYPE"] == "" {
		vars["LC_CTYPE"] = utf8Locale
	}

	if settings != nil && settings.RuntimeBinDir != "" {
		if path := vars["PATH"]; path != "" {
			vars["PATH"] = settings.RuntimeBinDir + string(os.PathListSeparator) + path
		} else {
			vars["PATH"] = settings.RuntimeBinDir
		}
	}

	return toSlice(vars)
}

func toMap(environ []string) map[string]string {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i > 0 {
			vars[kv[:i]] = kv[i+1:]
		}
	}
	return vars
}

func toSlice(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
