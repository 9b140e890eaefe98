package term

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNameTracker_InitialTitle(t *testing.T) {
	tracker := newNameTracker("myproject")

	if got := tracker.Title(); got != "myproject | >" {
		t.Errorf("initial title = %q, want 'myproject | >'", got)
	}
}

func TestNameTracker_CommitsCommandOnReturn(t *testing.T) {
	tracker := newNameTracker("proj")

	// One keystroke per write, the way an interactive client types.
	tracker.Feed([]byte{'l'})
	tracker.Feed([]byte{'s'})
	changed := tracker.Feed([]byte{'\r'})

	if !changed {
		t.Error("expected title change on carriage return")
	}
	if got := tracker.Title(); got != "proj | ls" {
		t.Errorf("title = %q, want 'proj | ls'", got)
	}
}

func TestNameTracker_BackspaceDropsBufferedInput(t *testing.T) {
	tracker := newNameTracker("proj")

	tracker.Feed([]byte{'l'})
	tracker.Feed([]byte{'s'})
	tracker.Feed([]byte{charDelete})
	tracker.Feed([]byte{charDelete})
	changed := tracker.Feed([]byte{'\r'})

	if changed {
		t.Error("empty trimmed buffer must not update the title")
	}
	if got := tracker.Title(); got != "proj | >" {
		t.Errorf("title = %q, want 'proj | >'", got)
	}
}

func TestNameTracker_SkipsRepeatedCommand(t *testing.T) {
	tracker := newNameTracker("proj")

	tracker.Feed([]byte("ls\r"))
	if changed := tracker.Feed([]byte("ls\r")); changed {
		t.Error("repeating the last command must not report a change")
	}
}

func TestNameTracker_IgnoresEscapeSequences(t *testing.T) {
	tracker := newNameTracker("proj")

	tracker.Feed([]byte{'l'})
	// Arrow-up escape sequence; must not disturb the buffer.
	if changed := tracker.Feed([]byte{0x1b, '[', 'A'}); changed {
		t.Error("escape sequence must not change the title")
	}
	tracker.Feed([]byte{'s'})
	tracker.Feed([]byte{'\r'})

	if got := tracker.Title(); got != "proj | ls" {
		t.Errorf("title = %q, want 'proj | ls'", got)
	}
}

func TestNameTracker_IgnoresMultiByteInput(t *testing.T) {
	tracker := newNameTracker("proj")

	if changed := tracker.Feed([]byte("héllo\r")); changed {
		t.Error("non-ASCII input must be ignored by the heuristic")
	}
	if got := tracker.Title(); got != "proj | >" {
		t.Errorf("title = %q, want 'proj | >'", got)
	}
}

func TestNameTracker_CommitsWholeChunk(t *testing.T) {
	tracker := newNameTracker("proj")

	tracker.Feed([]byte("echo hi\r"))

	if got := tracker.Title(); !strings.HasSuffix(got, "echo hi") {
		t.Errorf("title = %q, want suffix 'echo hi'", got)
	}
}

func TestNameTracker_TrimsWhitespace(t *testing.T) {
	tracker := newNameTracker("proj")

	tracker.Feed([]byte("  make test  \r"))

	if got := tracker.Title(); got != "proj | make test" {
		t.Errorf("title = %q, want 'proj | make test'", got)
	}
}

// Typing any printable command followed by a carriage return must leave
// the title as "<project> | <trimmed command>".
func TestNameTrackerCommitProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("committed command becomes the title suffix", prop.ForAll(
		func(cmd string) bool {
			trimmed := strings.TrimSpace(cmd)
			if trimmed == "" {
				return true
			}

			tracker := newNameTracker("proj")
			for i := 0; i < len(cmd); i++ {
				tracker.Feed([]byte{cmd[i]})
			}
			tracker.Feed([]byte{'\r'})

			return tracker.Title() == "proj"+titleSeparator+trimmed
		},
		gen.RegexMatch(`[ -~]{1,40}`),
	))

	properties.TestingRun(t)
}
