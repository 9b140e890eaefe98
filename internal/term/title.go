package term

import "strings"

const titleSeparator = " | "

const (
	charBackspace = 0x08
	charDelete    = 0x7f
	charReturn    = '\r'
)

// nameTracker infers the most recently entered command from the bytes a
// client types, purely to derive a human-readable terminal title. It is
// best-effort display metadata, not a command parser: nothing it does
// affects what is forwarded to the process.
type nameTracker struct {
	project string
	buffer  []byte
	last    string
	title   string
}

func newNameTracker(project string) *nameTracker {
	return &nameTracker{
		project: project,
		title:   project + titleSeparator + ">",
	}
}

// Title returns the current display title.
func (t *nameTracker) Title() string {
	return t.title
}

// Feed consumes the bytes of one write and reports whether the title
// changed. Printable ASCII accumulates into the command buffer, a
// carriage return commits the trimmed buffer as the new title suffix
// (skipping empty and repeated commands), and backspace/delete drops the
// last buffered byte. A chunk containing any other byte (escape
// sequences, control characters, multi-byte input) is ignored entirely.
func (t *nameTracker) Feed(data []byte) bool {
	for _, b := range data {
		if !trackable(b) {
			return false
		}
	}

	changed := false
	for _, b := range data {
		switch {
		case b == charReturn:
			cmd := strings.TrimSpace(string(t.buffer))
			if cmd != "" && cmd != t.last {
				t.title = t.project + titleSeparator + cmd
				t.last = cmd
				changed = true
			}
			t.buffer = t.buffer[:0]
		case b == charBackspace || b == charDelete:
			if len(t.buffer) > 0 {
				t.buffer = t.buffer[:len(t.buffer)-1]
			}
		default:
			t.buffer = append(t.buffer, b)
		}
	}
	return changed
}

func trackable(b byte) bool {
	if b == charReturn || b == charBackspace || b == charDelete {
		return true
	}
	return b >= 0x20 && b <= 0x7e
}
