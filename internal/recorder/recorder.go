// Package recorder writes terminal session recordings in Asciinema v2
// JSON-Lines format.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// header is the Asciinema v2 file header.
type header struct {
	Version   int   `json:"version"`
	Width     int   `json:"width"`
	Height    int   `json:"height"`
	Timestamp int64 `json:"timestamp"`
}

// Recorder records a single terminal session to an Asciinema v2 cast
// stream. Events are timestamped relative to the recorder's start time.
type Recorder struct {
	mu      sync.Mutex
	w       io.Writer
	file    *os.File // set only when the recorder owns the file
	started time.Time
}

// New creates a Recorder writing to a new cast file at path and emits
// the header for a terminal of the given size.
func New(path string, cols, rows int) (*Recorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create cast file: %w", err)
	}

	r := &Recorder{w: file, file: file, started: time.Now()}
	if err := r.writeHeader(cols, rows); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	return r, nil
}

// NewWithWriter creates a Recorder writing to w. Used in tests.
func NewWithWriter(w io.Writer, cols, rows int) (*Recorder, error) {
	r := &Recorder{w: w, started: time.Now()}
	if err := r.writeHeader(cols, rows); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) writeHeader(cols, rows int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.started.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cast header: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write cast header: %w", err)
	}
	return nil
}

// WriteOutput records bytes the terminal produced.
func (r *Recorder) WriteOutput(data []byte) error {
	return r.writeEvent("o", data)
}

// WriteInput records bytes sent to the terminal.
func (r *Recorder) WriteInput(data []byte) error {
	return r.writeEvent("i", data)
}

func (r *Recorder) writeEvent(kind string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Asciinema v2 event: [offset_seconds, "o"|"i", data]
	event, err := json.Marshal([]interface{}{
		time.Since(r.started).Seconds(),
		kind,
		string(data),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cast event: %w", err)
	}
	if _, err := r.w.Write(append(event, '\n')); err != nil {
		return fmt.Errorf("failed to write cast event: %w", err)
	}
	return nil
}

// Close closes the underlying cast file if the recorder owns one.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
