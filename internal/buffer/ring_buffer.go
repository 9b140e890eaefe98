// Package buffer provides a bounded ring buffer for terminal output caching.
package buffer

import "sync"

// RingBuffer is a thread-safe circular byte buffer that retains the most
// recent data up to a fixed capacity, discarding the oldest bytes when
// full. It caches terminal output so that clients attaching to a live
// terminal can be replayed recent history.
type RingBuffer struct {
	mu    sync.RWMutex
	buf   []byte
	start int // index of the oldest byte
	size  int // number of valid bytes
}

// NewRingBuffer creates a RingBuffer with the given capacity.
// A capacity below 1 is clamped to 1.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Write appends p to the buffer, evicting the oldest bytes when the
// capacity is exceeded. It never fails; the error is always nil so that
// RingBuffer satisfies io.Writer.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	capacity := len(rb.buf)

	// Oversized writes reduce to their final window.
	if len(p) >= capacity {
		copy(rb.buf, p[len(p)-capacity:])
		rb.start = 0
		rb.size = capacity
		return len(p), nil
	}

	end := (rb.start + rb.size) % capacity
	n := copy(rb.buf[end:], p)
	copy(rb.buf, p[n:])

	rb.size += len(p)
	if rb.size > capacity {
		rb.start = (rb.start + rb.size - capacity) % capacity
		rb.size = capacity
	}

	return len(p), nil
}

// ReadAll returns a copy of the buffered bytes in write order.
func (rb *RingBuffer) ReadAll() []byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.size == 0 {
		return nil
	}

	out := make([]byte, rb.size)
	n := copy(out, rb.buf[rb.start:min(rb.start+rb.size, len(rb.buf))])
	copy(out[n:], rb.buf[:rb.size-n])
	return out
}

// Clear discards all buffered data.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.start = 0
	rb.size = 0
}

// Len returns the number of buffered bytes.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Cap returns the buffer capacity.
func (rb *RingBuffer) Cap() int {
	return len(rb.buf)
}
