// Package buffer keeps the most recent session output for clients that
// attach after it was produced.
package buffer

import (
	"bytes"
	"sync"
)

// DefaultCapacity is the scrollback kept per session.
const DefaultCapacity = 64 * 1024

// Scrollback is a fixed-size circular byte buffer. Once full, each write
// overwrites the oldest bytes. It is safe for concurrent use.
type Scrollback struct {
	mu    sync.RWMutex
	buf   []byte
	start int
	size  int
	total uint64
}

// NewScrollback creates a Scrollback holding up to capacity bytes. A
// non-positive capacity selects DefaultCapacity.
func NewScrollback(capacity int) *Scrollback {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Scrollback{buf: make([]byte, capacity)}
}

// Write appends p, discarding the oldest bytes when over capacity.
func (s *Scrollback) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total += uint64(n)
	capacity := len(s.buf)
	if n >= capacity {
		copy(s.buf, p[n-capacity:])
		s.start, s.size = 0, capacity
		return n, nil
	}

	end := (s.start + s.size) % capacity
	copied := copy(s.buf[end:], p)
	copy(s.buf, p[copied:])

	s.size += n
	if s.size > capacity {
		s.start = (s.start + s.size - capacity) % capacity
		s.size = capacity
	}
	return n, nil
}

// WriteString appends text.
func (s *Scrollback) WriteString(text string) (int, error) {
	return s.Write([]byte(text))
}

// Snapshot returns a copy of the retained bytes, oldest first.
func (s *Scrollback) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Scrollback) snapshotLocked() []byte {
	if s.size == 0 {
		return nil
	}
	out := make([]byte, s.size)
	n := copy(out, s.buf[s.start:min(s.start+s.size, len(s.buf))])
	copy(out[n:], s.buf[:s.size-n])
	return out
}

// LastLine returns the last non-empty line of output with surrounding
// whitespace trimmed, for previews.
func (s *Scrollback) LastLine() string {
	s.mu.RLock()
	data := s.snapshotLocked()
	s.mu.RUnlock()

	data = bytes.TrimRight(data, " \t\r\n")
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return string(bytes.TrimSpace(data))
}

// Reset discards the retained bytes.
func (s *Scrollback) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start, s.size, s.total = 0, 0, 0
}

// Len returns the number of retained bytes.
func (s *Scrollback) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Cap returns the capacity.
func (s *Scrollback) Cap() int {
	return len(s.buf)
}

// Total returns how many bytes were written since the last Reset, including
// those already overwritten.
func (s *Scrollback) Total() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}
