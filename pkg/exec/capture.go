package exec

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"unicode/utf8"
)

// TruncationMarker is appended to captured text that exceeded its limit.
const TruncationMarker = "\n[output truncated]"

// Capture is a bounded output sink. It keeps at most limit bytes and silently
// accepts the rest so the producer never sees a short write.
type Capture struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
	dropped   int64
}

// NewCapture returns a sink holding at most limit bytes; limit <= 0 means unbounded.
func NewCapture(limit int) *Capture {
	return &Capture{limit: limit}
}

func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limit <= 0 {
		return c.buf.Write(p)
	}
	remaining := c.limit - c.buf.Len()
	if c.truncated || remaining <= 0 {
		c.truncated = true
		c.dropped += int64(len(p))
		return len(p), nil
	}
	if len(p) > remaining {
		keep := runeBoundary(p, remaining)
		c.truncated = true
		c.dropped += int64(len(p) - keep)
		_, _ = c.buf.Write(p[:keep])
		return len(p), nil
	}
	return c.buf.Write(p)
}

// String returns the kept bytes, followed by TruncationMarker when output was dropped.
func (c *Capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.truncated {
		return c.buf.String() + TruncationMarker
	}
	return c.buf.String()
}

func (c *Capture) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}

// Dropped is the number of bytes discarded past the limit.
func (c *Capture) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 sequence and
// appends TruncationMarker. Applying it again with the same max returns the
// same string.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if kept, ok := strings.CutSuffix(s, TruncationMarker); ok && len(kept) <= max {
		return s
	}
	return s[:runeBoundary([]byte(s), max)] + TruncationMarker
}

// runeBoundary returns the largest n <= max such that p[:n] does not end in
// the middle of a UTF-8 sequence.
func runeBoundary(p []byte, max int) int {
	if max >= len(p) {
		return len(p)
	}
	n := max
	for n > 0 && max-n < utf8.UTFMax && !utf8.RuneStart(p[n]) {
		n--
	}
	if !utf8.RuneStart(p[n]) {
		return max
	}
	return n
}

var _ io.Writer = (*Capture)(nil)
