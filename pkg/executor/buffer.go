package executor

import (
	"bytes"
	"io"
	"sync"
)

const truncationMarker = "\n...[truncated: exceeded capture limit]...\n"

// cappedBuffer accumulates a reader's output up to a byte limit, appending
// a marker and discarding the remainder once exceeded rather than growing
// unbounded or blocking the pipe it's draining.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func newCappedBuffer(limit int64) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

// drain copies everything from r into the buffer until EOF, regardless of
// whether the limit has been hit, so the pipe never backs up and stalls
// the subprocess.
func (c *cappedBuffer) drain(r io.Reader) {
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			c.append(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

func (c *cappedBuffer) append(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.truncated {
		return
	}
	remaining := c.limit - int64(c.buf.Len())
	if remaining <= 0 {
		c.truncated = true
		c.buf.WriteString(truncationMarker)
		return
	}
	if int64(len(data)) > remaining {
		c.buf.Write(data[:remaining])
		c.truncated = true
		c.buf.WriteString(truncationMarker)
		return
	}
	c.buf.Write(data)
}

func (c *cappedBuffer) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	return out
}
