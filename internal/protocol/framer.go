package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MaxLineLength bounds a buffered partial line. Longer lines are dropped.
const MaxLineLength = 4096

// readChunkSize is the read size used by Framer
const readChunkSize = 512

// ErrFramingIncomplete is returned when the stream ends inside a line. The
// returned error also matches io.EOF.
var ErrFramingIncomplete = errors.New("stream ended with an incomplete line")

// LineBuffer reassembles newline-terminated lines from arbitrary chunks
type LineBuffer struct {
	buf        []byte
	max        int
	discarding bool // inside an overlong line, skipping to the next '\n'
	dropped    int
}

// NewLineBuffer creates a line buffer. max <= 0 selects MaxLineLength.
func NewLineBuffer(max int) *LineBuffer {
	if max <= 0 {
		max = MaxLineLength
	}
	return &LineBuffer{max: max}
}

// Push appends a chunk and returns every line it completed, terminators
// stripped. A trailing '\r' is removed as well.
func (b *LineBuffer) Push(chunk []byte) []string {
	var lines []string
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			if !b.discarding {
				b.buf = append(b.buf, chunk...)
				if len(b.buf) > b.max {
					b.buf = b.buf[:0]
					b.discarding = true
					b.dropped++
				}
			}
			return lines
		}

		if b.discarding {
			b.discarding = false
		} else {
			b.buf = append(b.buf, chunk[:i]...)
			if len(b.buf) > b.max {
				b.dropped++
			} else {
				lines = append(lines, string(bytes.TrimSuffix(b.buf, []byte{'\r'})))
			}
		}
		b.buf = b.buf[:0]
		chunk = chunk[i+1:]
	}
	return lines
}

// Pending returns the number of buffered bytes with no terminator yet
func (b *LineBuffer) Pending() int {
	return len(b.buf)
}

// Dropped returns how many overlong lines were discarded so far
func (b *LineBuffer) Dropped() int {
	return b.dropped
}

// Reset discards any buffered partial line
func (b *LineBuffer) Reset() {
	b.buf = b.buf[:0]
	b.discarding = false
}

// Framer yields complete lines read from a byte stream. It is not safe for
// concurrent use and cannot be restarted once the stream has ended.
type Framer struct {
	r      io.Reader
	lines  *LineBuffer
	ready  []string
	chunk  []byte
	err    error
	onDrop func()
}

// NewFramer creates a framer reading from r
func NewFramer(r io.Reader) *Framer {
	return &Framer{
		r:     r,
		lines: NewLineBuffer(MaxLineLength),
		chunk: make([]byte, readChunkSize),
	}
}

// OnDrop sets a function called once for every overlong line, as soon as
// the line is discarded
func (f *Framer) OnDrop(fn func()) {
	f.onDrop = fn
}

// Next blocks until a complete line is available. At a clean end of stream
// it returns io.EOF; if a partial line was pending it returns an error
// matching both ErrFramingIncomplete and io.EOF. Read errors are returned
// unchanged once all complete lines before them have been delivered.
func (f *Framer) Next() (string, error) {
	for len(f.ready) == 0 {
		if f.err != nil {
			return "", f.err
		}

		n, err := f.r.Read(f.chunk)
		if n > 0 {
			dropped := f.lines.Dropped()
			f.ready = append(f.ready, f.lines.Push(f.chunk[:n])...)
			if f.onDrop != nil {
				for i := dropped; i < f.lines.Dropped(); i++ {
					f.onDrop()
				}
			}
		}
		if err != nil {
			f.err = f.endOfStream(err)
		}
	}

	line := f.ready[0]
	f.ready = f.ready[1:]
	return line, nil
}

// Dropped returns how many overlong lines were discarded so far
func (f *Framer) Dropped() int {
	return f.lines.Dropped()
}

func (f *Framer) endOfStream(err error) error {
	if !errors.Is(err, io.EOF) {
		return err
	}
	if pending := f.lines.Pending(); pending > 0 {
		f.lines.Reset()
		return fmt.Errorf("%w: %d bytes discarded: %w", ErrFramingIncomplete, pending, io.EOF)
	}
	return io.EOF
}
