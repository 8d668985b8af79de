package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/agsys/valve-server/internal/metrics"
	"github.com/agsys/valve-server/internal/protocol"
	"golang.org/x/sync/errgroup"
)

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// CommandWriter writes commands to the currently attached peer. Each command
// is written with a single Write call under a mutex so lines never interleave.
type CommandWriter struct {
	mu      sync.Mutex
	w       io.Writer
	timeout time.Duration
}

// NewCommandWriter creates a writer with no peer attached. A zero timeout
// disables write deadlines.
func NewCommandWriter(timeout time.Duration) *CommandWriter {
	return &CommandWriter{timeout: timeout}
}

// Attach makes w the destination for subsequent commands
func (c *CommandWriter) Attach(w io.Writer) {
	c.mu.Lock()
	c.w = w
	c.mu.Unlock()
}

// Detach removes w if it is still the attached destination
func (c *CommandWriter) Detach(w io.Writer) {
	c.mu.Lock()
	if c.w == w {
		c.w = nil
	}
	c.mu.Unlock()
}

// Connected reports whether a peer is attached
func (c *CommandWriter) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w != nil
}

// Send writes one command line. Failures wrap ErrWriteFailure; the command is
// not retried.
func (c *CommandWriter) Send(cmd protocol.Command) error {
	line := cmd.Encode()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.w == nil {
		return ErrNotConnected
	}

	if dw, ok := c.w.(deadlineWriter); ok && c.timeout > 0 {
		if err := dw.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("%w: failed to set deadline: %w", ErrWriteFailure, err)
		}
		defer dw.SetWriteDeadline(time.Time{})
	}

	n, err := c.w.Write(line)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrWriteFailure, cmd.String(), err)
	}
	if n != len(line) {
		return fmt.Errorf("%w: %q: short write %d of %d bytes", ErrWriteFailure, cmd.String(), n, len(line))
	}
	return nil
}

// ReadLines frames conn into lines and calls handle for each one until the
// stream ends or ctx is cancelled. Cancelling ctx closes conn to unblock the
// read. A peer going away is reported as ErrTransportClosed; a cancelled
// context returns nil.
func ReadLines(ctx context.Context, conn io.ReadCloser, handle func(line string)) error {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(readCtx)

	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

	g.Go(func() error {
		defer cancel()
		framer := protocol.NewFramer(conn)
		framer.OnDrop(func() {
			log.Printf("Discarding line longer than %d bytes", protocol.MaxLineLength)
			metrics.IncDecodeError()
			metrics.AddDroppedLines(1)
		})
		for {
			line, err := framer.Next()
			if err != nil {
				if errors.Is(err, protocol.ErrFramingIncomplete) {
					return fmt.Errorf("%w: %w", ErrTransportClosed, err)
				}
				return ClassifyReadError(err)
			}
			handle(line)
		}
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
