// Package link manages the stream connection to the border router.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"syscall"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTransportClosed is returned when the peer closed or reset the stream
	ErrTransportClosed = errors.New("transport closed")

	// ErrWriteFailure is returned when a command could not be written
	ErrWriteFailure = errors.New("command write failed")

	// ErrNotConnected is returned when a command is sent with no peer attached.
	// It also matches ErrWriteFailure.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrWriteFailure)
)

// Role selects how the connection is established
type Role string

// Transport roles
const (
	RoleConnect Role = "connect" // dial the border router
	RoleListen  Role = "listen"  // wait for the border router to dial in
)

// ParseRole parses a configuration role name
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "", RoleConnect:
		return RoleConnect, nil
	case RoleListen:
		return RoleListen, nil
	default:
		return "", fmt.Errorf("unknown transport role %q", s)
	}
}

// Config holds transport configuration
type Config struct {
	Role         Role
	Address      string
	WriteTimeout time.Duration

	// Reconnection settings (exponential backoff)
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	BackoffMultiplier float64
	JitterPercent     float64
}

// DefaultConfig returns default transport configuration
func DefaultConfig() Config {
	return Config{
		Role:              RoleConnect,
		Address:           "localhost:60001",
		WriteTimeout:      5 * time.Second,
		InitialRetryDelay: 1 * time.Second,
		MaxRetryDelay:     60 * time.Second,
		BackoffMultiplier: 2.0,
		JitterPercent:     0.25,
	}
}

// Session is one established connection
type Session struct {
	ID      string
	Role    Role
	Conn    net.Conn
	Started time.Time
}

// RemoteAddr returns the peer address as text
func (s *Session) RemoteAddr() string {
	if s.Conn == nil || s.Conn.RemoteAddr() == nil {
		return ""
	}
	return s.Conn.RemoteAddr().String()
}

func newSession(conn net.Conn, role Role) *Session {
	return &Session{
		ID:      uuid.New().String(),
		Role:    role,
		Conn:    conn,
		Started: time.Now(),
	}
}

// Handler runs one session to completion. The connection is closed by the
// transport after the handler returns.
type Handler func(ctx context.Context, s *Session) error

// Transport establishes sessions according to its role
type Transport struct {
	config Config

	// Current retry delay for exponential backoff
	currentRetryDelay time.Duration
}

// New creates a transport
func New(config Config) *Transport {
	return &Transport{
		config:            config,
		currentRetryDelay: config.InitialRetryDelay,
	}
}

// Run establishes sessions until ctx is cancelled. In connect role it dials
// and reconnects with backoff; in listen role it serves one peer at a time.
func (t *Transport) Run(ctx context.Context, handler Handler) error {
	switch t.config.Role {
	case RoleListen:
		ln, err := t.Listen(ctx)
		if err != nil {
			return err
		}
		return t.Serve(ctx, ln, handler)
	case RoleConnect, "":
		return t.dialLoop(ctx, handler)
	default:
		return fmt.Errorf("unknown transport role %q", t.config.Role)
	}
}

// Listen binds the configured address
func (t *Transport) Listen(ctx context.Context) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", t.config.Address, err)
	}
	log.Printf("Listening for border router on %s", ln.Addr())
	return ln, nil
}

// Serve accepts peers from ln one at a time until ctx is cancelled. The
// listener is closed on return.
func (t *Transport) Serve(ctx context.Context, ln net.Listener, handler Handler) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listener closed: %w", err)
			}
			log.Printf("Accept failed: %v", err)
			if !t.wait(ctx) {
				return nil
			}
			continue
		}
		t.currentRetryDelay = t.config.InitialRetryDelay
		t.runSession(ctx, conn, handler)
	}
}

func (t *Transport) dialLoop(ctx context.Context, handler Handler) error {
	var d net.Dialer
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := d.DialContext(ctx, "tcp", t.config.Address)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("Failed to connect to %s: %v, retrying in %v", t.config.Address, err, t.currentRetryDelay)
			if !t.wait(ctx) {
				return nil
			}
			continue
		}

		// Reset retry delay on successful connection
		t.currentRetryDelay = t.config.InitialRetryDelay
		t.runSession(ctx, conn, handler)

		if ctx.Err() != nil {
			return nil
		}
		log.Println("Disconnected from border router, reconnecting...")
		if !t.wait(ctx) {
			return nil
		}
	}
}

func (t *Transport) runSession(ctx context.Context, conn net.Conn, handler Handler) {
	role := t.config.Role
	if role == "" {
		role = RoleConnect
	}
	s := newSession(conn, role)
	defer conn.Close()

	log.Printf("Session %s started with %s", s.ID, s.RemoteAddr())
	err := handler(ctx, s)
	switch {
	case err == nil, ctx.Err() != nil:
		log.Printf("Session %s ended", s.ID)
	case errors.Is(err, ErrTransportClosed):
		log.Printf("Session %s ended: %v", s.ID, err)
	default:
		log.Printf("Session %s failed: %v", s.ID, err)
	}
}

// wait sleeps for the current retry delay with jitter and grows the delay.
// It returns false if ctx was cancelled first.
func (t *Transport) wait(ctx context.Context) bool {
	jitter := time.Duration(float64(t.currentRetryDelay) * t.config.JitterPercent * (rand.Float64()*2 - 1))
	timer := time.NewTimer(t.currentRetryDelay + jitter)
	defer timer.Stop()

	t.currentRetryDelay = time.Duration(float64(t.currentRetryDelay) * t.config.BackoffMultiplier)
	if t.currentRetryDelay > t.config.MaxRetryDelay {
		t.currentRetryDelay = t.config.MaxRetryDelay
	}

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// ClassifyReadError maps the ways a peer can go away onto ErrTransportClosed.
// Other errors are returned unchanged.
func ClassifyReadError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}
	return err
}
