// Package engine provides the core logic for the valve server, turning
// sensor readings into valve commands.
package engine

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agsys/valve-server/internal/link"
	"github.com/agsys/valve-server/internal/metrics"
	"github.com/agsys/valve-server/internal/protocol"
	"github.com/agsys/valve-server/internal/storage"
	"github.com/agsys/valve-server/internal/store"
	"github.com/agsys/valve-server/internal/trend"
)

// Config holds engine configuration
type Config struct {
	WindowSize      int
	SlopeThreshold  float64
	Comparison      trend.Comparison
	Axis            trend.Axis
	ValveDuration   time.Duration // how long a valve stays open
	IncludeDuration bool          // carry ValveDuration on open commands
	SweepInterval   time.Duration
	StatusInterval  time.Duration // 0 disables the status log
	WriteTimeout    time.Duration
	JournalPath     string // empty disables the journal
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		WindowSize:     store.DefaultWindowSize,
		SlopeThreshold: 5.0,
		Comparison:     trend.ComparisonAbsolute,
		Axis:           trend.AxisIndex,
		ValveDuration:  600 * time.Second,
		SweepInterval:  1 * time.Second,
		StatusInterval: 60 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// Engine owns the sensor store and decides when valves open and close
type Engine struct {
	config  Config
	store   *store.Store
	writer  *link.CommandWriter
	journal *storage.DB
	clock   func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// actMu holds a valve transition and the write of its command together
	// so commands reach the wire in the order the store changed state
	actMu sync.Mutex

	mu        sync.Mutex
	sessionID string

	lines atomic.Int64 // non-empty inbound lines
}

// New creates a new engine instance
func New(config Config) (*Engine, error) {
	if config.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %v", config.SweepInterval)
	}
	if config.ValveDuration < 0 {
		return nil, fmt.Errorf("valve duration must not be negative, got %v", config.ValveDuration)
	}

	e := &Engine{
		config:   config,
		store:    store.New(config.WindowSize),
		writer:   link.NewCommandWriter(config.WriteTimeout),
		clock:    time.Now,
		stopChan: make(chan struct{}),
	}

	if config.JournalPath != "" {
		db, err := storage.Open(config.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		e.journal = db
	}

	metrics.Init()
	return e, nil
}

// SetClock replaces the time source. It must be called before Start.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
	e.store.SetClock(clock)
}

// Store returns the sensor store
func (e *Engine) Store() *store.Store {
	return e.store
}

// Writer returns the command writer sessions attach to
func (e *Engine) Writer() *link.CommandWriter {
	return e.writer
}

// Start starts the background sweeper and status loops
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.sweepLoop(ctx)

	if e.config.StatusInterval > 0 {
		e.wg.Add(1)
		go e.statusLoop(ctx)
	}

	log.Printf("Engine started (threshold %.2f %s, axis %s, window %d, valve duration %v)",
		e.config.SlopeThreshold, e.config.Comparison, e.config.Axis, e.store.WindowSize(), e.config.ValveDuration)
}

// Stop stops the background loops and closes the journal. It is safe to
// call more than once.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() {
		close(e.stopChan)
		e.wg.Wait()

		if e.journal != nil {
			if err := e.journal.Close(); err != nil {
				log.Printf("Error closing journal: %v", err)
			}
		}
		log.Println("Engine stopped")
	})
	return nil
}

// RunSession ingests lines from one border router session until it ends.
// Commands are written back on the same connection while it is active.
func (e *Engine) RunSession(ctx context.Context, s *link.Session) error {
	e.mu.Lock()
	e.sessionID = s.ID
	e.mu.Unlock()

	if e.journal != nil {
		js := &storage.Session{ID: s.ID, Role: string(s.Role), RemoteAddr: s.RemoteAddr(), StartedAt: s.Started}
		if err := e.journal.InsertSession(js); err != nil {
			log.Printf("Failed to journal session: %v", err)
		}
	}

	e.writer.Attach(s.Conn)
	metrics.IncSession()
	metrics.SetConnected(true)

	start := e.lines.Load()
	err := link.ReadLines(ctx, s.Conn, e.HandleLine)

	e.writer.Detach(s.Conn)
	metrics.SetConnected(false)

	e.mu.Lock()
	if e.sessionID == s.ID {
		e.sessionID = ""
	}
	e.mu.Unlock()

	if e.journal != nil {
		reason := "shutdown"
		if err != nil {
			reason = err.Error()
		}
		if jerr := e.journal.EndSession(s.ID, e.clock(), e.lines.Load()-start, reason); jerr != nil {
			log.Printf("Failed to journal session end: %v", jerr)
		}
	}
	return err
}

// HandleLine decodes and applies one inbound line
func (e *Engine) HandleLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	e.lines.Add(1)

	switch ev := protocol.Decode(line).(type) {
	case protocol.Reading:
		metrics.IncLine("data")
		e.handleReading(ev)

	case protocol.Energy:
		metrics.IncLine("energy")
		e.handleEnergy(ev)

	case protocol.Unrecognized:
		metrics.IncLine("unrecognized")
		metrics.IncDecodeError()
		log.Printf("Ignoring line %q: %v", ev.Line, ev.Err)
	}
}

// handleReading records a reading and opens the valve when the trend crosses
// the threshold
func (e *Engine) handleReading(r protocol.Reading) {
	now := e.clock()
	ts := r.Timestamp
	if !r.HasTimestamp {
		ts = now.Unix()
	}

	n := e.store.Record(r.SensorID, r.Value, ts)
	metrics.SetSensors(e.store.Len())
	if n < 2 {
		return
	}

	slope := trend.Slope(e.store.Window(r.SensorID), e.config.Axis)
	metrics.SetSlope(strconv.FormatInt(r.SensorID, 10), slope)
	if !trend.Exceeds(slope, e.config.SlopeThreshold, e.config.Comparison) {
		return
	}

	e.actMu.Lock()
	defer e.actMu.Unlock()
	if !e.store.OpenIfClosed(r.SensorID, now) {
		return
	}

	log.Printf("Sensor %d slope %.2f exceeds threshold %.2f, opening valve", r.SensorID, slope, e.config.SlopeThreshold)
	cmd := protocol.Command{SensorID: r.SensorID, Action: protocol.ActionOpen}
	if e.config.IncludeDuration {
		cmd.Duration = int64(e.config.ValveDuration / time.Second)
	}
	e.emit(cmd, storage.ReasonTrend, slope, now)
}

// handleEnergy retains a node energy report
func (e *Engine) handleEnergy(ev protocol.Energy) {
	e.store.SetEnergy(ev.NodeID, ev.Level)
	metrics.SetSensors(e.store.Len())
	log.Printf("Energy from node %d: %d", ev.NodeID, ev.Level)

	if e.journal == nil {
		return
	}
	report := &storage.EnergyReport{
		NodeID:    ev.NodeID,
		Level:     ev.Level,
		SessionID: e.currentSession(),
		Timestamp: e.clock(),
	}
	if _, err := e.journal.InsertEnergyReport(report); err != nil {
		log.Printf("Failed to journal energy report: %v", err)
	}
}

// CloseValve closes an open valve ahead of its timeout. It reports whether
// the valve was open; the error is the command write failure, if any.
func (e *Engine) CloseValve(id int64) (bool, error) {
	e.actMu.Lock()
	defer e.actMu.Unlock()
	if !e.store.CloseIfOpen(id) {
		return false, nil
	}
	log.Printf("Closing valve %d on request", id)
	cmd := protocol.Command{SensorID: id, Action: protocol.ActionClose}
	return true, e.emit(cmd, storage.ReasonManual, 0, e.clock())
}

// Sweep closes every valve that has been open for at least the valve
// duration and returns how many it closed
func (e *Engine) Sweep(now time.Time) int {
	closed := 0
	for _, id := range e.store.SensorIDs() {
		if e.sweepOne(id, now) {
			closed++
		}
	}
	return closed
}

func (e *Engine) sweepOne(id int64, now time.Time) bool {
	e.actMu.Lock()
	defer e.actMu.Unlock()
	if !e.store.CloseIfExpired(id, now, e.config.ValveDuration) {
		return false
	}
	log.Printf("Valve %d open for %v, closing", id, e.config.ValveDuration)
	e.emit(protocol.Command{SensorID: id, Action: protocol.ActionClose}, storage.ReasonTimeout, 0, now)
	return true
}

// emit writes a command and records the outcome. A failed write is not
// retried and the recorded valve state is left as already set. Callers hold
// actMu.
func (e *Engine) emit(cmd protocol.Command, reason string, slope float64, at time.Time) error {
	err := e.writer.Send(cmd)

	outcome := storage.OutcomeSent
	if err != nil {
		outcome = storage.OutcomeFailed
		log.Printf("Failed to send %s: %v", cmd, err)
	} else {
		log.Printf("Sent %s", cmd)
	}
	metrics.IncCommand(cmd.Action.String(), outcome)
	metrics.SetOpenValves(e.store.OpenCount())

	if e.journal != nil {
		event := &storage.ValveEvent{
			SensorID:  cmd.SensorID,
			Action:    uint8(cmd.Action),
			Duration:  cmd.Duration,
			Reason:    reason,
			Slope:     slope,
			Outcome:   outcome,
			SessionID: e.currentSession(),
			Timestamp: at,
		}
		if err != nil {
			event.Error = err.Error()
		}
		if _, jerr := e.journal.InsertValveEvent(event); jerr != nil {
			log.Printf("Failed to journal valve event: %v", jerr)
		}
	}
	return err
}

func (e *Engine) currentSession() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// sweepLoop periodically closes expired valves. It runs across sessions so
// valves opened before a disconnect still time out.
func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.Sweep(e.clock())
		}
	}
}

// statusLoop periodically logs the network status
func (e *Engine) statusLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.logStatus()
		}
	}
}
