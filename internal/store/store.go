// Package store holds the per-sensor sliding windows and valve state.
package store

import (
	"sort"
	"sync"
	"time"
)

// DefaultWindowSize is the number of samples kept per sensor
const DefaultWindowSize = 30

// State is the recorded valve state of a sensor
type State uint8

// Valve states
const (
	Closed State = 0
	Open   State = 1
)

// String returns the state name
func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// Sample is one windowed reading
type Sample struct {
	Timestamp int64
	Value     int64
}

// SensorStatus is a point-in-time view of one sensor for status reporting
type SensorStatus struct {
	ID         int64
	Window     []Sample
	Valve      State
	OpenedAt   time.Time
	LastUpdate time.Time
	Energy     int64
	HasEnergy  bool
}

type record struct {
	window     []Sample
	valve      State
	openedAt   time.Time
	lastUpdate time.Time
	energy     int64
	hasEnergy  bool
}

// Store owns every sensor record. All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	size    int
	now     func() time.Time
	sensors map[int64]*record
}

// New creates a store keeping up to size samples per sensor.
// size <= 0 selects DefaultWindowSize.
func New(size int) *Store {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Store{
		size:    size,
		now:     time.Now,
		sensors: make(map[int64]*record),
	}
}

// SetClock replaces the clock used for last update times
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// WindowSize returns the configured window capacity
func (s *Store) WindowSize() int {
	return s.size
}

// get returns the record for id, creating it. Caller holds mu.
func (s *Store) get(id int64) *record {
	r, ok := s.sensors[id]
	if !ok {
		r = &record{window: make([]Sample, 0, s.size)}
		s.sensors[id] = r
	}
	return r
}

// Record appends a sample to the sensor's window, evicting the oldest past
// the window size, and returns the resulting window length
func (s *Store) Record(id, value, ts int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.get(id)
	if len(r.window) == s.size {
		copy(r.window, r.window[1:])
		r.window = r.window[:s.size-1]
	}
	r.window = append(r.window, Sample{Timestamp: ts, Value: value})
	r.lastUpdate = s.now()
	return len(r.window)
}

// Window returns a copy of the sensor's window, oldest first. Unknown ids
// return nil.
func (s *Store) Window(id int64) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sensors[id]
	if !ok {
		return nil
	}
	out := make([]Sample, len(r.window))
	copy(out, r.window)
	return out
}

// ValveState returns the recorded valve state and the time it was opened
func (s *Store) ValveState(id int64) (State, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sensors[id]
	if !ok {
		return Closed, time.Time{}
	}
	return r.valve, r.openedAt
}

// SetValveState sets the valve state unconditionally
func (s *Store) SetValveState(id int64, state State, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.get(id)
	r.valve = state
	if state == Open {
		r.openedAt = at
	} else {
		r.openedAt = time.Time{}
	}
}

// OpenIfClosed marks the valve open at the given time. It returns false when
// the valve was already open.
func (s *Store) OpenIfClosed(id int64, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.get(id)
	if r.valve == Open {
		return false
	}
	r.valve = Open
	r.openedAt = at
	return true
}

// CloseIfExpired closes the valve when it has been open for at least hold.
// It returns true only for the call that performed the transition.
func (s *Store) CloseIfExpired(id int64, now time.Time, hold time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sensors[id]
	if !ok || r.valve != Open {
		return false
	}
	if now.Sub(r.openedAt) < hold {
		return false
	}
	r.valve = Closed
	r.openedAt = time.Time{}
	return true
}

// CloseIfOpen closes an open valve regardless of elapsed time
func (s *Store) CloseIfOpen(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sensors[id]
	if !ok || r.valve != Open {
		return false
	}
	r.valve = Closed
	r.openedAt = time.Time{}
	return true
}

// SetEnergy records the last energy level reported by a node
func (s *Store) SetEnergy(id, level int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.get(id)
	r.energy = level
	r.hasEnergy = true
}

// SensorIDs returns the known ids in ascending order
func (s *Store) SensorIDs() []int64 {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.sensors))
	for id := range s.sensors {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OpenCount returns the number of valves currently recorded open
func (s *Store) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.sensors {
		if r.valve == Open {
			n++
		}
	}
	return n
}

// Len returns the number of known sensors
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sensors)
}

// Snapshot returns a status view of every sensor, ordered by id
func (s *Store) Snapshot() []SensorStatus {
	s.mu.Lock()
	out := make([]SensorStatus, 0, len(s.sensors))
	for id, r := range s.sensors {
		window := make([]Sample, len(r.window))
		copy(window, r.window)
		out = append(out, SensorStatus{
			ID:         id,
			Window:     window,
			Valve:      r.valve,
			OpenedAt:   r.openedAt,
			LastUpdate: r.lastUpdate,
			Energy:     r.energy,
			HasEnergy:  r.hasEnergy,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
