// Package storage provides the SQLite audit journal for the valve server.
// The journal records what happened; it is never read back to restore state.
package storage

import "time"

// Valve event reasons
const (
	ReasonTrend   = "trend"   // slope crossed the threshold
	ReasonTimeout = "timeout" // sweeper closed after the hold time
	ReasonManual  = "manual"  // closed through the admin API
)

// Command outcomes
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// Session represents one border router connection
type Session struct {
	ID         string    `json:"id"` // UUID
	Role       string    `json:"role"`
	RemoteAddr string    `json:"remote_addr"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"` // zero while active
	Lines      int64     `json:"lines"`
	EndReason  string    `json:"end_reason,omitempty"`
}

// ValveEvent represents one valve command decision and its delivery outcome
type ValveEvent struct {
	ID        int64     `json:"id"`
	SensorID  int64     `json:"sensor_id"`
	Action    uint8     `json:"action"`             // 0 = close, 1 = open
	Duration  int64     `json:"duration,omitempty"` // seconds carried on the command
	Reason    string    `json:"reason"`
	Slope     float64   `json:"slope"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EnergyReport represents a node energy level report
type EnergyReport struct {
	ID        int64     `json:"id"`
	NodeID    int64     `json:"node_id"`
	Level     int64     `json:"level"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats summarizes the journal contents
type Stats struct {
	Sessions       int
	ValveEvents    int
	FailedCommands int
	Opens          int
	Closes         int
	EnergyReports  int
	Sensors        int
}
