package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

// TestSessionLifecycle tests session insert, end and listing
func TestSessionLifecycle(t *testing.T) {
	db, _ := openTestDB(t)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{
		ID:         "3f1c2a9e-5b7d-4c1e-9a0b-1234567890ab",
		Role:       "listen",
		RemoteAddr: "10.0.0.5:41000",
		StartedAt:  started,
	}
	if err := db.InsertSession(s); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	sessions, err := db.GetSessions(10)
	if err != nil {
		t.Fatalf("GetSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Session count mismatch: got %d, want 1", len(sessions))
	}
	if !sessions[0].EndedAt.IsZero() {
		t.Errorf("Expected active session, got ended at %v", sessions[0].EndedAt)
	}

	ended := started.Add(90 * time.Second)
	if err := db.EndSession(s.ID, ended, 42, "transport closed"); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if err := db.EndSession("missing", ended, 0, ""); err == nil {
		t.Error("Expected error ending unknown session")
	}

	sessions, err = db.GetSessions(10)
	if err != nil {
		t.Fatalf("GetSessions failed: %v", err)
	}
	got := sessions[0]
	if got.ID != s.ID || got.Role != "listen" || got.RemoteAddr != s.RemoteAddr {
		t.Errorf("Session mismatch: got %+v", got)
	}
	if !got.StartedAt.Equal(started) || !got.EndedAt.Equal(ended) {
		t.Errorf("Session times mismatch: got %v - %v", got.StartedAt, got.EndedAt)
	}
	if got.Lines != 42 || got.EndReason != "transport closed" {
		t.Errorf("Session end mismatch: got lines %d, reason %q", got.Lines, got.EndReason)
	}
}

// TestValveEvents tests valve event insert and filtering
func TestValveEvents(t *testing.T) {
	db, _ := openTestDB(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []*ValveEvent{
		{SensorID: 7, Action: 1, Reason: ReasonTrend, Slope: 10, Outcome: OutcomeSent, SessionID: "s1", Timestamp: base},
		{SensorID: 7, Action: 0, Reason: ReasonTimeout, Outcome: OutcomeSent, SessionID: "s1", Timestamp: base.Add(600 * time.Second)},
		{SensorID: 9, Action: 1, Duration: 600, Reason: ReasonTrend, Slope: -6.5, Outcome: OutcomeFailed, Error: "not connected", Timestamp: base.Add(time.Second)},
	}
	for _, e := range events {
		id, err := db.InsertValveEvent(e)
		if err != nil {
			t.Fatalf("InsertValveEvent failed: %v", err)
		}
		if id <= 0 {
			t.Errorf("Expected positive id, got %d", id)
		}
	}

	all, err := db.GetValveEvents(nil, 10)
	if err != nil {
		t.Fatalf("GetValveEvents failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Event count mismatch: got %d, want 3", len(all))
	}
	if all[0].Reason != ReasonTimeout {
		t.Errorf("Expected newest event first, got %+v", all[0])
	}

	id := int64(9)
	sensor9, err := db.GetValveEvents(&id, 10)
	if err != nil {
		t.Fatalf("GetValveEvents failed: %v", err)
	}
	if len(sensor9) != 1 {
		t.Fatalf("Sensor 9 event count mismatch: got %d, want 1", len(sensor9))
	}
	e := sensor9[0]
	if e.Outcome != OutcomeFailed || e.Error != "not connected" || e.Duration != 600 || e.Slope != -6.5 {
		t.Errorf("Event mismatch: got %+v", e)
	}
	if e.SessionID != "" {
		t.Errorf("Expected empty session id, got %q", e.SessionID)
	}

	limited, err := db.GetValveEvents(nil, 1)
	if err != nil {
		t.Fatalf("GetValveEvents failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Limit not applied: got %d events", len(limited))
	}
}

// TestNegativeIDFilter tests that negative ids filter like any other id
func TestNegativeIDFilter(t *testing.T) {
	db, _ := openTestDB(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []int64{-1, 4, -1} {
		if _, err := db.InsertValveEvent(&ValveEvent{SensorID: id, Action: 1, Reason: ReasonTrend, Outcome: OutcomeSent, Timestamp: now}); err != nil {
			t.Fatalf("InsertValveEvent failed: %v", err)
		}
		if _, err := db.InsertEnergyReport(&EnergyReport{NodeID: id, Level: 100, Timestamp: now}); err != nil {
			t.Fatalf("InsertEnergyReport failed: %v", err)
		}
	}

	id := int64(-1)
	events, err := db.GetValveEvents(&id, 10)
	if err != nil {
		t.Fatalf("GetValveEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Event count mismatch: got %d, want 2", len(events))
	}
	for _, e := range events {
		if e.SensorID != -1 {
			t.Errorf("Sensor id mismatch: got %d, want -1", e.SensorID)
		}
	}

	reports, err := db.GetEnergyReports(&id, 10)
	if err != nil {
		t.Fatalf("GetEnergyReports failed: %v", err)
	}
	if len(reports) != 2 {
		t.Errorf("Report count mismatch: got %d, want 2", len(reports))
	}

	all, err := db.GetEnergyReports(nil, 10)
	if err != nil {
		t.Fatalf("GetEnergyReports failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Report count mismatch: got %d, want 3", len(all))
	}
}

// TestEnergyReports tests energy report insert and listing
func TestEnergyReports(t *testing.T) {
	db, _ := openTestDB(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, level := range []int64{1000, 870, 640} {
		if _, err := db.InsertEnergyReport(&EnergyReport{NodeID: 2, Level: level, Timestamp: now.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("InsertEnergyReport failed: %v", err)
		}
	}
	if _, err := db.InsertEnergyReport(&EnergyReport{NodeID: 3, Level: 500, Timestamp: now}); err != nil {
		t.Fatalf("InsertEnergyReport failed: %v", err)
	}

	node := int64(2)
	reports, err := db.GetEnergyReports(&node, 10)
	if err != nil {
		t.Fatalf("GetEnergyReports failed: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("Report count mismatch: got %d, want 3", len(reports))
	}
	if reports[0].Level != 640 {
		t.Errorf("Expected latest level 640 first, got %d", reports[0].Level)
	}
}

// TestStatsAndQuery tests the inspection helpers used by the journal CLI
func TestStatsAndQuery(t *testing.T) {
	db, path := openTestDB(t)

	now := time.Now()
	db.InsertSession(&Session{ID: "a", Role: "connect", StartedAt: now})
	db.InsertValveEvent(&ValveEvent{SensorID: 1, Action: 1, Reason: ReasonTrend, Outcome: OutcomeSent, Timestamp: now})
	db.InsertValveEvent(&ValveEvent{SensorID: 1, Action: 0, Reason: ReasonManual, Outcome: OutcomeFailed, Timestamp: now})
	db.InsertValveEvent(&ValveEvent{SensorID: 2, Action: 1, Reason: ReasonTrend, Outcome: OutcomeSent, Timestamp: now})
	db.InsertEnergyReport(&EnergyReport{NodeID: 1, Level: 900, Timestamp: now})

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	want := Stats{Sessions: 1, ValveEvents: 3, FailedCommands: 1, Opens: 2, Closes: 1, EnergyReports: 1, Sensors: 2}
	if *stats != want {
		t.Errorf("Stats mismatch: got %+v, want %+v", *stats, want)
	}

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly failed: %v", err)
	}
	defer ro.Close()

	cols, rows, err := ro.Query("SELECT sensor_id, reason FROM valve_events ORDER BY id")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(cols) != 2 || cols[0] != "sensor_id" {
		t.Errorf("Columns mismatch: got %v", cols)
	}
	if len(rows) != 3 || rows[0][0] != "1" || rows[0][1] != ReasonTrend {
		t.Errorf("Rows mismatch: got %v", rows)
	}

	if _, _, err := ro.Query("DELETE FROM valve_events"); err == nil {
		t.Error("Expected non-SELECT query to be rejected")
	}
}
