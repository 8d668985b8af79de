package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// Open opens or creates the journal database
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// OpenReadOnly opens an existing journal for inspection
func OpenReadOnly(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the database schema
func (db *DB) migrate() error {
	schema := `
	-- Border router sessions
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		remote_addr TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		lines INTEGER DEFAULT 0,
		end_reason TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);

	-- Valve command decisions
	CREATE TABLE IF NOT EXISTS valve_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sensor_id INTEGER NOT NULL,
		action INTEGER NOT NULL,
		duration INTEGER DEFAULT 0,
		reason TEXT NOT NULL,
		slope REAL,
		outcome TEXT NOT NULL,
		error TEXT,
		session_id TEXT,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_valve_events_sensor ON valve_events(sensor_id);
	CREATE INDEX IF NOT EXISTS idx_valve_events_timestamp ON valve_events(timestamp);

	-- Node energy reports
	CREATE TABLE IF NOT EXISTS energy_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		node_id INTEGER NOT NULL,
		level INTEGER NOT NULL,
		session_id TEXT,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_energy_reports_node ON energy_reports(node_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// --- Session Operations ---

// InsertSession records the start of a session
func (db *DB) InsertSession(s *Session) error {
	query := `INSERT INTO sessions (id, role, remote_addr, started_at) VALUES (?, ?, ?, ?)`
	_, err := db.conn.Exec(query, s.ID, s.Role, s.RemoteAddr, s.StartedAt)
	return err
}

// EndSession records how and when a session ended
func (db *DB) EndSession(id string, endedAt time.Time, lines int64, reason string) error {
	query := `UPDATE sessions SET ended_at = ?, lines = ?, end_reason = ? WHERE id = ?`
	result, err := db.conn.Exec(query, endedAt, lines, reason, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// GetSessions retrieves the most recent sessions
func (db *DB) GetSessions(limit int) ([]*Session, error) {
	query := `SELECT id, role, remote_addr, started_at, ended_at, lines, end_reason
		FROM sessions ORDER BY started_at DESC LIMIT ?`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s := &Session{}
		var remote, reason sql.NullString
		var ended sql.NullTime
		if err := rows.Scan(&s.ID, &s.Role, &remote, &s.StartedAt, &ended, &s.Lines, &reason); err != nil {
			return nil, err
		}
		s.RemoteAddr = remote.String
		s.EndReason = reason.String
		if ended.Valid {
			s.EndedAt = ended.Time
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// --- Valve Event Operations ---

// InsertValveEvent inserts a valve command record
func (db *DB) InsertValveEvent(e *ValveEvent) (int64, error) {
	query := `INSERT INTO valve_events
		(sensor_id, action, duration, reason, slope, outcome, error, session_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := db.conn.Exec(query, e.SensorID, e.Action, e.Duration, e.Reason,
		e.Slope, e.Outcome, nullString(e.Error), nullString(e.SessionID), e.Timestamp)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetValveEvents retrieves the most recent valve events. A nil sensorID
// selects every sensor.
func (db *DB) GetValveEvents(sensorID *int64, limit int) ([]*ValveEvent, error) {
	query := `SELECT id, sensor_id, action, duration, reason, slope, outcome, error, session_id, timestamp
		FROM valve_events`
	args := []any{}
	if sensorID != nil {
		query += ` WHERE sensor_id = ?`
		args = append(args, *sensorID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ValveEvent
	for rows.Next() {
		e := &ValveEvent{}
		var slope sql.NullFloat64
		var errText, session sql.NullString
		if err := rows.Scan(&e.ID, &e.SensorID, &e.Action, &e.Duration, &e.Reason,
			&slope, &e.Outcome, &errText, &session, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Slope = slope.Float64
		e.Error = errText.String
		e.SessionID = session.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Energy Operations ---

// InsertEnergyReport inserts a node energy report
func (db *DB) InsertEnergyReport(r *EnergyReport) (int64, error) {
	query := `INSERT INTO energy_reports (node_id, level, session_id, timestamp) VALUES (?, ?, ?, ?)`
	result, err := db.conn.Exec(query, r.NodeID, r.Level, nullString(r.SessionID), r.Timestamp)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetEnergyReports retrieves the most recent energy reports. A nil nodeID
// selects every node.
func (db *DB) GetEnergyReports(nodeID *int64, limit int) ([]*EnergyReport, error) {
	query := `SELECT id, node_id, level, session_id, timestamp FROM energy_reports`
	args := []any{}
	if nodeID != nil {
		query += ` WHERE node_id = ?`
		args = append(args, *nodeID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*EnergyReport
	for rows.Next() {
		r := &EnergyReport{}
		var session sql.NullString
		if err := rows.Scan(&r.ID, &r.NodeID, &r.Level, &session, &r.Timestamp); err != nil {
			return nil, err
		}
		r.SessionID = session.String
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// --- Inspection ---

// GetStats summarizes the journal
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM sessions", &s.Sessions},
		{"SELECT COUNT(*) FROM valve_events", &s.ValveEvents},
		{"SELECT COUNT(*) FROM valve_events WHERE outcome = 'failed'", &s.FailedCommands},
		{"SELECT COUNT(*) FROM valve_events WHERE action = 1", &s.Opens},
		{"SELECT COUNT(*) FROM valve_events WHERE action = 0", &s.Closes},
		{"SELECT COUNT(*) FROM energy_reports", &s.EnergyReports},
		{"SELECT COUNT(DISTINCT sensor_id) FROM valve_events", &s.Sensors},
	}
	for _, c := range counts {
		if err := db.conn.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to query stats: %w", err)
		}
	}
	return s, nil
}

// Query runs a read-only SELECT and returns the column names and rows as text
func (db *DB) Query(query string) ([]string, [][]string, error) {
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return nil, nil, fmt.Errorf("only SELECT queries are allowed")
	}

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	values := make([]any, len(cols))
	valuePtrs := make([]any, len(cols))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	var out [][]string
	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, nil, err
		}
		row := make([]string, len(values))
		for i, v := range values {
			switch val := v.(type) {
			case nil:
				row[i] = "NULL"
			case []byte:
				row[i] = string(val)
			case time.Time:
				row[i] = val.Format(time.RFC3339)
			default:
				row[i] = fmt.Sprintf("%v", val)
			}
		}
		out = append(out, row)
	}
	return cols, out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
