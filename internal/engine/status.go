package engine

import (
	"log"
	"strconv"
	"time"

	"github.com/agsys/valve-server/internal/store"
	"github.com/agsys/valve-server/internal/trend"
)

// recentReadings is how many of the latest values a status report shows
const recentReadings = 5

// SensorReport is the status of one sensor
type SensorReport struct {
	SensorID   int64     `json:"sensor_id"`
	Valve      string    `json:"valve"`
	OpenedAt   time.Time `json:"opened_at,omitempty"`
	LastUpdate time.Time `json:"last_update,omitempty"`
	Samples    int       `json:"samples"`
	Recent     []int64   `json:"recent"`
	Slope      float64   `json:"slope"`
	Energy     *int64    `json:"energy,omitempty"`
}

// Report returns the status of every known sensor, ordered by id
func (e *Engine) Report() []SensorReport {
	snapshot := e.store.Snapshot()
	reports := make([]SensorReport, 0, len(snapshot))
	for _, s := range snapshot {
		r := SensorReport{
			SensorID:   s.ID,
			Valve:      s.Valve.String(),
			LastUpdate: s.LastUpdate,
			Samples:    len(s.Window),
			Recent:     recentValues(s.Window, recentReadings),
			Slope:      trend.Slope(s.Window, e.config.Axis),
		}
		if s.Valve == store.Open {
			r.OpenedAt = s.OpenedAt
		}
		if s.HasEnergy {
			level := s.Energy
			r.Energy = &level
		}
		reports = append(reports, r)
	}
	return reports
}

// Status returns the sensor reports for the HTTP status route
func (e *Engine) Status() any {
	return e.Report()
}

func recentValues(window []store.Sample, n int) []int64 {
	if len(window) > n {
		window = window[len(window)-n:]
	}
	values := make([]int64, len(window))
	for i, s := range window {
		values[i] = s.Value
	}
	return values
}

// logStatus writes the network status to the log
func (e *Engine) logStatus() {
	reports := e.Report()
	connected := "disconnected"
	if e.writer.Connected() {
		connected = "connected"
	}
	log.Printf("Network status: %d sensors, %d valves open, border router %s, %d lines received",
		len(reports), e.store.OpenCount(), connected, e.lines.Load())

	for _, r := range reports {
		energy := "-"
		if r.Energy != nil {
			energy = strconv.FormatInt(*r.Energy, 10)
		}
		lastUpdate := "never"
		if !r.LastUpdate.IsZero() {
			lastUpdate = r.LastUpdate.Format(time.TimeOnly)
		}
		log.Printf("  Sensor %d: valve %s, last update %s, energy %s, recent %v, slope %.2f",
			r.SensorID, r.Valve, lastUpdate, energy, r.Recent, r.Slope)
	}
}
