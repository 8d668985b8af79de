// Package metrics exposes Prometheus counters and gauges for the valve server.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "valve_server_"

var (
	registerOnce sync.Once

	linesTotal    *prometheus.CounterVec
	decodeErrors  prometheus.Counter
	droppedLines  prometheus.Counter
	commandsTotal *prometheus.CounterVec
	sessionsTotal prometheus.Counter
	lastSlope     *prometheus.GaugeVec
	openValves    prometheus.Gauge
	sensorsKnown  prometheus.Gauge
	connected     prometheus.Gauge
)

// Init registers the metrics with the default registry. It is safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		linesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "lines_total",
				Help: "Total inbound lines by kind",
			},
			[]string{"kind"},
		)
		decodeErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "decode_errors_total",
				Help: "Total inbound lines that could not be decoded",
			},
		)
		droppedLines = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "dropped_lines_total",
				Help: "Total inbound lines discarded by framing",
			},
		)
		commandsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_total",
				Help: "Total valve commands by action and result",
			},
			[]string{"action", "result"},
		)
		sessionsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "sessions_total",
				Help: "Total border router sessions established",
			},
		)
		lastSlope = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sensor_slope",
				Help: "Most recent trend slope per sensor",
			},
			[]string{"sensor"},
		)
		openValves = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "open_valves",
				Help: "Number of valves currently recorded open",
			},
		)
		sensorsKnown = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sensors",
				Help: "Number of sensors seen since start",
			},
		)
		connected = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "connected",
				Help: "1 while a border router session is active",
			},
		)

		prometheus.MustRegister(
			linesTotal,
			decodeErrors,
			droppedLines,
			commandsTotal,
			sessionsTotal,
			lastSlope,
			openValves,
			sensorsKnown,
			connected,
		)
	})
}

// IncLine counts an inbound line of the given kind (data, energy, unrecognized)
func IncLine(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if linesTotal != nil {
		linesTotal.WithLabelValues(kind).Inc()
	}
}

// IncDecodeError counts a line that failed to decode
func IncDecodeError() {
	if decodeErrors != nil {
		decodeErrors.Inc()
	}
}

// AddDroppedLines counts lines discarded by the framer
func AddDroppedLines(n int) {
	if n <= 0 {
		return
	}
	if droppedLines != nil {
		droppedLines.Add(float64(n))
	}
}

// IncCommand counts a command by action and journal outcome
func IncCommand(action, result string) {
	if commandsTotal != nil {
		commandsTotal.WithLabelValues(action, result).Inc()
	}
}

// IncSession counts an established session
func IncSession() {
	if sessionsTotal != nil {
		sessionsTotal.Inc()
	}
}

// SetSlope records the latest slope for a sensor
func SetSlope(sensor string, slope float64) {
	if lastSlope != nil {
		lastSlope.WithLabelValues(sensor).Set(slope)
	}
}

// SetOpenValves sets the open valve gauge
func SetOpenValves(n int) {
	if openValves != nil {
		openValves.Set(float64(n))
	}
}

// SetSensors sets the known sensor gauge
func SetSensors(n int) {
	if sensorsKnown != nil {
		sensorsKnown.Set(float64(n))
	}
}

// SetConnected sets the connection gauge
func SetConnected(up bool) {
	if connected == nil {
		return
	}
	if up {
		connected.Set(1)
	} else {
		connected.Set(0)
	}
}
