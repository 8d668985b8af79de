// Package protocol defines the line-oriented text protocol spoken between the
// valve server and the border router.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Message keywords
const (
	// Border router -> server
	KeywordData   = "DATA"   // Sensor reading
	KeywordEnergy = "ENERGY" // Node energy report

	// Server -> border router
	KeywordCommand = "COMMAND" // Valve open/close command
)

// Action is a valve command action as carried on the wire
type Action uint8

// Valve actions
const (
	ActionClose Action = 0
	ActionOpen  Action = 1
)

// String returns the lowercase action name
func (a Action) String() string {
	switch a {
	case ActionClose:
		return "close"
	case ActionOpen:
		return "open"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(a))
	}
}

// ErrDecode is wrapped by every reason attached to an Unrecognized event
var ErrDecode = errors.New("decode error")

// Event is a decoded inbound line. The set of implementations is closed:
// Reading, Energy and Unrecognized.
type Event interface {
	event()
}

// Reading is a sensor value report
type Reading struct {
	SensorID     int64
	Value        int64
	Timestamp    int64 // Seconds, valid only when HasTimestamp is set
	HasTimestamp bool
}

// Energy is a node energy level report (0-1000 on the reference firmware)
type Energy struct {
	NodeID int64
	Level  int64
}

// Unrecognized carries a line that matched no known shape
type Unrecognized struct {
	Line string
	Err  error
}

func (Reading) event()      {}
func (Energy) event()       {}
func (Unrecognized) event() {}

// splitFields splits a line on whitespace and commas
func splitFields(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	})
}

// Decode parses one line with its terminator already stripped. It never
// fails; lines it cannot interpret come back as Unrecognized.
func Decode(line string) Event {
	fields := splitFields(line)
	if len(fields) == 0 {
		return unrecognized(line, "empty line")
	}

	switch fields[0] {
	case KeywordData:
		return decodeData(line, fields[1:])
	case KeywordEnergy:
		return decodeEnergy(line, fields[1:])
	default:
		return unrecognized(line, fmt.Sprintf("unknown keyword %q", fields[0]))
	}
}

func decodeData(line string, args []string) Event {
	if len(args) < 2 || len(args) > 3 {
		return unrecognized(line, fmt.Sprintf("DATA expects 2 or 3 fields, got %d", len(args)))
	}

	sensorID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return unrecognized(line, fmt.Sprintf("invalid sensor id %q", args[0]))
	}
	value, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return unrecognized(line, fmt.Sprintf("invalid value %q", args[1]))
	}

	reading := Reading{SensorID: sensorID, Value: value}
	if len(args) == 3 {
		ts, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return unrecognized(line, fmt.Sprintf("invalid timestamp %q", args[2]))
		}
		reading.Timestamp = ts
		reading.HasTimestamp = true
	}
	return reading
}

func decodeEnergy(line string, args []string) Event {
	if len(args) != 2 {
		return unrecognized(line, fmt.Sprintf("ENERGY expects 2 fields, got %d", len(args)))
	}

	nodeID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return unrecognized(line, fmt.Sprintf("invalid node id %q", args[0]))
	}
	level, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return unrecognized(line, fmt.Sprintf("invalid energy level %q", args[1]))
	}
	return Energy{NodeID: nodeID, Level: level}
}

func unrecognized(line, reason string) Unrecognized {
	return Unrecognized{Line: line, Err: fmt.Errorf("%w: %s", ErrDecode, reason)}
}

// Command is an outbound valve command
type Command struct {
	SensorID int64
	Action   Action
	Duration int64 // Seconds; zero omits the field
}

// Encode serializes the command as a single newline-terminated line
func (c Command) Encode() []byte {
	if c.Duration > 0 {
		return fmt.Appendf(nil, "%s %d %d %d\n", KeywordCommand, c.SensorID, c.Action, c.Duration)
	}
	return fmt.Appendf(nil, "%s %d %d\n", KeywordCommand, c.SensorID, c.Action)
}

// String returns the command line without its terminator
func (c Command) String() string {
	return strings.TrimSuffix(string(c.Encode()), "\n")
}

// DecodeCommand parses a COMMAND line, the way the border router does
func DecodeCommand(line string) (Command, error) {
	fields := splitFields(line)
	if len(fields) < 3 || len(fields) > 4 || fields[0] != KeywordCommand {
		return Command{}, fmt.Errorf("%w: not a command line: %q", ErrDecode, line)
	}

	sensorID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Command{}, fmt.Errorf("%w: invalid sensor id %q", ErrDecode, fields[1])
	}
	action, err := strconv.ParseUint(fields[2], 10, 8)
	if err != nil || action > uint64(ActionOpen) {
		return Command{}, fmt.Errorf("%w: invalid action %q", ErrDecode, fields[2])
	}

	cmd := Command{SensorID: sensorID, Action: Action(action)}
	if len(fields) == 4 {
		duration, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return Command{}, fmt.Errorf("%w: invalid duration %q", ErrDecode, fields[3])
		}
		cmd.Duration = duration
	}
	return cmd, nil
}
