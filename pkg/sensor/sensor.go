// Package sensor reads a Sensirion SLF-series liquid flow sensor behind
// the serial bridge MCU.
//
// The bridge owns the sensor bus protocol; the host speaks lines:
//
//	START              begin continuous measurement
//	STOP               end continuous measurement
//	READ               one measurement: "<rawFlow>,<rawTemp>,<flags>"
//
// Raw flow and temperature are signed 16-bit counts scaled by the
// configured factors. Flow is additionally compensated by the
// operator-calibrated error percent.
package sensor

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/itohio/gopump/pkg/config"
)

const (
	// DefaultBaudRate is the standard baud rate for the bridge MCU.
	DefaultBaudRate = 115200
	// readTimeout bounds a single READ exchange.
	readTimeout = 100 * time.Millisecond
)

// Serial reads the flow sensor over the serial bridge.
type Serial struct {
	port     string
	baudRate int
	cfg      config.SensorConfig

	mu        sync.Mutex
	conn      serial.Port
	reader    *bufio.Reader
	connected bool
	measuring bool

	errorPercent float32 // Firmware-sign error percent for compensation
}

// New creates a new Serial sensor for the given port.
func New(port string, baudRate int, cfg config.SensorConfig) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return &Serial{
		port:     port,
		baudRate: baudRate,
		cfg:      cfg,
	}
}

// Connect opens the serial port.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("already connected")
	}

	conn, err := serial.Open(s.port, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}
	if err := conn.SetReadTimeout(readTimeout); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.connected = true

	return nil
}

// Close stops measurement and closes the serial port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	if s.measuring {
		s.exchange("STOP")
		s.measuring = false
	}

	err := s.conn.Close()
	s.conn = nil
	s.reader = nil
	s.connected = false

	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// Start begins continuous measurement mode.
func (s *Serial) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return fmt.Errorf("not connected")
	}

	if _, err := s.exchange("START"); err != nil {
		return fmt.Errorf("failed to start measurement: %w", err)
	}
	s.measuring = true
	return nil
}

// Stop ends continuous measurement mode.
func (s *Serial) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return fmt.Errorf("not connected")
	}

	_, err := s.exchange("STOP")
	s.measuring = false
	if err != nil {
		return fmt.Errorf("failed to stop measurement: %w", err)
	}
	return nil
}

// SetErrorPercent sets the firmware-sign error percent used for flow
// compensation on subsequent reads.
func (s *Serial) SetErrorPercent(pct float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorPercent = pct
}

// Read requests one measurement from the bridge.
func (s *Serial) Read() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return Reading{}, fmt.Errorf("not connected")
	}
	if !s.measuring {
		return Reading{}, fmt.Errorf("measurement not started")
	}

	line, err := s.exchange("READ")
	if err != nil {
		return Reading{}, fmt.Errorf("read failed: %w", err)
	}

	return parseReading(line, s.cfg, s.errorPercent, time.Now())
}

// IsConnected returns whether the sensor is currently connected.
func (s *Serial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// exchange sends one command line and returns the bridge's reply line.
// Callers must hold the mutex. A reply of "ERR ..." is an error; "OK" is
// returned verbatim for commands without data.
func (s *Serial) exchange(cmd string) (string, error) {
	if _, err := s.conn.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("failed to send %q: %w", cmd, err)
	}

	resp, err := s.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("no reply to %q: %w", cmd, err)
	}
	resp = strings.TrimSpace(resp)
	if strings.HasPrefix(resp, "ERR") {
		return "", fmt.Errorf("bridge rejected %q: %s", cmd, resp)
	}
	return resp, nil
}

// parseReading parses a "<rawFlow>,<rawTemp>,<flags>" line into a
// compensated Reading.
func parseReading(line string, cfg config.SensorConfig, errorPercent float32, ts time.Time) (Reading, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return Reading{}, fmt.Errorf("invalid reading format: expected 3 comma-separated values, got %d", len(parts))
	}

	rawFlowInt, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 16)
	if err != nil {
		return Reading{}, fmt.Errorf("invalid raw flow: %w", err)
	}
	rawTempInt, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 16)
	if err != nil {
		return Reading{}, fmt.Errorf("invalid raw temperature: %w", err)
	}
	flags, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 16)
	if err != nil {
		return Reading{}, fmt.Errorf("invalid flags: %w", err)
	}

	rawFlow := float32(rawFlowInt) / cfg.FlowScale
	temperature := float32(rawTempInt) / cfg.TempScale

	return Reading{
		Timestamp:   ts,
		Flow:        Compensate(rawFlow, errorPercent),
		RawFlow:     rawFlow,
		Temperature: temperature,
		Flags:       uint16(flags),
		Bubble:      uint16(flags)&AirInLineFlag != 0,
	}, nil
}

// Compensate applies the operator-calibrated error percent to a raw flow
// value: flow * 1/(1 + pct/100), with pct in the firmware sign convention.
func Compensate(rawFlow, pct float32) float32 {
	return rawFlow * (1.0 / (1.0 + pct/100.0))
}
