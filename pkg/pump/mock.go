package pump

import (
	"fmt"
	"sync"
)

// Mock simulates a pump driver for testing and development. It records
// every command and forwards voltage changes to an optional callback so a
// mock plant can respond to them.
type Mock struct {
	mu        sync.Mutex
	connected bool

	voltage    float32
	running    bool
	driveCount int
	stopCount  int
	commands   []string

	// OnCommand, if set, is invoked with the effective voltage after
	// every Drive and with 0 after every Stop.
	OnCommand func(voltage float32)
}

// NewMock creates a new mocked pump driver.
func NewMock() *Mock {
	return &Mock{}
}

// Connect simulates connecting to the driver.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

// Close stops the mocked driver.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = false
	m.running = false
	m.voltage = 0
	return nil
}

// Drive records the voltage command.
func (m *Mock) Drive(voltage float32) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	m.voltage = voltage
	m.running = voltage > 0
	m.driveCount++
	m.commands = append(m.commands, fmt.Sprintf("drive %.2f", voltage))
	cb := m.OnCommand
	m.mu.Unlock()

	if cb != nil {
		cb(voltage)
	}
	return nil
}

// Stop records the stop command and zeroes the voltage.
func (m *Mock) Stop() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	m.voltage = 0
	m.running = false
	m.stopCount++
	m.commands = append(m.commands, "stop")
	cb := m.OnCommand
	m.mu.Unlock()

	if cb != nil {
		cb(0)
	}
	return nil
}

// IsConnected returns whether the mock is connected.
func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Voltage returns the last commanded voltage.
func (m *Mock) Voltage() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voltage
}

// Running reports whether the pump is being driven above zero volts.
func (m *Mock) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// DriveCount returns the number of Drive calls.
func (m *Mock) DriveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.driveCount
}

// StopCount returns the number of Stop calls.
func (m *Mock) StopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

// Commands returns a copy of the recorded command log.
func (m *Mock) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.commands))
	copy(out, m.commands)
	return out
}
