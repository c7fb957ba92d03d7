package sensor

import (
	"fmt"
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/gopump/pkg/config"
)

// Mock simulates the flow sensor with a first-order plant responding to
// the commanded pump voltage: steady-state flow is FlowPerVolt * voltage,
// approached with the configured time constant. Wire the pump mock's
// OnCommand callback to CommandVoltage to close the loop in tests.
type Mock struct {
	cfg config.MockConfig

	mu        sync.Mutex
	connected bool
	measuring bool

	voltage      float32 // Last commanded pump voltage
	flow         float32 // Current plant flow (mL/min)
	lastStep     time.Time
	errorPercent float32

	// Fault injection for retry/degradation tests.
	failReads int
}

// NewMock creates a new mocked flow sensor.
func NewMock(cfg config.MockConfig) *Mock {
	return &Mock{cfg: cfg}
}

// Connect simulates connecting to the sensor.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	m.flow = 0
	m.lastStep = time.Now()
	return nil
}

// Close stops the mocked sensor.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.measuring = false
	return nil
}

// Start begins simulated measurement.
func (m *Mock) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("not connected")
	}
	m.measuring = true
	m.lastStep = time.Now()
	return nil
}

// Stop ends simulated measurement.
func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.measuring = false
	return nil
}

// SetErrorPercent sets the firmware-sign error percent used for flow
// compensation.
func (m *Mock) SetErrorPercent(pct float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorPercent = pct
}

// CommandVoltage informs the plant of a new pump voltage.
func (m *Mock) CommandVoltage(voltage float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.step(time.Now())
	m.voltage = voltage
}

// FailNextReads makes the next n reads return a transport error.
func (m *Mock) FailNextReads(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReads = n
}

// Read advances the plant and returns the current simulated measurement.
func (m *Mock) Read() (Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return Reading{}, fmt.Errorf("not connected")
	}
	if !m.measuring {
		return Reading{}, fmt.Errorf("measurement not started")
	}
	if m.failReads > 0 {
		m.failReads--
		return Reading{}, fmt.Errorf("simulated transport failure")
	}

	now := time.Now()
	m.step(now)

	// Deterministic pseudo-noise, same trick as the device mock the
	// bridge firmware was tested against.
	noise := (math32.Sin(float32(now.UnixNano())*0.001) +
		math32.Cos(float32(now.UnixNano())*0.0013)) * m.cfg.NoiseLevel * 0.5

	rawFlow := m.flow + noise

	return Reading{
		Timestamp:   now,
		Flow:        Compensate(rawFlow, m.errorPercent),
		RawFlow:     rawFlow,
		Temperature: m.cfg.Temperature,
		Flags:       0,
		Bubble:      false,
	}, nil
}

// IsConnected returns whether the mock is connected.
func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Flow returns the current plant flow without noise or compensation.
func (m *Mock) Flow() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flow
}

// step advances the first-order plant to the given time. Callers must
// hold the mutex.
func (m *Mock) step(now time.Time) {
	dt := now.Sub(m.lastStep).Seconds()
	m.lastStep = now
	if dt <= 0 {
		return
	}

	target := m.cfg.FlowPerVolt * m.voltage
	alpha := float32(dt / m.cfg.TimeConstant.Seconds())
	if alpha > 1 {
		alpha = 1
	}
	m.flow += alpha * (target - m.flow)
}
