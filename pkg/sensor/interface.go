package sensor

import "time"

// Reading is one compensated flow sensor measurement.
type Reading struct {
	Timestamp   time.Time
	Flow        float32 // Compensated flow (mL/min)
	RawFlow     float32 // Uncompensated flow (mL/min)
	Temperature float32 // Liquid temperature (C)
	Flags       uint16  // Sensor signaling flags
	Bubble      bool    // Air-in-line flag decoded from Flags
}

// AirInLineFlag is the signaling bit reported while a bubble passes the
// measurement channel.
const AirInLineFlag uint16 = 0x0001

// FlowSensor defines the interface for flow sensors (real or mocked).
type FlowSensor interface {
	Connect() error
	Close() error
	Start() error
	Stop() error
	Read() (Reading, error)
	SetErrorPercent(pct float32)
	IsConnected() bool
}

// Ensure Serial implements FlowSensor.
var _ FlowSensor = (*Serial)(nil)

// Ensure Mock implements FlowSensor.
var _ FlowSensor = (*Mock)(nil)
