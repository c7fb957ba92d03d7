package control

import "fmt"

// Mode identifies the active control strategy.
type Mode int

const (
	// ModeSigmoidal schedules gains with logistic curves and filters the
	// error with the logistic-alpha filter.
	ModeSigmoidal Mode = iota
	// ModeExponential schedules gains with reciprocal-exponential curves
	// and filters the error with the slope-matched adaptive filter.
	ModeExponential
	// ModeConstantVoltage bypasses the PID entirely and drives the pump
	// at a fixed configured voltage.
	ModeConstantVoltage

	modeCount
)

// Next returns the mode following m in the toggle cycle.
func (m Mode) Next() Mode {
	return (m + 1) % modeCount
}

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeSigmoidal:
		return "sigmoidal"
	case ModeExponential:
		return "exponential"
	case ModeConstantVoltage:
		return "constant-voltage"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalJSON encodes the mode as its name.
func (m Mode) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// SystemState is the per-cycle record shared across the loop. The loop is
// its sole owner; components write only their own fields, and a field is
// meaningful only after the component that writes it has run in the
// current cycle.
type SystemState struct {
	TimeMs int64 `json:"timeMs"`

	// Sensor data
	Flow        float32 `json:"flow"`     // Compensated flow (mL/min)
	Temperature float32 `json:"temp"`     // Liquid temperature (C)
	Bubble      bool    `json:"bubble"`   // Air-in-line flag
	Setpoint    float32 `json:"setpt"`    // Flow setpoint (mL/min)
	ErrorPct    float32 `json:"errorPct"` // Operator-entered error percent

	// Mode and power
	On   bool `json:"on"`
	Mode Mode `json:"mode"`

	// Scheduled gains
	PGain float32 `json:"pGain"`
	IGain float32 `json:"iGain"`
	DGain float32 `json:"dGain"`

	// PID term breakdown
	PTerm float32 `json:"pTerm"`
	ITerm float32 `json:"iTerm"`
	DTerm float32 `json:"dTerm"`

	// Filtered signals
	FilteredError float32 `json:"filtErr"`
	CurrentAlpha  float32 `json:"alpha"`

	// Control outputs
	PIDOutput      float32 `json:"pidOut"` // Saturated output fraction [0,1]
	DesiredVoltage float32 `json:"volt"`   // Final pump command (V)
}
