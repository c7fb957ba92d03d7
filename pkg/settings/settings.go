// Package settings holds the operator-adjustable run settings: the flow
// setpoint and the calibration error percent. Values survive restarts via
// a small YAML file, the host-side analog of the firmware's EEPROM slots.
package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/itohio/gopump/pkg/config"
)

// Settings is owned by the control loop; adjustments arrive as debounced
// edge events, at most one per cycle each.
type Settings struct {
	cfg  config.FlowConfig
	path string

	setpoint     float32 // mL/min
	errorPercent float32 // Operator sign convention
}

// persisted is the on-disk layout.
type persisted struct {
	Setpoint     float32 `yaml:"setpoint"`
	ErrorPercent float32 `yaml:"error_percent"`
}

// Load reads persisted settings from path, falling back to safe defaults
// when the file is missing or holds out-of-range values.
func Load(path string, cfg config.FlowConfig) (*Settings, error) {
	s := &Settings{
		cfg:          cfg,
		path:         path,
		setpoint:     (cfg.SetpointMin + cfg.SetpointMax) * 0.5,
		errorPercent: 0,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var p persisted
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}

	// Stored values outside the valid ranges are discarded, same policy
	// as the firmware applies to stale EEPROM contents.
	if p.Setpoint >= cfg.SetpointMin && p.Setpoint <= cfg.SetpointMax {
		s.setpoint = p.Setpoint
	}
	if p.ErrorPercent >= cfg.ErrorPercentMin && p.ErrorPercent <= cfg.ErrorPercentMax {
		s.errorPercent = p.ErrorPercent
	}

	return s, nil
}

// Save persists the current values.
func (s *Settings) Save() error {
	data, err := yaml.Marshal(persisted{
		Setpoint:     s.setpoint,
		ErrorPercent: s.errorPercent,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// Setpoint returns the flow setpoint in mL/min.
func (s *Settings) Setpoint() float32 {
	return s.setpoint
}

// ErrorPercent returns the error percent as the operator entered it.
func (s *Settings) ErrorPercent() float32 {
	return s.errorPercent
}

// ErrorPercentFirmware returns the error percent in the firmware sign
// convention used for flow compensation.
//
// Operator enters:
//
//	error_hand = 100*(expected - measured)/expected
//
// Compensation needs:
//
//	error_fw = 100*(measured - expected)/expected
//
// Same magnitude, opposite sign: a single-point sign flip encoding the
// deployed sensor orientation.
func (s *Settings) ErrorPercentFirmware() float32 {
	return -s.errorPercent
}

// AdjustSetpoint steps the setpoint by steps increments of the configured
// step size, clamped to the valid range. Returns true if the value
// changed.
func (s *Settings) AdjustSetpoint(steps int) bool {
	v := s.setpoint + float32(steps)*s.cfg.SetpointStep
	if v > s.cfg.SetpointMax {
		v = s.cfg.SetpointMax
	}
	if v < s.cfg.SetpointMin {
		v = s.cfg.SetpointMin
	}
	if v == s.setpoint {
		return false
	}
	s.setpoint = v
	return true
}

// AdjustErrorPercent steps the error percent by steps increments of the
// configured step size, clamped to the valid range. Returns true if the
// value changed.
func (s *Settings) AdjustErrorPercent(steps int) bool {
	v := s.errorPercent + float32(steps)*s.cfg.ErrorPercentStep
	if v > s.cfg.ErrorPercentMax {
		v = s.cfg.ErrorPercentMax
	}
	if v < s.cfg.ErrorPercentMin {
		v = s.cfg.ErrorPercentMin
	}
	if v == s.errorPercent {
		return false
	}
	s.errorPercent = v
	return true
}
