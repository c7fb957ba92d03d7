package control

import (
	"fmt"
	"log"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/gopump/pkg/config"
)

// Actuator is the pump-facing contract. Implementations clamp internally
// to their own hardware limits; the controller still pre-clamps to the
// configured voltage range before calling.
type Actuator interface {
	Drive(voltage float32) error
	Stop() error
}

// Controller dispatches between the sigmoidal, exponential, and
// constant-voltage strategies and runs one full control cycle per Update:
// error filtering, gain scheduling, integrator rescaling, PID, voltage
// mapping, and the actuator command. External events (power, mode,
// setpoint) are delivered by the caller; the controller never polls
// hardware itself.
type Controller struct {
	pump config.PumpConfig
	act  Actuator

	sigSchedule Schedule
	expSchedule Schedule
	sigFilter   *LogisticAlphaFilter
	expFilter   *SlopeMatchedFilter

	pid    *PID
	lastKi float32

	mode  Mode
	on    bool
	state SystemState
}

// NewController builds the controller with its strategies and resets the
// initial mode's state.
func NewController(cfg *config.Config, act Actuator) *Controller {
	c := &Controller{
		pump:        cfg.Pump,
		act:         act,
		sigSchedule: NewSigmoidalSchedule(cfg.Control.Sigmoidal),
		expSchedule: NewExponentialSchedule(cfg.Control.Exponential),
		sigFilter:   NewLogisticAlphaFilter(cfg.Control.Filter.Alpha),
		expFilter:   NewSlopeMatchedFilter(cfg.Control.Exponential.I, cfg.Control.Filter),
		pid:         NewPID(cfg.Control.PID.DerivFilterAlpha),
		mode:        ModeSigmoidal,
	}
	c.reinit(time.Now())
	return c
}

// reinit resets the active strategy's filter and PID state so no stale
// integrator or filter memory leaks across strategies or power cycles.
func (c *Controller) reinit(now time.Time) {
	c.pid.Reset(now)
	c.lastKi = 0
	c.state.PGain = 0
	c.state.IGain = 0
	c.state.DGain = 0
	c.state.FilteredError = 0
	c.state.CurrentAlpha = 0

	switch c.mode {
	case ModeSigmoidal:
		c.sigFilter.Init()
	case ModeExponential:
		c.expFilter.Init()
		log.Printf("controller: slope matching complete, B2=%g", c.expFilter.B2())
	}
}

// Mode returns the active control mode.
func (c *Controller) Mode() Mode {
	return c.mode
}

// SetMode switches the active strategy, reinitializing its filter and PID
// state before the next cycle.
func (c *Controller) SetMode(m Mode, now time.Time) {
	if m == c.mode {
		return
	}
	c.mode = m
	c.state.Mode = m
	c.reinit(now)
	log.Printf("controller: mode -> %s", m)
}

// ToggleMode advances to the next mode in the cycle.
func (c *Controller) ToggleMode(now time.Time) {
	c.SetMode(c.mode.Next(), now)
}

// On reports whether the system is running.
func (c *Controller) On() bool {
	return c.on
}

// SetPower turns the system on or off. The OFF transition is immediate:
// outputs are zeroed and the actuator is commanded to stop regardless of
// the prior mode. The ON transition reinitializes the active strategy.
func (c *Controller) SetPower(on bool, now time.Time) error {
	if on == c.on {
		return nil
	}
	c.on = on
	c.state.On = on

	if on {
		c.reinit(now)
		return nil
	}

	c.zeroOutputs()
	if err := c.act.Stop(); err != nil {
		return fmt.Errorf("stop on power-off: %w", err)
	}
	return nil
}

// TogglePower flips the on/off state.
func (c *Controller) TogglePower(now time.Time) error {
	return c.SetPower(!c.on, now)
}

// SetSetpoint records the flow setpoint for subsequent cycles.
func (c *Controller) SetSetpoint(sp float32) {
	c.state.Setpoint = sp
}

// SetErrorPercent records the operator error percent for reporting. The
// compensation itself is applied by the sensor adapter.
func (c *Controller) SetErrorPercent(pct float32) {
	c.state.ErrorPct = pct
}

// Snapshot returns a copy of the system state for the report sink.
func (c *Controller) Snapshot() SystemState {
	return c.state
}

func (c *Controller) zeroOutputs() {
	c.state.PIDOutput = 0
	c.state.DesiredVoltage = 0
	c.state.PTerm = 0
	c.state.ITerm = 0
	c.state.DTerm = 0
}

// Update runs one control cycle with the given sensor reading and wall
// clock time, commanding the actuator and recording every intermediate
// value into the system state.
func (c *Controller) Update(now time.Time, flow, temperature float32, bubble bool) error {
	c.state.TimeMs = now.UnixMilli()
	c.state.Flow = flow
	c.state.Temperature = temperature
	c.state.Bubble = bubble
	c.state.Mode = c.mode
	c.state.On = c.on

	if c.mode == ModeConstantVoltage {
		return c.updateConstantVoltage()
	}
	return c.updateScheduled(now, flow)
}

// updateScheduled runs the adaptive PID cycle for the sigmoidal and
// exponential strategies.
func (c *Controller) updateScheduled(now time.Time, flow float32) error {
	if !c.on {
		c.zeroOutputs()
		if err := c.act.Stop(); err != nil {
			return fmt.Errorf("stop while off: %w", err)
		}
		return nil
	}

	var (
		filter   ErrorFilter
		schedule Schedule
	)
	switch c.mode {
	case ModeSigmoidal:
		filter, schedule = c.sigFilter, c.sigSchedule
	case ModeExponential:
		filter, schedule = c.expFilter, c.expSchedule
	}

	rawError := c.state.Setpoint - flow
	filtered := filter.Update(rawError)
	c.state.FilteredError = filtered
	c.state.CurrentAlpha = filter.Alpha()

	kp, ki, kd := schedule.Gains(math32.Abs(filtered))

	if math32.Abs(c.lastKi-ki) > epsilon {
		c.pid.RescaleIntegrator(c.lastKi, ki)
		c.lastKi = ki
	}
	c.pid.SetGains(kp, ki, kd)
	c.state.PGain = kp
	c.state.IGain = ki
	c.state.DGain = kd

	pOut, iOut, dOut, fraction := c.pid.Update(filtered, now)
	c.state.PTerm = pOut
	c.state.ITerm = iOut
	c.state.DTerm = dOut
	c.state.PIDOutput = fraction

	voltage := fraction * c.pump.MaxVoltage
	if voltage > 0 && voltage < c.pump.MinVoltage {
		voltage = c.pump.MinVoltage
	}
	if voltage > c.pump.MaxVoltage {
		voltage = c.pump.MaxVoltage
	}
	c.state.DesiredVoltage = voltage

	if err := c.act.Drive(voltage); err != nil {
		return fmt.Errorf("drive %.2fV: %w", voltage, err)
	}
	return nil
}

// updateConstantVoltage commands the fixed configured voltage with no PID
// or filter involvement.
func (c *Controller) updateConstantVoltage() error {
	c.state.PTerm = 0
	c.state.ITerm = 0
	c.state.DTerm = 0
	c.state.PIDOutput = 0
	c.state.FilteredError = 0
	c.state.CurrentAlpha = 0

	if !c.on {
		c.state.DesiredVoltage = 0
		if err := c.act.Stop(); err != nil {
			return fmt.Errorf("stop while off: %w", err)
		}
		return nil
	}

	voltage := c.pump.ConstantVoltage
	if voltage > c.pump.MaxVoltage {
		voltage = c.pump.MaxVoltage
	}
	c.state.DesiredVoltage = voltage

	if err := c.act.Drive(voltage); err != nil {
		return fmt.Errorf("drive %.2fV: %w", voltage, err)
	}
	return nil
}
