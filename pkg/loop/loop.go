// Package loop runs the fixed-cadence control cycle: apply operator
// events, read the flow sensor, run the controller, publish a snapshot.
// One cycle is one strictly sequential pass; the loop is the sole mutator
// of controller and settings state.
package loop

import (
	"context"
	"log"
	"time"

	"github.com/itohio/gopump/pkg/config"
	"github.com/itohio/gopump/pkg/control"
	"github.com/itohio/gopump/pkg/report"
	"github.com/itohio/gopump/pkg/sensor"
	"github.com/itohio/gopump/pkg/settings"
)

// Event is a debounced operator edge event. The UI collaborator delivers
// at most one of each kind per cycle; duplicates within a cycle are
// dropped.
type Event int

const (
	// TogglePower flips the system on/off state.
	TogglePower Event = iota
	// ToggleMode advances the control mode.
	ToggleMode
	// SetpointUp raises the flow setpoint by one step.
	SetpointUp
	// SetpointDown lowers the flow setpoint by one step.
	SetpointDown
	// ErrorPercentUp raises the calibration error percent by one step.
	ErrorPercentUp
	// ErrorPercentDown lowers the calibration error percent by one step.
	ErrorPercentDown

	eventCount
)

// Loop owns one control cycle end to end.
type Loop struct {
	cfg    *config.Config
	ctrl   *control.Controller
	sensor sensor.FlowSensor
	set    *settings.Settings
	rep    *report.Reporter

	events chan Event
}

// New wires a control loop together.
func New(cfg *config.Config, ctrl *control.Controller, sens sensor.FlowSensor, set *settings.Settings, rep *report.Reporter) *Loop {
	return &Loop{
		cfg:    cfg,
		ctrl:   ctrl,
		sensor: sens,
		set:    set,
		rep:    rep,
		events: make(chan Event, 16),
	}
}

// Events returns the channel for delivering operator events.
func (l *Loop) Events() chan<- Event {
	return l.events
}

// Run executes control cycles at the configured period until the context
// is cancelled. Cancellation is honored within one cycle and always
// leaves the pump stopped.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.sensor.Start(); err != nil {
		return err
	}
	defer func() {
		if err := l.sensor.Stop(); err != nil {
			log.Printf("loop: sensor stop: %v", err)
		}
		// Never exit with the pump running.
		if err := l.ctrl.SetPower(false, time.Now()); err != nil {
			log.Printf("loop: power off on shutdown: %v", err)
		}
	}()

	l.sensor.SetErrorPercent(l.set.ErrorPercentFirmware())

	ticker := time.NewTicker(l.cfg.Loop.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			l.cycle(now)
		}
	}
}

// Cycle runs a single control cycle at the given time. Exposed so tests
// can drive the loop without real time.
func (l *Loop) Cycle(now time.Time) {
	l.cycle(now)
}

func (l *Loop) cycle(now time.Time) {
	l.applyEvents(now)

	reading := l.read()

	l.ctrl.SetSetpoint(l.set.Setpoint())
	l.ctrl.SetErrorPercent(l.set.ErrorPercent())

	if err := l.ctrl.Update(now, reading.Flow, reading.Temperature, reading.Bubble); err != nil {
		log.Printf("loop: controller update: %v", err)
	}

	if err := l.rep.Publish(l.ctrl.Snapshot()); err != nil {
		log.Printf("loop: report: %v", err)
	}
}

// applyEvents drains pending events, applying at most one of each kind.
func (l *Loop) applyEvents(now time.Time) {
	var seen [eventCount]bool
	changed := false

	for {
		select {
		case ev := <-l.events:
			if ev < 0 || ev >= eventCount || seen[ev] {
				continue
			}
			seen[ev] = true

			switch ev {
			case TogglePower:
				if err := l.ctrl.TogglePower(now); err != nil {
					log.Printf("loop: toggle power: %v", err)
				}
			case ToggleMode:
				l.ctrl.ToggleMode(now)
			case SetpointUp:
				changed = l.set.AdjustSetpoint(+1) || changed
			case SetpointDown:
				changed = l.set.AdjustSetpoint(-1) || changed
			case ErrorPercentUp:
				changed = l.set.AdjustErrorPercent(+1) || changed
			case ErrorPercentDown:
				changed = l.set.AdjustErrorPercent(-1) || changed
			}
		default:
			if changed {
				l.sensor.SetErrorPercent(l.set.ErrorPercentFirmware())
				if err := l.set.Save(); err != nil {
					log.Printf("loop: save settings: %v", err)
				}
			}
			return
		}
	}
}

// read attempts a sensor read with bounded retries. After the attempts
// are exhausted the cycle proceeds with zero flow; a missing sample must
// never halt the loop.
func (l *Loop) read() sensor.Reading {
	attempts := l.cfg.Sensor.ReadAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		reading, err := l.sensor.Read()
		if err == nil {
			return reading
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(l.cfg.Sensor.ReadBackoff)
		}
	}

	log.Printf("loop: sensor read failed after %d attempts: %v", attempts, lastErr)
	return sensor.Reading{Timestamp: time.Now()}
}
