package control

import (
	"time"

	"github.com/chewxy/math32"
)

// minDT floors the elapsed time per update to guard against zero or
// negative intervals from clock granularity.
const minDT = 0.001 // seconds

// PID integrates a pre-filtered error with derivative smoothing and
// externally scheduled gains, producing a saturated output fraction in
// [0, 1]. It owns the anti-windup and integrator bookkeeping; gain
// scheduling and integrator rescaling decisions belong to the caller.
type PID struct {
	kp, ki, kd float32

	derivAlpha float32 // Fixed derivative smoothing coefficient

	integrator    float32
	lastError     float32
	dFiltered     float32
	lastTime      time.Time
	lastIncrement float32 // Most recent integral increment, for anti-windup
}

// NewPID creates a PID core with the given derivative filter coefficient.
// Reset must be called before the first Update.
func NewPID(derivAlpha float32) *PID {
	return &PID{derivAlpha: derivAlpha}
}

// Reset zeroes the integrator, derivative filter, and tracking state.
// Called on every mode transition and on the OFF->ON transition.
func (p *PID) Reset(now time.Time) {
	p.integrator = 0
	p.lastError = 0
	p.dFiltered = 0
	p.lastTime = now
	p.lastIncrement = 0
}

// SetGains applies externally scheduled gains for the next Update.
func (p *PID) SetGains(kp, ki, kd float32) {
	p.kp = kp
	p.ki = ki
	p.kd = kd
}

// Gains returns the currently applied gains.
func (p *PID) Gains() (kp, ki, kd float32) {
	return p.kp, p.ki, p.kd
}

// Integrator returns the raw integrator accumulator.
func (p *PID) Integrator() float32 {
	return p.integrator
}

// RescaleIntegrator keeps the integral contribution Ki*integrator
// continuous when the scheduled Ki changes between cycles. Rescaling is
// skipped when either gain is effectively zero, since the ratio would be
// degenerate.
func (p *PID) RescaleIntegrator(oldKi, newKi float32) {
	if math32.Abs(oldKi) > epsilon && math32.Abs(newKi) > epsilon {
		p.integrator *= oldKi / newKi
	}
}

// Update executes a single PID iteration with the filtered error at the
// given time, returning the term breakdown and the clamped output
// fraction in [0, 1]. On high-side saturation the last integral increment
// is undone before clamping; low-side saturation clamps without an
// integrator correction.
func (p *PID) Update(err float32, now time.Time) (pOut, iOut, dOut, out float32) {
	dt := float32(now.Sub(p.lastTime).Seconds())
	if dt < minDT {
		dt = minDT
	}
	p.lastTime = now

	pOut = p.kp * err

	increment := err * dt
	p.integrator += increment
	p.lastIncrement = increment
	iOut = p.ki * p.integrator

	dRaw := (err - p.lastError) / dt
	p.dFiltered = p.derivAlpha*dRaw + (1.0-p.derivAlpha)*p.dFiltered
	dOut = p.kd * p.dFiltered

	p.lastError = err

	out = pOut + iOut + dOut
	if out > 1.0 {
		p.integrator -= p.lastIncrement
		out = 1.0
	} else if out < 0.0 {
		out = 0.0
	}

	return pOut, iOut, dOut, out
}
