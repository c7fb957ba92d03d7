package control

import (
	"github.com/chewxy/math32"

	"github.com/itohio/gopump/pkg/config"
)

// Curve maps absolute filtered error to a gain value. Implementations are
// pure functions of (x, params): no hidden state, deterministic.
type Curve interface {
	Eval(x float32) float32
}

// Logistic is the sigmoidal gain shape:
//
//	g(x) = base + amplitude / (1 + exp(-slope*(x - midpoint)))
//
// Defined for all x, monotonic for slope > 0, bounded in
// [base, base+amplitude].
type Logistic struct {
	Base      float32
	Amplitude float32
	Slope     float32
	Midpoint  float32
}

// NewLogistic builds a Logistic curve from configuration.
func NewLogistic(cfg config.LogisticConfig) Logistic {
	return Logistic{
		Base:      cfg.Base,
		Amplitude: cfg.Amplitude,
		Slope:     cfg.Slope,
		Midpoint:  cfg.Midpoint,
	}
}

// Eval evaluates the logistic curve at x.
func (c Logistic) Eval(x float32) float32 {
	return c.Base + c.Amplitude/(1.0+math32.Exp(-c.Slope*(x-c.Midpoint)))
}

// ReciprocalExp is the reciprocal-exponential gain shape:
//
//	g(x) = A + (K - A)*exp(-1 / (B*(x - C)))
//
// The curve has a singularity at x = C; evaluation guards the near-zero
// denominator and falls back to the floor A. The result is clamped to
// [A, K] (config validation guarantees A <= K).
type ReciprocalExp struct {
	A float32 // Floor
	K float32 // Asymptote
	B float32 // Scale
	C float32 // Shift
}

// NewReciprocalExp builds a ReciprocalExp curve from configuration.
func NewReciprocalExp(cfg config.ExpCurveConfig) ReciprocalExp {
	return ReciprocalExp{A: cfg.A, K: cfg.K, B: cfg.B, C: cfg.C}
}

// Eval evaluates the reciprocal-exponential curve at x.
func (c ReciprocalExp) Eval(x float32) float32 {
	if math32.Abs(c.B) < epsilon {
		return c.A
	}
	denom := c.B * (x - c.C)
	if math32.Abs(denom) < epsilon {
		return c.A
	}

	val := c.A + (c.K-c.A)*math32.Exp(-1.0/denom)

	if val < c.A {
		val = c.A
	}
	if val > c.K {
		val = c.K
	}
	return val
}

// Schedule evaluates a full set of PID gains from the absolute error.
type Schedule struct {
	P Curve
	I Curve
	D Curve
}

// Gains returns (Kp, Ki, Kd) for the given absolute error.
func (s Schedule) Gains(absErr float32) (kp, ki, kd float32) {
	return s.P.Eval(absErr), s.I.Eval(absErr), s.D.Eval(absErr)
}

// NewSigmoidalSchedule builds the logistic gain schedule from configuration.
func NewSigmoidalSchedule(cfg config.SigmoidalConfig) Schedule {
	return Schedule{
		P: NewLogistic(cfg.P),
		I: NewLogistic(cfg.I),
		D: NewLogistic(cfg.D),
	}
}

// NewExponentialSchedule builds the reciprocal-exponential gain schedule
// from configuration.
func NewExponentialSchedule(cfg config.ExponentialConfig) Schedule {
	return Schedule{
		P: NewReciprocalExp(cfg.P),
		I: NewReciprocalExp(cfg.I),
		D: NewReciprocalExp(cfg.D),
	}
}
