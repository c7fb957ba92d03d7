package control

import (
	"github.com/chewxy/math32"

	"github.com/itohio/gopump/pkg/config"
)

// epsilon guards near-zero denominators throughout the core.
const epsilon = 1e-9

// ErrorFilter is a low-pass filter whose smoothing factor may change per
// sample. Init resets all accumulators; it must be called on every
// controller (re)initialization before the first Update.
type ErrorFilter interface {
	Init()
	Update(raw float32) float32
	Alpha() float32
}

// expCurveSlope returns the derivative of f(t) = A + (K-A)*exp(-1/(B*t))
// at t:
//
//	f'(t) = (K - A)*exp(-1/(B*t)) / (B*t^2)
//
// Returns 0 at or below the t=0 domain edge.
func expCurveSlope(t, a, k, b float32) float32 {
	if t <= epsilon {
		return 0
	}
	factor := (k - a) * math32.Exp(-1.0/(b*t))
	denom := b * t * t
	if denom == 0 {
		return 0
	}
	return factor / denom
}

// solveSlopeMatchedB solves for the secondary curve scale B2 such that the
// secondary curve pinned at (a2, k2) has the same slope at tref as the
// primary curve (a1, k1, b1). Deterministic bisection over [1e-3, 100],
// at most 60 iterations, early stop once the interval is narrower than
// 1e-6. When slope2 exceeds the primary slope the low bound moves up
// (the slope decreases with growing B over the bracketed range).
func solveSlopeMatchedB(a1, k1, b1, a2, k2, tref float32) float32 {
	slopePrimary := expCurveSlope(tref, a1, k1, b1)

	lowB := float32(1e-3)
	highB := float32(100.0)
	const eps = 1e-6

	var b2 float32
	for i := 0; i < 60; i++ {
		mid := 0.5 * (lowB + highB)
		slope2 := expCurveSlope(tref, a2, k2, mid)

		if slope2 > slopePrimary {
			lowB = mid
		} else {
			highB = mid
		}

		if highB-lowB < eps {
			b2 = mid
			break
		}
		b2 = mid
	}

	return b2
}

// SlopeMatchedFilter is the adaptive single-pole filter used by the
// exponential strategy. Its alpha is recomputed every sample from the
// error magnitude via a secondary reciprocal-exponential curve whose
// scale B2 is derived at Init by slope-matching the Ki gain curve at a
// fixed reference point. This couples the filter's initial responsiveness
// to the integral gain's initial sensitivity without a hand tuned
// coefficient.
//
// An optional second pole (fixed-coefficient EMA) can be cascaded after
// the adaptive pole. The second pole seeds itself with its first input so
// the cascade does not ramp in from zero.
type SlopeMatchedFilter struct {
	primary config.ExpCurveConfig // Ki curve constants (A1, K1, B1)
	a2, k2  float32
	tref    float32

	cascade  bool
	emaAlpha float32

	b2           float32
	state        float32
	currentAlpha float32
	emaState     float32
	emaPrimed    bool
}

// NewSlopeMatchedFilter builds the filter from the exponential Ki curve
// and the filter configuration. Init must be called before use.
func NewSlopeMatchedFilter(ki config.ExpCurveConfig, cfg config.FilterConfig) *SlopeMatchedFilter {
	return &SlopeMatchedFilter{
		primary:  ki,
		a2:       cfg.A2,
		k2:       cfg.K2,
		tref:     cfg.TRef,
		cascade:  cfg.Cascade,
		emaAlpha: cfg.EMAAlpha,
	}
}

// Init solves B2 by slope matching and resets the filter state.
func (f *SlopeMatchedFilter) Init() {
	f.b2 = solveSlopeMatchedB(f.primary.A, f.primary.K, f.primary.B, f.a2, f.k2, f.tref)
	f.state = 0
	f.currentAlpha = 0
	f.emaState = 0
	f.emaPrimed = false
}

// B2 exposes the solved design constant for inspection and testing.
func (f *SlopeMatchedFilter) B2() float32 {
	return f.b2
}

// alphaFor computes alpha(e) = clamp(A2 + (K2-A2)*exp(-1/(B2*e)), 0, 1)
// for e = |raw|. Near-zero error passes through unfiltered (alpha = 1).
func (f *SlopeMatchedFilter) alphaFor(absE float32) float32 {
	if absE < epsilon {
		return 1.0
	}
	val := f.a2 + (f.k2-f.a2)*math32.Exp(-1.0/(f.b2*absE))
	if val < 0 {
		val = 0
	}
	if val > 1 {
		val = 1
	}
	return val
}

// Update filters one raw error sample through the adaptive pole and, when
// cascading is enabled, the fixed EMA pole.
func (f *SlopeMatchedFilter) Update(raw float32) float32 {
	alpha := f.alphaFor(math32.Abs(raw))

	out := alpha*raw + (1.0-alpha)*f.state
	f.currentAlpha = alpha
	f.state = out

	if !f.cascade {
		return out
	}

	if !f.emaPrimed {
		f.emaState = out
		f.emaPrimed = true
		return out
	}
	f.emaState = f.emaAlpha*out + (1.0-f.emaAlpha)*f.emaState
	return f.emaState
}

// Alpha returns the adaptive pole's most recent smoothing factor.
func (f *SlopeMatchedFilter) Alpha() float32 {
	return f.currentAlpha
}

// LogisticAlphaFilter is the simpler adaptive filter used by the sigmoidal
// strategy: alpha is a logistic function of the error magnitude with its
// own constants, no slope-matching solve involved.
type LogisticAlphaFilter struct {
	curve Logistic

	state        float32
	currentAlpha float32
}

// NewLogisticAlphaFilter builds the filter from configuration. Init must
// be called before use.
func NewLogisticAlphaFilter(cfg config.LogisticConfig) *LogisticAlphaFilter {
	return &LogisticAlphaFilter{curve: NewLogistic(cfg)}
}

// Init resets the filter state.
func (f *LogisticAlphaFilter) Init() {
	f.state = 0
	f.currentAlpha = 0
}

// Update filters one raw error sample.
func (f *LogisticAlphaFilter) Update(raw float32) float32 {
	alpha := f.curve.Eval(math32.Abs(raw))
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	out := alpha*raw + (1.0-alpha)*f.state
	f.currentAlpha = alpha
	f.state = out
	return out
}

// Alpha returns the most recent smoothing factor.
func (f *LogisticAlphaFilter) Alpha() float32 {
	return f.currentAlpha
}
