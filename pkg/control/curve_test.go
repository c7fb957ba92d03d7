package control

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"

	"github.com/itohio/gopump/pkg/config"
)

func TestLogistic_Bounds(t *testing.T) {
	c := Logistic{Base: 0.001, Amplitude: 0.299, Slope: 1200, Midpoint: 0.0069}

	xs := []float32{0, 0.001, 0.0069, 0.01, 0.05, 0.5, 1, 10}
	for _, x := range xs {
		v := c.Eval(x)
		assert.GreaterOrEqual(t, v, c.Base, "x=%g", x)
		assert.LessOrEqual(t, v, c.Base+c.Amplitude, "x=%g", x)
	}
}

func TestLogistic_Monotonic(t *testing.T) {
	c := Logistic{Base: 0, Amplitude: 1, Slope: 2000, Midpoint: 0.005}

	prev := c.Eval(0)
	for x := float32(0.0001); x < 0.05; x += 0.0001 {
		v := c.Eval(x)
		assert.GreaterOrEqual(t, v, prev, "x=%g", x)
		prev = v
	}
}

func TestLogistic_Midpoint(t *testing.T) {
	c := Logistic{Base: 0.1, Amplitude: 0.4, Slope: 100, Midpoint: 0.02}

	// At the midpoint the logistic sits exactly halfway up the band.
	assert.InDelta(t, 0.3, c.Eval(0.02), 1e-5)
}

func TestReciprocalExp_Eval(t *testing.T) {
	tests := []struct {
		name  string
		curve ReciprocalExp
		x     float32
		want  float32
	}{
		{
			name:  "nominal evaluation",
			curve: ReciprocalExp{A: 0.001, K: 0.23, B: 100, C: 0},
			x:     0.05,
			want:  0.001 + 0.229*math32.Exp(-0.2),
		},
		{
			name:  "zero scale falls back to floor",
			curve: ReciprocalExp{A: 0.05, K: 0.3, B: 0, C: 0},
			x:     1.0,
			want:  0.05,
		},
		{
			name:  "tiny scale falls back to floor",
			curve: ReciprocalExp{A: 0.05, K: 0.3, B: 1e-10, C: 0},
			x:     1.0,
			want:  0.05,
		},
		{
			name:  "evaluation at the singularity falls back to floor",
			curve: ReciprocalExp{A: 0.05, K: 0.3, B: 100, C: 0.02},
			x:     0.02,
			want:  0.05,
		},
		{
			name:  "left of the singularity clamps to the asymptote",
			curve: ReciprocalExp{A: 0.001, K: 0.23, B: 100, C: 0.05},
			x:     0.04, // negative denominator blows the exponential up
			want:  0.23,
		},
		{
			name:  "large error approaches the asymptote",
			curve: ReciprocalExp{A: 0.001, K: 0.23, B: 100, C: 0},
			x:     1000,
			want:  0.23,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.curve.Eval(tt.x)
			assert.InDelta(t, tt.want, got, 1e-4)
			assert.False(t, math32.IsNaN(got))
			assert.False(t, math32.IsInf(got, 0))
		})
	}
}

func TestReciprocalExp_ClampedToBand(t *testing.T) {
	c := ReciprocalExp{A: 0.001, K: 0.23, B: 100, C: 0}

	for x := float32(-1); x < 2; x += 0.01 {
		v := c.Eval(x)
		assert.GreaterOrEqual(t, v, c.A, "x=%g", x)
		assert.LessOrEqual(t, v, c.K, "x=%g", x)
	}
}

func TestSchedule_Gains(t *testing.T) {
	cfg := config.Default()
	sched := NewExponentialSchedule(cfg.Control.Exponential)

	kp, ki, kd := sched.Gains(0.05)
	assert.InDelta(t, 0.0, kp, 1e-6, "Kp curve is flat at zero")
	assert.InDelta(t, 0.001+0.229*math32.Exp(-0.2), ki, 1e-4)
	assert.InDelta(t, 0.0, kd, 1e-6, "Kd curve is flat at zero")
}

func TestSchedule_GainsDeterministic(t *testing.T) {
	cfg := config.Default()
	sched := NewSigmoidalSchedule(cfg.Control.Sigmoidal)

	kp1, ki1, kd1 := sched.Gains(0.42)
	kp2, ki2, kd2 := sched.Gains(0.42)
	assert.Equal(t, kp1, kp2)
	assert.Equal(t, ki1, ki2)
	assert.Equal(t, kd1, kd2)
}
