package control

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gopump/pkg/config"
)

type fakeActuator struct {
	voltages []float32
	stops    int
	driveErr error
	stopErr  error
}

func (f *fakeActuator) Drive(voltage float32) error {
	if f.driveErr != nil {
		return f.driveErr
	}
	f.voltages = append(f.voltages, voltage)
	return nil
}

func (f *fakeActuator) Stop() error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stops++
	return nil
}

func (f *fakeActuator) last() float32 {
	if len(f.voltages) == 0 {
		return 0
	}
	return f.voltages[len(f.voltages)-1]
}

func TestController_OffStopsPump(t *testing.T) {
	act := &fakeActuator{}
	c := NewController(config.Default(), act)
	t0 := time.Unix(100, 0)

	c.SetSetpoint(1.0)
	require.NoError(t, c.Update(t0, 0, 23, false))

	assert.Empty(t, act.voltages, "no drive commands while off")
	assert.Equal(t, 1, act.stops)

	s := c.Snapshot()
	assert.Zero(t, s.DesiredVoltage)
	assert.Zero(t, s.PIDOutput)
	assert.Zero(t, s.PTerm)
	assert.Zero(t, s.ITerm)
	assert.Zero(t, s.DTerm)
}

func TestController_FirstCycleVoltage(t *testing.T) {
	act := &fakeActuator{}
	c := NewController(config.Default(), act)
	t0 := time.Unix(100, 0)

	require.NoError(t, c.SetPower(true, t0))
	c.SetSetpoint(1.0)

	// First cycle one second after power-on with zero flow. The logistic
	// alpha saturates at an error of 1.0, the scheduled Ki sits at the top
	// of its band (0.3), and the integrator holds exactly one second of
	// error. The command is the output fraction scaled to full voltage.
	require.NoError(t, c.Update(t0.Add(time.Second), 0, 23, false))

	s := c.Snapshot()
	assert.InDelta(t, 1.0, s.FilteredError, 1e-3)
	assert.InDelta(t, 0.3, s.IGain, 1e-4)
	assert.InDelta(t, 0.3, s.ITerm, 1e-3)
	assert.InDelta(t, 45.0, s.DesiredVoltage, 0.2)
	assert.InDelta(t, 45.0, act.last(), 0.2)
}

func TestController_PowerOffMidRun(t *testing.T) {
	act := &fakeActuator{}
	c := NewController(config.Default(), act)
	t0 := time.Unix(100, 0)

	require.NoError(t, c.SetPower(true, t0))
	c.SetSetpoint(1.0)
	require.NoError(t, c.Update(t0.Add(time.Second), 0, 23, false))
	require.NotEmpty(t, act.voltages)

	require.NoError(t, c.SetPower(false, t0.Add(2*time.Second)))
	assert.Equal(t, 1, act.stops)
	assert.Zero(t, c.Snapshot().DesiredVoltage)

	// Subsequent cycles while off keep commanding a stop, never a drive.
	driven := len(act.voltages)
	require.NoError(t, c.Update(t0.Add(3*time.Second), 0.5, 23, false))
	assert.Len(t, act.voltages, driven)
	assert.Equal(t, 2, act.stops)
}

func TestController_PowerCycleResetsIntegrator(t *testing.T) {
	act := &fakeActuator{}
	c := NewController(config.Default(), act)
	t0 := time.Unix(100, 0)

	require.NoError(t, c.SetPower(true, t0))
	c.SetSetpoint(1.0)
	for i := 1; i <= 5; i++ {
		require.NoError(t, c.Update(t0.Add(time.Duration(i)*time.Second), 0, 23, false))
	}
	accumulated := c.Snapshot().ITerm
	require.Greater(t, accumulated, float32(0))

	require.NoError(t, c.SetPower(false, t0.Add(6*time.Second)))
	require.NoError(t, c.SetPower(true, t0.Add(7*time.Second)))

	// The first cycle after power-on starts from a clean integrator, so its
	// integral term matches a fresh controller's first cycle.
	require.NoError(t, c.Update(t0.Add(8*time.Second), 0, 23, false))
	assert.InDelta(t, 0.3, c.Snapshot().ITerm, 1e-3)
}

func TestController_ModeSwitchResetsState(t *testing.T) {
	act := &fakeActuator{}
	c := NewController(config.Default(), act)
	t0 := time.Unix(100, 0)

	require.NoError(t, c.SetPower(true, t0))
	c.SetSetpoint(1.0)
	require.NoError(t, c.Update(t0.Add(time.Second), 0, 23, false))
	require.NotZero(t, c.Snapshot().IGain)

	c.ToggleMode(t0.Add(2 * time.Second))
	assert.Equal(t, ModeExponential, c.Mode())

	s := c.Snapshot()
	assert.Zero(t, s.PGain)
	assert.Zero(t, s.IGain)
	assert.Zero(t, s.DGain)
	assert.Zero(t, s.FilteredError)
	assert.Zero(t, s.CurrentAlpha)
}

func TestController_ToggleModeCycles(t *testing.T) {
	act := &fakeActuator{}
	c := NewController(config.Default(), act)
	t0 := time.Unix(100, 0)

	require.Equal(t, ModeSigmoidal, c.Mode())
	c.ToggleMode(t0)
	assert.Equal(t, ModeExponential, c.Mode())
	c.ToggleMode(t0)
	assert.Equal(t, ModeConstantVoltage, c.Mode())
	c.ToggleMode(t0)
	assert.Equal(t, ModeSigmoidal, c.Mode())
}

func TestController_ConstantVoltageMode(t *testing.T) {
	act := &fakeActuator{}
	c := NewController(config.Default(), act)
	t0 := time.Unix(100, 0)

	c.SetMode(ModeConstantVoltage, t0)

	// Off: stop, zero voltage.
	require.NoError(t, c.Update(t0.Add(time.Second), 0.2, 23, false))
	assert.Equal(t, 1, act.stops)
	assert.Zero(t, c.Snapshot().DesiredVoltage)

	// On: the fixed configured voltage, regardless of flow or setpoint.
	require.NoError(t, c.SetPower(true, t0.Add(2*time.Second)))
	c.SetSetpoint(1.5)
	require.NoError(t, c.Update(t0.Add(3*time.Second), 0.2, 23, false))

	s := c.Snapshot()
	assert.Equal(t, float32(80.0), s.DesiredVoltage)
	assert.Equal(t, float32(80.0), act.last())
	assert.Zero(t, s.PIDOutput)
	assert.Zero(t, s.ITerm)
}

func TestController_ConstantVoltageClampedToMax(t *testing.T) {
	cfg := config.Default()
	cfg.Pump.ConstantVoltage = 500
	act := &fakeActuator{}
	c := NewController(cfg, act)
	t0 := time.Unix(100, 0)

	c.SetMode(ModeConstantVoltage, t0)
	require.NoError(t, c.SetPower(true, t0))
	require.NoError(t, c.Update(t0.Add(time.Second), 0, 23, false))

	assert.Equal(t, cfg.Pump.MaxVoltage, act.last())
}

func TestController_MinVoltageBump(t *testing.T) {
	cfg := config.Default()
	cfg.Pump.MinVoltage = 30
	// Flat tiny Ki so the output fraction maps below the minimum voltage.
	cfg.Control.Sigmoidal.I = config.LogisticConfig{Base: 0.01, Amplitude: 0, Slope: 1, Midpoint: 0}

	act := &fakeActuator{}
	c := NewController(cfg, act)
	t0 := time.Unix(100, 0)

	require.NoError(t, c.SetPower(true, t0))
	c.SetSetpoint(1.0)
	require.NoError(t, c.Update(t0.Add(time.Second), 0, 23, false))

	// fraction*max = 0.01*150 = 1.5 V, below the 30 V floor; a nonzero
	// command is raised to the floor rather than stalling the diaphragm.
	assert.Equal(t, float32(30.0), act.last())
}

func TestController_SnapshotRecordsReading(t *testing.T) {
	act := &fakeActuator{}
	c := NewController(config.Default(), act)
	t0 := time.Unix(100, 0)

	c.SetSetpoint(0.75)
	c.SetErrorPercent(-3)
	require.NoError(t, c.Update(t0, 0.42, 22.5, true))

	s := c.Snapshot()
	assert.Equal(t, t0.UnixMilli(), s.TimeMs)
	assert.Equal(t, float32(0.42), s.Flow)
	assert.Equal(t, float32(22.5), s.Temperature)
	assert.True(t, s.Bubble)
	assert.Equal(t, float32(0.75), s.Setpoint)
	assert.Equal(t, float32(-3), s.ErrorPct)
	assert.Equal(t, ModeSigmoidal, s.Mode)
	assert.False(t, s.On)
}

func TestController_DriveErrorPropagates(t *testing.T) {
	act := &fakeActuator{driveErr: errors.New("port gone")}
	c := NewController(config.Default(), act)
	t0 := time.Unix(100, 0)

	require.NoError(t, c.SetPower(true, t0))
	c.SetSetpoint(1.0)

	err := c.Update(t0.Add(time.Second), 0, 23, false)
	require.Error(t, err)
	assert.ErrorContains(t, err, "port gone")
}

func TestController_StopErrorPropagatesOnPowerOff(t *testing.T) {
	act := &fakeActuator{}
	c := NewController(config.Default(), act)
	t0 := time.Unix(100, 0)

	require.NoError(t, c.SetPower(true, t0))
	act.stopErr = errors.New("port gone")
	err := c.SetPower(false, t0.Add(time.Second))
	require.Error(t, err)

	// The state still reflects off with zeroed outputs.
	assert.False(t, c.On())
	assert.Zero(t, c.Snapshot().DesiredVoltage)
}
