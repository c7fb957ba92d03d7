package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Loop    LoopConfig    `yaml:"loop"`
	Pump    PumpConfig    `yaml:"pump"`
	Sensor  SensorConfig  `yaml:"sensor"`
	Control ControlConfig `yaml:"control"`
	Flow    FlowConfig    `yaml:"flow"`
	Mock    MockConfig    `yaml:"mock"`
}

// SerialConfig contains serial port configuration for the bridge MCU.
type SerialConfig struct {
	Port string `yaml:"port"`
}

// LoopConfig contains control loop timing configuration.
type LoopConfig struct {
	Period time.Duration `yaml:"period"`
}

// PumpConfig contains Bartels driver voltage and frequency limits.
type PumpConfig struct {
	MaxVoltage      float32 `yaml:"max_voltage"`      // Upper command limit (V)
	MinVoltage      float32 `yaml:"min_voltage"`      // Lowest non-zero command (V)
	AbsoluteMax     float32 `yaml:"absolute_max"`     // Hardware amplitude reference (V)
	Frequency       float32 `yaml:"frequency"`        // Pump drive frequency (Hz)
	ConstantVoltage float32 `yaml:"constant_voltage"` // Fixed command for constant-voltage mode (V)
}

// SensorConfig contains flow sensor scaling and retry parameters.
type SensorConfig struct {
	FlowScale    float32       `yaml:"flow_scale"`    // Raw counts per mL/min
	TempScale    float32       `yaml:"temp_scale"`    // Raw counts per degree C
	ReadAttempts int           `yaml:"read_attempts"` // Bounded retries per cycle
	ReadBackoff  time.Duration `yaml:"read_backoff"`  // Delay between retries
}

// LogisticConfig parameterizes base + amplitude/(1+exp(-slope*(x-midpoint))).
type LogisticConfig struct {
	Base      float32 `yaml:"base"`
	Amplitude float32 `yaml:"amplitude"`
	Slope     float32 `yaml:"slope"`
	Midpoint  float32 `yaml:"midpoint"`
}

// ExpCurveConfig parameterizes A + (K-A)*exp(-1/(B*(x-C))).
type ExpCurveConfig struct {
	A float32 `yaml:"a"`
	K float32 `yaml:"k"`
	B float32 `yaml:"b"`
	C float32 `yaml:"c"`
}

// SigmoidalConfig holds the logistic gain schedule for Kp, Ki, Kd.
type SigmoidalConfig struct {
	P LogisticConfig `yaml:"p"`
	I LogisticConfig `yaml:"i"`
	D LogisticConfig `yaml:"d"`
}

// ExponentialConfig holds the reciprocal-exponential gain schedule.
type ExponentialConfig struct {
	P ExpCurveConfig `yaml:"p"`
	I ExpCurveConfig `yaml:"i"`
	D ExpCurveConfig `yaml:"d"`
}

// FilterConfig parameterizes the adaptive error filters.
type FilterConfig struct {
	// Slope-matched filter (exponential strategy). The secondary curve is
	// pinned at (A2, K2); B2 is solved at init by matching the Ki curve's
	// slope at TRef.
	TRef     float32 `yaml:"t_ref"`
	A2       float32 `yaml:"a2"`
	K2       float32 `yaml:"k2"`
	Cascade  bool    `yaml:"cascade"`   // Enable the fixed EMA second pole
	EMAAlpha float32 `yaml:"ema_alpha"` // Second pole coefficient

	// Logistic-alpha filter (sigmoidal strategy).
	Alpha LogisticConfig `yaml:"alpha"`
}

// PIDConfig contains fixed PID coefficients.
type PIDConfig struct {
	DerivFilterAlpha float32 `yaml:"deriv_filter_alpha"`
}

// ControlConfig groups the control core configuration.
type ControlConfig struct {
	Sigmoidal   SigmoidalConfig   `yaml:"sigmoidal"`
	Exponential ExponentialConfig `yaml:"exponential"`
	Filter      FilterConfig      `yaml:"filter"`
	PID         PIDConfig         `yaml:"pid"`
}

// FlowConfig contains operator-adjustable ranges and step sizes.
type FlowConfig struct {
	SetpointMin      float32 `yaml:"setpoint_min"`       // mL/min
	SetpointMax      float32 `yaml:"setpoint_max"`       // mL/min
	SetpointStep     float32 `yaml:"setpoint_step"`      // mL/min per adjust event
	ErrorPercentMin  float32 `yaml:"error_percent_min"`  // %
	ErrorPercentMax  float32 `yaml:"error_percent_max"`  // %
	ErrorPercentStep float32 `yaml:"error_percent_step"` // % per adjust event
}

// MockConfig contains mock plant configuration.
type MockConfig struct {
	NoiseLevel   float32       `yaml:"noise_level"`   // Flow noise (mL/min)
	TimeConstant time.Duration `yaml:"time_constant"` // Plant first-order lag
	FlowPerVolt  float32       `yaml:"flow_per_volt"` // Steady-state mL/min per V
	SampleRate   time.Duration `yaml:"sample_rate"`   // Reading update rate
	Temperature  float32       `yaml:"temperature"`   // Reported liquid temperature (C)
}

// Default returns a default configuration with the deployed tuning values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port: "/dev/ttyACM0",
		},
		Loop: LoopConfig{
			Period: 50 * time.Millisecond,
		},
		Pump: PumpConfig{
			MaxVoltage:      150.0,
			MinVoltage:      0.0,
			AbsoluteMax:     150.0,
			Frequency:       300.0,
			ConstantVoltage: 80.0,
		},
		Sensor: SensorConfig{
			FlowScale:    10000.0,
			TempScale:    200.0,
			ReadAttempts: 3,
			ReadBackoff:  5 * time.Millisecond,
		},
		Control: ControlConfig{
			Sigmoidal: SigmoidalConfig{
				P: LogisticConfig{Base: 0, Amplitude: 0, Slope: 0, Midpoint: 0},
				I: LogisticConfig{Base: 0.001, Amplitude: 0.299, Slope: 1200, Midpoint: 0.0069},
				D: LogisticConfig{Base: 0, Amplitude: 0, Slope: 0, Midpoint: 0},
			},
			Exponential: ExponentialConfig{
				P: ExpCurveConfig{A: 0, K: 0, B: 0, C: 0},
				I: ExpCurveConfig{A: 0.001, K: 0.23, B: 100, C: 0},
				D: ExpCurveConfig{A: 0, K: 0, B: 0, C: 0},
			},
			Filter: FilterConfig{
				TRef:     0.05,
				A2:       0.0,
				K2:       0.5,
				Cascade:  true,
				EMAAlpha: 0.85,
				Alpha:    LogisticConfig{Base: 0, Amplitude: 1, Slope: 2000, Midpoint: 0.005},
			},
			PID: PIDConfig{
				DerivFilterAlpha: 0.8,
			},
		},
		Flow: FlowConfig{
			SetpointMin:      0.0,
			SetpointMax:      2.0,
			SetpointStep:     0.05,
			ErrorPercentMin:  -50.0,
			ErrorPercentMax:  50.0,
			ErrorPercentStep: 1.0,
		},
		Mock: MockConfig{
			NoiseLevel:   0.002,
			TimeConstant: 2 * time.Second,
			FlowPerVolt:  0.01,
			SampleRate:   20 * time.Millisecond,
			Temperature:  23.0,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values. The loaded configuration is
// validated before being returned.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects configurations the control core cannot run safely.
func (c *Config) Validate() error {
	for name, curve := range map[string]ExpCurveConfig{
		"exponential.p": c.Control.Exponential.P,
		"exponential.i": c.Control.Exponential.I,
		"exponential.d": c.Control.Exponential.D,
	} {
		// The reciprocal-exponential clamp assumes A <= K; an inverted band
		// silently flips the schedule's meaning, so refuse it up front.
		if curve.A > curve.K {
			return fmt.Errorf("curve %s: floor a=%g exceeds asymptote k=%g", name, curve.A, curve.K)
		}
	}

	if c.Control.Filter.TRef <= 0 {
		return fmt.Errorf("filter t_ref must be positive, got %g", c.Control.Filter.TRef)
	}
	if c.Control.Filter.A2 > c.Control.Filter.K2 {
		return fmt.Errorf("filter secondary curve: a2=%g exceeds k2=%g", c.Control.Filter.A2, c.Control.Filter.K2)
	}
	if c.Control.Filter.EMAAlpha < 0 || c.Control.Filter.EMAAlpha > 1 {
		return fmt.Errorf("filter ema_alpha must be in [0,1], got %g", c.Control.Filter.EMAAlpha)
	}
	if c.Control.PID.DerivFilterAlpha < 0 || c.Control.PID.DerivFilterAlpha > 1 {
		return fmt.Errorf("pid deriv_filter_alpha must be in [0,1], got %g", c.Control.PID.DerivFilterAlpha)
	}

	if c.Pump.MaxVoltage <= 0 {
		return fmt.Errorf("pump max_voltage must be positive, got %g", c.Pump.MaxVoltage)
	}
	if c.Pump.MinVoltage < 0 || c.Pump.MinVoltage > c.Pump.MaxVoltage {
		return fmt.Errorf("pump min_voltage %g outside [0, %g]", c.Pump.MinVoltage, c.Pump.MaxVoltage)
	}
	if c.Pump.MaxVoltage > c.Pump.AbsoluteMax {
		return fmt.Errorf("pump max_voltage %g exceeds absolute_max %g", c.Pump.MaxVoltage, c.Pump.AbsoluteMax)
	}

	if c.Flow.SetpointMin >= c.Flow.SetpointMax {
		return fmt.Errorf("flow setpoint range [%g, %g] is empty", c.Flow.SetpointMin, c.Flow.SetpointMax)
	}
	if c.Flow.ErrorPercentMin >= c.Flow.ErrorPercentMax {
		return fmt.Errorf("flow error percent range [%g, %g] is empty", c.Flow.ErrorPercentMin, c.Flow.ErrorPercentMax)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Loop.Period == 0 {
		c.Loop.Period = def.Loop.Period
	}

	if c.Pump.MaxVoltage == 0 {
		c.Pump.MaxVoltage = def.Pump.MaxVoltage
	}
	if c.Pump.AbsoluteMax == 0 {
		c.Pump.AbsoluteMax = def.Pump.AbsoluteMax
	}
	if c.Pump.Frequency == 0 {
		c.Pump.Frequency = def.Pump.Frequency
	}

	if c.Sensor.FlowScale == 0 {
		c.Sensor.FlowScale = def.Sensor.FlowScale
	}
	if c.Sensor.TempScale == 0 {
		c.Sensor.TempScale = def.Sensor.TempScale
	}
	if c.Sensor.ReadAttempts == 0 {
		c.Sensor.ReadAttempts = def.Sensor.ReadAttempts
	}
	if c.Sensor.ReadBackoff == 0 {
		c.Sensor.ReadBackoff = def.Sensor.ReadBackoff
	}

	if c.Control.Filter.TRef == 0 {
		c.Control.Filter.TRef = def.Control.Filter.TRef
	}
	if c.Control.Filter.K2 == 0 {
		c.Control.Filter.K2 = def.Control.Filter.K2
	}
	if c.Control.Filter.EMAAlpha == 0 {
		c.Control.Filter.EMAAlpha = def.Control.Filter.EMAAlpha
	}
	if c.Control.PID.DerivFilterAlpha == 0 {
		c.Control.PID.DerivFilterAlpha = def.Control.PID.DerivFilterAlpha
	}

	if c.Flow.SetpointMax == 0 {
		c.Flow.SetpointMax = def.Flow.SetpointMax
	}
	if c.Flow.SetpointStep == 0 {
		c.Flow.SetpointStep = def.Flow.SetpointStep
	}
	if c.Flow.ErrorPercentMin == 0 && c.Flow.ErrorPercentMax == 0 {
		c.Flow.ErrorPercentMin = def.Flow.ErrorPercentMin
		c.Flow.ErrorPercentMax = def.Flow.ErrorPercentMax
	}
	if c.Flow.ErrorPercentStep == 0 {
		c.Flow.ErrorPercentStep = def.Flow.ErrorPercentStep
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
	if c.Mock.TimeConstant == 0 {
		c.Mock.TimeConstant = def.Mock.TimeConstant
	}
	if c.Mock.FlowPerVolt == 0 {
		c.Mock.FlowPerVolt = def.Mock.FlowPerVolt
	}
}
