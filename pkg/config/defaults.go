package config

import (
	"math"

	"github.com/rmax-ai/sensorsim/pkg/frame"
	"github.com/rmax-ai/sensorsim/pkg/simulation"
	"github.com/rmax-ai/sensorsim/pkg/transport"
)

func f64(v float64) *float64 { return &v }

func off() *bool { v := false; return &v }

func ledDataset(title string, index int) frame.Dataset {
	return frame.Dataset{Title: title, Widget: "led", LED: true, LEDHigh: 1, Index: index}
}

// Default returns the built-in component set: one enabled instance of each
// common widget plus disabled presets modelled on well-known device
// examples.
func Default() *Config {
	cfg := &Config{
		Name:       defaultName,
		Tick:       defaultTick,
		Transport:  transport.DefaultSpec(),
		Thresholds: simulation.DefaultThresholds(),
		Redis:      RedisConfig{ChannelPrefix: defaultChannelPrefix},
		Components: DefaultComponents(),
	}
	return cfg
}

// DefaultComponents is the component list used by Default.
func DefaultComponents() []ComponentConfig {
	return []ComponentConfig{
		{
			Name: "mpu6050", Class: "mpu6050", Frequency: 20,
			Rules: []RuleConfig{
				{Kind: "noise", Min: -2, Max: 2, NoiseLevel: f64(0.5)},
				{Kind: "noise", Min: -2, Max: 2, NoiseLevel: f64(0.5)},
				{Kind: "noise", Min: 8, Max: 11, NoiseLevel: f64(0.2)},
				{Kind: "random", Min: -50, Max: 50},
				{Kind: "random", Min: -50, Max: 50},
				{Kind: "random", Min: -50, Max: 50},
				{Kind: "sine", Min: 22, Max: 28, Frequency: f64(0.01)},
			},
		},
		{
			Name: "gyroscope", Class: "gyroscope", Frequency: 20,
			Rules: []RuleConfig{
				{Kind: "sine", Min: -180, Max: 180, Frequency: f64(0.1)},
				{Kind: "cosine", Min: -90, Max: 90, Frequency: f64(0.15)},
				{Kind: "sine", Min: -180, Max: 180, Frequency: f64(0.08), Phase: math.Pi / 4},
			},
		},
		// No rules: the class walks from its origin.
		{Name: "gps", Class: "gps", Frequency: 1},
		{
			Name: "temperature", Class: "gauge", Frequency: 2,
			Rules: []RuleConfig{{Kind: "sine", Min: 20, Max: 35, Frequency: f64(0.01), Amplitude: f64(5)}},
		},
		{
			Name: "battery", Class: "bar", Frequency: 0.5,
			Rules: []RuleConfig{{Kind: "linear_decrease", Min: 0, Max: 100, StepSize: f64(0.1)}},
		},
		{
			Name: "compass", Class: "compass", Frequency: 5,
			Rules: []RuleConfig{{Kind: "linear_increase", Min: 0, Max: 360, StepSize: f64(1)}},
		},
		{
			Name: "status_leds", Class: "led_panel", Frequency: 2,
			Datasets: []frame.Dataset{
				ledDataset("Power", 1), ledDataset("Network", 2), ledDataset("Data", 3), ledDataset("Error", 4),
			},
			Rules: []RuleConfig{
				{Kind: "random", Min: 0, Max: 1, Params: map[string]float64{"threshold": 0.2}},
				{Kind: "random", Min: 0, Max: 1, Params: map[string]float64{"threshold": 0.3}},
				{Kind: "random", Min: 0, Max: 1, Params: map[string]float64{"threshold": 0.1}},
				{Kind: "random", Min: 0, Max: 1, Params: map[string]float64{"threshold": 0.8}},
			},
		},
		{
			Name: "waveform", Class: "plot", Frequency: 50,
			Rules: []RuleConfig{{Kind: "sine", Min: -1, Max: 1, Frequency: f64(2), Amplitude: f64(0.8)}},
		},
		{
			Name: "multichannel", Class: "multiplot", Frequency: 25,
			Rules: []RuleConfig{
				{Kind: "sine", Min: -1, Max: 1, Frequency: f64(1)},
				{Kind: "cosine", Min: -1, Max: 1, Frequency: f64(1.5)},
				{Kind: "square", Min: -1, Max: 1, Frequency: f64(0.5)},
			},
		},
		{
			Name: "spectrum", Class: "fft", Frequency: 100,
			Rules: []RuleConfig{{
				Kind: "custom", Min: -2, Max: 2,
				Expression: "sin(2*pi*5*t) + 0.5*sin(2*pi*15*t) + 0.2*sin(2*pi*30*t)",
			}},
		},

		// Presets, disabled by default.
		{
			Name: "hex_adc", Class: "multiplot", Frequency: 200, Enabled: off(),
			Rules: []RuleConfig{
				{Kind: "sine", Min: 0, Max: 5, Frequency: f64(1), Amplitude: f64(2.5)},
				{Kind: "sine", Min: 0, Max: 5, Frequency: f64(2), Amplitude: f64(2.5)},
				{Kind: "sine", Min: 0, Max: 5, Frequency: f64(3), Amplitude: f64(2.5)},
				{Kind: "square", Min: 0, Max: 5, Frequency: f64(0.5)},
				{Kind: "triangle", Min: 0, Max: 5, Frequency: f64(1.5)},
				{Kind: "noise", Min: 0, Max: 5, NoiseLevel: f64(0.5)},
			},
		},
		{
			Name: "lorenz", Class: "plot3d", Frequency: 50, Enabled: off(),
			Rules: []RuleConfig{
				{Kind: "sine", Min: -20, Max: 20, Frequency: f64(0.1), Amplitude: f64(15)},
				{Kind: "cosine", Min: -30, Max: 30, Frequency: f64(0.12), Amplitude: f64(20)},
				{Kind: "sine", Min: 0, Max: 50, Frequency: f64(0.08), Amplitude: f64(25)},
			},
		},
		{
			Name: "pulse", Class: "plot", Frequency: 100, Enabled: off(),
			Rules: []RuleConfig{{
				Kind: "custom", Min: -1, Max: 3,
				Expression: "abs(sin(2*pi*1.2*t)) * (1 + 0.3*sin(2*pi*0.2*t))",
			}},
		},
		{
			Name: "lte_modem", Class: "datagrid", Frequency: 2, Enabled: off(),
			Rules: []RuleConfig{
				{Kind: "random", Min: 100000, Max: 999999},
				{Kind: "noise", Min: -15, Max: -5, NoiseLevel: f64(2)},
				{Kind: "noise", Min: -90, Max: -70, NoiseLevel: f64(5)},
				{Kind: "noise", Min: -80, Max: -50, NoiseLevel: f64(3)},
				{Kind: "noise", Min: -10, Max: 25, NoiseLevel: f64(5)},
			},
		},
		{
			Name: "function_generator", Class: "multiplot", Frequency: 1000, Enabled: off(),
			Rules: []RuleConfig{
				{Kind: "sine", Min: -1, Max: 1, Frequency: f64(5)},
				{Kind: "triangle", Min: -1, Max: 1, Frequency: f64(3)},
				{Kind: "sawtooth", Min: -1, Max: 1, Frequency: f64(2)},
				{Kind: "square", Min: -1, Max: 1, Frequency: f64(1.5)},
			},
		},
		{
			Name: "ble_battery", Class: "gauge", Frequency: 0.5, Enabled: off(),
			Rules: []RuleConfig{{Kind: "linear_decrease", Min: 20, Max: 100, StepSize: f64(0.2)}},
		},
		{
			Name: "hydrogen", Class: "multiplot", Frequency: 100, Enabled: off(),
			Rules: []RuleConfig{
				{Kind: "noise", Min: -5, Max: 5, NoiseLevel: f64(2)},
				{Kind: "noise", Min: -5, Max: 5, NoiseLevel: f64(2)},
				{Kind: "noise", Min: -5, Max: 5, NoiseLevel: f64(2)},
				{Kind: "exponential", Min: 0, Max: 0.4},
			},
		},
	}
}
