package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rmax-ai/sensorsim/pkg/frame"
	"github.com/rmax-ai/sensorsim/pkg/signal"
	"github.com/rmax-ai/sensorsim/pkg/simulation"
	"github.com/rmax-ai/sensorsim/pkg/transport"
)

const (
	defaultName          = "sensorsim"
	defaultTick          = 10 * time.Millisecond
	defaultChannelPrefix = "sensorsim"
)

// Config is one run's settings. Treat a loaded Config as read-only;
// Build creates fresh component instances on every call.
type Config struct {
	Name       string                `yaml:"name"`
	Duration   time.Duration         `yaml:"duration"`
	Tick       time.Duration         `yaml:"tick"`
	Seed       int64                 `yaml:"seed"`
	Transport  transport.Spec        `yaml:"transport"`
	Thresholds simulation.Thresholds `yaml:"thresholds"`
	Metrics    MetricsConfig         `yaml:"metrics"`
	Redis      RedisConfig           `yaml:"redis"`
	Components []ComponentConfig     `yaml:"components"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the HTTP endpoint
}

type RedisConfig struct {
	Addr          string `yaml:"addr"` // empty disables live publishing
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// ComponentConfig is the YAML form of a frame.Component.
type ComponentConfig struct {
	Name         string          `yaml:"name"`
	Class        string          `yaml:"class"`
	Frequency    float64         `yaml:"frequency"`
	Enabled      *bool           `yaml:"enabled,omitempty"`
	MinFrequency float64         `yaml:"min_frequency,omitempty"`
	Rules        []RuleConfig    `yaml:"rules,omitempty"`
	Datasets     []frame.Dataset `yaml:"datasets,omitempty"`
}

// RuleConfig is the YAML form of a signal.Rule. Unset optional fields take
// the signal.NewRule defaults.
type RuleConfig struct {
	Kind       string             `yaml:"kind"`
	Min        float64            `yaml:"min"`
	Max        float64            `yaml:"max"`
	Amplitude  *float64           `yaml:"amplitude,omitempty"`
	Frequency  *float64           `yaml:"frequency,omitempty"`
	Phase      float64            `yaml:"phase,omitempty"`
	NoiseLevel *float64           `yaml:"noise_level,omitempty"`
	StepSize   *float64           `yaml:"step_size,omitempty"`
	Expression string             `yaml:"expression,omitempty"`
	Duration   float64            `yaml:"duration,omitempty"`
	Params     map[string]float64 `yaml:"params,omitempty"`
}

// Load reads a YAML file, fills defaults, applies SENSORSIM_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse is Load without the file read.
func Parse(raw []byte) (*Config, error) {
	// yaml leaves absent keys untouched, so auto_reconnect keeps its
	// default unless the file sets it.
	cfg := Config{Transport: transport.Spec{AutoReconnect: true}}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyTransportDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv starts from Default and applies environment overrides. It is
// used when no config file is given.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyTransportDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.Tick <= 0 {
		c.Tick = defaultTick
	}
	if k, err := transport.ParseKind(string(c.Transport.Kind)); err == nil {
		c.Transport.Kind = k
	}
	if c.Thresholds.MaxErrorRate <= 0 {
		c.Thresholds.MaxErrorRate = simulation.DefaultThresholds().MaxErrorRate
	}
	if c.Thresholds.MinRateRatio <= 0 {
		c.Thresholds.MinRateRatio = simulation.DefaultThresholds().MinRateRatio
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = defaultChannelPrefix
	}
}

// applyTransportDefaults runs after applyEnv so a kind switched by
// SENSORSIM_TRANSPORT still gets that kind's defaults.
func (c *Config) applyTransportDefaults() {
	if c.Transport.LocalPort == 0 && (c.Transport.Kind == transport.KindUDP || c.Transport.Kind == transport.KindUDPMulticast) {
		c.Transport.LocalPort = transport.DefaultSpec().LocalPort
	}
	c.Transport = c.Transport.WithDefaults()
}

// applyEnv overrides the most commonly changed fields.
func (c *Config) applyEnv() error {
	if v := os.Getenv("SENSORSIM_TRANSPORT"); v != "" {
		kind, err := transport.ParseKind(v)
		if err != nil {
			return fmt.Errorf("invalid SENSORSIM_TRANSPORT: %w", err)
		}
		c.Transport.Kind = kind
	}
	c.Transport.Host = envOrDefault("SENSORSIM_HOST", c.Transport.Host)
	c.Transport.Device = envOrDefault("SENSORSIM_DEVICE", c.Transport.Device)
	c.Metrics.Addr = envOrDefault("SENSORSIM_METRICS_ADDR", c.Metrics.Addr)
	c.Redis.Addr = envOrDefault("SENSORSIM_REDIS_ADDR", c.Redis.Addr)

	ints := []struct {
		key string
		dst *int
	}{
		{"SENSORSIM_PORT", &c.Transport.Port},
		{"SENSORSIM_BAUD", &c.Transport.Baud},
		{"SENSORSIM_LOCAL_PORT", &c.Transport.LocalPort},
		{"SENSORSIM_REMOTE_PORT", &c.Transport.RemotePort},
	}
	for _, e := range ints {
		if v := os.Getenv(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", e.key, err)
			}
			*e.dst = n
		}
	}
	if v := os.Getenv("SENSORSIM_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SENSORSIM_DURATION: %w", err)
		}
		c.Duration = d
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func (c *Config) validate() error {
	if c.Duration < 0 {
		return errors.New("duration must not be negative")
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if c.Thresholds.MaxErrorRate > 1 || c.Thresholds.MinRateRatio > 1 {
		return errors.New("thresholds must be ratios in (0, 1]")
	}
	if _, err := c.Build(); err != nil {
		return err
	}
	return nil
}

// Build creates validated components in configuration order. Unknown
// classes, unknown rule kinds and arity contradictions are
// frame.ConfigurationError values.
func (c *Config) Build() ([]*frame.Component, error) {
	out := make([]*frame.Component, 0, len(c.Components))
	seen := make(map[string]bool, len(c.Components))
	for i, cc := range c.Components {
		comp, err := cc.build()
		if err != nil {
			return nil, fmt.Errorf("components[%d]: %w", i, err)
		}
		if seen[comp.Name] {
			return nil, fmt.Errorf("components[%d]: %w", i, &frame.ConfigurationError{
				Component: comp.Name, Class: comp.Class, Reason: "duplicate component name",
			})
		}
		seen[comp.Name] = true
		out = append(out, comp)
	}
	return out, nil
}

func (cc ComponentConfig) build() (*frame.Component, error) {
	class, err := frame.ParseClass(cc.Class)
	if err != nil {
		var cfgErr *frame.ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.Component = cc.Name
		}
		return nil, err
	}
	rules := make([]signal.Rule, 0, len(cc.Rules))
	for j, rc := range cc.Rules {
		r, err := rc.build()
		if err != nil {
			return nil, &frame.ConfigurationError{
				Component: cc.Name,
				Class:     class,
				Reason:    fmt.Sprintf("rule %d", j),
				Err:       err,
			}
		}
		rules = append(rules, r)
	}

	comp := frame.NewComponent(strings.TrimSpace(cc.Name), class, cc.Frequency, rules...)
	comp.Datasets = append([]frame.Dataset(nil), cc.Datasets...)
	comp.MinFrequency = cc.MinFrequency
	if cc.Enabled != nil {
		comp.SetEnabled(*cc.Enabled)
	}
	if err := comp.Validate(); err != nil {
		return nil, err
	}
	return comp, nil
}

func (rc RuleConfig) build() (signal.Rule, error) {
	kind, err := signal.ParseKind(rc.Kind)
	if err != nil {
		return signal.Rule{}, err
	}
	r := signal.NewRule(kind, rc.Min, rc.Max)
	if rc.Amplitude != nil {
		r.Amplitude = *rc.Amplitude
	}
	if rc.Frequency != nil {
		r.Frequency = *rc.Frequency
	}
	if rc.NoiseLevel != nil {
		r.NoiseLevel = *rc.NoiseLevel
	}
	if rc.StepSize != nil {
		r.StepSize = *rc.StepSize
	}
	r.Phase = rc.Phase
	r.Expression = rc.Expression
	r.Duration = rc.Duration
	r.Params = rc.Params
	if err := r.Compile(); err != nil {
		return signal.Rule{}, err
	}
	return r, nil
}

// HarnessOptions translates the run settings into simulation options.
func (c *Config) HarnessOptions() []simulation.Option {
	return []simulation.Option{
		simulation.WithName(c.Name),
		simulation.WithDuration(c.Duration),
		simulation.WithTick(c.Tick),
		simulation.WithSeed(c.Seed),
		simulation.WithThresholds(c.Thresholds),
	}
}
