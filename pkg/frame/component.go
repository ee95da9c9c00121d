package frame

import (
	"sync"
	"sync/atomic"

	"github.com/rmax-ai/sensorsim/pkg/signal"
)

// Dataset is optional display metadata for one channel.
type Dataset struct {
	Title   string  `json:"title" yaml:"title"`
	Units   string  `json:"units,omitempty" yaml:"units,omitempty"`
	Widget  string  `json:"widget,omitempty" yaml:"widget,omitempty"`
	Index   int     `json:"index,omitempty" yaml:"index,omitempty"`
	LED     bool    `json:"led,omitempty" yaml:"led,omitempty"`
	LEDHigh float64 `json:"led_high,omitempty" yaml:"led_high,omitempty"`
	Min     float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max     float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Alarm   float64 `json:"alarm,omitempty" yaml:"alarm,omitempty"`
}

// GPSPosition is the running position of a gps component.
type GPSPosition struct {
	Lat, Lon, Alt float64
}

var gpsOrigin = GPSPosition{Lat: 39.9042, Lon: 116.4074, Alt: 50.0}

// classState is the per-instance memory some classes carry between frames.
type classState struct {
	gps    GPSPosition
	leds   []bool
	cursor int
	rows   uint64
}

// Component is one emulated widget. Name, Class, Rules, Datasets and
// MinFrequency are fixed once the component is built; only the enabled flag
// and the frequency may change while a run is in progress.
type Component struct {
	Name         string
	Class        Class
	Rules        []signal.Rule
	Datasets     []Dataset
	MinFrequency float64 // required achieved rate in Hz, 0 = none

	mu        sync.RWMutex
	enabled   bool
	frequency float64

	emitted atomic.Uint64
	state   classState
}

// NewComponent builds an enabled component.
func NewComponent(name string, class Class, frequency float64, rules ...signal.Rule) *Component {
	c := &Component{
		Name:      name,
		Class:     class,
		Rules:     rules,
		enabled:   true,
		frequency: frequency,
	}
	c.Reset()
	return c
}

func (c *Component) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

func (c *Component) SetEnabled(v bool) {
	c.mu.Lock()
	c.enabled = v
	c.mu.Unlock()
}

// Frequency is the target emission rate in Hz. Zero or less disables
// scheduling.
func (c *Component) Frequency() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frequency
}

func (c *Component) SetFrequency(hz float64) {
	c.mu.Lock()
	c.frequency = hz
	c.mu.Unlock()
}

// Emitted is the number of frames produced since the last Reset.
func (c *Component) Emitted() uint64 {
	return c.emitted.Load()
}

// MarkEmitted advances the emitted counter by one.
func (c *Component) MarkEmitted() uint64 {
	return c.emitted.Add(1)
}

// Rebase sets the emitted counter to n without producing frames.
func (c *Component) Rebase(n uint64) {
	c.emitted.Store(n)
}

// Reset clears the emitted counter and all class state.
func (c *Component) Reset() {
	c.emitted.Store(0)
	c.state = classState{gps: gpsOrigin}
}

// GPS returns the current running position.
func (c *Component) GPS() GPSPosition {
	return c.state.gps
}

// LEDs returns a copy of the last LED bitset.
func (c *Component) LEDs() []bool {
	return append([]bool(nil), c.state.leds...)
}

// Rows is the number of datagrid rows emitted.
func (c *Component) Rows() uint64 {
	return c.state.rows
}

// Validate checks the component against its class. A fixed-arity class
// with more rules than channels, an unknown class and an uncompilable
// custom rule are all configuration errors. Fewer rules than required is
// allowed; the class fallback fills in.
func (c *Component) Validate() error {
	spec, ok := registry[c.Class]
	if !ok {
		return &ConfigurationError{Component: c.Name, Class: c.Class, Reason: "unsupported capability class"}
	}
	if c.Name == "" {
		return &ConfigurationError{Class: c.Class, Reason: "component name is required"}
	}
	if c.MinFrequency < 0 {
		return &ConfigurationError{Component: c.Name, Class: c.Class, Reason: "min frequency must not be negative"}
	}
	if !spec.variable && !spec.text && len(c.Rules) > spec.arity {
		return &ConfigurationError{
			Component: c.Name,
			Class:     c.Class,
			Reason:    "too many rules for fixed-arity class",
		}
	}
	if c.Class == ClassLEDPanel && len(c.Datasets) > 0 && len(c.Rules) > len(c.Datasets) {
		return &ConfigurationError{
			Component: c.Name,
			Class:     c.Class,
			Reason:    "more rules than LED datasets",
		}
	}
	for i := range c.Rules {
		r := &c.Rules[i]
		if r.Kind == signal.KindCustom && r.Compiled() == nil {
			if err := r.Compile(); err != nil {
				return &ConfigurationError{Component: c.Name, Class: c.Class, Reason: "custom rule", Err: err}
			}
		}
	}
	return nil
}

// Clone returns an independent copy with fresh state. The copy keeps the
// enabled flag and frequency of the original.
func (c *Component) Clone() *Component {
	out := &Component{
		Name:         c.Name,
		Class:        c.Class,
		Rules:        append([]signal.Rule(nil), c.Rules...),
		Datasets:     append([]Dataset(nil), c.Datasets...),
		MinFrequency: c.MinFrequency,
		enabled:      c.Enabled(),
		frequency:    c.Frequency(),
	}
	out.Reset()
	return out
}
