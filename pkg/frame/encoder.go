package frame

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rmax-ai/sensorsim/pkg/signal"
)

// RuleEvaluator produces channel values. *signal.Evaluator implements it.
type RuleEvaluator interface {
	Evaluate(r signal.Rule, elapsed float64) float64
	Uniform(min, max float64) float64
	Gauss(mean, stddev float64) float64
}

type fallbackFunc func(ev RuleEvaluator, channel int, t float64) float64

type encodeFunc func(spec *classSpec, c *Component, ev RuleEvaluator, t float64) string

type classSpec struct {
	arity     int
	variable  bool
	text      bool
	precision []int
	fallback  fallbackFunc
	encode    encodeFunc
}

func (s *classSpec) precisionAt(i int) int {
	if i < len(s.precision) {
		return s.precision[i]
	}
	return s.precision[len(s.precision)-1]
}

var registry = map[Class]*classSpec{
	ClassAccelerometer: {
		arity:     3,
		precision: []int{3},
		fallback: func(ev RuleEvaluator, i int, _ float64) float64 {
			if i == 2 {
				return ev.Gauss(9.8, 0.2)
			}
			return ev.Gauss(0, 0.5)
		},
		encode: encodeFixed,
	},
	ClassGyroscope: {
		arity:     3,
		precision: []int{2},
		fallback: func(ev RuleEvaluator, i int, _ float64) float64 {
			if i == 1 {
				return ev.Uniform(-90, 90)
			}
			return ev.Uniform(-180, 180)
		},
		encode: encodeFixed,
	},
	ClassGPS: {
		arity:     3,
		precision: []int{6, 6, 1},
		encode:    encodeGPS,
	},
	ClassGauge: {
		arity:     1,
		precision: []int{2},
		fallback:  uniform(0, 100),
		encode:    encodeFixed,
	},
	ClassBar: {
		arity:     1,
		precision: []int{2},
		fallback:  uniform(0, 100),
		encode:    encodeFixed,
	},
	ClassCompass: {
		arity:     1,
		precision: []int{1},
		fallback:  uniform(0, 360),
		encode:    encodeCompass,
	},
	ClassLEDPanel: {
		arity:     8,
		variable:  true,
		precision: []int{0},
		encode:    encodeLEDs,
	},
	ClassPlot: {
		arity:     1,
		precision: []int{4},
		fallback: func(_ RuleEvaluator, _ int, t float64) float64 {
			return math.Sin(2 * math.Pi * 0.5 * t)
		},
		encode: encodeFixed,
	},
	ClassMultiPlot: {
		arity:     3,
		variable:  true,
		precision: []int{4},
		fallback: func(_ RuleEvaluator, i int, t float64) float64 {
			freq := 0.5 + float64(i)*0.3
			return math.Sin(2*math.Pi*freq*t + float64(i)*math.Pi/4)
		},
		encode: encodeVariable,
	},
	ClassFFT: {
		arity:     1,
		precision: []int{4},
		fallback: func(ev RuleEvaluator, _ int, t float64) float64 {
			v := math.Sin(2*math.Pi*t) +
				0.5*math.Sin(2*math.Pi*5*t) +
				0.3*math.Sin(2*math.Pi*10*t)
			return v + ev.Gauss(0, 0.1)
		},
		encode: encodeFixed,
	},
	ClassPlot3D: {
		arity:     3,
		precision: []int{3},
		fallback: func(_ RuleEvaluator, i int, t float64) float64 {
			switch i {
			case 0:
				return math.Cos(t) * (1 + 0.1*t)
			case 1:
				return math.Sin(t) * (1 + 0.1*t)
			}
			return 0.1 * t
		},
		encode: encodeFixed,
	},
	ClassDataGrid: {
		arity:     5,
		variable:  true,
		precision: []int{2},
		fallback: func(ev RuleEvaluator, i int, _ float64) float64 {
			switch i {
			case 0:
				return ev.Uniform(20, 35) // temperature
			case 1:
				return ev.Uniform(40, 80) // humidity
			case 2:
				return ev.Uniform(990, 1020) // pressure
			case 3:
				return ev.Uniform(3, 5) // voltage
			}
			return ev.Uniform(0, 100)
		},
		encode: encodeDataGrid,
	},
	ClassTerminal: {
		arity:     1,
		text:      true,
		precision: []int{0},
		encode:    encodeTerminal,
	},
	ClassIMU: {
		arity:     7,
		precision: []int{3, 3, 3, 2, 2, 2, 2},
		fallback: func(ev RuleEvaluator, i int, _ float64) float64 {
			switch {
			case i < 2:
				return ev.Gauss(0, 0.5)
			case i == 2:
				return ev.Gauss(9.8, 0.2)
			case i < 6:
				return ev.Uniform(-50, 50)
			}
			return ev.Uniform(22, 28)
		},
		encode: encodeFixed,
	},
}

func uniform(min, max float64) fallbackFunc {
	return func(ev RuleEvaluator, _ int, _ float64) float64 {
		return ev.Uniform(min, max)
	}
}

// Encode renders the next frame of c at elapsed seconds. An unknown class
// is a ConfigurationError; a component with too few rules degrades to the
// class fallback instead.
func Encode(c *Component, ev RuleEvaluator, elapsed float64) (Frame, error) {
	spec, ok := registry[c.Class]
	if !ok {
		return "", &ConfigurationError{Component: c.Name, Class: c.Class, Reason: "unsupported capability class"}
	}
	return New(spec.encode(spec, c, ev, elapsed)), nil
}

func formatValues(spec *classSpec, values []float64) string {
	tokens := make([]string, len(values))
	for i, v := range values {
		tokens[i] = strconv.FormatFloat(v, 'f', spec.precisionAt(i), 64)
	}
	return strings.Join(tokens, Separator)
}

// fixedValues uses the configured rules only when every channel has one;
// otherwise the whole frame comes from the fallback.
func fixedValues(spec *classSpec, c *Component, ev RuleEvaluator, t float64) []float64 {
	values := make([]float64, spec.arity)
	useRules := len(c.Rules) >= spec.arity
	for i := range values {
		if useRules {
			values[i] = ev.Evaluate(c.Rules[i], t)
		} else {
			values[i] = spec.fallback(ev, i, t)
		}
	}
	return values
}

func encodeFixed(spec *classSpec, c *Component, ev RuleEvaluator, t float64) string {
	return formatValues(spec, fixedValues(spec, c, ev, t))
}

func channelCount(spec *classSpec, c *Component) int {
	if len(c.Rules) > 0 {
		return len(c.Rules)
	}
	return spec.arity
}

func encodeVariable(spec *classSpec, c *Component, ev RuleEvaluator, t float64) string {
	values := make([]float64, channelCount(spec, c))
	for i := range values {
		if i < len(c.Rules) {
			values[i] = ev.Evaluate(c.Rules[i], t)
		} else {
			values[i] = spec.fallback(ev, i, t)
		}
	}
	return formatValues(spec, values)
}

func encodeDataGrid(spec *classSpec, c *Component, ev RuleEvaluator, t float64) string {
	out := encodeVariable(spec, c, ev, t)
	c.state.rows++
	return out
}

func encodeCompass(spec *classSpec, c *Component, ev RuleEvaluator, t float64) string {
	v := fixedValues(spec, c, ev, t)[0]
	v = math.Mod(v, 360)
	if v < 0 {
		v += 360
	}
	return formatValues(spec, []float64{v})
}

// Rule outputs for gps are centered on Params["center"] (default 50) and
// scaled into small per-frame steps.
func encodeGPS(spec *classSpec, c *Component, ev RuleEvaluator, t float64) string {
	pos := &c.state.gps
	if len(c.Rules) >= spec.arity {
		delta := func(i int) float64 {
			r := c.Rules[i]
			return ev.Evaluate(r, t) - r.Param("center", 50)
		}
		pos.Lat += delta(0) * 0.0001
		pos.Lon += delta(1) * 0.0001
		pos.Alt += delta(2) * 0.1
	} else {
		pos.Lat += ev.Uniform(-0.0001, 0.0001)
		pos.Lon += ev.Uniform(-0.0001, 0.0001)
		pos.Alt += ev.Uniform(-0.5, 0.5)
	}
	pos.Lat = clamp(pos.Lat, -90, 90)
	pos.Lon = clamp(pos.Lon, -180, 180)
	pos.Alt = clamp(pos.Alt, -500, 10000)
	return formatValues(spec, []float64{pos.Lat, pos.Lon, pos.Alt})
}

func ledCount(spec *classSpec, c *Component) int {
	if len(c.Datasets) > 0 {
		return len(c.Datasets)
	}
	return channelCount(spec, c)
}

// A LED is on only when its raw value is strictly above its threshold.
func encodeLEDs(spec *classSpec, c *Component, ev RuleEvaluator, t float64) string {
	n := ledCount(spec, c)
	if len(c.state.leds) < n {
		c.state.leds = append(c.state.leds, make([]bool, n-len(c.state.leds))...)
	}
	tokens := make([]string, n)
	for i := 0; i < n; i++ {
		var on bool
		if i < len(c.Rules) {
			r := c.Rules[i]
			on = ev.Evaluate(r, t) > r.Param("threshold", 0.5)
		} else {
			on = ev.Uniform(0, 1) > 0.7
		}
		c.state.leds[i] = on
		if on {
			tokens[i] = "1"
		} else {
			tokens[i] = "0"
		}
	}
	return strings.Join(tokens, Separator)
}

var terminalMessages = []string{
	"System initialized",
	"Sensors connected",
	"Data transmission started",
	"Normal operation",
	"Warning: High temperature",
	"Error: Connection lost",
	"Reconnecting...",
	"Connection restored",
}

var wallClock = time.Now

func encodeTerminal(_ *classSpec, c *Component, _ RuleEvaluator, _ float64) string {
	msg := terminalMessages[c.state.cursor%len(terminalMessages)]
	c.state.cursor++
	return "[" + wallClock().Format("15:04:05") + "] " + msg
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
