package signal

import (
	"fmt"
	"strings"
)

// Kind identifies how a Rule produces values over time.
type Kind string

const (
	KindConstant       Kind = "constant"
	KindRandom         Kind = "random"
	KindSine           Kind = "sine"
	KindCosine         Kind = "cosine"
	KindSquare         Kind = "square"
	KindSawtooth       Kind = "sawtooth"
	KindTriangle       Kind = "triangle"
	KindLinearIncrease Kind = "linear_increase"
	KindLinearDecrease Kind = "linear_decrease"
	KindExponential    Kind = "exponential"
	KindLogarithmic    Kind = "logarithmic"
	KindNoise          Kind = "noise"
	KindCustom         Kind = "custom"
)

// Kinds lists every supported rule kind in declaration order.
var Kinds = []Kind{
	KindConstant, KindRandom, KindSine, KindCosine, KindSquare, KindSawtooth,
	KindTriangle, KindLinearIncrease, KindLinearDecrease, KindExponential,
	KindLogarithmic, KindNoise, KindCustom,
}

// ParseKind normalizes a kind name. Legacy "_wave" and "custom_function"
// spellings are accepted.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimSuffix(name, "_wave")
	switch name {
	case "custom_function", "expression":
		name = string(KindCustom)
	case "linear-increase":
		name = string(KindLinearIncrease)
	case "linear-decrease":
		name = string(KindLinearDecrease)
	}
	for _, k := range Kinds {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown signal rule kind %q", s)
}

// Rule configures one channel of generated data.
type Rule struct {
	Kind       Kind               `json:"kind" yaml:"kind"`
	Min        float64            `json:"min" yaml:"min"`
	Max        float64            `json:"max" yaml:"max"`
	Amplitude  float64            `json:"amplitude" yaml:"amplitude"`
	Frequency  float64            `json:"frequency" yaml:"frequency"`
	Phase      float64            `json:"phase" yaml:"phase"`
	NoiseLevel float64            `json:"noise_level" yaml:"noise_level"`
	StepSize   float64            `json:"step_size" yaml:"step_size"`
	Expression string             `json:"expression,omitempty" yaml:"expression,omitempty"`
	Duration   float64            `json:"duration,omitempty" yaml:"duration,omitempty"` // seconds, 0 = unbounded
	Params     map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`

	compiled *Expression
}

// NewRule returns a rule of the given kind over [min, max] with the
// remaining parameters at their defaults.
func NewRule(kind Kind, min, max float64) Rule {
	return Rule{
		Kind:       kind,
		Min:        min,
		Max:        max,
		Amplitude:  1,
		Frequency:  1,
		NoiseLevel: 0.1,
		StepSize:   1,
	}
}

// Noise returns a Gaussian noise rule centered on the middle of [min, max].
func Noise(min, max, level float64) Rule {
	r := NewRule(KindNoise, min, max)
	r.NoiseLevel = level
	return r
}

// Wave returns a periodic rule (sine, cosine, square, sawtooth or triangle).
func Wave(kind Kind, min, max, amplitude, frequency float64) Rule {
	r := NewRule(kind, min, max)
	r.Amplitude = amplitude
	r.Frequency = frequency
	return r
}

// Custom returns a compiled expression rule.
func Custom(min, max float64, expr string) (Rule, error) {
	r := NewRule(KindCustom, min, max)
	r.Expression = expr
	if err := r.Compile(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Compile prepares the rule for evaluation. Only custom rules carry work;
// for other kinds it is a no-op.
func (r *Rule) Compile() error {
	if r.Kind != KindCustom {
		return nil
	}
	expr, err := Compile(r.Expression)
	if err != nil {
		return err
	}
	r.compiled = expr
	return nil
}

// Compiled reports the compiled expression of a custom rule, if any.
func (r Rule) Compiled() *Expression {
	return r.compiled
}

// Param returns a named extra parameter or fallback when unset.
func (r Rule) Param(name string, fallback float64) float64 {
	if v, ok := r.Params[name]; ok {
		return v
	}
	return fallback
}

func (r Rule) midpoint() float64 {
	return r.Min + (r.Max-r.Min)/2
}
