package signal

import (
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Evaluator turns rules into values. It owns the random source so a run can
// be reproduced from a seed. Safe for concurrent use.
type Evaluator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	logger *slog.Logger
}

// NewEvaluator creates an evaluator seeded with seed. A zero seed picks one
// from the clock.
func NewEvaluator(seed int64) *Evaluator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Evaluator{
		rng:    rand.New(rand.NewSource(seed)),
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used to report degraded custom rules.
func (e *Evaluator) WithLogger(l *slog.Logger) *Evaluator {
	if l != nil {
		e.logger = l
	}
	return e
}

var defaultEvaluator = NewEvaluator(0)

// Evaluate computes r at elapsed seconds using a shared default evaluator.
func Evaluate(r Rule, elapsed float64) float64 {
	return defaultEvaluator.Evaluate(r, elapsed)
}

// Uniform returns a value in [min, max).
func (e *Evaluator) Uniform(min, max float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return min + e.rng.Float64()*(max-min)
}

// Gauss returns a normally distributed value.
func (e *Evaluator) Gauss(mean, stddev float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return mean + e.rng.NormFloat64()*stddev
}

// Evaluate computes r at elapsed seconds. It never panics and always
// returns a finite value; anything that cannot be computed yields r.Min.
func (e *Evaluator) Evaluate(r Rule, elapsed float64) float64 {
	if elapsed < 0 || math.IsNaN(elapsed) {
		elapsed = 0
	}
	if r.Duration > 0 && elapsed > r.Duration {
		elapsed = r.Duration
	}
	v := e.evaluate(r, elapsed)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return finiteOr(r.Min, 0)
	}
	return v
}

func (e *Evaluator) evaluate(r Rule, t float64) float64 {
	mid := r.midpoint()
	switch r.Kind {
	case KindConstant:
		return r.Min

	case KindRandom:
		return e.Uniform(r.Min, r.Max)

	case KindSine:
		return r.Amplitude*math.Sin(2*math.Pi*r.Frequency*t+r.Phase) + mid

	case KindCosine:
		return r.Amplitude*math.Cos(2*math.Pi*r.Frequency*t+r.Phase) + mid

	case KindSquare:
		if math.Sin(2*math.Pi*r.Frequency*t+r.Phase) > 0 {
			return r.Amplitude + mid
		}
		return -r.Amplitude + mid

	case KindSawtooth:
		p := cyclePosition(r, t)
		return r.Amplitude*(2*p-1) + mid

	case KindTriangle:
		p := cyclePosition(r, t)
		if p < 0.5 {
			return r.Amplitude*(4*p-1) + mid
		}
		return r.Amplitude*(3-4*p) + mid

	case KindLinearIncrease:
		return math.Min(r.Max, r.Min+r.StepSize*t)

	case KindLinearDecrease:
		return math.Max(r.Min, r.Max-r.StepSize*t)

	case KindExponential:
		x := math.Exp(r.Frequency * t)
		if math.IsInf(x, 1) || math.IsNaN(x) {
			return r.Max
		}
		return r.Min + x/(1+x)*(r.Max-r.Min)

	case KindLogarithmic:
		maxLog := math.Log(1 + r.Frequency*100)
		if maxLog <= 0 || math.IsNaN(maxLog) || math.IsInf(maxLog, 0) {
			return r.Min
		}
		norm := math.Min(1, math.Log(1+r.Frequency*t)/maxLog)
		return r.Min + norm*(r.Max-r.Min)

	case KindNoise:
		return e.Gauss(mid, r.NoiseLevel*(r.Max-r.Min)/6)

	case KindCustom:
		if r.compiled == nil {
			e.logger.Debug("custom rule not compiled, using minimum", "expression", r.Expression)
			return r.Min
		}
		v, err := r.compiled.Eval(t)
		if err != nil {
			e.logger.Debug("custom rule failed, using minimum", "error", err)
			return r.Min
		}
		return v
	}
	return r.Min
}

// cyclePosition is frac(f·t + φ/2π), kept in [0, 1).
func cyclePosition(r Rule, t float64) float64 {
	p := math.Mod(r.Frequency*t+r.Phase/(2*math.Pi), 1)
	if p < 0 {
		p++
	}
	return p
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
