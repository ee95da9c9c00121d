package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/rmax-ai/sensorsim/pkg/frame"
	"github.com/rmax-ai/sensorsim/pkg/signal"
)

// DefaultSuite is the standard acceptance run: one case per common widget
// plus a mixed and a high-frequency case.
func DefaultSuite() Suite {
	noise := signal.Noise
	wave := signal.Wave

	accel := frame.NewComponent("accelerometer", frame.ClassAccelerometer, 10,
		noise(-2, 2, 0.5), noise(-2, 2, 0.5), noise(8, 11, 0.2))

	gyro := frame.NewComponent("gyroscope", frame.ClassGyroscope, 10,
		wave(signal.KindSine, -180, 180, 90, 0.2),
		wave(signal.KindCosine, -90, 90, 45, 0.3),
		signal.NewRule(signal.KindRandom, -180, 180))

	gps := frame.NewComponent("gps", frame.ClassGPS, 1)

	mixed := frame.NewComponent("mixed_sensors", frame.ClassDataGrid, 20,
		noise(-2, 2, 0.5), noise(-2, 2, 0.5), noise(8, 11, 0.2),
		signal.NewRule(signal.KindRandom, -250, 250),
		signal.NewRule(signal.KindRandom, -250, 250),
		signal.NewRule(signal.KindRandom, -250, 250),
		wave(signal.KindSine, 20, 30, 5, 0.05),
		noise(40, 80, 0.3))

	highFreq := frame.NewComponent("high_frequency", frame.ClassPlot, 100,
		wave(signal.KindSine, -5, 5, 4, 2))
	highFreq.MinFrequency = 50

	leds := frame.NewComponent("led_panel", frame.ClassLEDPanel, 2)
	for i := 0; i < 8; i++ {
		leds.Datasets = append(leds.Datasets, frame.Dataset{Title: fmt.Sprintf("LED %d", i+1)})
	}

	fft := frame.NewComponent("fft_signal", frame.ClassFFT, 100)

	return Suite{
		Name: "default",
		Cases: []TestCase{
			{Name: "accelerometer", Description: "three-axis accelerometer at 10 Hz", Duration: 60 * time.Second, Components: []*frame.Component{accel}},
			{Name: "gyroscope", Description: "three-axis gyroscope at 10 Hz", Duration: 60 * time.Second, Components: []*frame.Component{gyro}},
			{Name: "gps", Description: "bounded GPS walk at 1 Hz", Duration: 30 * time.Second, Components: []*frame.Component{gps}},
			{Name: "mixed_sensors", Description: "eight mixed channels at 20 Hz", Duration: 120 * time.Second, Components: []*frame.Component{mixed}},
			{Name: "high_frequency", Description: "single plot at 100 Hz, at least 50 Hz achieved", Duration: 30 * time.Second, Components: []*frame.Component{highFreq}},
			{Name: "led_panel", Description: "eight LEDs at 2 Hz", Duration: 60 * time.Second, Components: []*frame.Component{leds}},
			{Name: "fft_signal", Description: "composite signal sampled at 100 Hz", Duration: 60 * time.Second, Components: []*frame.Component{fft}},
		},
	}
}

// Scale returns a copy of s with every case duration multiplied by f.
// Components are cloned so the copy can run independently.
func (s Suite) Scale(f float64) Suite {
	out := Suite{Name: s.Name, Cases: make([]TestCase, len(s.Cases))}
	for i, tc := range s.Cases {
		tc.Duration = time.Duration(float64(tc.Duration) * f)
		comps := make([]*frame.Component, len(tc.Components))
		for j, c := range tc.Components {
			comps[j] = c.Clone()
		}
		tc.Components = comps
		out.Cases[i] = tc
	}
	return out
}

// Select keeps only the named cases, in suite order.
func (s Suite) Select(names ...string) (Suite, error) {
	if len(names) == 0 {
		return s, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := Suite{Name: s.Name}
	for _, tc := range s.Cases {
		if want[tc.Name] {
			out.Cases = append(out.Cases, tc)
			delete(want, tc.Name)
		}
	}
	for n := range want {
		return Suite{}, fmt.Errorf("unknown test case %q", n)
	}
	return out, nil
}

// RunSuite runs each case in order on h's existing connection, pausing gap
// between cases. Cancellation ends the suite after the current case; the
// results gathered so far are returned with ctx's error.
func RunSuite(ctx context.Context, h *Harness, suite Suite, gap time.Duration) (summary SuiteSummary, err error) {
	summary.Suite = suite.Name
	began := time.Now()
	defer func() { summary.Duration = time.Since(began) }()

	for i, tc := range suite.Cases {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := h.Load(tc); err != nil {
			return summary, fmt.Errorf("load %s: %w", tc.Name, err)
		}
		h.logger.Info("suite case", "suite", suite.Name, "case", tc.Name, "index", i+1, "of", len(suite.Cases))

		res, err := h.Run(ctx)
		if err != nil {
			return summary, fmt.Errorf("run %s: %w", tc.Name, err)
		}
		summary.Results = append(summary.Results, res)
		summary.Total++
		summary.TotalSent += res.Sent
		summary.TotalFailed += res.Failed
		if res.Passed {
			summary.PassedCount++
		}

		if gap > 0 && i < len(suite.Cases)-1 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(gap):
			}
		}
	}
	return summary, ctx.Err()
}
