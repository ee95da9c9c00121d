package frame

import (
	"fmt"
	"sort"
	"strings"
)

// Class is the widget type a component emulates. It fixes channel arity,
// numeric precision and the fallback used when too few rules are set.
type Class string

const (
	ClassAccelerometer Class = "accelerometer"
	ClassGyroscope     Class = "gyroscope"
	ClassGPS           Class = "gps"
	ClassGauge         Class = "gauge"
	ClassBar           Class = "bar"
	ClassCompass       Class = "compass"
	ClassLEDPanel      Class = "led_panel"
	ClassPlot          Class = "plot"
	ClassMultiPlot     Class = "multiplot"
	ClassFFT           Class = "fft"
	ClassPlot3D        Class = "plot3d"
	ClassDataGrid      Class = "datagrid"
	ClassTerminal      Class = "terminal"
	ClassIMU           Class = "mpu6050"
)

var classAliases = map[string]Class{
	"led":       ClassLEDPanel,
	"ledpanel":  ClassLEDPanel,
	"fft_plot":  ClassFFT,
	"plot_3d":   ClassPlot3D,
	"data_grid": ClassDataGrid,
	"map":       ClassGPS,
	"imu":       ClassIMU,
}

// ParseClass resolves a class name or one of its aliases. Unknown names
// are a ConfigurationError.
func ParseClass(s string) (Class, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if c, ok := classAliases[name]; ok {
		return c, nil
	}
	c := Class(name)
	if _, ok := registry[c]; !ok {
		return "", &ConfigurationError{Class: Class(s), Reason: "unsupported capability class"}
	}
	return c, nil
}

// Classes returns every registered class sorted by name.
func Classes() []Class {
	out := make([]Class, 0, len(registry))
	for c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Info describes a class for listings.
type Info struct {
	Class     Class
	Arity     int // required count, or the default count when Variable
	Variable  bool
	Precision []int
	Text      bool
}

// Describe returns the encoding rules of c.
func Describe(c Class) (Info, error) {
	spec, ok := registry[c]
	if !ok {
		return Info{}, &ConfigurationError{Class: c, Reason: "unsupported capability class"}
	}
	return Info{
		Class:     c,
		Arity:     spec.arity,
		Variable:  spec.variable,
		Precision: append([]int(nil), spec.precision...),
		Text:      spec.text,
	}, nil
}

func (i Info) String() string {
	switch {
	case i.Text:
		return fmt.Sprintf("%s: free text", i.Class)
	case i.Variable:
		return fmt.Sprintf("%s: variable (default %d), precision %v", i.Class, i.Arity, i.Precision)
	default:
		return fmt.Sprintf("%s: %d channels, precision %v", i.Class, i.Arity, i.Precision)
	}
}
