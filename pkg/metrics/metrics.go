package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// States lists the harness states in gauge order.
var States = []string{"idle", "connected", "running", "stopped", "completed"}

// Collector holds the metrics of one harness. It satisfies
// simulation.Recorder.
type Collector struct {
	framesSent   *prometheus.CounterVec
	framesFailed *prometheus.CounterVec
	sendLatency  prometheus.Histogram
	throughput   prometheus.Gauge
	state        *prometheus.GaugeVec
	connects     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		framesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensorsim_frames_sent_total",
				Help: "Frames written to the transport",
			},
			[]string{"component", "class"},
		),
		framesFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensorsim_frames_failed_total",
				Help: "Frames the transport rejected",
			},
			[]string{"component", "class"},
		),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sensorsim_send_latency_seconds",
			Help:    "Time spent in a single transport send",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensorsim_throughput_fps",
			Help: "Frames per second over the last refresh interval",
		}),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sensorsim_harness_state",
				Help: "1 for the harness's current state, 0 otherwise",
			},
			[]string{"state"},
		),
		connects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensorsim_transport_connects_total",
				Help: "Transport connect attempts by kind and result",
			},
			[]string{"kind", "result"},
		),
	}
	for _, col := range []prometheus.Collector{c.framesSent, c.framesFailed, c.sendLatency, c.throughput, c.state, c.connects} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) FrameSent(component, class string, latency time.Duration) {
	c.framesSent.WithLabelValues(component, class).Inc()
	c.sendLatency.Observe(latency.Seconds())
}

func (c *Collector) FrameFailed(component, class string) {
	c.framesFailed.WithLabelValues(component, class).Inc()
}

func (c *Collector) Throughput(fps float64) {
	c.throughput.Set(fps)
}

func (c *Collector) HarnessState(state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		c.state.WithLabelValues(s).Set(v)
	}
}

func (c *Collector) Connect(kind string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	c.connects.WithLabelValues(kind, result).Inc()
}
