package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.FrameSent("imu", "accelerometer", 2*time.Millisecond)
	c.FrameSent("imu", "accelerometer", 3*time.Millisecond)
	c.FrameFailed("imu", "accelerometer")

	if got := testutil.ToFloat64(c.framesSent.WithLabelValues("imu", "accelerometer")); got != 2 {
		t.Fatalf("expected sent counter 2, got %f", got)
	}
	if got := testutil.ToFloat64(c.framesFailed.WithLabelValues("imu", "accelerometer")); got != 1 {
		t.Fatalf("expected failed counter 1, got %f", got)
	}
	if samples := testutil.CollectAndCount(c.sendLatency); samples != 1 {
		t.Fatalf("expected one latency histogram series, got %d", samples)
	}

	c.Throughput(19.5)
	if got := testutil.ToFloat64(c.throughput); got != 19.5 {
		t.Fatalf("expected throughput 19.5, got %f", got)
	}

	c.HarnessState("running")
	if got := testutil.ToFloat64(c.state.WithLabelValues("running")); got != 1 {
		t.Fatalf("expected running=1, got %f", got)
	}
	c.HarnessState("stopped")
	if got := testutil.ToFloat64(c.state.WithLabelValues("running")); got != 0 {
		t.Fatalf("expected running=0 after stop, got %f", got)
	}

	c.Connect("tcp_client", true)
	c.Connect("tcp_client", false)
	c.Connect("tcp_client", false)
	if got := testutil.ToFloat64(c.connects.WithLabelValues("tcp_client", "failure")); got != 2 {
		t.Fatalf("expected 2 failed connects, got %f", got)
	}

	if n, err := testutil.GatherAndCount(reg, "sensorsim_frames_sent_total", "sensorsim_harness_state"); err != nil || n != 1+len(States) {
		t.Fatalf("gathered %d series (err %v)", n, err)
	}
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("first New: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}
