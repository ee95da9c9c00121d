package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.bug.st/serial/enumerator"
)

func TestPickDefault(t *testing.T) {
	tests := []struct {
		goos  string
		ports []PortInfo
		want  string
	}{
		{"linux", nil, ""},
		{"linux", []PortInfo{{Name: "/dev/ttyS0"}, {Name: "/dev/ttyACM0"}}, "/dev/ttyACM0"},
		{"linux", []PortInfo{{Name: "/dev/ttyS0"}, {Name: "/dev/ttyS1"}}, "/dev/ttyS0"},
		{"windows", []PortInfo{{Name: "COM1", Description: "Communications Port"}, {Name: "COM4", Description: "USB-SERIAL CH340"}}, "COM4"},
		{"windows", []PortInfo{{Name: "COM1"}, {Name: "COM7", Description: "Standard Serial over Bluetooth link"}}, "COM1"},
		{"windows", []PortInfo{{Name: "COM1"}, {Name: "COM7", Description: "Silicon Labs CP210x"}}, "COM7"},
		{"darwin", []PortInfo{{Name: "/dev/cu.Bluetooth"}, {Name: "/dev/cu.usbserial-1420"}}, "/dev/cu.usbserial-1420"},
		{"plan9", []PortInfo{{Name: "eia0"}, {Name: "eia1"}}, "eia0"},
	}
	for _, tt := range tests {
		if got := pickDefault(tt.goos, tt.ports); got != tt.want {
			t.Errorf("pickDefault(%s, %v) = %q; want %q", tt.goos, tt.ports, got, tt.want)
		}
	}
}

func TestListPorts_NeverFails(t *testing.T) {
	origDetailed, origPorts := detailedPorts, serialPorts
	t.Cleanup(func() { detailedPorts, serialPorts = origDetailed, origPorts })

	detailedPorts = func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("enumeration unsupported")
	}
	serialPorts = func() ([]string, error) { return []string{"/dev/ttyUSB1", "/dev/ttyUSB0"}, nil }

	got := ListPorts()
	if len(got) != 2 || got[0].Name != "/dev/ttyUSB0" {
		t.Errorf("fallback listing = %+v", got)
	}

	serialPorts = func() ([]string, error) { return nil, errors.New("no access") }
	if got := ListPorts(); len(got) != 0 {
		t.Errorf("expected empty listing, got %+v", got)
	}

	detailedPorts = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{{Name: "COM3", IsUSB: true, VID: "1a86", PID: "7523", Product: "USB-SERIAL CH340"}}, nil
	}
	got = ListPorts()
	if len(got) != 1 || !got[0].IsUSB || got[0].Description != "USB-SERIAL CH340" {
		t.Errorf("detailed listing = %+v", got)
	}
}

func TestCommonBaudRates(t *testing.T) {
	rates := CommonBaudRates()
	if rates[0] != 300 || rates[len(rates)-1] != 921600 {
		t.Errorf("unexpected range %v", rates)
	}
	for i := 1; i < len(rates); i++ {
		if rates[i] <= rates[i-1] {
			t.Fatalf("rates not ascending at %d: %v", i, rates)
		}
	}
}

func TestBackoff_Next(t *testing.T) {
	b := &Backoff{
		Base:   100 * time.Millisecond,
		Max:    1 * time.Second,
		Factor: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second},
		{60, 1 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Next(tt.attempt); got != tt.expected {
			t.Errorf("Next(%d) = %v; want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestBackoff_Jitter(t *testing.T) {
	b := &Backoff{Base: 100 * time.Millisecond, Max: 5 * time.Second, Factor: 2.0, Jitter: 0.1}
	for i := 0; i < 100; i++ {
		got := b.Next(0)
		if got < 90*time.Millisecond || got > 110*time.Millisecond {
			t.Errorf("Next(0) with jitter = %v; want between 90ms and 110ms", got)
		}
	}
}

func TestBackoff_WaitHonorsContext(t *testing.T) {
	b := &Backoff{Base: time.Minute, Max: time.Minute, Factor: 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Wait(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v; want context.Canceled", err)
	}
}
