package transport

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects the channel a Manager opens.
type Kind string

const (
	KindSerial       Kind = "serial"
	KindTCPClient    Kind = "tcp_client"
	KindTCPServer    Kind = "tcp_server"
	KindUDP          Kind = "udp"
	KindUDPMulticast Kind = "udp_multicast"
)

// Kinds lists every supported channel kind.
var Kinds = []Kind{KindSerial, KindTCPClient, KindTCPServer, KindUDP, KindUDPMulticast}

// ParseKind accepts the canonical names plus a few short forms ("tcp",
// "server", "multicast").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "serial", "uart":
		return KindSerial, nil
	case "tcp_client", "tcp", "tcp-client", "client":
		return KindTCPClient, nil
	case "tcp_server", "tcp-server", "server":
		return KindTCPServer, nil
	case "udp":
		return KindUDP, nil
	case "udp_multicast", "udp-multicast", "multicast":
		return KindUDPMulticast, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
}

// Parity values accepted for serial lines.
const (
	ParityNone  = "N"
	ParityEven  = "E"
	ParityOdd   = "O"
	ParityMark  = "M"
	ParitySpace = "S"
)

// Spec describes one channel. Only the fields relevant to Kind are read.
type Spec struct {
	Kind Kind `yaml:"kind" json:"kind"`

	// serial
	Device   string  `yaml:"device,omitempty" json:"device,omitempty"`
	Baud     int     `yaml:"baud,omitempty" json:"baud,omitempty"`
	DataBits int     `yaml:"data_bits,omitempty" json:"data_bits,omitempty"`
	Parity   string  `yaml:"parity,omitempty" json:"parity,omitempty"`
	StopBits float64 `yaml:"stop_bits,omitempty" json:"stop_bits,omitempty"`

	// network
	Host       string `yaml:"host,omitempty" json:"host,omitempty"`
	Port       int    `yaml:"port,omitempty" json:"port,omitempty"`
	LocalPort  int    `yaml:"local_port,omitempty" json:"local_port,omitempty"`
	RemotePort int    `yaml:"remote_port,omitempty" json:"remote_port,omitempty"`
	Group      string `yaml:"group,omitempty" json:"group,omitempty"`

	Timeout       time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	BufferSize    int           `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`
	AutoReconnect bool          `yaml:"auto_reconnect" json:"auto_reconnect"`
}

// DefaultSpec returns a TCP client spec with every field at its default.
func DefaultSpec() Spec {
	return Spec{
		Kind:          KindTCPClient,
		Baud:          9600,
		DataBits:      8,
		Parity:        ParityNone,
		StopBits:      1,
		Host:          "127.0.0.1",
		Port:          8080,
		LocalPort:     12345,
		RemotePort:    12346,
		Timeout:       time.Second,
		BufferSize:    4096,
		AutoReconnect: true,
	}
}

// WithDefaults fills zero fields from DefaultSpec. Port 0 is kept for
// tcp_server so tests can bind an ephemeral port.
func (s Spec) WithDefaults() Spec {
	d := DefaultSpec()
	if s.Kind == "" {
		s.Kind = d.Kind
	}
	if s.Baud == 0 {
		s.Baud = d.Baud
	}
	if s.DataBits == 0 {
		s.DataBits = d.DataBits
	}
	if s.Parity == "" {
		s.Parity = d.Parity
	}
	if s.StopBits == 0 {
		s.StopBits = d.StopBits
	}
	if s.Host == "" {
		s.Host = d.Host
	}
	if s.Port == 0 && s.Kind == KindTCPClient {
		s.Port = d.Port
	}
	if s.RemotePort == 0 && (s.Kind == KindUDP || s.Kind == KindUDPMulticast) {
		s.RemotePort = d.RemotePort
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	if s.BufferSize <= 0 {
		s.BufferSize = d.BufferSize
	}
	return s
}

// Validate reports fields that can never produce a working channel.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindSerial:
		if s.Device == "" {
			return fmt.Errorf("serial: device is required")
		}
		if s.Baud <= 0 {
			return fmt.Errorf("serial: invalid baud %d", s.Baud)
		}
		if s.DataBits < 5 || s.DataBits > 8 {
			return fmt.Errorf("serial: invalid data bits %d", s.DataBits)
		}
		switch strings.ToUpper(s.Parity) {
		case ParityNone, ParityEven, ParityOdd, ParityMark, ParitySpace:
		default:
			return fmt.Errorf("serial: invalid parity %q", s.Parity)
		}
		if s.StopBits != 1 && s.StopBits != 1.5 && s.StopBits != 2 {
			return fmt.Errorf("serial: invalid stop bits %v", s.StopBits)
		}
	case KindTCPClient, KindTCPServer:
		if s.Port < 0 || s.Port > 65535 {
			return fmt.Errorf("%s: invalid port %d", s.Kind, s.Port)
		}
	case KindUDP, KindUDPMulticast:
		if s.LocalPort < 0 || s.LocalPort > 65535 || s.RemotePort <= 0 || s.RemotePort > 65535 {
			return fmt.Errorf("%s: invalid ports %d/%d", s.Kind, s.LocalPort, s.RemotePort)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, s.Kind)
	}
	return nil
}

// String is a short human label such as "tcp_client 127.0.0.1:8080".
func (s Spec) String() string {
	switch s.Kind {
	case KindSerial:
		return fmt.Sprintf("serial %s@%d %d%s%v", s.Device, s.Baud, s.DataBits, s.Parity, s.StopBits)
	case KindTCPClient, KindTCPServer:
		return fmt.Sprintf("%s %s:%d", s.Kind, s.Host, s.Port)
	case KindUDP:
		return fmt.Sprintf("udp :%d -> %s:%d", s.LocalPort, s.Host, s.RemotePort)
	case KindUDPMulticast:
		return fmt.Sprintf("udp_multicast %s:%d", s.group(), s.RemotePort)
	}
	return string(s.Kind)
}

func (s Spec) group() string {
	if s.Group != "" {
		return s.Group
	}
	return s.Host
}
