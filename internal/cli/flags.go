package cli

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rmax-ai/sensorsim/pkg/transport"
)

// transportFlags override the config's transport; only flags given on the
// command line are applied.
type transportFlags struct {
	kind       string
	host       string
	port       int
	device     string
	baud       int
	localPort  int
	remotePort int
	group      string
	timeout    time.Duration
}

func (f *transportFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.kind, "transport", "t", "", "transport kind (serial|tcp_client|tcp_server|udp|udp_multicast)")
	fs.StringVar(&f.host, "host", "", "peer host, or bind address for tcp_server")
	fs.IntVarP(&f.port, "port", "p", 0, "TCP port")
	fs.StringVar(&f.device, "device", "", "serial device path")
	fs.IntVar(&f.baud, "baud", 0, "serial baud rate")
	fs.IntVar(&f.localPort, "local-port", 0, "UDP local port (0 picks one)")
	fs.IntVar(&f.remotePort, "remote-port", 0, "UDP remote port")
	fs.StringVar(&f.group, "group", "", "multicast group")
	fs.DurationVar(&f.timeout, "connect-timeout", 0, "connect/accept timeout")
}

func (f *transportFlags) apply(cmd *cobra.Command, spec *transport.Spec) error {
	changed := cmd.Flags().Changed
	if changed("transport") {
		kind, err := transport.ParseKind(f.kind)
		if err != nil {
			return err
		}
		spec.Kind = kind
	}
	if changed("host") {
		spec.Host = f.host
	}
	if changed("port") {
		spec.Port = f.port
	}
	if changed("device") {
		spec.Device = f.device
	}
	if changed("baud") {
		spec.Baud = f.baud
	}
	if changed("local-port") {
		spec.LocalPort = f.localPort
	}
	if changed("remote-port") {
		spec.RemotePort = f.remotePort
	}
	if changed("group") {
		spec.Group = f.group
	}
	if changed("connect-timeout") {
		spec.Timeout = f.timeout
	}
	*spec = spec.WithDefaults()
	return spec.Validate()
}

// outputFlags pick where reports go.
type outputFlags struct {
	report string
	csv    string
}

func (f *outputFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.report, "report", "", "write the report to this file (format from extension: .txt, .csv, .json)")
	fs.StringVar(&f.csv, "csv", "", "also write a CSV report to this file")
}
