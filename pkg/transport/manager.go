package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"golang.org/x/net/ipv4"
)

var (
	ErrNotConnected    = errors.New("transport not connected")
	ErrDeviceNotFound  = errors.New("serial device not found")
	ErrUnsupportedKind = errors.New("unsupported transport kind")
)

// Seams for serial access; tests swap them for fakes.
var (
	serialPorts = serial.GetPortsList
	serialOpen  = func(device string, mode *serial.Mode) (io.WriteCloser, error) {
		return serial.Open(device, mode)
	}
)

// channel is one open connection of any kind.
type channel interface {
	write(b []byte, timeout time.Duration) error
	close() error
}

// Manager owns at most one open channel. Connect and Send report failure as
// false and keep the cause in LastError; they never return errors or panic.
type Manager struct {
	logger *slog.Logger

	// connectMu serializes Connect; mu guards the fields below and is not
	// held while dialing or accepting.
	connectMu sync.Mutex

	mu       sync.Mutex
	spec     Spec
	ch       channel
	listener net.Listener
	lastErr  error
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the channel described by spec, closing any previous one
// first. On failure the manager is left disconnected.
func (m *Manager) Connect(ctx context.Context, spec Spec) bool {
	spec = spec.WithDefaults()

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	m.closeLocked()
	m.mu.Unlock()

	if err := spec.Validate(); err != nil {
		return m.fail(spec, err)
	}

	var (
		ch  channel
		ln  net.Listener
		err error
	)
	switch spec.Kind {
	case KindSerial:
		ch, err = openSerial(spec)
	case KindTCPClient:
		ch, err = dialTCP(ctx, spec)
	case KindTCPServer:
		ch, ln, err = acceptTCP(ctx, spec)
	case KindUDP:
		ch, err = openUDP(spec)
	case KindUDPMulticast:
		ch, err = openMulticast(spec)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedKind, spec.Kind)
	}
	if err != nil {
		return m.fail(spec, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.spec = spec
	m.ch = ch
	m.listener = ln
	m.lastErr = nil
	m.logger.Info("transport connected", "kind", spec.Kind, "target", spec.String())
	return true
}

func (m *Manager) fail(spec Spec, err error) bool {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.logger.Warn("transport connect failed", "kind", spec.Kind, "target", spec.String(), "error", err)
	return false
}

// Send writes b in full. A failure leaves the channel open.
func (m *Manager) Send(b []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch == nil {
		m.lastErr = ErrNotConnected
		return false
	}
	if err := m.ch.write(b, m.spec.Timeout); err != nil {
		m.lastErr = fmt.Errorf("send: %w", err)
		m.logger.Debug("transport send failed", "kind", m.spec.Kind, "error", err)
		return false
	}
	return true
}

// Disconnect closes the channel and any retained listener. Calling it
// while disconnected does nothing.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch == nil && m.listener == nil {
		return
	}
	m.closeLocked()
	m.logger.Info("transport disconnected", "kind", m.spec.Kind)
}

func (m *Manager) closeLocked() {
	if m.ch != nil {
		if err := m.ch.close(); err != nil {
			m.logger.Debug("transport close", "error", err)
		}
		m.ch = nil
	}
	if m.listener != nil {
		m.listener.Close()
		m.listener = nil
	}
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ch != nil
}

// LastError is the cause of the most recent failed Connect or Send, or nil
// after a successful Connect.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Spec returns the spec of the current or last successful connection.
func (m *Manager) Spec() Spec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spec
}

// --- serial ---

type serialChannel struct {
	port io.WriteCloser
}

func (c *serialChannel) write(b []byte, _ time.Duration) error {
	for len(b) > 0 {
		n, err := c.port.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

func (c *serialChannel) close() error { return c.port.Close() }

func openSerial(spec Spec) (channel, error) {
	ports, err := serialPorts()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	found := false
	for _, p := range ports {
		if p == spec.Device {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, spec.Device)
	}
	port, err := serialOpen(spec.Device, serialMode(spec))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", spec.Device, err)
	}
	return &serialChannel{port: port}, nil
}

func serialMode(spec Spec) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: spec.Baud,
		DataBits: spec.DataBits,
	}
	switch strings.ToUpper(spec.Parity) {
	case ParityEven:
		mode.Parity = serial.EvenParity
	case ParityOdd:
		mode.Parity = serial.OddParity
	case ParityMark:
		mode.Parity = serial.MarkParity
	case ParitySpace:
		mode.Parity = serial.SpaceParity
	default:
		mode.Parity = serial.NoParity
	}
	switch spec.StopBits {
	case 1.5:
		mode.StopBits = serial.OnePointFiveStopBits
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}
	return mode
}

// --- tcp ---

type streamChannel struct {
	conn net.Conn
}

func (c *streamChannel) write(b []byte, timeout time.Duration) error {
	if timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	_, err := c.conn.Write(b)
	return err
}

func (c *streamChannel) close() error { return c.conn.Close() }

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func dialTCP(ctx context.Context, spec Spec) (channel, error) {
	d := net.Dialer{Timeout: spec.Timeout}
	conn, err := d.DialContext(ctx, "tcp", hostPort(spec.Host, spec.Port))
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &streamChannel{conn: conn}, nil
}

// acceptTCP waits at most spec.Timeout for a single peer. The listener is
// returned alongside the peer so it can be closed on disconnect.
func acceptTCP(ctx context.Context, spec Spec) (channel, net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", hostPort(spec.Host, spec.Port))
	if err != nil {
		return nil, nil, fmt.Errorf("listen: %w", err)
	}

	deadline := time.Now().Add(spec.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if tl, ok := ln.(*net.TCPListener); ok {
		tl.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		ln.Close()
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("accept: %w", ctx.Err())
		}
		return nil, nil, fmt.Errorf("accept within %s: %w", spec.Timeout, err)
	}
	return &streamChannel{conn: conn}, ln, nil
}

// --- udp ---

type udpChannel struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
}

func (c *udpChannel) write(b []byte, timeout time.Duration) error {
	if timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	_, err := c.conn.WriteToUDP(b, c.remote)
	return err
}

func (c *udpChannel) close() error { return c.conn.Close() }

func openUDP(spec Spec) (channel, error) {
	remote, err := net.ResolveUDPAddr("udp", hostPort(spec.Host, spec.RemotePort))
	if err != nil {
		return nil, fmt.Errorf("resolve remote: %w", err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: spec.LocalPort})
	if err != nil {
		return nil, fmt.Errorf("bind :%d: %w", spec.LocalPort, err)
	}
	setWriteBuffer(conn, spec.BufferSize)
	return &udpChannel{conn: conn, remote: remote}, nil
}

type writeBufferSetter interface {
	SetWriteBuffer(bytes int) error
}

// setWriteBuffer sizes the socket send buffer when size is positive and the
// conn supports it. The OS may clamp the value.
func setWriteBuffer(conn any, size int) bool {
	wb, ok := conn.(writeBufferSetter)
	if !ok || size <= 0 {
		return false
	}
	return wb.SetWriteBuffer(size) == nil
}

type multicastChannel struct {
	conn  *ipv4.PacketConn
	group *net.UDPAddr
	dst   *net.UDPAddr
}

func (c *multicastChannel) write(b []byte, timeout time.Duration) error {
	if timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	_, err := c.conn.WriteTo(b, nil, c.dst)
	return err
}

func (c *multicastChannel) close() error {
	c.conn.LeaveGroup(nil, c.group)
	return c.conn.Close()
}

func openMulticast(spec Spec) (channel, error) {
	ip := net.ParseIP(spec.group()).To4()
	if ip == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("invalid multicast group %q", spec.group())
	}
	group := &net.UDPAddr{IP: ip}

	raw, err := net.ListenPacket("udp4", hostPort("0.0.0.0", spec.LocalPort))
	if err != nil {
		return nil, fmt.Errorf("bind :%d: %w", spec.LocalPort, err)
	}
	setWriteBuffer(raw, spec.BufferSize)
	p := ipv4.NewPacketConn(raw)
	if err := joinGroup(p, group); err != nil {
		p.Close()
		return nil, err
	}
	p.SetMulticastLoopback(true)
	p.SetMulticastTTL(1)
	return &multicastChannel{
		conn:  p,
		group: group,
		dst:   &net.UDPAddr{IP: ip, Port: spec.RemotePort},
	}, nil
}

// joinGroup joins on every up, multicast-capable interface and falls back
// to the system default when none accepts the membership.
func joinGroup(p *ipv4.PacketConn, group *net.UDPAddr) error {
	ifaces, _ := net.Interfaces()
	joined := 0
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := p.JoinGroup(ifi, group); err == nil {
			joined++
		}
	}
	if joined > 0 {
		return nil
	}
	if err := p.JoinGroup(nil, group); err != nil {
		return fmt.Errorf("join %s: %w", group.IP, err)
	}
	return nil
}
