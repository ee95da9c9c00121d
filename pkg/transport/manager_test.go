package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"
)

func TestManager_TCPServerAcceptTimeout(t *testing.T) {
	m := NewManager()
	spec := Spec{Kind: KindTCPServer, Host: "127.0.0.1", Port: 0, Timeout: 500 * time.Millisecond}

	start := time.Now()
	if m.Connect(context.Background(), spec) {
		t.Fatal("expected connect to fail without a peer")
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond || elapsed > 3*time.Second {
		t.Errorf("connect returned after %v; want about 500ms", elapsed)
	}
	if m.Connected() {
		t.Error("manager should be disconnected after a failed connect")
	}
	if m.LastError() == nil {
		t.Error("expected LastError to be recorded")
	}
}

func TestManager_TCPServerAcceptsPeer(t *testing.T) {
	// Reserve a port, release it, then let the manager listen on it.
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := reserved.Addr().(*net.TCPAddr).Port
	reserved.Close()

	received := make(chan string, 1)
	go func() {
		var conn net.Conn
		var err error
		for i := 0; i < 50; i++ {
			conn, err = net.Dial("tcp", hostPort("127.0.0.1", port))
			if err == nil {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		if err != nil {
			received <- ""
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString(';')
		received <- line
	}()

	m := NewManager()
	if !m.Connect(context.Background(), Spec{Kind: KindTCPServer, Host: "127.0.0.1", Port: port, Timeout: 3 * time.Second}) {
		t.Fatalf("connect failed: %v", m.LastError())
	}
	defer m.Disconnect()

	if !m.Send([]byte("$1.00;")) {
		t.Fatalf("send failed: %v", m.LastError())
	}
	select {
	case got := <-received:
		if got != "$1.00;" {
			t.Errorf("peer got %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("peer never received the frame")
	}
}

func TestManager_TCPClientLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var wg sync.WaitGroup
	var got []byte
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		got, _ = io.ReadAll(conn)
	}()

	m := NewManager()
	port := ln.Addr().(*net.TCPAddr).Port
	if !m.Connect(context.Background(), Spec{Kind: KindTCPClient, Host: "127.0.0.1", Port: port}) {
		t.Fatalf("connect failed: %v", m.LastError())
	}
	for _, f := range []string{"$1;", "$2;", "$3;"} {
		if !m.Send([]byte(f)) {
			t.Fatalf("send %s failed: %v", f, m.LastError())
		}
	}
	m.Disconnect()
	wg.Wait()

	if string(got) != "$1;$2;$3;" {
		t.Errorf("received %q", got)
	}
}

func TestManager_TCPClientRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	m := NewManager()
	if m.Connect(context.Background(), Spec{Kind: KindTCPClient, Host: "127.0.0.1", Port: port, Timeout: 200 * time.Millisecond}) {
		t.Fatal("expected connect to a closed port to fail")
	}
	if m.Connected() {
		t.Error("manager should stay disconnected")
	}
}

func TestManager_UDPLoopback(t *testing.T) {
	sink, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer sink.Close()

	m := NewManager()
	spec := Spec{
		Kind:       KindUDP,
		Host:       "127.0.0.1",
		LocalPort:  0,
		RemotePort: sink.LocalAddr().(*net.UDPAddr).Port,
	}
	if !m.Connect(context.Background(), spec) {
		t.Fatalf("connect failed: %v", m.LastError())
	}
	defer m.Disconnect()

	if !m.Send([]byte("$0.5000;")) {
		t.Fatalf("send failed: %v", m.LastError())
	}
	sink.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := sink.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "$0.5000;" {
		t.Errorf("received %q", buf[:n])
	}
}

func TestManager_UDPMulticast(t *testing.T) {
	m := NewManager()
	spec := Spec{Kind: KindUDPMulticast, Group: "239.255.0.1", RemotePort: 45678}
	if !m.Connect(context.Background(), spec) {
		t.Skipf("multicast unavailable here: %v", m.LastError())
	}
	defer m.Disconnect()
	if !m.Send([]byte("$1;")) {
		t.Skipf("multicast send unavailable here: %v", m.LastError())
	}
}

func TestManager_MulticastRejectsUnicastGroup(t *testing.T) {
	m := NewManager()
	if m.Connect(context.Background(), Spec{Kind: KindUDPMulticast, Group: "10.0.0.1", RemotePort: 5000}) {
		t.Fatal("expected a unicast group to be rejected")
	}
}

func TestManager_SendWhileDisconnected(t *testing.T) {
	m := NewManager()
	if m.Send([]byte("$1;")) {
		t.Fatal("send on a disconnected manager must fail")
	}
	if !errors.Is(m.LastError(), ErrNotConnected) {
		t.Errorf("LastError = %v; want ErrNotConnected", m.LastError())
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	m := NewManager()
	m.Disconnect()
	m.Disconnect()

	sink, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer sink.Close()
	if !m.Connect(context.Background(), Spec{Kind: KindUDP, RemotePort: sink.LocalAddr().(*net.UDPAddr).Port}) {
		t.Fatalf("connect failed: %v", m.LastError())
	}
	m.Disconnect()
	m.Disconnect()
	if m.Connected() {
		t.Error("expected disconnected")
	}
}

func TestManager_UnsupportedKind(t *testing.T) {
	m := NewManager()
	if m.Connect(context.Background(), Spec{Kind: "carrier_pigeon"}) {
		t.Fatal("expected failure")
	}
	if !errors.Is(m.LastError(), ErrUnsupportedKind) {
		t.Errorf("LastError = %v; want ErrUnsupportedKind", m.LastError())
	}
}

type fakePort struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Short writes exercise the retry loop.
	n := len(b)
	if n > 2 {
		n = 2
	}
	p.buf = append(p.buf, b[:n]...)
	return n, nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func stubSerial(t *testing.T, devices []string, port *fakePort) *serial.Mode {
	t.Helper()
	origPorts, origOpen := serialPorts, serialOpen
	t.Cleanup(func() { serialPorts, serialOpen = origPorts, origOpen })

	var captured serial.Mode
	serialPorts = func() ([]string, error) { return devices, nil }
	serialOpen = func(device string, mode *serial.Mode) (io.WriteCloser, error) {
		captured = *mode
		return port, nil
	}
	return &captured
}

func TestManager_SerialDeviceMissing(t *testing.T) {
	stubSerial(t, []string{"/dev/ttyUSB0"}, &fakePort{})

	m := NewManager()
	if m.Connect(context.Background(), Spec{Kind: KindSerial, Device: "/dev/ttyUSB9"}) {
		t.Fatal("expected missing device to fail")
	}
	if !errors.Is(m.LastError(), ErrDeviceNotFound) {
		t.Errorf("LastError = %v; want ErrDeviceNotFound", m.LastError())
	}
}

func TestManager_SerialWritesFrames(t *testing.T) {
	port := &fakePort{}
	mode := stubSerial(t, []string{"/dev/ttyUSB0"}, port)

	m := NewManager()
	spec := Spec{Kind: KindSerial, Device: "/dev/ttyUSB0", Baud: 115200, Parity: "E", StopBits: 2}
	if !m.Connect(context.Background(), spec) {
		t.Fatalf("connect failed: %v", m.LastError())
	}
	if mode.BaudRate != 115200 || mode.DataBits != 8 || mode.Parity != serial.EvenParity || mode.StopBits != serial.TwoStopBits {
		t.Errorf("unexpected mode %+v", *mode)
	}
	if !m.Send([]byte("$1.000,2.000,3.000;")) {
		t.Fatalf("send failed: %v", m.LastError())
	}
	if string(port.buf) != "$1.000,2.000,3.000;" {
		t.Errorf("port received %q", port.buf)
	}
	m.Disconnect()
	if !port.closed {
		t.Error("expected port to be closed")
	}
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"defaults", DefaultSpec(), false},
		{"serial no device", Spec{Kind: KindSerial}.WithDefaults(), true},
		{"serial bad parity", Spec{Kind: KindSerial, Device: "COM3", Parity: "X"}.WithDefaults(), true},
		{"serial bad stop bits", Spec{Kind: KindSerial, Device: "COM3", StopBits: 3}.WithDefaults(), true},
		{"serial 1.5 stop bits", Spec{Kind: KindSerial, Device: "COM3", StopBits: 1.5}.WithDefaults(), false},
		{"tcp port range", Spec{Kind: KindTCPClient, Port: 70000}.WithDefaults(), true},
		{"udp", Spec{Kind: KindUDP}.WithDefaults(), false},
		{"unknown", Spec{Kind: "smoke"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"serial":        KindSerial,
		"TCP":           KindTCPClient,
		"tcp_server":    KindTCPServer,
		"udp":           KindUDP,
		"multicast":     KindUDPMulticast,
		"udp_multicast": KindUDPMulticast,
	}
	for in, want := range tests {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseKind("bluetooth"); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("expected ErrUnsupportedKind, got %v", err)
	}
}

func TestManager_ResponsiveWhileAccepting(t *testing.T) {
	m := NewManager()
	spec := Spec{Kind: KindTCPServer, Host: "127.0.0.1", Port: 0, Timeout: 1500 * time.Millisecond}

	done := make(chan bool)
	go func() { done <- m.Connect(context.Background(), spec) }()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	_ = m.Connected()
	_ = m.LastError()
	_ = m.Spec()
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("accessors took %v while accept was pending", elapsed)
	}
	if <-done {
		t.Fatal("expected connect to time out without a peer")
	}
}

type fakeBufferConn struct {
	size int
}

func (c *fakeBufferConn) SetWriteBuffer(bytes int) error {
	c.size = bytes
	return nil
}

func TestSetWriteBuffer(t *testing.T) {
	c := &fakeBufferConn{}
	if setWriteBuffer(c, 0) || c.size != 0 {
		t.Errorf("size 0 should leave the buffer alone, got %d", c.size)
	}
	if !setWriteBuffer(c, 1<<20) || c.size != 1<<20 {
		t.Errorf("size = %d; want %d", c.size, 1<<20)
	}
	if setWriteBuffer(struct{}{}, 1024) {
		t.Error("expected false for a conn without SetWriteBuffer")
	}
}

func TestManager_UDPMulticastBufferSize(t *testing.T) {
	m := NewManager()
	spec := Spec{Kind: KindUDPMulticast, Group: "239.255.0.2", RemotePort: 45679, BufferSize: 64 * 1024}
	if !m.Connect(context.Background(), spec) {
		t.Skipf("multicast unavailable here: %v", m.LastError())
	}
	defer m.Disconnect()
	if got := m.Spec().BufferSize; got != 64*1024 {
		t.Errorf("BufferSize = %d", got)
	}
}
