package link

import (
	"bufio"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeProbe accepts one connection and hands it to the test.
func fakeProbe(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	conns := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		conns <- c
	}()
	return ln.Addr().String(), conns
}

func TestTCPLinkProtocol(t *testing.T) {
	addr, conns := fakeProbe(t)
	c := &collector{}
	l := NewTCP(Options{Address: addr, Logger: slog.Default()}, c)
	require.NoError(t, l.Start())

	var dev net.Conn
	select {
	case dev = <-conns:
	case <-time.After(time.Second):
		t.Fatal("probe never saw a connection")
	}
	defer dev.Close()
	cmds := bufio.NewReader(dev)

	require.NoError(t, l.SetSampleRate(50))
	line, err := cmds.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "F50\n", line)

	_, err = dev.Write([]byte("1.25\r\n\n3.5\nbad\n7"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(c.Raw()) == 3 }, time.Second, time.Millisecond)
	require.Equal(t, []string{"1.25", "3.5", "bad"}, c.Raw())

	require.NoError(t, l.StopSampling())
	line, err = cmds.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "S\n", line)

	require.NoError(t, l.Stop())
	require.NoError(t, l.Stop())
	require.NoError(t, l.StopSampling())
	require.ErrorIs(t, l.SetSampleRate(1), ErrNotConnected)
}

func TestTCPLinkDropsOversizedLines(t *testing.T) {
	addr, conns := fakeProbe(t)
	c := &collector{}
	l := NewTCP(Options{Address: addr, Logger: slog.Default()}, c)
	require.NoError(t, l.Start())
	defer l.Stop()

	var dev net.Conn
	select {
	case dev = <-conns:
	case <-time.After(time.Second):
		t.Fatal("probe never saw a connection")
	}
	defer dev.Close()

	noise := strings.Repeat("9", 4*maxLineLength)
	_, err := dev.Write([]byte("1\n" + noise + "\n2\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(c.Raw()) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, []string{"1", "2"}, c.Raw())
	require.Equal(t, uint64(1), l.(*lineLink).oversized.Load())
}

func TestTCPLinkUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	l := NewTCP(Options{Address: addr, DialTimeout: 200 * time.Millisecond, Logger: slog.Default()}, &collector{})
	require.Error(t, l.Start())
	require.NoError(t, l.Stop())
}

func TestNewSelectsLink(t *testing.T) {
	l, err := New(Options{Kind: KindSerial, Simulation: true}, &collector{})
	require.NoError(t, err)
	require.IsType(t, &Simulator{}, l)

	l, err = New(Options{}, &collector{})
	require.NoError(t, err)
	require.IsType(t, &lineLink{}, l)

	_, err = New(Options{Kind: KindSerial}, &collector{})
	require.Error(t, err)

	l, err = New(Options{Kind: KindSerial, DeviceID: "/dev/ttyUSB0"}, &collector{})
	require.NoError(t, err)
	require.Equal(t, "serial /dev/ttyUSB0", l.(*lineLink).name)

	_, err = New(Options{Kind: "carrier-pigeon"}, &collector{})
	require.ErrorIs(t, err, ErrUnknownKind)

	l, err = New(Options{Kind: KindADC}, &collector{})
	require.NoError(t, err)
	require.IsType(t, &ADC{}, l)
}

func TestSampleCommand(t *testing.T) {
	require.Equal(t, "F0.5\n", sampleCommand(0.5))
	require.Equal(t, "F1000\n", sampleCommand(1000))
}
