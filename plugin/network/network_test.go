package network

import (
	"bufio"
	"context"
	"github.com/saylorsolutions/routelog/pkg/event"
	"github.com/saylorsolutions/routelog/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"testing"
	"time"
)

func TestConn_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	received := make(chan string, 10)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer func() { _ = conn.Close() }()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					received <- scanner.Text()
				}
			}()
		}
	}()

	c, err := NewConn(nil, TCP, ln.Addr().String(), time.Second, event.EncodeLine)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, event.Output{Payload: "a"}))
	require.NoError(t, c.Write(ctx, event.Output{Payload: "b"}))

	for _, expected := range []string{"a", "b"} {
		select {
		case got := <-received:
			assert.Equal(t, expected, got)
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for", expected)
		}
	}

	// A dropped connection is redialed.
	c.reset()
	require.NoError(t, c.Write(ctx, event.Output{Payload: "c"}))
	select {
	case got := <-received:
		assert.Equal(t, "c", got)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for c")
	}
	assert.NoError(t, c.Close())
}

func TestConn_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c, err := NewConn(nil, TCP, addr, 100*time.Millisecond, event.EncodeLine)
	require.NoError(t, err)
	assert.Error(t, c.Write(context.Background(), event.Output{Payload: "a"}))
	assert.Nil(t, c.conn)
	assert.NoError(t, c.Close())
}

func TestConn_UDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = pc.Close() }()

	c, err := NewConn(nil, UDP, pc.LocalAddr().String(), time.Second, event.EncodeJSON)
	require.NoError(t, err)
	require.NoError(t, c.Write(context.Background(), event.Output{Destination: "udp", Payload: "a", Line: 1}))

	buf := make([]byte, 1024)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, `{"destination":"udp","payload":"a","line":1}`+"\n", string(buf[:n]))
	assert.NoError(t, c.Close())
}

func TestNewConn_Errors(t *testing.T) {
	tests := map[string]struct {
		network string
		address string
	}{
		"bad network": {network: "unix", address: "localhost:1"},
		"no port":     {network: TCP, address: "localhost"},
		"empty":       {network: UDP, address: ""},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			_, err := NewConn(nil, tc.network, tc.address, time.Second, event.EncodeLine)
			assert.ErrorIs(t, err, plugin.ErrArgs)
		})
	}
}

func TestPlugin(t *testing.T) {
	reg := plugin.NewRegistration()
	Plugin().Register(reg)

	d, err := reg.OpenDestination(context.Background(), nil, "net.UDP", plugin.Args{"address": "127.0.0.1:9"})
	require.NoError(t, err)
	assert.NoError(t, d.Close())

	_, err = reg.OpenDestination(context.Background(), nil, "net.TCP", plugin.Args{"address": "127.0.0.1:9", "dial_timeout": "later"})
	assert.ErrorIs(t, err, plugin.ErrArgs)
	_, err = reg.OpenDestination(context.Background(), nil, "net.TCP", nil)
	assert.ErrorIs(t, err, plugin.ErrArgs)
}
