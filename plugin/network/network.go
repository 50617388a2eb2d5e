package network

import (
	"context"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/event"
	"github.com/saylorsolutions/routelog/pkg/router"
	"github.com/saylorsolutions/routelog/plugin"
	"net"
	"time"
)

const (
	TCP = "tcp"
	UDP = "udp"
)

var _ router.Destination = (*Conn)(nil)

// Conn is a destination that writes each event to a network connection.
// The connection is dialed on the first write, and dropped after any write error so the next attempt redials.
type Conn struct {
	log     hclog.Logger
	network string
	address string
	dialer  net.Dialer
	enc     event.Encoding
	conn    net.Conn
}

// NewConn checks address and creates a Conn. No connection is made until the first write.
func NewConn(log hclog.Logger, network, address string, dialTimeout time.Duration, enc event.Encoding) (*Conn, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	switch network {
	case TCP, UDP:
	default:
		return nil, fmt.Errorf("%w: unsupported network '%s'", plugin.ErrArgs, network)
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, fmt.Errorf("%w: invalid address '%s': %v", plugin.ErrArgs, address, err)
	}
	return &Conn{
		log:     log.Named(network).With("address", address),
		network: network,
		address: address,
		dialer:  net.Dialer{Timeout: dialTimeout},
		enc:     enc,
	}, nil
}

func (c *Conn) Write(ctx context.Context, out event.Output) error {
	data, err := c.enc.Encode(out)
	if err != nil {
		return err
	}
	if c.conn == nil {
		conn, err := c.dialer.DialContext(ctx, c.network, c.address)
		if err != nil {
			return err
		}
		c.log.Debug("Connected", "local", conn.LocalAddr().String())
		c.conn = conn
	}
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		c.reset()
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		c.log.Debug("Write failed, dropping connection", "error", err)
		c.reset()
		return err
	}
	return nil
}

func (c *Conn) reset() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func Plugin() plugin.Plugin {
	return new(netPlugin)
}

type netPlugin struct{}

func (*netPlugin) ID() string {
	return "net"
}

func (*netPlugin) Stopping() error {
	return nil
}

func factory(network string) plugin.DestinationFunc {
	return func(_ context.Context, log hclog.Logger, args plugin.Args) (router.Destination, error) {
		address, err := args.Required("address")
		if err != nil {
			return nil, err
		}
		timeout, err := args.Duration("dial_timeout", 5*time.Second)
		if err != nil {
			return nil, err
		}
		enc, err := args.Encoding()
		if err != nil {
			return nil, err
		}
		return NewConn(log, network, address, timeout, enc)
	}
}

func (*netPlugin) Register(reg *plugin.Registration) {
	reg.RegisterDestination("net", "TCP", factory(TCP))
	reg.DocumentDestination("net", "TCP", `net.TCP {address, dial_timeout, format}

This destination writes each event as a line to a TCP connection to address, like "localhost:5140".
The connection is made on the first event, and remade after a failed write. The dial_timeout defaults to "5s".`)
	reg.RegisterDestination("net", "UDP", factory(UDP))
	reg.DocumentDestination("net", "UDP", `net.UDP {address, dial_timeout, format}

This destination sends each event as a line in its own UDP datagram to address.
Delivery isn't confirmed, so events may be silently lost.`)
}
