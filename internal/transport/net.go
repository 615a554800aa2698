package transport

import (
	"context"
	"net"
	"sync"
)

// NetClient sends length prefixed packets over a TCP stream or as UDP
// datagrams. The connection is dialled on first use and redialled after any
// failure.
type NetClient struct {
	network string
	addr    string
	dialer  net.Dialer

	mu     sync.Mutex
	conn   net.Conn
	closed bool
	buf    []byte
}

// NewTCPClient returns a client for a TCP light server such as host:7890.
func NewTCPClient(addr string) *NetClient {
	return &NetClient{network: "tcp", addr: addr}
}

// NewUDPClient returns a client that sends one datagram per frame.
func NewUDPClient(addr string) *NetClient {
	return &NetClient{network: "udp", addr: addr}
}

// DisplayFrame writes one packet. Deadlines come from ctx.
func (c *NetClient) DisplayFrame(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrProcessExited
	}

	packet, err := AppendPacket(c.buf[:0], payload)
	if err != nil {
		return err
	}
	c.buf = packet

	if c.conn == nil {
		conn, err := c.dialer.DialContext(ctx, c.network, c.addr)
		if err != nil {
			return lost("dial "+c.addr, err)
		}
		c.conn = conn
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		c.drop()
		return lost("set deadline", err)
	}
	if _, err := c.conn.Write(packet); err != nil {
		c.drop()
		return lost("write "+c.addr, err)
	}
	return nil
}

func (c *NetClient) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close closes the connection. Later sends return ErrProcessExited.
func (c *NetClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.drop()
	return nil
}
