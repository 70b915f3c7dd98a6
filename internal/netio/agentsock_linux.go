//go:build linux

package netio

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// UnixAgentConn — §6 agent transport over a Unix domain datagram socket
// -------------------------------------------------------------------------

// UnixAgentConn implements AgentConn over AF_UNIX SOCK_DGRAM, the
// in-process stand-in for the real agent's netlink-over-Unix control
// channel (§ Glossary "Agent": "the local control-plane daemon
// consuming exception packets via a Unix socket").
type UnixAgentConn struct {
	fd         int
	peerAddr   unix.Sockaddr
	socketPath string
	closed     bool
	mu         sync.Mutex
}

// NewUnixAgentConn opens a SOCK_DGRAM socket connected to socketPath,
// matching packet_socket_init's shape in §6. The socket is not bound to
// a local address.
func NewUnixAgentConn(socketPath string) (*UnixAgentConn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("netio: agent socket: %w", err)
	}

	peer := &unix.SockaddrUnix{Name: socketPath}
	if err := unix.Connect(fd, peer); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("netio: agent connect %s: %w", socketPath, err)
	}

	return &UnixAgentConn{fd: fd, peerAddr: peer, socketPath: socketPath}, nil
}

// Send implements AgentConn.Send: frames payload with vifIdx and writes
// it to the connected agent socket.
func (c *UnixAgentConn) Send(vifIdx int32, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSocketClosed
	}

	buf := make([]byte, frameHeaderLen+len(payload))
	frame := encodeFrame(buf, vifIdx, payload)
	if err := unix.Sendto(c.fd, frame, 0, c.peerAddr); err != nil {
		return fmt.Errorf("netio: agent send: %w", err)
	}
	return nil
}

// Recv implements AgentConn.Recv: reads one datagram and decodes its
// vif-index header.
func (c *UnixAgentConn) Recv(buf []byte) (int32, int, error) {
	c.mu.Lock()
	closed := c.closed
	fd := c.fd
	c.mu.Unlock()
	if closed {
		return 0, 0, ErrSocketClosed
	}

	n, _, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("netio: agent recv: %w", err)
	}
	idx, payload, err := decodeFrame(buf[:n])
	if err != nil {
		return 0, 0, err
	}
	return idx, len(payload), nil
}

// Close releases the underlying socket.
func (c *UnixAgentConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := unix.Close(c.fd); err != nil {
		return fmt.Errorf("netio: agent close: %w", err)
	}
	return nil
}
