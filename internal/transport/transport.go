// Package transport wraps the raw non-blocking TCP socket calls the event
// loop needs: listen, accept, read and write, each reporting would-block
// and interrupted as distinct, retryable outcomes rather than as errors.
// This mirrors original_source/net.c's net_tcp_listen/accept/send/recv,
// translated from BSD sockets to golang.org/x/sys/unix.
package transport

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock means the call would have blocked; the caller should retry
// once the multiplexer reports the fd ready again.
var ErrWouldBlock = errors.New("transport: would block")

// ErrInterrupted means the call was interrupted by a signal; the caller
// should simply retry immediately.
var ErrInterrupted = errors.New("transport: interrupted")

// ErrPeerClosed means the remote end closed the connection (a zero-length
// read on a stream socket).
var ErrPeerClosed = errors.New("transport: peer closed connection")

// Listen creates a non-blocking TCP listening socket bound to host:port.
func Listen(host string, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("transport: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("transport: setsockopt SO_REUSEADDR: %w", err)
	}

	addr, err := resolveIPv4(host)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}

	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("transport: bind %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("transport: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("transport: set nonblocking: %w", err)
	}

	return fd, nil
}

// Accept accepts one pending connection on listenFd, returning a
// non-blocking client socket. ErrWouldBlock means nothing is pending.
func Accept(listenFd int) (int, error) {
	fd, _, err := unix.Accept(listenFd)
	if err != nil {
		return -1, classifyErrno(err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("transport: set nonblocking: %w", err)
	}
	return fd, nil
}

// Recv reads into buf, returning the byte count. ErrWouldBlock means no
// data is currently available; ErrPeerClosed means the peer shut the
// connection down; any other error is fatal to the connection.
func Recv(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		return 0, classifyErrno(err)
	}
	if n == 0 {
		return 0, ErrPeerClosed
	}
	return n, nil
}

// Send writes buf, returning the byte count actually written. A partial
// write is not an error; the caller is responsible for retaining the
// unwritten tail and retrying later.
func Send(fd int, buf []byte) (int, error) {
	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, classifyErrno(err)
	}
	return n, nil
}

// Close closes fd.
func Close(fd int) error {
	return unix.Close(fd)
}

// LocalPort returns the port fd is bound to, useful after Listen was asked
// for port 0 (let the kernel pick an ephemeral port).
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("transport: getsockname: %w", err)
	}
	v4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("transport: unexpected sockaddr type %T", sa)
	}
	return v4.Port, nil
}

func classifyErrno(err error) error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.EAGAIN, unix.EWOULDBLOCK:
			return ErrWouldBlock
		case unix.EINTR:
			return ErrInterrupted
		case unix.ECONNRESET:
			return ErrPeerClosed
		}
	}
	return err
}

func resolveIPv4(host string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(host)
	if ip == nil {
		return out, fmt.Errorf("transport: invalid address %q", host)
	}
	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("transport: %q is not an IPv4 address", host)
	}
	copy(out[:], v4)
	return out, nil
}
