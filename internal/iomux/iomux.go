// Package iomux adapts the OS readiness-notification primitive behind a
// small register/wait/enumerate interface, mirroring the original C source's
// kqueue/select iomux.c shim with golang.org/x/sys/unix's poll(2) binding.
// Level-triggered semantics are sufficient: the event loop re-enters ready
// fds every tick until their buffers drain.
package iomux

import (
	"golang.org/x/sys/unix"
)

// Events is a bitmask of readiness conditions, mirroring IOMUX_READ/WRITE.
type Events uint8

const (
	Read Events = 1 << iota
	Write
)

// Ready is one (fd, ready-bits) pair produced by a Wait call.
type Ready struct {
	Fd     int
	Events Events
}

// Mux registers file descriptors for readiness notification and reports
// which of them became ready on each Wait call.
type Mux struct {
	fds    map[int]Events
	pollFd []unix.PollFd
	idx    []int // pollFd[i] corresponds to fd idx[i]
}

// New creates an empty multiplexer.
func New() *Mux {
	return &Mux{fds: make(map[int]Events)}
}

// Register adds fd to the watch set for the given events. Re-registering an
// already-watched fd replaces its event mask.
func (m *Mux) Register(fd int, events Events) {
	m.fds[fd] = events
}

// Unregister removes fd from the watch set.
func (m *Mux) Unregister(fd int) {
	delete(m.fds, fd)
}

// Wait blocks until at least one registered fd is ready or timeoutMs
// elapses. timeoutMs < 0 waits indefinitely; 0 polls without blocking.
// Returns the ready (fd, events) pairs observed in this call.
func (m *Mux) Wait(timeoutMs int) ([]Ready, error) {
	m.pollFd = m.pollFd[:0]
	m.idx = m.idx[:0]

	for fd, ev := range m.fds {
		var mask int16
		if ev&Read != 0 {
			mask |= unix.POLLIN
		}
		if ev&Write != 0 {
			mask |= unix.POLLOUT
		}
		m.pollFd = append(m.pollFd, unix.PollFd{Fd: int32(fd), Events: mask})
		m.idx = append(m.idx, fd)
	}

	n, err := unix.Poll(m.pollFd, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	ready := make([]Ready, 0, n)
	for i, pfd := range m.pollFd {
		if pfd.Revents == 0 {
			continue
		}
		var ev Events
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			ev |= Read
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			ev |= Write
		}
		if ev != 0 {
			ready = append(ready, Ready{Fd: m.idx[i], Events: ev})
		}
	}
	return ready, nil
}
