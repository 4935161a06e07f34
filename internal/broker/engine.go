package broker

import (
	"fmt"
	"log"
	"time"

	"github.com/codepr/tera-go/internal/iomux"
	"github.com/codepr/tera-go/internal/mqtt"
	"github.com/codepr/tera-go/internal/transport"
)

// Start binds the listening socket and registers it with the multiplexer.
// Must be called once before Run.
func (c *Context) Start(host string, port int) error {
	fd, err := transport.Listen(host, port)
	if err != nil {
		return fmt.Errorf("broker: start: %w", err)
	}
	c.listenFd = fd
	c.mux = iomux.New()
	c.mux.Register(fd, iomux.Read)
	c.lastSweep = time.Now()
	return nil
}

// LocalPort returns the port the listening socket is bound to.
func (c *Context) LocalPort() (int, error) {
	return transport.LocalPort(c.listenFd)
}

// Shutdown closes the listening socket and every active connection.
func (c *Context) Shutdown() {
	transport.Close(c.listenFd)
	for i := range c.clients {
		if c.clients[i].active {
			c.closeClient(i)
		}
	}
}

// Run drives the single-threaded event loop until stop is closed. Each
// iteration waits on the multiplexer (capped at RetransmissionCheckInterval
// so the retry sweep always gets a chance to run), accepts new connections,
// drains readable client sockets through the packet decoder and dispatch
// table, flushes pending sends, and sweeps expired deliveries.
func (c *Context) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		timeoutMs := int(RetransmissionCheckInterval / time.Millisecond)
		ready, err := c.mux.Wait(timeoutMs)
		if err != nil {
			return fmt.Errorf("broker: mux wait: %w", err)
		}

		for _, r := range ready {
			if r.Fd == c.listenFd {
				c.acceptLoop()
				continue
			}
			if r.Events&iomux.Read != 0 {
				c.handleReadable(r.Fd)
			}
		}

		c.flushSends()
		now := time.Now()
		c.retrySweep(now)
		c.sweepSnapshot(now)
	}
}

// sweepSnapshot writes one diagnostics sample if a writer is attached and
// the interval has elapsed. It runs on the event loop goroutine itself so
// the sample always reflects a consistent view of the slot tables, never
// racing a second goroutine reading Context concurrently.
func (c *Context) sweepSnapshot(now time.Time) {
	if c.snapshotWriter == nil {
		return
	}
	if now.Sub(c.lastSnapshot) < c.snapshotInterval {
		return
	}
	c.lastSnapshot = now
	if err := c.snapshotWriter.Write(c.Snapshot()); err != nil {
		log.Printf("broker: snapshot write failed: %v", err)
	}
}

// acceptLoop accepts every pending connection on the listening socket in
// one pass, until Accept reports that nothing more is pending, rather than
// one connection per Wait call.
func (c *Context) acceptLoop() {
	for {
		fd, err := transport.Accept(c.listenFd)
		if err != nil {
			if err == transport.ErrWouldBlock || err == transport.ErrInterrupted {
				return
			}
			return
		}
		idx := c.AcceptClient(fd)
		if idx == sentinel {
			transport.Close(fd)
			continue
		}
		c.mux.Register(fd, iomux.Read)
		c.fdToClient[fd] = idx
	}
}

// handleReadable drains one readable client socket: reads into its receive
// buffer, then decodes and dispatches every complete packet currently
// buffered, compacting the buffer once an incomplete trailing packet (or
// an empty buffer) remains.
func (c *Context) handleReadable(fd int) {
	idx, ok := c.fdToClient[fd]
	if !ok {
		return
	}
	client := &c.clients[idx]
	if !client.active {
		return
	}

	n, err := transport.Recv(fd, client.recv.WriteTail())
	if err != nil {
		if err == transport.ErrWouldBlock || err == transport.ErrInterrupted {
			return
		}
		c.closeClient(idx)
		return
	}
	client.recv.Advance(n)
	c.observe(func(m metricsSink) { m.BytesReceived(n) })

	for {
		pkt, err := mqtt.Decode(client.recv)
		if err == mqtt.ErrIncomplete {
			break
		}
		if err == mqtt.ErrUnsupportedProtocolVersion {
			c.HandleConnectUnsupportedVersion(idx)
			// Best-effort flush of the CONNACK before the socket closes.
			if n, err := transport.Send(client.fd, client.send.ReadTail()); err == nil {
				c.observe(func(m metricsSink) { m.BytesSent(n) })
			}
			c.closeClient(idx)
			return
		}
		if err == mqtt.ErrMalformed || err == mqtt.ErrOutOfBounds {
			c.closeClient(idx)
			return
		}
		// ErrInvalid (unknown packet type, already skipped) falls through
		// to the next iteration; nil means a fully decoded packet.
		if err != nil && err != mqtt.ErrInvalid {
			c.closeClient(idx)
			return
		}
		if err == nil {
			if c.Dispatch(idx, pkt) == dispatchClose {
				c.closeClient(idx)
				return
			}
		}
		if client.recv.IsEmpty() {
			break
		}
	}

	client.recv.Compact()
}

// flushSends writes as much of each active client's pending send buffer as
// the socket currently accepts, closing the connection on a fatal write
// error.
func (c *Context) flushSends() {
	for i := range c.clients {
		client := &c.clients[i]
		if !client.active || client.send.IsEmpty() {
			continue
		}

		pending := client.send.ReadTail()
		n, err := transport.Send(client.fd, pending)
		if err != nil {
			if err == transport.ErrWouldBlock || err == transport.ErrInterrupted {
				continue
			}
			c.closeClient(i)
			continue
		}
		c.observe(func(m metricsSink) { m.BytesSent(n) })
		client.send.Skip(n)
		client.send.Compact()
	}
}

// closeClient tears down one connection: deregisters its fd, closes the
// socket, and releases the Client slot. Will delivery on abrupt disconnect
// is out of scope; the Last Will fields are parsed at CONNECT time and
// discarded here unused.
func (c *Context) closeClient(idx int) {
	client := &c.clients[idx]
	if !client.active {
		return
	}

	c.mux.Unregister(client.fd)
	delete(c.fdToClient, client.fd)
	transport.Close(client.fd)

	c.observe(func(m metricsSink) { m.ClientDisconnected() })
	c.freeClient(idx)
}
