package broker

import (
	"github.com/codepr/tera-go/internal/buffer"
	"github.com/codepr/tera-go/internal/mqtt"
)

// Client is the combined Connection+Session slot: one per accepted socket,
// carrying both transport state (fd, buffers) and, once a valid CONNECT
// has been decoded, session state. The two entities share a 1:1 lifetime
// in this design (a Connection never outlives its Client or vice versa),
// so they occupy one slot table instead of two parallel ones.
type Client struct {
	active bool
	fd     int
	recv   *buffer.Buffer
	send   *buffer.Buffer

	connected       bool
	protocolVersion uint8
	keepAliveSec    uint16
	cleanStart      bool

	clientID []byte

	hasUsername bool
	username    []byte
	hasPassword bool
	password    []byte

	hasWill     bool
	willQoS     mqtt.QoS
	willRetain  bool
	willTopic   []byte
	willMessage []byte

	// subs holds the indices of this client's active subscriptions, for
	// fast clearing on disconnect; the Subscription table remains the
	// source of truth.
	subs []int

	nextFree int
}

// allocClient pops a Client slot off the free list. The slot's receive and
// send buffers are carved out of the I/O arena only the first time the slot
// is ever used; freeClient preserves them across reconnects (the arena
// never reclaims), so every later allocClient on that slot just resets
// their cursors instead of allocating a fresh pair. Returns sentinel if the
// table is full (MaxConnections reached) or, on a slot's first use, if the
// I/O arena itself is exhausted.
func (c *Context) allocClient() int {
	if c.clientFreeHead == sentinel {
		return sentinel
	}
	idx := c.clientFreeHead
	c.clientFreeHead = c.clients[idx].nextFree

	recv, send := c.clients[idx].recv, c.clients[idx].send
	if recv == nil || send == nil {
		recvOff, err := c.ioArena.Alloc(mqtt.MaxPacketSize)
		if err != nil {
			c.clients[idx].nextFree = c.clientFreeHead
			c.clientFreeHead = idx
			return sentinel
		}
		sendOff, err := c.ioArena.Alloc(mqtt.MaxPacketSize)
		if err != nil {
			c.clients[idx].nextFree = c.clientFreeHead
			c.clientFreeHead = idx
			return sentinel
		}
		recv = buffer.Wrap(c.ioArena.At(recvOff, mqtt.MaxPacketSize))
		send = buffer.Wrap(c.ioArena.At(sendOff, mqtt.MaxPacketSize))
	} else {
		recv.Reset()
		send.Reset()
	}

	c.clients[idx] = Client{
		active: true,
		recv:   recv,
		send:   send,
	}
	return idx
}

// freeClient clears every subscription owned by idx, releases the slot,
// and pushes it back onto the free list. The I/O arena region is not
// reclaimed (arenas never individually reclaim); only the slot itself is
// reused, with a fresh pair of buffer cursors on next allocClient.
func (c *Context) freeClient(idx int) {
	c.clearSubscriptionsOf(idx)

	fd := c.clients[idx].fd
	recv, send := c.clients[idx].recv, c.clients[idx].send
	c.clients[idx] = Client{nextFree: c.clientFreeHead}
	c.clients[idx].fd = fd
	c.clients[idx].recv = recv
	c.clients[idx].send = send
	c.clientFreeHead = idx
}

// AcceptClient registers fd as a freshly accepted connection and returns
// its slot index, or sentinel if the connection table is full.
func (c *Context) AcceptClient(fd int) int {
	idx := c.allocClient()
	if idx == sentinel {
		return sentinel
	}
	c.clients[idx].fd = fd
	c.observe(func(m metricsSink) { m.ClientConnected() })
	return idx
}
