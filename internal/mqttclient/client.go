// Package mqttclient implements a minimal synchronous MQTT 5.0 client built
// directly on internal/mqtt's wire codec. It exists because the broker is
// strictly v5-only and no off-the-shelf client in this stack negotiates
// MQTT 5.0; cmd/tera-client and the integration tests both drive the broker
// through it instead.
package mqttclient

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/codepr/tera-go/internal/buffer"
	"github.com/codepr/tera-go/internal/mqtt"
)

// ErrClosed is returned by any call made after the connection has been
// closed or lost.
var ErrClosed = errors.New("mqttclient: connection closed")

// Message is one inbound PUBLISH delivered to a subscriber.
type Message struct {
	Topic   string
	Payload []byte
	QoS     mqtt.QoS
	Retain  bool
}

// Client is a single-connection MQTT 5.0 client. All exported methods are
// safe to call concurrently with each other and with delivery of Messages.
type Client struct {
	conn net.Conn

	sendMu sync.Mutex
	send   *buffer.Buffer
	recv   *buffer.Buffer

	midMu   sync.Mutex
	nextMid uint16

	// Messages receives every inbound PUBLISH once its QoS handshake (if
	// any) is complete. The background read loop never blocks on it: it is
	// buffered, and when it is full the new message is dropped while the
	// handshake with the broker still completes.
	Messages chan Message

	mu         sync.Mutex
	pendingAck map[uint16]chan mqtt.Ack
	pendingSub map[uint16]chan mqtt.Suback
	pendingUns map[uint16]chan mqtt.Unsuback
	qos2Stage  map[uint16]Message

	connack  chan mqtt.Connack
	closed   chan struct{}
	closeErr error
	closeOne sync.Once
}

// Dial opens a TCP connection to addr ("host:port") and prepares the client
// to speak MQTT 5.0 over it. Call Connect next to perform the handshake.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("mqttclient: dial: %w", err)
	}
	c := &Client{
		conn:       conn,
		send:       buffer.New(mqtt.MaxPacketSize),
		recv:       buffer.New(mqtt.MaxPacketSize),
		nextMid:    1,
		Messages:   make(chan Message, 16),
		pendingAck: make(map[uint16]chan mqtt.Ack),
		pendingSub: make(map[uint16]chan mqtt.Suback),
		pendingUns: make(map[uint16]chan mqtt.Unsuback),
		qos2Stage:  make(map[uint16]Message),
		connack:    make(chan mqtt.Connack, 1),
		closed:     make(chan struct{}),
	}
	return c, nil
}

// allocMid returns the next packet identifier, wrapping from 1 (0 is
// reserved and never used by a QoS > 0 PUBLISH or any SUBSCRIBE/UNSUBSCRIBE).
func (c *Client) allocMid() uint16 {
	c.midMu.Lock()
	defer c.midMu.Unlock()
	mid := c.nextMid
	c.nextMid++
	if c.nextMid == 0 {
		c.nextMid = 1
	}
	return mid
}

// write serializes one frame through build and flushes it to the socket,
// holding sendMu for the duration so the background read loop's own acks
// never interleave with an application call mid-frame.
func (c *Client) write(build func(*buffer.Buffer) error) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.send.Reset()
	if err := build(c.send); err != nil {
		return err
	}
	pending := c.send.ReadTail()
	for len(pending) > 0 {
		n, err := c.conn.Write(pending)
		if err != nil {
			return err
		}
		pending = pending[n:]
	}
	return nil
}

// Connect sends CONNECT, starts the background read loop, and waits for the
// CONNACK. It returns an error if the broker refuses the connection.
func (c *Client) Connect(clientID string, cleanStart bool) error {
	go c.readLoop()

	if err := c.write(func(buf *buffer.Buffer) error {
		return mqtt.WriteConnect(buf, mqtt.Connect{
			CleanStart: cleanStart,
			KeepAlive:  30,
			ClientID:   []byte(clientID),
		})
	}); err != nil {
		return fmt.Errorf("mqttclient: send connect: %w", err)
	}

	select {
	case ca := <-c.connack:
		if ca.Reason != mqtt.ConnackSuccess {
			return fmt.Errorf("mqttclient: connect refused: reason 0x%02x", byte(ca.Reason))
		}
		return nil
	case <-c.closed:
		return c.closeErr
	case <-time.After(5 * time.Second):
		return errors.New("mqttclient: timed out waiting for connack")
	}
}

// Subscribe sends a single-filter SUBSCRIBE and waits for its SUBACK,
// returning the granted (or rejected) reason code.
func (c *Client) Subscribe(filter string, qos mqtt.QoS) (mqtt.SubackReason, error) {
	mid := c.allocMid()
	ch := make(chan mqtt.Suback, 1)
	c.mu.Lock()
	c.pendingSub[mid] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pendingSub, mid)
		c.mu.Unlock()
	}()

	if err := c.write(func(buf *buffer.Buffer) error {
		return mqtt.WriteSubscribe(buf, mqtt.Subscribe{
			PacketID: mid,
			Filters:  []mqtt.SubscribeFilter{{Filter: []byte(filter), QoS: qos}},
		})
	}); err != nil {
		return 0, fmt.Errorf("mqttclient: send subscribe: %w", err)
	}

	select {
	case sa := <-ch:
		if len(sa.Reasons) != 1 {
			return 0, errors.New("mqttclient: suback with unexpected reason count")
		}
		return sa.Reasons[0], nil
	case <-c.closed:
		return 0, c.closeErr
	case <-time.After(5 * time.Second):
		return 0, errors.New("mqttclient: timed out waiting for suback")
	}
}

// Unsubscribe sends a single-filter UNSUBSCRIBE and waits for its UNSUBACK.
func (c *Client) Unsubscribe(filter string) (mqtt.UnsubackReason, error) {
	mid := c.allocMid()
	ch := make(chan mqtt.Unsuback, 1)
	c.mu.Lock()
	c.pendingUns[mid] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pendingUns, mid)
		c.mu.Unlock()
	}()

	if err := c.write(func(buf *buffer.Buffer) error {
		return mqtt.WriteUnsubscribe(buf, mqtt.Unsubscribe{
			PacketID: mid,
			Filters:  [][]byte{[]byte(filter)},
		})
	}); err != nil {
		return 0, fmt.Errorf("mqttclient: send unsubscribe: %w", err)
	}

	select {
	case ua := <-ch:
		if len(ua.Reasons) != 1 {
			return 0, errors.New("mqttclient: unsuback with unexpected reason count")
		}
		return ua.Reasons[0], nil
	case <-c.closed:
		return 0, c.closeErr
	case <-time.After(5 * time.Second):
		return 0, errors.New("mqttclient: timed out waiting for unsuback")
	}
}

// Publish sends a PUBLISH. For qos 0 it returns as soon as the frame is
// flushed; for qos 1 it waits for PUBACK; for qos 2 it drives the full
// PUBREC/PUBREL/PUBCOMP handshake before returning.
func (c *Client) Publish(topic string, payload []byte, qos mqtt.QoS, retain bool) error {
	var mid uint16
	var ch chan mqtt.Ack
	if qos > mqtt.AtMostOnce {
		mid = c.allocMid()
		ch = make(chan mqtt.Ack, 1)
		c.mu.Lock()
		c.pendingAck[mid] = ch
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			delete(c.pendingAck, mid)
			c.mu.Unlock()
		}()
	}

	if err := c.write(func(buf *buffer.Buffer) error {
		return mqtt.WritePublish(buf, false, qos, retain, mid, []byte(topic), &mqtt.PublishProperties{}, payload)
	}); err != nil {
		return fmt.Errorf("mqttclient: send publish: %w", err)
	}

	if qos == mqtt.AtMostOnce {
		return nil
	}

	if _, err := c.awaitAck(ch, "puback/pubrec"); err != nil {
		return err
	}
	if qos == mqtt.AtLeastOnce {
		return nil
	}

	// qos 2: that ack was the PUBREC; now drive PUBREL -> PUBCOMP.
	ch2 := make(chan mqtt.Ack, 1)
	c.mu.Lock()
	c.pendingAck[mid] = ch2
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pendingAck, mid)
		c.mu.Unlock()
	}()

	if err := c.write(func(buf *buffer.Buffer) error {
		return mqtt.WriteAck(buf, mqtt.PUBREL, mid, mqtt.AckSuccess)
	}); err != nil {
		return fmt.Errorf("mqttclient: send pubrel: %w", err)
	}
	_, err := c.awaitAck(ch2, "pubcomp")
	return err
}

func (c *Client) awaitAck(ch chan mqtt.Ack, waitingFor string) (mqtt.Ack, error) {
	select {
	case a := <-ch:
		return a, nil
	case <-c.closed:
		return mqtt.Ack{}, c.closeErr
	case <-time.After(5 * time.Second):
		return mqtt.Ack{}, fmt.Errorf("mqttclient: timed out waiting for %s", waitingFor)
	}
}

// IsConnected reports whether the connection is still open.
func (c *Client) IsConnected() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Disconnect sends a normal DISCONNECT and closes the underlying socket.
func (c *Client) Disconnect() error {
	_ = c.write(func(buf *buffer.Buffer) error {
		return mqtt.WriteDisconnect(buf, mqtt.DisconnectNormal)
	})
	return c.Close()
}

// Close closes the underlying socket without sending DISCONNECT.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	return c.conn.Close()
}

func (c *Client) fail(err error) {
	c.closeOne.Do(func() {
		c.closeErr = err
		close(c.closed)
	})
}

// readLoop continuously decodes broker->client frames and dispatches them:
// CONNACK/SUBACK/UNSUBACK/acks to their waiting caller, PUBLISH to Messages
// (running the qos1/qos2 receiver-side handshake itself).
func (c *Client) readLoop() {
	for {
		h, err := c.readFixedHeader()
		if err != nil {
			c.fail(err)
			return
		}

		switch h.Type {
		case mqtt.CONNACK:
			ca, err := mqtt.ReadConnack(c.recv, h)
			if err != nil {
				c.fail(err)
				return
			}
			select {
			case c.connack <- ca:
			default:
			}

		case mqtt.SUBACK:
			sa, err := mqtt.ReadSuback(c.recv, h)
			if err != nil {
				c.fail(err)
				return
			}
			c.mu.Lock()
			ch, ok := c.pendingSub[sa.PacketID]
			c.mu.Unlock()
			if ok {
				ch <- sa
			}

		case mqtt.UNSUBACK:
			ua, err := mqtt.ReadUnsuback(c.recv, h)
			if err != nil {
				c.fail(err)
				return
			}
			c.mu.Lock()
			ch, ok := c.pendingUns[ua.PacketID]
			c.mu.Unlock()
			if ok {
				ch <- ua
			}

		case mqtt.PUBACK, mqtt.PUBREC, mqtt.PUBCOMP:
			a, err := mqtt.ReadAck(c.recv, h)
			if err != nil {
				c.fail(err)
				return
			}
			c.mu.Lock()
			ch, ok := c.pendingAck[a.PacketID]
			c.mu.Unlock()
			if ok {
				ch <- a
			}

		case mqtt.PUBREL:
			// The broker completing a qos2 delivery it sent us: reply
			// PUBCOMP and only now hand the staged message to the caller.
			a, err := mqtt.ReadAck(c.recv, h)
			if err != nil {
				c.fail(err)
				return
			}
			c.mu.Lock()
			msg, ok := c.qos2Stage[a.PacketID]
			delete(c.qos2Stage, a.PacketID)
			c.mu.Unlock()
			if err := c.write(func(buf *buffer.Buffer) error {
				return mqtt.WriteAck(buf, mqtt.PUBCOMP, a.PacketID, mqtt.AckSuccess)
			}); err != nil {
				c.fail(err)
				return
			}
			if ok {
				c.deliver(msg)
			}

		case mqtt.PUBLISH:
			p, err := mqtt.ReadPublish(c.recv, h)
			if err != nil {
				c.fail(err)
				return
			}
			msg := Message{Topic: string(p.Topic), Payload: p.Payload, QoS: p.QoS, Retain: p.Retain}
			switch p.QoS {
			case mqtt.AtMostOnce:
				c.deliver(msg)
			case mqtt.AtLeastOnce:
				c.deliver(msg)
				if err := c.write(func(buf *buffer.Buffer) error {
					return mqtt.WriteAck(buf, mqtt.PUBACK, p.PacketID, mqtt.AckSuccess)
				}); err != nil {
					c.fail(err)
					return
				}
			case mqtt.ExactlyOnce:
				c.mu.Lock()
				c.qos2Stage[p.PacketID] = msg
				c.mu.Unlock()
				if err := c.write(func(buf *buffer.Buffer) error {
					return mqtt.WriteAck(buf, mqtt.PUBREC, p.PacketID, mqtt.AckSuccess)
				}); err != nil {
					c.fail(err)
					return
				}
			}

		case mqtt.PINGRESP:
			if err := mqtt.ReadPingresp(h); err != nil {
				c.fail(err)
				return
			}

		default:
			if err := c.recv.Skip(h.RemainingLength); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Client) deliver(msg Message) {
	select {
	case c.Messages <- msg:
	default:
	}
}

// readFixedHeader reads bytes off the socket until a complete fixed header
// (and the payload it announces) is available, refilling and compacting the
// receive buffer as needed.
func (c *Client) readFixedHeader() (mqtt.FixedHeader, error) {
	c.recv.Compact()
	for {
		h, err := mqtt.ReadFixedHeader(c.recv)
		if err == nil {
			return h, nil
		}
		if err != mqtt.ErrIncomplete {
			return mqtt.FixedHeader{}, err
		}
		if c.recv.WritePos() == c.recv.Len() {
			return mqtt.FixedHeader{}, errors.New("mqttclient: packet exceeds buffer capacity")
		}
		n, rerr := c.conn.Read(c.recv.WriteTail())
		if rerr != nil {
			return mqtt.FixedHeader{}, rerr
		}
		if n == 0 {
			return mqtt.FixedHeader{}, errors.New("mqttclient: connection closed by peer")
		}
		if err := c.recv.Advance(n); err != nil {
			return mqtt.FixedHeader{}, err
		}
	}
}
