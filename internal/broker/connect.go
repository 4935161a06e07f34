package broker

import (
	"github.com/codepr/tera-go/internal/mqtt"
)

// HandleConnect processes the first CONNECT on clientIdx's connection. A
// second CONNECT on an already-connected client is a protocol violation
// (spec.md §4.9): the caller must close the connection without replying.
func (c *Context) HandleConnect(clientIdx int, conn mqtt.Connect) (ok bool) {
	client := &c.clients[clientIdx]
	if client.connected {
		return false
	}

	clientID, err := c.copyIntoClientArena(conn.ClientID)
	if err != nil {
		mqtt.WriteConnack(client.send, false, mqtt.ConnackServerUnavailable)
		c.observe(func(m metricsSink) { m.PacketSent(mqtt.CONNACK) })
		return true
	}

	client.connected = true
	client.protocolVersion = 5
	client.keepAliveSec = conn.KeepAlive
	client.cleanStart = conn.CleanStart
	client.clientID = clientID

	if conn.HasUsername {
		if username, err := c.copyIntoClientArena(conn.Username); err == nil {
			client.hasUsername = true
			client.username = username
		}
	}
	if conn.HasPassword {
		if password, err := c.copyIntoClientArena(conn.Password); err == nil {
			client.hasPassword = true
			client.password = password
		}
	}

	if conn.WillFlag {
		willTopic, errT := c.copyIntoClientArena(conn.WillTopic)
		willMessage, errM := c.copyIntoClientArena(conn.WillMessage)
		if errT == nil && errM == nil {
			client.hasWill = true
			client.willQoS = conn.WillQoS
			client.willRetain = conn.WillRetain
			client.willTopic = willTopic
			client.willMessage = willMessage
		}
	}

	// Session Present is always 0: this broker does not persist sessions
	// across reconnects, so every CONNECT starts a clean session state
	// regardless of Clean Start.
	mqtt.WriteConnack(client.send, false, mqtt.ConnackSuccess)
	c.observe(func(m metricsSink) { m.PacketSent(mqtt.CONNACK) })
	return true
}

// HandleConnectUnsupportedVersion replies CONNACK with
// ConnackUnsupportedProtocolVersion; the caller makes one best-effort
// attempt to send this reply and then closes the connection.
func (c *Context) HandleConnectUnsupportedVersion(clientIdx int) {
	client := &c.clients[clientIdx]
	mqtt.WriteConnack(client.send, false, mqtt.ConnackUnsupportedProtocolVersion)
	c.observe(func(m metricsSink) { m.PacketSent(mqtt.CONNACK) })
}

func (c *Context) copyIntoClientArena(src []byte) ([]byte, error) {
	off, err := c.clientArena.Alloc(len(src))
	if err != nil {
		return nil, err
	}
	dst := c.clientArena.At(off, len(src))
	copy(dst, src)
	return dst, nil
}
