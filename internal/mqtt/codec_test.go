package mqtt

import (
	"bytes"
	"testing"

	"github.com/codepr/tera-go/internal/buffer"
)

func buildConnect(clientID string, keepAlive uint16) []byte {
	var body bytes.Buffer
	body.Write([]byte{0x00, 0x04})
	body.WriteString("MQTT")
	body.WriteByte(0x05)
	body.WriteByte(0x02) // clean start
	body.WriteByte(byte(keepAlive >> 8))
	body.WriteByte(byte(keepAlive))
	body.WriteByte(0x00) // properties length
	body.WriteByte(byte(len(clientID) >> 8))
	body.WriteByte(byte(len(clientID)))
	body.WriteString(clientID)

	var pkt bytes.Buffer
	pkt.WriteByte(byte(CONNECT) << 4)
	pkt.WriteByte(byte(body.Len()))
	pkt.Write(body.Bytes())
	return pkt.Bytes()
}

func TestDecodeConnectHappyPath(t *testing.T) {
	raw := buildConnect("c1", 60)
	buf := buffer.New(len(raw))
	if err := buf.Append(raw); err != nil {
		t.Fatalf("Append: %v", err)
	}

	pkt, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.Header.Type != CONNECT {
		t.Fatalf("expected CONNECT, got %v", pkt.Header.Type)
	}
	if string(pkt.Connect.ClientID) != "c1" {
		t.Fatalf("expected client id c1, got %q", pkt.Connect.ClientID)
	}
	if !pkt.Connect.CleanStart {
		t.Fatal("expected CleanStart true")
	}
	if pkt.Connect.KeepAlive != 60 {
		t.Fatalf("expected keepalive 60, got %d", pkt.Connect.KeepAlive)
	}
}

func TestDecodeConnectUnsupportedVersion(t *testing.T) {
	raw := buildConnect("c1", 60)
	raw[8] = 0x04 // protocol version byte -> MQTT 3.1.1

	buf := buffer.New(len(raw))
	if err := buf.Append(raw); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_, err := Decode(buf)
	if err != ErrUnsupportedProtocolVersion {
		t.Fatalf("expected ErrUnsupportedProtocolVersion, got %v", err)
	}
}

func TestDecodeIncompletePacketRestoresCursor(t *testing.T) {
	raw := buildConnect("client-id", 30)
	buf := buffer.New(len(raw))
	// Only append a prefix: the fixed header's declared remaining length
	// exceeds what's available.
	if err := buf.Append(raw[:len(raw)-3]); err != nil {
		t.Fatalf("Append: %v", err)
	}

	start := buf.ReadPos()
	_, err := Decode(buf)
	if err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if buf.ReadPos() != start {
		t.Fatalf("expected cursor restored to %d, got %d", start, buf.ReadPos())
	}
}

func TestPublishRoundTrip(t *testing.T) {
	buf := buffer.New(256)
	props := PublishProperties{}
	props.AddSubscriptionID(3)

	if err := WritePublish(buf, false, AtLeastOnce, false, 42, []byte("a/b"), &props, []byte("hi")); err != nil {
		t.Fatalf("WritePublish: %v", err)
	}

	pkt, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.Header.Type != PUBLISH {
		t.Fatalf("expected PUBLISH, got %v", pkt.Header.Type)
	}
	if string(pkt.Publish.Topic) != "a/b" {
		t.Fatalf("expected topic a/b, got %q", pkt.Publish.Topic)
	}
	if pkt.Publish.PacketID != 42 {
		t.Fatalf("expected packet id 42, got %d", pkt.Publish.PacketID)
	}
	if string(pkt.Publish.Payload) != "hi" {
		t.Fatalf("expected payload hi, got %q", pkt.Publish.Payload)
	}
	if len(pkt.Publish.Properties.SubscriptionIDs) != 1 || pkt.Publish.Properties.SubscriptionIDs[0] != 3 {
		t.Fatalf("expected subscription id [3], got %v", pkt.Publish.Properties.SubscriptionIDs)
	}
}

func TestPublishRejectsUnknownProperty(t *testing.T) {
	buf := buffer.New(64)
	// Hand-build a PUBLISH with an unsupported property id (0x7F).
	var body bytes.Buffer
	body.WriteByte(0x00)
	body.WriteByte(0x03)
	body.WriteString("a/b")
	body.WriteByte(0x02) // properties length
	body.WriteByte(0x7F) // unknown property id
	body.WriteByte(0x00)

	var pkt bytes.Buffer
	pkt.WriteByte(byte(PUBLISH) << 4)
	pkt.WriteByte(byte(body.Len()))
	pkt.Write(body.Bytes())

	if err := buf.Append(pkt.Bytes()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_, err := Decode(buf)
	if err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestAckRoundTrip(t *testing.T) {
	buf := buffer.New(16)
	if err := WriteAck(buf, PUBACK, 7, AckSuccess); err != nil {
		t.Fatalf("WriteAck: %v", err)
	}
	pkt, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.Header.Type != PUBACK {
		t.Fatalf("expected PUBACK, got %v", pkt.Header.Type)
	}
	if pkt.Ack.PacketID != 7 || pkt.Ack.Reason != AckSuccess {
		t.Fatalf("unexpected ack: %+v", pkt.Ack)
	}
}

func TestSubscribeRoundTripDecode(t *testing.T) {
	var body bytes.Buffer
	body.WriteByte(0x00)
	body.WriteByte(0x01) // packet id 1
	body.WriteByte(0x00) // properties length 0
	for _, f := range []struct {
		filter string
		qos    byte
	}{{"sensor/+/temp", 1}, {"sensor/#", 2}} {
		body.WriteByte(byte(len(f.filter) >> 8))
		body.WriteByte(byte(len(f.filter)))
		body.WriteString(f.filter)
		body.WriteByte(f.qos)
	}

	var pkt bytes.Buffer
	pkt.WriteByte(byte(SUBSCRIBE)<<4 | 0x02)
	pkt.WriteByte(byte(body.Len()))
	pkt.Write(body.Bytes())

	buf := buffer.New(128)
	if err := buf.Append(pkt.Bytes()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	decoded, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Sub.Filters) != 2 {
		t.Fatalf("expected 2 filters, got %d", len(decoded.Sub.Filters))
	}
	if string(decoded.Sub.Filters[0].Filter) != "sensor/+/temp" || decoded.Sub.Filters[0].QoS != AtLeastOnce {
		t.Fatalf("unexpected first filter: %+v", decoded.Sub.Filters[0])
	}
	if string(decoded.Sub.Filters[1].Filter) != "sensor/#" || decoded.Sub.Filters[1].QoS != ExactlyOnce {
		t.Fatalf("unexpected second filter: %+v", decoded.Sub.Filters[1])
	}
}

func TestSubackEncoding(t *testing.T) {
	buf := buffer.New(32)
	if err := WriteSuback(buf, 1, []SubackReason{SubackGrantedQoS1, SubackUnspecifiedError}); err != nil {
		t.Fatalf("WriteSuback: %v", err)
	}
	got := buf.Bytes()
	want := []byte{byte(SUBACK) << 4, 5, 0x00, 0x01, 0x00, 0x01, 0x80}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestUnsubscribeRoundTrip(t *testing.T) {
	var body bytes.Buffer
	body.WriteByte(0x00)
	body.WriteByte(0x05) // packet id 5
	body.WriteByte(0x00) // properties length
	for _, f := range []string{"a/b", "c/d"} {
		body.WriteByte(byte(len(f) >> 8))
		body.WriteByte(byte(len(f)))
		body.WriteString(f)
	}

	var pkt bytes.Buffer
	pkt.WriteByte(byte(UNSUBSCRIBE)<<4 | 0x02)
	pkt.WriteByte(byte(body.Len()))
	pkt.Write(body.Bytes())

	buf := buffer.New(64)
	if err := buf.Append(pkt.Bytes()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	decoded, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Unsub.Filters) != 2 || string(decoded.Unsub.Filters[0]) != "a/b" || string(decoded.Unsub.Filters[1]) != "c/d" {
		t.Fatalf("unexpected filters: %v", decoded.Unsub.Filters)
	}
}

func TestPingAndDisconnect(t *testing.T) {
	buf := buffer.New(16)
	if err := buf.Append([]byte{byte(PINGREQ) << 4, 0x00}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := Decode(buf); err != nil {
		t.Fatalf("Decode PINGREQ: %v", err)
	}

	buf2 := buffer.New(16)
	if err := buf2.Append([]byte{byte(DISCONNECT) << 4, 0x00}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	pkt, err := Decode(buf2)
	if err != nil {
		t.Fatalf("Decode DISCONNECT: %v", err)
	}
	if pkt.Disc.Reason != DisconnectNormal {
		t.Fatalf("expected DisconnectNormal, got %v", pkt.Disc.Reason)
	}
}
