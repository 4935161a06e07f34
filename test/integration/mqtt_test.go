package integration

import (
	"fmt"
	"testing"
	"time"

	"github.com/codepr/tera-go/internal/broker"
	"github.com/codepr/tera-go/internal/mqtt"
	"github.com/codepr/tera-go/internal/mqttclient"
)

// startTestBroker binds an ephemeral port and runs the event loop in a
// background goroutine, returning the broker address and a cleanup func.
func startTestBroker(t *testing.T) (string, func()) {
	t.Helper()

	ctx := broker.NewContext()
	if err := ctx.Start("127.0.0.1", 0); err != nil {
		t.Fatalf("failed to start broker: %v", err)
	}
	port, err := ctx.LocalPort()
	if err != nil {
		t.Fatalf("failed to read bound port: %v", err)
	}

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- ctx.Run(stop) }()

	cleanup := func() {
		close(stop)
		// Run's loop must have actually returned before Shutdown touches the
		// same slot tables/fdToClient map; see broker/engine.go's Shutdown.
		<-done
		ctx.Shutdown()
	}

	return fmt.Sprintf("127.0.0.1:%d", port), cleanup
}

func newClient(t *testing.T, addr, clientID string) *mqttclient.Client {
	t.Helper()
	c, err := mqttclient.Dial(addr)
	if err != nil {
		t.Fatalf("client %s failed to dial: %v", clientID, err)
	}
	if err := c.Connect(clientID, true); err != nil {
		t.Fatalf("client %s failed to connect: %v", clientID, err)
	}
	return c
}

func TestConnectAndDisconnect(t *testing.T) {
	addr, cleanup := startTestBroker(t)
	defer cleanup()

	client := newClient(t, addr, "test-connect")
	defer client.Disconnect()
}

func TestPublishSubscribeQoS0(t *testing.T) {
	addr, cleanup := startTestBroker(t)
	defer cleanup()

	sub := newClient(t, addr, "sub-qos0")
	defer sub.Disconnect()
	pub := newClient(t, addr, "pub-qos0")
	defer pub.Disconnect()

	if reason, err := sub.Subscribe("sensors/room1/temp", mqtt.AtMostOnce); err != nil || reason != mqtt.SubackGrantedQoS0 {
		t.Fatalf("subscribe failed: reason=%v err=%v", reason, err)
	}

	if err := pub.Publish("sensors/room1/temp", []byte("21.5"), mqtt.AtMostOnce, false); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-sub.Messages:
		if string(msg.Payload) != "21.5" {
			t.Fatalf("got payload %q, want %q", msg.Payload, "21.5")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublishSubscribeQoS1(t *testing.T) {
	addr, cleanup := startTestBroker(t)
	defer cleanup()

	sub := newClient(t, addr, "sub-qos1")
	defer sub.Disconnect()
	pub := newClient(t, addr, "pub-qos1")
	defer pub.Disconnect()

	if reason, err := sub.Subscribe("alerts/#", mqtt.AtLeastOnce); err != nil || reason != mqtt.SubackGrantedQoS1 {
		t.Fatalf("subscribe failed: reason=%v err=%v", reason, err)
	}

	if err := pub.Publish("alerts/fire", []byte("evacuate"), mqtt.AtLeastOnce, false); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-sub.Messages:
		if string(msg.Payload) != "evacuate" {
			t.Fatalf("got payload %q, want %q", msg.Payload, "evacuate")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublishSubscribeQoS2(t *testing.T) {
	addr, cleanup := startTestBroker(t)
	defer cleanup()

	sub := newClient(t, addr, "sub-qos2")
	defer sub.Disconnect()
	pub := newClient(t, addr, "pub-qos2")
	defer pub.Disconnect()

	if reason, err := sub.Subscribe("alerts/critical", mqtt.ExactlyOnce); err != nil || reason != mqtt.SubackGrantedQoS2 {
		t.Fatalf("subscribe failed: reason=%v err=%v", reason, err)
	}

	if err := pub.Publish("alerts/critical", []byte("meltdown"), mqtt.ExactlyOnce, false); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-sub.Messages:
		if string(msg.Payload) != "meltdown" {
			t.Fatalf("got payload %q, want %q", msg.Payload, "meltdown")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestWildcardFanOut(t *testing.T) {
	addr, cleanup := startTestBroker(t)
	defer cleanup()

	subPlus := newClient(t, addr, "sub-plus")
	defer subPlus.Disconnect()
	subHash := newClient(t, addr, "sub-hash")
	defer subHash.Disconnect()
	pub := newClient(t, addr, "pub-wild")
	defer pub.Disconnect()

	if _, err := subPlus.Subscribe("sensors/+/temp", mqtt.AtMostOnce); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if _, err := subHash.Subscribe("sensors/#", mqtt.AtMostOnce); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := pub.Publish("sensors/kitchen/temp", []byte("19.0"), mqtt.AtMostOnce, false); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	for name, sub := range map[string]*mqttclient.Client{"plus": subPlus, "hash": subHash} {
		select {
		case msg := <-sub.Messages:
			if msg.Topic != "sensors/kitchen/temp" {
				t.Fatalf("%s subscriber got topic %q", name, msg.Topic)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s subscriber never received the message", name)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	addr, cleanup := startTestBroker(t)
	defer cleanup()

	sub := newClient(t, addr, "sub-unsub")
	defer sub.Disconnect()
	pub := newClient(t, addr, "pub-unsub")
	defer pub.Disconnect()

	if _, err := sub.Subscribe("unsub/topic", mqtt.AtMostOnce); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := pub.Publish("unsub/topic", []byte("first"), mqtt.AtMostOnce, false); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	select {
	case <-sub.Messages:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first message")
	}

	if reason, err := sub.Unsubscribe("unsub/topic"); err != nil || reason != mqtt.UnsubackSuccess {
		t.Fatalf("unsubscribe failed: reason=%v err=%v", reason, err)
	}

	if err := pub.Publish("unsub/topic", []byte("second"), mqtt.AtMostOnce, false); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-sub.Messages:
		t.Fatalf("unexpected message after unsubscribe: %q", msg.Payload)
	case <-time.After(500 * time.Millisecond):
		// expected: no further delivery
	}
}
