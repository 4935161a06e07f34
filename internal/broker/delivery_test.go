package broker

import (
	"testing"
	"time"

	"github.com/codepr/tera-go/internal/mqtt"
)

func TestRetrySweepExpiresAfterMaxRetryAttempts(t *testing.T) {
	c := NewContext()
	sub := newTestClient(c)
	pub := newTestClient(c)
	subscribeOne(c, sub, "a/b", mqtt.AtLeastOnce)

	c.Publish(pub, mqtt.Publish{QoS: mqtt.AtLeastOnce, PacketID: 1, Topic: []byte("a/b"), Payload: []byte("x")})

	deliveryIdx, ok := c.indexLookup(sub, 1)
	if !ok {
		t.Fatalf("no delivery indexed for (sub, mid 1)")
	}

	now := time.Now()
	c.deliveries[deliveryIdx].retryCount = MaxRetryAttempts
	c.deliveries[deliveryIdx].nextRetryAt = now.Add(-time.Second)

	c.retrySweep(now)

	if c.deliveries[deliveryIdx].active {
		t.Fatal("delivery still active after exceeding MaxRetryAttempts")
	}
	if c.expiredTotal != 1 {
		t.Fatalf("got expiredTotal %d, want 1", c.expiredTotal)
	}
	if c.activeMessageCount() != 0 {
		t.Fatalf("got %d live messages after expiry, want 0 (message ref should be released)", c.activeMessageCount())
	}
	if _, ok := c.indexLookup(sub, 1); ok {
		t.Fatal("expired delivery is still reachable through the lookup index")
	}
}

func TestRetrySweepRetransmitsBeforeExpiry(t *testing.T) {
	c := NewContext()
	sub := newTestClient(c)
	pub := newTestClient(c)
	subscribeOne(c, sub, "a/b", mqtt.AtLeastOnce)

	c.Publish(pub, mqtt.Publish{QoS: mqtt.AtLeastOnce, PacketID: 1, Topic: []byte("a/b"), Payload: []byte("x")})

	deliveryIdx, _ := c.indexLookup(sub, 1)
	sentBeforeRetry := c.clients[sub].send.WritePos()

	now := time.Now()
	c.deliveries[deliveryIdx].nextRetryAt = now.Add(-time.Second)

	c.retrySweep(now)

	if !c.deliveries[deliveryIdx].active {
		t.Fatal("delivery was expired instead of retried")
	}
	if c.deliveries[deliveryIdx].retryCount != 1 {
		t.Fatalf("got retryCount %d, want 1", c.deliveries[deliveryIdx].retryCount)
	}
	if c.clients[sub].send.WritePos() <= sentBeforeRetry {
		t.Fatal("retrySweep did not retransmit the pending PUBLISH")
	}
}

func TestDeliveryIndexRoundTrip(t *testing.T) {
	c := NewContext()
	idx := c.allocDelivery()
	if idx == sentinel {
		t.Fatal("delivery table unexpectedly exhausted")
	}
	c.deliveries[idx].clientIdx = 5
	c.deliveries[idx].mid = 42
	c.indexInsert(5, 42, idx)

	got, ok := c.indexLookup(5, 42)
	if !ok || got != idx {
		t.Fatalf("indexLookup(5, 42) = (%d, %v), want (%d, true)", got, ok, idx)
	}

	c.indexRemove(5, 42, idx)
	if _, ok := c.indexLookup(5, 42); ok {
		t.Fatal("delivery still found after indexRemove")
	}
}
