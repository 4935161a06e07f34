package broker

import (
	"testing"

	"github.com/codepr/tera-go/internal/mqtt"
)

func newTestClient(c *Context) int {
	idx := c.allocClient()
	if idx == sentinel {
		panic("broker: test client table exhausted")
	}
	c.clients[idx].connected = true
	return idx
}

func TestSubscribeGrantsRequestedQoS(t *testing.T) {
	c := NewContext()
	clientIdx := newTestClient(c)

	reasons := c.Subscribe(clientIdx, mqtt.Subscribe{
		PacketID: 1,
		Filters: []mqtt.SubscribeFilter{
			{Filter: []byte("sensors/+/temp"), QoS: mqtt.AtLeastOnce},
			{Filter: []byte("alerts/#"), QoS: mqtt.ExactlyOnce},
		},
	})

	if len(reasons) != 2 {
		t.Fatalf("got %d reasons, want 2", len(reasons))
	}
	if reasons[0] != mqtt.SubackGrantedQoS1 {
		t.Fatalf("filter 0: got reason %v, want GrantedQoS1", reasons[0])
	}
	if reasons[1] != mqtt.SubackGrantedQoS2 {
		t.Fatalf("filter 1: got reason %v, want GrantedQoS2", reasons[1])
	}
	if c.activeSubscriptionCount() != 2 {
		t.Fatalf("got %d active subscriptions, want 2", c.activeSubscriptionCount())
	}
	if len(c.clients[clientIdx].subs) != 2 {
		t.Fatalf("client owns %d subscription slots, want 2", len(c.clients[clientIdx].subs))
	}
}

func TestSubscribeRejectsInvalidFilterWithoutAllocating(t *testing.T) {
	c := NewContext()
	clientIdx := newTestClient(c)

	reasons := c.Subscribe(clientIdx, mqtt.Subscribe{
		PacketID: 1,
		Filters: []mqtt.SubscribeFilter{
			{Filter: []byte("sensors/#/temp"), QoS: mqtt.AtMostOnce}, // '#' not last level
		},
	})

	if reasons[0] != mqtt.SubackUnspecifiedError {
		t.Fatalf("got reason %v, want SubackUnspecifiedError", reasons[0])
	}
	if c.activeSubscriptionCount() != 0 {
		t.Fatalf("invalid filter allocated a slot: %d active", c.activeSubscriptionCount())
	}
}

func TestUnsubscribeRemovesOnlyMatchingFilter(t *testing.T) {
	c := NewContext()
	clientIdx := newTestClient(c)

	c.Subscribe(clientIdx, mqtt.Subscribe{
		Filters: []mqtt.SubscribeFilter{
			{Filter: []byte("a/b"), QoS: mqtt.AtMostOnce},
			{Filter: []byte("c/d"), QoS: mqtt.AtMostOnce},
		},
	})

	reasons := c.Unsubscribe(clientIdx, mqtt.Unsubscribe{
		Filters: [][]byte{[]byte("a/b"), []byte("z/z")},
	})

	if reasons[0] != mqtt.UnsubackSuccess {
		t.Fatalf("got reason %v for a/b, want UnsubackSuccess", reasons[0])
	}
	if reasons[1] != mqtt.UnsubackNoSubscriptionFound {
		t.Fatalf("got reason %v for z/z, want UnsubackNoSubscriptionFound", reasons[1])
	}
	if c.activeSubscriptionCount() != 1 {
		t.Fatalf("got %d active subscriptions, want 1", c.activeSubscriptionCount())
	}
	if len(c.clients[clientIdx].subs) != 1 {
		t.Fatalf("client owns %d subscription slots, want 1", len(c.clients[clientIdx].subs))
	}
}

func TestClearSubscriptionsOfFreesEveryOwnedSlot(t *testing.T) {
	c := NewContext()
	clientIdx := newTestClient(c)

	c.Subscribe(clientIdx, mqtt.Subscribe{
		Filters: []mqtt.SubscribeFilter{
			{Filter: []byte("a/b"), QoS: mqtt.AtMostOnce},
			{Filter: []byte("c/d"), QoS: mqtt.AtMostOnce},
		},
	})

	c.clearSubscriptionsOf(clientIdx)

	if c.activeSubscriptionCount() != 0 {
		t.Fatalf("got %d active subscriptions after clear, want 0", c.activeSubscriptionCount())
	}
	if c.clients[clientIdx].subs != nil {
		t.Fatalf("client still references %d subscription slots after clear", len(c.clients[clientIdx].subs))
	}
}
