package broker

import (
	"time"

	"github.com/codepr/tera-go/internal/arena"
	"github.com/codepr/tera-go/internal/iomux"
	"github.com/codepr/tera-go/internal/mqtt"
	"github.com/codepr/tera-go/internal/snapshot"
)

// Arena sizes. Only the I/O arena is sized to be fully consumed at
// connection setup (two MaxPacketSize buffers per connection slot); the
// other three grow monotonically for the life of the process, per
// spec.md §3's documented non-goal of arena reclaim.
const (
	ioArenaSize      = MaxConnections * 2 * mqtt.MaxPacketSize
	clientArenaSize  = 4 * 1024 * 1024
	topicArenaSize   = 4 * 1024 * 1024
	messageArenaSize = 16 * 1024 * 1024
)

// Context is the entire mutable state of the broker engine: the four
// arenas and every slot table. It is owned and mutated exclusively by the
// event loop goroutine; nothing else holds a reference to it.
type Context struct {
	ioArena      *arena.Arena
	clientArena  *arena.Arena
	topicArena   *arena.Arena
	messageArena *arena.Arena

	clients        [MaxConnections]Client
	clientFreeHead int

	subscriptions [MaxSubscriptions]Subscription
	subFreeHead   int

	messages    [MaxPublishedMessages]PublishedMessage
	msgFreeHead int

	properties    [MaxPublishedMessages]propertySlot
	propsFreeHead int

	deliveries    [MaxDeliveries]MessageDelivery
	deliveryFreeHead int
	deliveryIdx   *deliveryIndex

	mux        *iomux.Mux
	listenFd   int
	fdToClient map[int]int

	lastSweep     time.Time
	expiredTotal  int64

	metrics metricsSink

	snapshotWriter   snapshotWriter
	snapshotInterval time.Duration
	lastSnapshot     time.Time
}

// snapshotWriter is the narrow surface the event loop needs from
// internal/snapshot, kept as an interface for the same reason metricsSink
// is: so the broker core can be exercised without a bbolt file on disk.
type snapshotWriter interface {
	Write(s snapshot.Stats) error
}

type propertySlot struct {
	active bool
	props  mqtt.PublishProperties
	next   int
}

// NewContext allocates the four arenas and initializes every slot table's
// free list as a fully-linked stack of every slot, in order.
func NewContext() *Context {
	c := &Context{
		ioArena:      arena.New(ioArenaSize),
		clientArena:  arena.New(clientArenaSize),
		topicArena:   arena.New(topicArenaSize),
		messageArena: arena.New(messageArenaSize),
		deliveryIdx:  newDeliveryIndex(),
		fdToClient:   make(map[int]int),
	}

	for i := range c.clients {
		c.clients[i].nextFree = i + 1
	}
	c.clients[MaxConnections-1].nextFree = sentinel
	c.clientFreeHead = 0

	for i := range c.subscriptions {
		c.subscriptions[i].nextFree = i + 1
	}
	c.subscriptions[MaxSubscriptions-1].nextFree = sentinel
	c.subFreeHead = 0

	for i := range c.messages {
		c.messages[i].nextFree = i + 1
	}
	c.messages[MaxPublishedMessages-1].nextFree = sentinel
	c.msgFreeHead = 0

	for i := range c.properties {
		c.properties[i].next = i + 1
	}
	c.properties[MaxPublishedMessages-1].next = sentinel
	c.propsFreeHead = 0

	for i := range c.deliveries {
		c.deliveries[i].nextFree = i + 1
	}
	c.deliveries[MaxDeliveries-1].nextFree = sentinel
	c.deliveryFreeHead = 0

	return c
}

// metricsSink is the narrow surface the broker core needs from
// internal/metrics, kept as an interface so the core does not import a
// concrete Prometheus dependency directly into its hot path logic.
type metricsSink interface {
	ClientConnected()
	ClientDisconnected()
	PacketReceived(t mqtt.PacketType)
	PacketSent(t mqtt.PacketType)
	BytesReceived(n int)
	BytesSent(n int)
	SubscriptionsActive(n int)
	DeliveriesInflight(qos mqtt.QoS, n int)
	DeliveryExpired()
	MessageSlotsInUse(n int)
}

// SetMetrics attaches a metrics sink; nil disables metrics entirely (the
// default), so tests can construct a Context without wiring Prometheus.
func (c *Context) SetMetrics(m metricsSink) {
	c.metrics = m
}

func (c *Context) observe(f func(metricsSink)) {
	if c.metrics == nil {
		return
	}
	f(c.metrics)
}

// SetSnapshot attaches a diagnostics snapshot writer, sampled from inside
// the event loop every interval. A nil writer disables sampling entirely
// (the default). Sampling runs on the loop goroutine itself, not a
// separate one, since Context's slot tables are not safe for concurrent
// access from outside it.
func (c *Context) SetSnapshot(w snapshotWriter, interval time.Duration) {
	c.snapshotWriter = w
	c.snapshotInterval = interval
}
