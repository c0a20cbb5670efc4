// Package telemetry exposes a per-worker counter tree (queue, VLAN, port
// granularity) plus a Prometheus registry mirroring the same counters for
// scraping, per SPEC_FULL.md's ambient observability stack.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueCounters are the per-worker-queue packet/byte/drop counters.
type QueueCounters struct {
	Packets uint64
	Bytes   uint64
	Dropped uint64
}

// Tree is the filesystem-like nested counter structure: one QueueCounters
// per worker queue, one per observed VLAN, one per observed port — mirrors
// pkg/headerparser.Stats's shape but scoped to a whole worker rather than
// just header-decode outcomes.
type Tree struct {
	mu      sync.Mutex
	queues  map[int]*QueueCounters
	vlans   map[uint16]*QueueCounters
	ports   map[uint16]*QueueCounters

	promPackets *prometheus.CounterVec
	promBytes   *prometheus.CounterVec
	promDropped *prometheus.CounterVec
}

// New creates an empty counter tree and registers its Prometheus vectors
// into reg (pass prometheus.DefaultRegisterer for the global registry, or
// a fresh prometheus.NewRegistry() in tests).
func New(reg prometheus.Registerer) *Tree {
	t := &Tree{
		queues: make(map[int]*QueueCounters),
		vlans:  make(map[uint16]*QueueCounters),
		ports:  make(map[uint16]*QueueCounters),
		promPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmeter_packets_total",
			Help: "Packets observed, partitioned by dimension and key.",
		}, []string{"dimension", "key"}),
		promBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmeter_bytes_total",
			Help: "Bytes observed, partitioned by dimension and key.",
		}, []string{"dimension", "key"}),
		promDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmeter_dropped_total",
			Help: "Packets dropped, partitioned by dimension and key.",
		}, []string{"dimension", "key"}),
	}
	if reg != nil {
		reg.MustRegister(t.promPackets, t.promBytes, t.promDropped)
	}
	return t
}

func keyString(dimension string, key interface{}) string {
	switch v := key.(type) {
	case int:
		return itoa(v)
	case uint16:
		return itoa(int(v))
	default:
		return ""
	}
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ObserveQueue records one packet of size bytes on worker queue q.
func (t *Tree) ObserveQueue(q int, bytes int) {
	t.mu.Lock()
	c, ok := t.queues[q]
	if !ok {
		c = &QueueCounters{}
		t.queues[q] = c
	}
	c.Packets++
	c.Bytes += uint64(bytes)
	t.mu.Unlock()
	t.promPackets.WithLabelValues("queue", keyString("queue", q)).Inc()
	t.promBytes.WithLabelValues("queue", keyString("queue", q)).Add(float64(bytes))
}

// ObserveVLAN records one packet of size bytes on VLAN id.
func (t *Tree) ObserveVLAN(id uint16, bytes int) {
	t.mu.Lock()
	c, ok := t.vlans[id]
	if !ok {
		c = &QueueCounters{}
		t.vlans[id] = c
	}
	c.Packets++
	c.Bytes += uint64(bytes)
	t.mu.Unlock()
	t.promPackets.WithLabelValues("vlan", keyString("vlan", id)).Inc()
	t.promBytes.WithLabelValues("vlan", keyString("vlan", id)).Add(float64(bytes))
}

// ObservePort records one packet of size bytes on port p (source or
// destination, caller's choice of vantage).
func (t *Tree) ObservePort(p uint16, bytes int) {
	t.mu.Lock()
	c, ok := t.ports[p]
	if !ok {
		c = &QueueCounters{}
		t.ports[p] = c
	}
	c.Packets++
	c.Bytes += uint64(bytes)
	t.mu.Unlock()
	t.promPackets.WithLabelValues("port", keyString("port", p)).Inc()
	t.promBytes.WithLabelValues("port", keyString("port", p)).Add(float64(bytes))
}

// DropQueue records a dropped packet on worker queue q (e.g. full input
// ring, cache full with no evictable slot).
func (t *Tree) DropQueue(q int) {
	t.mu.Lock()
	c, ok := t.queues[q]
	if !ok {
		c = &QueueCounters{}
		t.queues[q] = c
	}
	c.Dropped++
	t.mu.Unlock()
	t.promDropped.WithLabelValues("queue", keyString("queue", q)).Inc()
}

// Snapshot returns a defensive copy of the queue-level counters.
func (t *Tree) Snapshot() map[int]QueueCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]QueueCounters, len(t.queues))
	for k, v := range t.queues {
		out[k] = *v
	}
	return out
}
