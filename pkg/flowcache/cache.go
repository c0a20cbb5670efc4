package flowcache

import (
	"sync"
	"time"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/fingerprint"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

// slot is one entry of a bucket's fixed-size array. Slot 0 (after a
// promote) is the most recently used; order otherwise reflects access
// recency, per SPEC_FULL.md §3 "Flow cache".
type slot struct {
	occupied bool
	fp       uint64
	flow     *Flow
}

type flowBucket struct {
	slots []slot
}

// ExportFunc hands a completed flow to the IPFIX exporter (or wherever
// downstream). Called synchronously from the cache goroutine that owns
// this bucket — no locking needed beyond what the caller already holds.
type ExportFunc func(f *Flow, reason ExportReason)

// Config configures a Cache; zero values take typical production defaults
// (N=20 -> 2^20 buckets, K=16 per bucket).
type Config struct {
	BucketBits     uint // bucket_count = 2^BucketBits
	BucketSize     int  // K
	ActiveTimeout  time.Duration
	InactiveTimeout time.Duration
}

// Cache is the fixed-capacity, bucketed, fingerprint-indexed flow table.
type Cache struct {
	buckets []flowBucket
	shift   uint
	mask    uint64

	activeTimeout   time.Duration
	inactiveTimeout time.Duration

	plugins []plugin.Plugin
	export  ExportFunc

	sweepCursor int

	mu sync.Mutex // guards the whole table; one cache per worker so contention is none in steady state
}

// New creates a flow cache with the given plugin instances (in
// registration order) and export callback.
func New(cfg Config, plugins []plugin.Plugin, export ExportFunc) *Cache {
	if cfg.BucketBits == 0 {
		cfg.BucketBits = 20
	}
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = 16
	}
	if cfg.ActiveTimeout <= 0 {
		cfg.ActiveTimeout = 300 * time.Second
	}
	if cfg.InactiveTimeout <= 0 {
		cfg.InactiveTimeout = 30 * time.Second
	}

	bucketCount := uint64(1) << cfg.BucketBits
	c := &Cache{
		buckets:         make([]flowBucket, bucketCount),
		shift:           64 - cfg.BucketBits,
		activeTimeout:   cfg.ActiveTimeout,
		inactiveTimeout: cfg.InactiveTimeout,
		plugins:         plugins,
		export:          export,
	}
	for i := range c.buckets {
		c.buckets[i].slots = make([]slot, cfg.BucketSize)
	}
	return c
}

func fingerprintOf(k Key) uint64 {
	var b fingerprint.Builder
	b.PutIP(k.SrcIP.Bytes())
	b.PutIP(k.DstIP.Bytes())
	b.PutByte(k.Proto)
	b.PutUint16(k.SrcPort)
	b.PutUint16(k.DstPort)
	b.PutUint16(k.VLANID)
	return b.Sum64()
}

// Put idempotently installs or updates the flow for pkt, invoking plugin
// hooks, per SPEC_FULL.md §4.3. It may export the evicted tail of a
// bucket or the old flow on FLUSH(_WITH_REINSERT); a reinsert puts the new
// flow into the old flow's slot directly, without a second lookup.
func (c *Cache) Put(pkt *descriptor.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(pkt)
}

func (c *Cache) put(pkt *descriptor.Packet) {
	fwdKey := keyFromPacket(pkt)
	fpFwd := fingerprintOf(fwdKey)
	b := &c.buckets[fpFwd>>c.shift]

	revKey := fwdKey.Reversed()
	fpRev := fingerprintOf(revKey)

	// A flow sits in the bucket of the fingerprint it was created with, so
	// search the forward fingerprint's bucket first, then the reverse one's.
	matchSlot := -1
	forward := true
	for _, cand := range [2]*flowBucket{b, &c.buckets[fpRev>>c.shift]} {
		for i := range cand.slots {
			if !cand.slots[i].occupied {
				continue
			}
			if cand.slots[i].fp == fpFwd && cand.slots[i].flow.Key == fwdKey {
				matchSlot, forward = i, true
			} else if cand.slots[i].fp == fpRev && cand.slots[i].flow.Key == revKey {
				matchSlot, forward = i, false
			} else {
				continue
			}
			break
		}
		if matchSlot >= 0 {
			b = cand
			break
		}
	}

	if matchSlot >= 0 {
		pkt.SourcePkt = forward
		f := b.slots[matchSlot].flow
		c.promote(b, matchSlot)
		c.updateFlow(b, 0, f, pkt)
		return
	}

	// Miss: evict the tail slot if the bucket is full, then insert at head.
	if b.slots[len(b.slots)-1].occupied {
		evicted := b.slots[len(b.slots)-1].flow
		c.exportSlot(evicted, ExportEvicted)
	}
	copy(b.slots[1:], b.slots[:len(b.slots)-1])

	f := newFlow(pkt, fpFwd)
	b.slots[0] = slot{occupied: true, fp: fpFwd, flow: f}
	c.createFlow(f, pkt)
}

// promote moves the matched slot to the head, shifting older slots down.
func (c *Cache) promote(b *flowBucket, idx int) {
	if idx == 0 {
		return
	}
	s := b.slots[idx]
	copy(b.slots[1:idx+1], b.slots[:idx])
	b.slots[0] = s
}

func (c *Cache) createFlow(f *Flow, pkt *descriptor.Packet) {
	for _, p := range c.plugins {
		p.PostCreate(f, pkt)
	}
}

// updateFlow runs the exact pre_update -> accumulate -> post_update
// sequence of §4.3, handling FLUSH and FLUSH_WITH_REINSERT. slotIdx is
// always 0 after promote() puts the matched flow at the bucket head.
func (c *Cache) updateFlow(b *flowBucket, slotIdx int, f *Flow, pkt *descriptor.Packet) {
	for _, p := range c.plugins {
		switch p.PreUpdate(f, pkt) {
		case plugin.Flush:
			c.exportAndClear(b, slotIdx, f, ExportPlugin)
			return
		case plugin.FlushWithReinsert:
			c.exportAndClear(b, slotIdx, f, ExportPlugin)
			pkt.SourcePkt = true
			newF := newFlow(pkt, fingerprintOf(keyFromPacket(pkt)))
			b.slots[slotIdx] = slot{occupied: true, fp: newF.FlowHash, flow: newF}
			c.createFlow(newF, pkt)
			return
		}
	}

	f.applyPacket(pkt)

	for _, p := range c.plugins {
		switch p.PostUpdate(f, pkt) {
		case plugin.Flush:
			c.exportAndClear(b, slotIdx, f, ExportPlugin)
			return
		case plugin.FlushWithReinsert:
			// The packet already applied to f above counts in the
			// exported flow. The reinsert is seeded from pkt as well:
			// newFlow applies pkt once, from zero, so the new flow also
			// starts with this packet as its first.
			c.exportAndClear(b, slotIdx, f, ExportPlugin)
			pkt.SourcePkt = true
			newF := newFlow(pkt, fingerprintOf(keyFromPacket(pkt)))
			b.slots[slotIdx] = slot{occupied: true, fp: newF.FlowHash, flow: newF}
			c.createFlow(newF, pkt)
			return
		}
	}
}

func (c *Cache) exportAndClear(b *flowBucket, slotIdx int, f *Flow, reason ExportReason) {
	c.exportSlot(f, reason)
	b.slots[slotIdx] = slot{}
}

func (c *Cache) exportSlot(f *Flow, reason ExportReason) {
	for _, p := range c.plugins {
		p.PreExport(f)
	}
	if c.export != nil {
		c.export(f, reason)
	}
	f.destroy()
}

// ExportExpired examines one bucket (round-robin cursor) per call and
// exports slots past active/inactive timeout, oldest time_last first.
func (c *Cache) ExportExpired(nowMicros int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buckets) == 0 {
		return
	}
	b := &c.buckets[c.sweepCursor]
	c.sweepCursor = (c.sweepCursor + 1) % len(c.buckets)

	type victim struct {
		idx int
		f   *Flow
	}
	var victims []victim
	activeMicros := int64(c.activeTimeout / time.Microsecond)
	inactiveMicros := int64(c.inactiveTimeout / time.Microsecond)

	for i := range b.slots {
		if !b.slots[i].occupied {
			continue
		}
		f := b.slots[i].flow
		if nowMicros-f.TimeLast > inactiveMicros || nowMicros-f.TimeFirst > activeMicros {
			victims = append(victims, victim{idx: i, f: f})
		}
	}

	// oldest time_last first
	for i := 0; i < len(victims); i++ {
		for j := i + 1; j < len(victims); j++ {
			if victims[j].f.TimeLast < victims[i].f.TimeLast {
				victims[i], victims[j] = victims[j], victims[i]
			}
		}
	}

	for _, v := range victims {
		reason := ExportInactiveTimeout
		if nowMicros-v.f.TimeFirst > activeMicros {
			reason = ExportActiveTimeout
		}
		c.exportSlot(v.f, reason)
		b.slots[v.idx] = slot{}
	}
}

// FlushAll exports every resident flow (shutdown path).
func (c *Cache) FlushAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for bi := range c.buckets {
		b := &c.buckets[bi]
		for i := range b.slots {
			if !b.slots[i].occupied {
				continue
			}
			c.exportSlot(b.slots[i].flow, ExportFlush)
			b.slots[i] = slot{}
		}
	}
}

// Len reports the number of resident flows (for tests/telemetry).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for bi := range c.buckets {
		for i := range c.buckets[bi].slots {
			if c.buckets[bi].slots[i].occupied {
				n++
			}
		}
	}
	return n
}
