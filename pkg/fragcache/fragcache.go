// Package fragcache implements the fragment reassembly cache described in
// SPEC_FULL.md §3/§4.2: a small FIFO-bucketed table mapping
// (ipv, vlan, frag_id, src_ip, dst_ip) to the transport ports observed on
// the first fragment, so later fragments without an L4 header can still
// be attributed to a flow.
package fragcache

import (
	"sync"
	"time"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/fingerprint"
)

const defaultBucketCount = 10007 // prime, per spec default
const defaultRingBits = 4        // 2^4 = 16 entries per bucket... default below overrides to 2^4? spec says 2^L, default L=4 -> 16

// entry is one slot of a bucket's FIFO ring.
type entry struct {
	valid   bool
	ipv     uint8
	vlan    uint16
	fragID  uint32
	srcIP   [16]byte
	dstIP   [16]byte
	srcPort uint16
	dstPort uint16
	ts      time.Time
}

type bucket struct {
	mu      sync.Mutex
	ring    []entry
	next    int // next slot to overwrite (FIFO head)
}

// Stats mirrors SPEC_FULL.md §4.2's required counters.
type Stats struct {
	FragmentedCount        uint64
	NotFragmentedCount     uint64
	FragmentCount          uint64
	UnmatchedFragmentCount uint64
}

// Cache is the fragment reassembly cache.
type Cache struct {
	buckets []bucket
	timeout time.Duration

	mu    sync.Mutex
	stats Stats
}

// Config configures a Cache; zero values take the package's defaults.
type Config struct {
	BucketCount int           // default 10007
	RingSize    int           // default 16 (2^4)
	Timeout     time.Duration // default 3s
}

// New creates a fragment cache.
func New(cfg Config) *Cache {
	if cfg.BucketCount <= 0 {
		cfg.BucketCount = defaultBucketCount
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 1 << defaultRingBits
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}

	c := &Cache{
		buckets: make([]bucket, cfg.BucketCount),
		timeout: cfg.Timeout,
	}
	for i := range c.buckets {
		c.buckets[i].ring = make([]entry, cfg.RingSize)
	}
	return c
}

func (c *Cache) bucketIndex(ipv uint8, vlan uint16, fragID uint32, srcIP, dstIP []byte) int {
	var b fingerprint.Builder
	b.PutByte(ipv)
	b.PutUint16(vlan)
	b.PutUint32(fragID)
	b.PutIP(srcIP)
	b.PutIP(dstIP)
	h := b.Sum64()
	return int(h % uint64(len(c.buckets)))
}

// CachePacket implements the §4.2 contract: examines frag_off/more_fragments.
// Returns whether the packet is part of a fragmented datagram. On a
// non-first fragment that hits the cache within the timeout, it fills in
// pkt.SrcPort/DstPort from the stored first-fragment value.
func (c *Cache) CachePacket(pkt *descriptor.Packet) bool {
	if pkt.FragOff == 0 && !pkt.MoreFragments {
		c.mu.Lock()
		c.stats.NotFragmentedCount++
		c.mu.Unlock()
		return false
	}

	srcIP, dstIP := pkt.SrcIP.Bytes(), pkt.DstIP.Bytes()
	idx := c.bucketIndex(pkt.IPVersion, pkt.VLANID, pkt.FragID, srcIP, dstIP)
	b := &c.buckets[idx]

	if pkt.FragOff == 0 && pkt.MoreFragments {
		b.mu.Lock()
		e := entry{
			valid:   true,
			ipv:     pkt.IPVersion,
			vlan:    pkt.VLANID,
			fragID:  pkt.FragID,
			srcPort: pkt.SrcPort,
			dstPort: pkt.DstPort,
			ts:      pkt.Timestamp(),
		}
		copy(e.srcIP[:], srcIP)
		copy(e.dstIP[:], dstIP)
		b.ring[b.next] = e
		b.next = (b.next + 1) % len(b.ring)
		b.mu.Unlock()

		c.mu.Lock()
		c.stats.FragmentedCount++
		c.stats.FragmentCount++
		c.mu.Unlock()
		return true
	}

	// Non-first fragment: scan newest-to-oldest for a matching key not
	// older than the timeout.
	now := pkt.Timestamp()
	b.mu.Lock()
	found := false
	for i := 0; i < len(b.ring); i++ {
		// walk backwards from the most-recently-written slot
		slot := (b.next - 1 - i + len(b.ring)) % len(b.ring)
		e := b.ring[slot]
		if !e.valid {
			continue
		}
		if e.ipv == pkt.IPVersion && e.vlan == pkt.VLANID && e.fragID == pkt.FragID &&
			matchIP(e.srcIP[:], srcIP) && matchIP(e.dstIP[:], dstIP) {
			if now.Sub(e.ts) <= c.timeout {
				pkt.SrcPort = e.srcPort
				pkt.DstPort = e.dstPort
				found = true
			}
			break
		}
	}
	b.mu.Unlock()

	c.mu.Lock()
	c.stats.FragmentCount++
	if !found {
		c.stats.UnmatchedFragmentCount++
	}
	c.mu.Unlock()
	return true
}

func matchIP(a, b []byte) bool {
	if len(a) != len(b) {
		// one may be zero-padded to 16 while the other is the raw slice
		n := len(a)
		if len(b) < n {
			n = len(b)
		}
		for i := 0; i < n; i++ {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of the current counters.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
