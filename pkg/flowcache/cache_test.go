package flowcache

import (
	"testing"
	"time"

	"github.com/netweaver/flowmeter/pkg/descriptor"
)

func testPacket(srcIP, dstIP byte, srcPort, dstPort uint16, tsMicros int64) *descriptor.Packet {
	pkt := &descriptor.Packet{
		IPProto: 6,
	}
	pkt.SrcIP.SetV4([]byte{10, 0, 0, srcIP})
	pkt.DstIP.SetV4([]byte{10, 0, 0, dstIP})
	pkt.SrcPort = srcPort
	pkt.DstPort = dstPort
	pkt.TimestampSec = tsMicros / 1_000_000
	pkt.TimestampUsec = tsMicros % 1_000_000
	pkt.IPPayloadLen = 100
	return pkt
}

func TestCacheCreateAndUpdate(t *testing.T) {
	var exported []ExportReason
	c := New(Config{BucketBits: 4, BucketSize: 4}, nil, func(f *Flow, reason ExportReason) {
		exported = append(exported, reason)
	})

	p1 := testPacket(1, 2, 1000, 80, 0)
	c.Put(p1)
	if c.Len() != 1 {
		t.Fatalf("expected 1 flow after first packet, got %d", c.Len())
	}

	p2 := testPacket(1, 2, 1000, 80, 1000)
	c.Put(p2)
	if c.Len() != 1 {
		t.Fatalf("expected still 1 flow after same-direction update, got %d", c.Len())
	}
}

func TestCacheSymmetricLookup(t *testing.T) {
	c := New(Config{BucketBits: 4, BucketSize: 4}, nil, nil)

	fwd := testPacket(1, 2, 1000, 80, 0)
	c.Put(fwd)

	rev := testPacket(2, 1, 80, 1000, 1000) // reverse direction of the same flow
	c.Put(rev)

	if c.Len() != 1 {
		t.Fatalf("reverse-direction packet should match the existing flow, got %d flows", c.Len())
	}

	c.mu.Lock()
	var f *Flow
	for bi := range c.buckets {
		for i := range c.buckets[bi].slots {
			if c.buckets[bi].slots[i].occupied {
				f = c.buckets[bi].slots[i].flow
			}
		}
	}
	c.mu.Unlock()
	if f == nil {
		t.Fatal("no flow found in cache")
	}
	if f.SrcPackets != 1 || f.DstPackets != 1 {
		t.Fatalf("expected one packet per direction, got src=%d dst=%d", f.SrcPackets, f.DstPackets)
	}
}

func TestCacheEvictionUnderCollision(t *testing.T) {
	var evictedReasons []ExportReason
	c := New(Config{BucketBits: 1, BucketSize: 2}, nil, func(f *Flow, reason ExportReason) {
		evictedReasons = append(evictedReasons, reason)
	})

	// New treats BucketBits=0 as "use the default", so cut the table down
	// to a single bucket by hand: every flow then collides into it.
	c.buckets = c.buckets[:1]
	c.shift = 64
	c.Put(testPacket(1, 2, 1, 80, 0))
	c.Put(testPacket(1, 3, 2, 80, 0))
	if c.Len() != 2 {
		t.Fatalf("expected 2 flows filling the bucket, got %d", c.Len())
	}

	// A third distinct flow should evict the bucket's tail (LRU) slot.
	c.Put(testPacket(1, 4, 3, 80, 0))
	if c.Len() != 2 {
		t.Fatalf("expected eviction to keep bucket at capacity 2, got %d", c.Len())
	}
	if len(evictedReasons) != 1 || evictedReasons[0] != ExportEvicted {
		t.Fatalf("expected exactly one ExportEvicted, got %v", evictedReasons)
	}
}

func TestExportExpiredActiveAndInactiveTimeout(t *testing.T) {
	var reasons []ExportReason
	c := New(Config{
		BucketBits:      4,
		BucketSize:      4,
		ActiveTimeout:   10 * time.Second,
		InactiveTimeout: 2 * time.Second,
	}, nil, func(f *Flow, reason ExportReason) {
		reasons = append(reasons, reason)
	})

	c.Put(testPacket(1, 2, 1000, 80, 0))

	// Sweep every bucket well before any timeout elapses: nothing exported.
	for i := 0; i < len(c.buckets); i++ {
		c.ExportExpired(1_000_000) // 1s later
	}
	if len(reasons) != 0 {
		t.Fatalf("expected no expiry yet, got %v", reasons)
	}

	// Sweep again well past the inactive timeout.
	for i := 0; i < len(c.buckets); i++ {
		c.ExportExpired(5_000_000) // 5s later, > 2s inactive timeout
	}
	if len(reasons) != 1 || reasons[0] != ExportInactiveTimeout {
		t.Fatalf("expected one ExportInactiveTimeout, got %v", reasons)
	}
	if c.Len() != 0 {
		t.Fatalf("expected flow removed after inactive timeout, got %d resident", c.Len())
	}
}

func TestFlushAllExportsEveryFlow(t *testing.T) {
	count := 0
	c := New(Config{BucketBits: 4, BucketSize: 4}, nil, func(f *Flow, reason ExportReason) {
		if reason != ExportFlush {
			t.Fatalf("expected ExportFlush, got %v", reason)
		}
		count++
	})

	c.Put(testPacket(1, 2, 1000, 80, 0))
	c.Put(testPacket(1, 3, 2000, 443, 0))
	c.FlushAll()

	if count != 2 {
		t.Fatalf("expected 2 flows flushed, got %d", count)
	}
	if c.Len() != 0 {
		t.Fatalf("expected cache empty after FlushAll, got %d", c.Len())
	}
}
