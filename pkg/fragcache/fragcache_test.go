package fragcache

import (
	"testing"
	"time"

	"github.com/netweaver/flowmeter/pkg/descriptor"
)

func fragPacket(fragID uint32, fragOff uint16, moreFrags bool, srcPort, dstPort uint16, ts time.Time) *descriptor.Packet {
	pkt := &descriptor.Packet{
		IPVersion:     descriptor.IPv4,
		FragID:        fragID,
		FragOff:       fragOff,
		MoreFragments: moreFrags,
		SrcPort:       srcPort,
		DstPort:       dstPort,
	}
	pkt.SrcIP.SetV4([]byte{10, 0, 0, 1})
	pkt.DstIP.SetV4([]byte{10, 0, 0, 2})
	pkt.TimestampSec = ts.Unix()
	pkt.TimestampUsec = int64(ts.Nanosecond() / 1000)
	return pkt
}

func TestCachePacketNonFragmented(t *testing.T) {
	c := New(Config{})
	pkt := fragPacket(0, 0, false, 1234, 80, time.Now())
	if c.CachePacket(pkt) {
		t.Fatal("non-fragmented packet should report false")
	}
	if c.Snapshot().NotFragmentedCount != 1 {
		t.Fatalf("expected NotFragmentedCount=1, got %+v", c.Snapshot())
	}
}

func TestCachePacketReassemblyFillsPorts(t *testing.T) {
	c := New(Config{Timeout: time.Second})
	now := time.Now()

	first := fragPacket(42, 0, true, 1234, 80, now)
	if !c.CachePacket(first) {
		t.Fatal("first fragment should report true")
	}

	second := fragPacket(42, 1480, false, 0, 0, now.Add(10*time.Millisecond))
	if !c.CachePacket(second) {
		t.Fatal("subsequent fragment should report true")
	}
	if second.SrcPort != 1234 || second.DstPort != 80 {
		t.Fatalf("expected ports filled from first fragment, got src=%d dst=%d", second.SrcPort, second.DstPort)
	}

	stats := c.Snapshot()
	if stats.UnmatchedFragmentCount != 0 {
		t.Fatalf("expected a matched fragment, got %+v", stats)
	}
}

func TestCachePacketUnmatchedAfterTimeout(t *testing.T) {
	c := New(Config{Timeout: time.Millisecond})
	now := time.Now()

	first := fragPacket(7, 0, true, 1234, 80, now)
	c.CachePacket(first)

	late := fragPacket(7, 1480, false, 0, 0, now.Add(50*time.Millisecond))
	c.CachePacket(late)

	if late.SrcPort != 0 || late.DstPort != 0 {
		t.Fatalf("expected no port fill past timeout, got src=%d dst=%d", late.SrcPort, late.DstPort)
	}
	if c.Snapshot().UnmatchedFragmentCount != 1 {
		t.Fatalf("expected UnmatchedFragmentCount=1, got %+v", c.Snapshot())
	}
}
