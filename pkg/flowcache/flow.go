// Package flowcache implements the bidirectional flow record and the
// fixed-capacity, bucketed, fingerprint-indexed flow table described in
// SPEC_FULL.md §3/§4.3.
package flowcache

import (
	"github.com/netweaver/flowmeter/pkg/descriptor"
)

// Key is the canonical 5-tuple plus VLAN context, always stored in the
// flow's forward (canonical) orientation.
type Key struct {
	SrcIP, DstIP     descriptor.IP
	Proto            uint8
	SrcPort, DstPort uint16
	VLANID           uint16
}

// Reversed returns the swapped-direction form of the key, used to test
// for a match against the opposite traffic direction.
func (k Key) Reversed() Key {
	return Key{
		SrcIP: k.DstIP, DstIP: k.SrcIP,
		Proto:   k.Proto,
		SrcPort: k.DstPort, DstPort: k.SrcPort,
		VLANID: k.VLANID,
	}
}

func keyFromPacket(pkt *descriptor.Packet) Key {
	return Key{
		SrcIP: pkt.SrcIP, DstIP: pkt.DstIP,
		Proto:   pkt.IPProto,
		SrcPort: pkt.SrcPort, DstPort: pkt.DstPort,
		VLANID: pkt.VLANID,
	}
}

// ExportReason identifies why a flow left the cache.
type ExportReason int

const (
	ExportEvicted ExportReason = iota
	ExportActiveTimeout
	ExportInactiveTimeout
	ExportPlugin
	ExportFlush // explicit flush_all (shutdown)
)

func (r ExportReason) String() string {
	switch r {
	case ExportEvicted:
		return "EVICTED"
	case ExportActiveTimeout:
		return "ACTIVE_TIMEOUT"
	case ExportInactiveTimeout:
		return "INACTIVE_TIMEOUT"
	case ExportPlugin:
		return "PLUGIN"
	case ExportFlush:
		return "FLUSH"
	}
	return "UNKNOWN"
}

// Extension is a plugin-owned per-flow data blob, tagged by plugin ID. The
// concrete record type is opaque to the cache; plugins type-assert it.
type Extension struct {
	PluginID int
	Record   interface{}
}

// Flow is a bidirectional flow record, per SPEC_FULL.md §3 "Flow record".
type Flow struct {
	Key Key

	TimeFirst, TimeLast int64 // absolute microseconds

	SrcPackets, DstPackets uint64
	SrcBytes, DstBytes     uint64
	SrcTCPFlags, DstTCPFlags uint8

	SrcMAC, DstMAC descriptor.MAC

	// exts is indexed by plugin ID rather than an intrusive linked list
	// (SPEC_FULL.md §9 design note): O(1) lookup/replace, at most one
	// entry per plugin under normal operation.
	exts map[int]*Extension

	FlowHash uint64

	// CTTHandle is an opaque reference into the optional hardware-offload
	// control plane; nil when CTT is absent.
	CTTHandle interface{}
}

func newFlow(pkt *descriptor.Packet, hash uint64) *Flow {
	f := &Flow{
		Key:       keyFromPacket(pkt),
		TimeFirst: pkt.TimestampSec*1_000_000 + pkt.TimestampUsec,
		exts:      make(map[int]*Extension, 4),
		FlowHash:  hash,
	}
	f.TimeLast = f.TimeFirst
	f.SrcMAC = pkt.SrcMAC
	f.DstMAC = pkt.DstMAC
	pkt.SourcePkt = true
	f.applyPacket(pkt)
	return f
}

// applyPacket accumulates one packet's counters in the direction implied
// by pkt.SourcePkt, which must already be resolved by the cache.
func (f *Flow) applyPacket(pkt *descriptor.Packet) {
	ts := pkt.TimestampSec*1_000_000 + pkt.TimestampUsec
	if ts > f.TimeLast {
		f.TimeLast = ts
	}
	if ts < f.TimeFirst {
		f.TimeFirst = ts
	}

	bytes := uint64(pkt.IPPayloadLen)
	if pkt.IPVersion == descriptor.IPUnknown {
		bytes = 0
	}

	if pkt.SourcePkt {
		f.SrcPackets++
		f.SrcBytes += bytes
		f.SrcTCPFlags |= pkt.TCPFlags
	} else {
		f.DstPackets++
		f.DstBytes += bytes
		f.DstTCPFlags |= pkt.TCPFlags
	}
}

// AddExtension links a new extension record owned by pluginID. Replaces
// any existing record for that plugin (legal only under
// FLUSH_WITH_REINSERT reinsertion semantics — see plugin package).
func (f *Flow) AddExtension(pluginID int, record interface{}) {
	f.exts[pluginID] = &Extension{PluginID: pluginID, Record: record}
}

// Extension returns the record owned by pluginID, or nil if absent.
func (f *Flow) Extension(pluginID int) interface{} {
	e, ok := f.exts[pluginID]
	if !ok {
		return nil
	}
	return e.Record
}

// RemoveExtension detaches pluginID's record, e.g. from pre_export.
func (f *Flow) RemoveExtension(pluginID int) {
	delete(f.exts, pluginID)
}

// Extensions returns every live extension, in unspecified order. Export
// paths that need plugin-registration order should iterate the registry
// and look up by ID via Extension instead.
func (f *Flow) Extensions() []*Extension {
	out := make([]*Extension, 0, len(f.exts))
	for _, e := range f.exts {
		out = append(out, e)
	}
	return out
}

// destroy clears the extension chain — called once, at export time.
func (f *Flow) destroy() {
	f.exts = nil
}
