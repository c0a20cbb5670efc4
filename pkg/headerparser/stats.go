package headerparser

import "sync"

// VLANCounters is the per-VLAN byte/packet histogram entry.
type VLANCounters struct {
	Packets uint64
	Bytes   uint64
}

// Stats holds the parser telemetry named in SPEC_FULL.md §4.1: per-protocol
// packet counts, per-VLAN histograms, and a top-N destination-port
// accumulator per protocol. Counters are updated by the single worker that
// owns this parser and read by the telemetry snapshot path, so plain
// uint64 fields under a mutex are sufficient (no per-packet atomics
// needed beyond what the mutex already buys the snapshot reader).
type Stats struct {
	mu sync.Mutex

	MPLSCount    uint64
	VLANCount    uint64
	PPPoECount   uint64
	TRILLCount   uint64
	IPv4Count    uint64
	IPv6Count    uint64
	TCPCount     uint64
	UDPCount     uint64
	SeenCount    uint64
	UnknownCount uint64

	vlanHist map[uint16]*VLANCounters

	TopTCPPorts *TopPorts
	TopUDPPorts *TopPorts
}

// NewStats creates a Stats block with the default top-N width (10).
func NewStats() *Stats {
	return &Stats{
		vlanHist:    make(map[uint16]*VLANCounters),
		TopTCPPorts: NewTopPorts(10),
		TopUDPPorts: NewTopPorts(10),
	}
}

func (s *Stats) observeVLAN(vlanID uint16, bytes int) {
	if vlanID == 0 {
		return
	}
	s.mu.Lock()
	c, ok := s.vlanHist[vlanID]
	if !ok {
		c = &VLANCounters{}
		s.vlanHist[vlanID] = c
	}
	c.Packets++
	c.Bytes += uint64(bytes)
	s.mu.Unlock()
}

// VLANSnapshot returns a copy of the per-VLAN histogram.
func (s *Stats) VLANSnapshot() map[uint16]VLANCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint16]VLANCounters, len(s.vlanHist))
	for k, v := range s.vlanHist {
		out[k] = *v
	}
	return out
}
