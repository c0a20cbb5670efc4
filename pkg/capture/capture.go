// Package capture wraps libpcap (live interface or offline file) as the
// packet source feeding the header parser, per SPEC_FULL.md §2/§3.
package capture

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/netweaver/flowmeter/pkg/descriptor"
)

// Source yields raw frames with capture metadata.
type Source struct {
	handle   *pcap.Handle
	datalink descriptor.Datalink
}

// OpenLive opens a live capture on iface with the given snaplen.
func OpenLive(iface string, snaplen int32) (*Source, error) {
	handle, err := pcap.OpenLive(iface, snaplen, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("capture: open live %s: %w", iface, err)
	}
	return &Source{handle: handle, datalink: mapDatalink(handle.LinkType())}, nil
}

// OpenOffline opens a pcap file for batch/replay processing.
func OpenOffline(path string) (*Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open offline %s: %w", path, err)
	}
	return &Source{handle: handle, datalink: mapDatalink(handle.LinkType())}, nil
}

func mapDatalink(lt layers.LinkType) descriptor.Datalink {
	switch lt {
	case layers.LinkTypeLinuxSLL:
		return descriptor.DatalinkLinuxSLL
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		return descriptor.DatalinkRaw
	default:
		return descriptor.DatalinkEN10MB
	}
}

// Datalink reports the source's link-layer framing.
func (s *Source) Datalink() descriptor.Datalink { return s.datalink }

// ReadPacket blocks for the next frame, returning its bytes, wire length,
// and capture timestamp (seconds, microseconds). Returns io.EOF-wrapping
// error at end of an offline file.
func (s *Source) ReadPacket() (data []byte, wireLen int, tsSec, tsUsec int64, err error) {
	data, ci, err := s.handle.ZeroCopyReadPacketData()
	if err != nil {
		return nil, 0, 0, 0, err
	}
	return data, ci.Length, int64(ci.Timestamp.Unix()), int64(ci.Timestamp.Nanosecond() / 1000), nil
}

// SetFilter applies a BPF filter expression.
func (s *Source) SetFilter(expr string) error {
	return s.handle.SetBPFFilter(expr)
}

// Close releases the underlying handle.
func (s *Source) Close() {
	s.handle.Close()
}
