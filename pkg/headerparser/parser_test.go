package headerparser

import (
	"encoding/binary"
	"testing"

	"github.com/netweaver/flowmeter/pkg/descriptor"
)

// buildEthIPv4TCP assembles a minimal Ethernet/IPv4/TCP frame with the
// given payload, for exercising the parser without a pcap fixture.
func buildEthIPv4TCP(t *testing.T, payload []byte) []byte {
	t.Helper()
	frame := make([]byte, 14+20+20+len(payload))

	// Ethernet header.
	copy(frame[0:6], []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}) // dst
	copy(frame[6:12], []byte{0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB}) // src
	binary.BigEndian.PutUint16(frame[12:14], 0x0800)             // IPv4

	ip := frame[14:34]
	ip[0] = 0x45 // version 4, IHL 5
	ip[1] = 0
	binary.BigEndian.PutUint16(ip[2:4], uint16(20+20+len(payload))) // total length
	binary.BigEndian.PutUint16(ip[4:6], 0x1234)                     // identification
	binary.BigEndian.PutUint16(ip[6:8], 0x4000)                     // DF set, no offset
	ip[8] = 64                                                      // TTL
	ip[9] = 6                                                       // TCP
	copy(ip[12:16], []byte{192, 168, 1, 1})
	copy(ip[16:20], []byte{192, 168, 1, 2})

	tcp := frame[34:54]
	binary.BigEndian.PutUint16(tcp[0:2], 12345) // src port
	binary.BigEndian.PutUint16(tcp[2:4], 443)   // dst port
	binary.BigEndian.PutUint32(tcp[4:8], 1000)  // seq
	binary.BigEndian.PutUint32(tcp[8:12], 2000) // ack
	tcp[12] = 5 << 4                            // data offset = 5 (no options)
	tcp[13] = 0x18                              // PSH+ACK
	binary.BigEndian.PutUint16(tcp[14:16], 65535)

	copy(frame[54:], payload)
	return frame
}

func TestParseEthIPv4TCP(t *testing.T) {
	payload := []byte("hello world")
	frame := buildEthIPv4TCP(t, payload)

	p := New()
	var pkt descriptor.Packet
	if err := p.Parse(frame, len(frame), 1000, 0, descriptor.DatalinkEN10MB, &pkt); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if pkt.IPVersion != descriptor.IPv4 {
		t.Fatalf("expected IPv4, got %d", pkt.IPVersion)
	}
	if pkt.IPProto != 6 {
		t.Fatalf("expected proto TCP(6), got %d", pkt.IPProto)
	}
	if pkt.SrcPort != 12345 || pkt.DstPort != 443 {
		t.Fatalf("expected ports 12345->443, got %d->%d", pkt.SrcPort, pkt.DstPort)
	}
	if pkt.TCPFlags != 0x18 {
		t.Fatalf("expected TCP flags 0x18, got %#x", pkt.TCPFlags)
	}
	if string(pkt.Payload) != string(payload) {
		t.Fatalf("expected payload %q, got %q", payload, pkt.Payload)
	}
	if pkt.SrcIP.Bytes()[0] != 192 || pkt.DstIP.Bytes()[3] != 2 {
		t.Fatalf("unexpected IP addresses: src=%v dst=%v", pkt.SrcIP.Bytes(), pkt.DstIP.Bytes())
	}
}

func TestParseTruncatedFrameMarksUnknown(t *testing.T) {
	frame := buildEthIPv4TCP(t, nil)
	truncated := frame[:20] // cuts off mid-IPv4-header

	p := New()
	var pkt descriptor.Packet
	if err := p.Parse(truncated, len(truncated), 0, 0, descriptor.DatalinkEN10MB, &pkt); err != nil {
		t.Fatalf("Parse should not itself error, got %v", err)
	}
	if pkt.IPVersion != descriptor.IPUnknown {
		t.Fatalf("expected IPUnknown for truncated frame, got %d", pkt.IPVersion)
	}
}

func TestParseVLANTag(t *testing.T) {
	inner := buildEthIPv4TCP(t, []byte("x"))
	// Splice an 802.1Q tag between the Ethernet header and ethertype.
	frame := make([]byte, 0, len(inner)+4)
	frame = append(frame, inner[0:12]...)
	frame = append(frame, 0x81, 0x00, 0x00, 0x2A) // VLAN ID 42
	frame = append(frame, inner[12:14]...)         // original ethertype (IPv4)
	frame = append(frame, inner[14:]...)

	p := New()
	var pkt descriptor.Packet
	if err := p.Parse(frame, len(frame), 0, 0, descriptor.DatalinkEN10MB, &pkt); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if pkt.VLANID != 42 {
		t.Fatalf("expected VLANID=42, got %d", pkt.VLANID)
	}
	if pkt.IPVersion != descriptor.IPv4 {
		t.Fatalf("expected IPv4 after VLAN tag, got %d", pkt.IPVersion)
	}
}
