package plugins

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

// encodeDNSName renders name as wire-format labels terminated by a zero
// length octet, with no compression.
func encodeDNSName(name string) []byte {
	var out []byte
	for _, label := range strings.Split(name, ".") {
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	return append(out, 0)
}

func dnsQuery(qname string, qtype uint16) []byte {
	msg := make([]byte, 12)
	binary.BigEndian.PutUint16(msg[2:4], 0x0100)
	binary.BigEndian.PutUint16(msg[4:6], 1) // qdcount
	msg = append(msg, encodeDNSName(qname)...)
	var qtb [4]byte
	binary.BigEndian.PutUint16(qtb[0:2], qtype)
	binary.BigEndian.PutUint16(qtb[2:4], 1) // IN
	return append(msg, qtb[:]...)
}

func dnsResponse(qname string, qtype uint16, rdata []byte) []byte {
	msg := make([]byte, 12)
	binary.BigEndian.PutUint16(msg[2:4], 0x8180)
	binary.BigEndian.PutUint16(msg[4:6], 1) // qdcount
	binary.BigEndian.PutUint16(msg[6:8], 1) // ancount
	msg = append(msg, encodeDNSName(qname)...)
	var qtb [4]byte
	binary.BigEndian.PutUint16(qtb[0:2], qtype)
	binary.BigEndian.PutUint16(qtb[2:4], 1)
	msg = append(msg, qtb[:]...)

	msg = append(msg, 0xC0, 0x0C) // compressed pointer to the question's name
	var rr [10]byte
	binary.BigEndian.PutUint16(rr[0:2], qtype)
	binary.BigEndian.PutUint16(rr[2:4], 1)
	binary.BigEndian.PutUint32(rr[4:8], 300)
	binary.BigEndian.PutUint16(rr[8:10], uint16(len(rdata)))
	msg = append(msg, rr[:]...)
	return append(msg, rdata...)
}

func pktFromDNS(msg []byte) *descriptor.Packet {
	return &descriptor.Packet{SrcPort: 53, DstPort: 12345, Payload: msg, PayloadLen: len(msg)}
}

// TestDNSFlushesOnMatchingResponse exercises scenario S3: a query A for
// example.com followed by a response with answer 1.2.3.4 should flush the
// flow carrying qname=example.com, atype=1, rdata=0x01020304.
func TestDNSFlushesOnMatchingResponse(t *testing.T) {
	p := NewDNS()
	p.SetID(0)
	f := newMemFlow()

	if action := p.PostCreate(f, pktFromDNS(dnsQuery("example.com", 1))); action != plugin.Continue {
		t.Fatalf("expected Continue on the query, got %v", action)
	}

	resp := dnsResponse("example.com", 1, []byte{0x01, 0x02, 0x03, 0x04})
	action := p.PreUpdate(f, pktFromDNS(resp))
	if action != plugin.Flush {
		t.Fatalf("expected Flush on the matching response, got %v", action)
	}

	rec, ok := f.Extension(0).(*DNSRecord)
	if !ok {
		t.Fatal("expected a DNSRecord extension")
	}
	if rec.QName != "example.com" {
		t.Fatalf("expected qname example.com, got %q", rec.QName)
	}
	if rec.AType != 1 {
		t.Fatalf("expected atype 1, got %d", rec.AType)
	}
	if string(rec.RData) != string([]byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatalf("expected rdata 0x01020304, got % x", rec.RData)
	}
}

func TestDNSSecondResponseIsIgnored(t *testing.T) {
	p := NewDNS()
	p.SetID(0)
	f := newMemFlow()

	p.PostCreate(f, pktFromDNS(dnsQuery("example.com", 1)))
	p.PreUpdate(f, pktFromDNS(dnsResponse("example.com", 1, []byte{0x01, 0x02, 0x03, 0x04})))

	action := p.PreUpdate(f, pktFromDNS(dnsResponse("example.com", 1, []byte{0x05, 0x06, 0x07, 0x08})))
	if action != plugin.Continue {
		t.Fatalf("expected Continue once the flow already has its answer, got %v", action)
	}
	rec := f.Extension(0).(*DNSRecord)
	if string(rec.RData) != string([]byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatalf("second response must not overwrite the first answer, got % x", rec.RData)
	}
}

func TestDNSIgnoresNonDNSPorts(t *testing.T) {
	p := NewDNS()
	p.SetID(0)
	f := newMemFlow()

	pkt := &descriptor.Packet{SrcPort: 443, DstPort: 12345}
	if action := p.PostCreate(f, pkt); action != plugin.Continue {
		t.Fatalf("expected Continue for non-DNS traffic, got %v", action)
	}
	if f.Extension(0) != nil {
		t.Fatal("expected no DNSRecord extension for non-DNS traffic")
	}
}
