package plugins

import (
	"encoding/binary"
	"fmt"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/ipfixenc"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const (
	ieDNSQName = 7090
	ieDNSQType = 7091
	ieDNSRCode = 7092
	ieDNSDOBit = 7093
	ieDNSAType = 7094
	ieDNSRData = 7095

	dnsOptRRType = 41 // EDNS0 OPT pseudo-RR (RFC 6891)
	dnsDOBitMask = 0x8000
)

// DNSRecord captures the first question name/type, the first answer's
// type and rdata, the response code, and the DNSSEC-OK bit carried in an
// EDNS0 OPT pseudo-RR, if present.
type DNSRecord struct {
	QName        string
	QType        uint16
	RCode        uint8
	AType        uint16
	RData        []byte
	DOBit        bool
	haveQ, haveA bool
}

// decodeDNSName reads a (possibly compressed) name starting at off within
// msg, returning the dotted name and the offset just past it (not
// following compression pointers for that second value).
func decodeDNSName(msg []byte, off int) (string, int, bool) {
	var labels []string
	start := off
	jumped := false
	guard := 0
	for {
		guard++
		if guard > 128 || off >= len(msg) {
			return "", 0, false
		}
		l := int(msg[off])
		if l == 0 {
			off++
			break
		}
		if l&0xC0 == 0xC0 {
			if off+1 >= len(msg) {
				return "", 0, false
			}
			ptr := (int(l&0x3F) << 8) | int(msg[off+1])
			if !jumped {
				start = off + 2
			}
			jumped = true
			off = ptr
			continue
		}
		off++
		if off+l > len(msg) {
			return "", 0, false
		}
		labels = append(labels, string(msg[off:off+l]))
		off += l
	}
	end := off
	if jumped {
		end = start
	}
	name := ""
	for i, lb := range labels {
		if i > 0 {
			name += "."
		}
		name += lb
	}
	return name, end, true
}

// parseDNSHeader reports whether msg looks like a well-formed DNS message
// and whether it is a response, plus the section counts.
func parseDNSHeader(msg []byte) (qdcount, ancount, nscount, arcount int, isResponse bool, rcode uint8, ok bool) {
	if len(msg) < 12 {
		return 0, 0, 0, 0, false, 0, false
	}
	flags := binary.BigEndian.Uint16(msg[2:4])
	isResponse = flags&0x8000 != 0
	rcode = uint8(flags & 0x000F)
	qdcount = int(binary.BigEndian.Uint16(msg[4:6]))
	ancount = int(binary.BigEndian.Uint16(msg[6:8]))
	nscount = int(binary.BigEndian.Uint16(msg[8:10]))
	arcount = int(binary.BigEndian.Uint16(msg[10:12]))
	return qdcount, ancount, nscount, arcount, isResponse, rcode, true
}

// skipDNSQuestion advances past one question entry (name, QTYPE, QCLASS).
func skipDNSQuestion(msg []byte, off int) (int, bool) {
	_, next, ok := decodeDNSName(msg, off)
	if !ok || next+4 > len(msg) {
		return 0, false
	}
	return next + 4, true
}

// decodeDNSRR reads one resource record (name, TYPE, CLASS, TTL, RDATA)
// starting at off, returning the parts callers care about plus the offset
// just past the record.
func decodeDNSRR(msg []byte, off int) (name string, rtype uint16, ttl uint32, rdata []byte, next int, ok bool) {
	name, o, ok := decodeDNSName(msg, off)
	if !ok || o+10 > len(msg) {
		return "", 0, 0, nil, 0, false
	}
	rtype = binary.BigEndian.Uint16(msg[o : o+2])
	ttl = binary.BigEndian.Uint32(msg[o+4 : o+8])
	rdlength := int(binary.BigEndian.Uint16(msg[o+8 : o+10]))
	rdOff := o + 10
	if rdOff+rdlength > len(msg) {
		return "", 0, 0, nil, 0, false
	}
	return name, rtype, ttl, msg[rdOff : rdOff+rdlength], rdOff + rdlength, true
}

// skipDNSRRs advances off past count resource records, used to walk past
// sections this plugin doesn't otherwise need (e.g. the authority section
// on the way to the additional section's OPT record).
func skipDNSRRs(msg []byte, off, count int) (int, bool) {
	for i := 0; i < count; i++ {
		_, _, _, _, next, ok := decodeDNSRR(msg, off)
		if !ok {
			return 0, false
		}
		off = next
	}
	return off, true
}

// DNS captures the first question, the first answer, and EDNS0 OPT state
// of DNS traffic on port 53. Each message is parsed from the first payload
// byte, so a TCP/53 message's 2-byte length prefix is not skipped.
type DNS struct{ plugin.Base }

func NewDNS() *DNS { return &DNS{} }

func (p *DNS) Name() string { return "dns" }

func (p *DNS) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if pkt.SrcPort != 53 && pkt.DstPort != 53 {
		return plugin.Continue
	}
	rec := &DNSRecord{}
	f.AddExtension(p.ID(), rec)
	return p.observe(rec, pkt)
}

func (p *DNS) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	rec, ok := f.Extension(p.ID()).(*DNSRecord)
	if !ok {
		return plugin.Continue
	}
	return p.observe(rec, pkt)
}

// observe updates rec from one DNS message and reports the flow action:
// a question populates QName/QType, a response populates RCode, the
// first answer's type/rdata, and the OPT pseudo-RR's DNSSEC-OK bit, and
// flushes the flow once that first response has been captured.
func (p *DNS) observe(rec *DNSRecord, pkt *descriptor.Packet) plugin.Action {
	if rec.haveA {
		return plugin.Continue
	}
	msg := pkt.Payload[:pkt.PayloadLen]
	qd, an, ns, ar, isResp, rcode, ok := parseDNSHeader(msg)
	if !ok {
		return plugin.Continue
	}

	if !isResp {
		if !rec.haveQ && qd > 0 {
			if name, next, ok := decodeDNSName(msg, 12); ok && next+4 <= len(msg) {
				rec.QName = name
				rec.QType = binary.BigEndian.Uint16(msg[next : next+2])
				rec.haveQ = true
			}
		}
		return plugin.Continue
	}

	rec.RCode = rcode
	off := 12
	for i := 0; i < qd; i++ {
		next, ok := skipDNSQuestion(msg, off)
		if !ok {
			rec.haveA = true
			return plugin.Flush
		}
		off = next
	}
	if an > 0 {
		if _, rtype, _, rdata, next, ok := decodeDNSRR(msg, off); ok {
			rec.AType = rtype
			rec.RData = append([]byte(nil), rdata...)
			off = next
			off, ok = skipDNSRRs(msg, off, an-1)
			if !ok {
				rec.haveA = true
				return plugin.Flush
			}
		}
	}
	if off, ok = skipDNSRRs(msg, off, ns); ok {
		for i := 0; i < ar; i++ {
			name, rtype, ttl, _, next, ok := decodeDNSRR(msg, off)
			if !ok {
				break
			}
			if rtype == dnsOptRRType && name == "" {
				rec.DOBit = ttl&dnsDOBitMask != 0
			}
			off = next
		}
	}

	rec.haveA = true
	return plugin.Flush
}

func (p *DNS) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*DNSRecord)
	if !ok {
		return ""
	}
	return fmt.Sprintf("dns(qname=%s,qtype=%d,rcode=%d,atype=%d,dobit=%t)",
		rec.QName, rec.QType, rec.RCode, rec.AType, rec.DOBit)
}

func (p *DNS) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*DNSRecord)
	if !ok {
		return 0
	}
	off := 0
	n := ipfixenc.PutVarLen(buf[off:], []byte(rec.QName))
	if n < 0 {
		return -1
	}
	off += n
	if len(buf) < off+3 {
		return -1
	}
	buf[off], buf[off+1] = byte(rec.QType>>8), byte(rec.QType)
	off += 2
	buf[off] = rec.RCode
	off++
	if len(buf) < off+2 {
		return -1
	}
	buf[off], buf[off+1] = byte(rec.AType>>8), byte(rec.AType)
	off += 2
	n = ipfixenc.PutVarLen(buf[off:], rec.RData)
	if n < 0 {
		return -1
	}
	off += n
	if len(buf) < off+1 {
		return -1
	}
	if rec.DOBit {
		buf[off] = 1
	}
	off++
	return off
}

func (p *DNS) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: ipfixenc.CesnetPEN, FieldID: ieDNSQName, Length: 0xFFFF},
		{PEN: 0, FieldID: ieDNSQType, Length: 2},
		{PEN: 0, FieldID: ieDNSRCode, Length: 1},
		{PEN: 0, FieldID: ieDNSAType, Length: 2},
		{PEN: ipfixenc.CesnetPEN, FieldID: ieDNSRData, Length: 0xFFFF},
		{PEN: 0, FieldID: ieDNSDOBit, Length: 1},
	}
}
