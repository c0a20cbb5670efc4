package plugins

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/ipfixenc"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const (
	ieQName    = 7100
	ieResolved = 7101
)

// PassivednsRecord holds the PTR query name and its resolved hostname,
// completing once the first matching response arrives.
type PassivednsRecord struct {
	QName    string
	Resolved string
	Done     bool
}

// reverseArpaToIP converts an in-addr.arpa/ip6.arpa query name back to the
// address it names, for correlating PTR lookups with their answer.
func reverseArpaToIP(name string) (string, bool) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".in-addr.arpa") {
		parts := strings.Split(strings.TrimSuffix(lower, ".in-addr.arpa"), ".")
		if len(parts) != 4 {
			return "", false
		}
		for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
			parts[i], parts[j] = parts[j], parts[i]
		}
		for _, p := range parts {
			if _, err := strconv.Atoi(p); err != nil {
				return "", false
			}
		}
		return strings.Join(parts, "."), true
	}
	if strings.HasSuffix(lower, ".ip6.arpa") {
		nibbles := strings.Split(strings.TrimSuffix(lower, ".ip6.arpa"), ".")
		if len(nibbles) != 32 {
			return "", false
		}
		out := make([]byte, 0, 39)
		for i := len(nibbles) - 1; i >= 0; i-- {
			if len(nibbles[i]) != 1 || !strings.Contains("0123456789abcdef", nibbles[i]) {
				return "", false
			}
			if out = append(out, nibbles[i][0]); i%4 == 0 && i > 0 {
				out = append(out, ':')
			}
		}
		return string(out), true
	}
	return "", false
}

// Passivedns resolves PTR queries to hostnames and marks itself done once
// the owning flow's purpose (one DNS exchange) is fulfilled.
type Passivedns struct{ plugin.Base }

func NewPassivedns() *Passivedns { return &Passivedns{} }

func (p *Passivedns) Name() string { return "passivedns" }

func (p *Passivedns) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if pkt.SrcPort != 53 && pkt.DstPort != 53 {
		return plugin.Continue
	}
	rec := &PassivednsRecord{}
	f.AddExtension(p.ID(), rec)
	return p.observe(rec, pkt)
}

func (p *Passivedns) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	rec, ok := f.Extension(p.ID()).(*PassivednsRecord)
	if !ok {
		return plugin.Continue
	}
	return p.observe(rec, pkt)
}

func (p *Passivedns) observe(rec *PassivednsRecord, pkt *descriptor.Packet) plugin.Action {
	if rec.Done || pkt.PayloadLen < 12 {
		return plugin.Continue
	}
	msg := pkt.Payload[:pkt.PayloadLen]
	qd, _, _, _, isResp, _, ok := parseDNSHeader(msg)
	if !ok {
		return plugin.Continue
	}
	if !isResp {
		if qd == 0 {
			return plugin.Continue
		}
		name, _, ok := decodeDNSName(msg, 12)
		if !ok {
			return plugin.Continue
		}
		if ip, isPTR := reverseArpaToIP(name); isPTR {
			rec.QName = ip
		} else {
			rec.QName = name
		}
		return plugin.Continue
	}

	name, next, ok := decodeDNSName(msg, 12)
	if !ok {
		return plugin.Continue
	}
	// Skip QTYPE/QCLASS, then the first answer's owner name.
	if _, next, ok = decodeDNSName(msg, next+4); !ok {
		return plugin.Continue
	}
	if next+10 > len(msg) {
		return plugin.Continue
	}
	rdlength := int(binary.BigEndian.Uint16(msg[next+8 : next+10]))
	rdOff := next + 10
	if rdOff+rdlength > len(msg) {
		return plugin.Continue
	}
	if resolved, _, ok := decodeDNSName(msg, rdOff); ok {
		rec.Resolved = resolved
	} else {
		rec.Resolved = name
	}
	rec.Done = true
	return plugin.Flush
}

func (p *Passivedns) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*PassivednsRecord)
	if !ok {
		return ""
	}
	return fmt.Sprintf("passivedns(qname=%s,resolved=%s)", rec.QName, rec.Resolved)
}

func (p *Passivedns) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*PassivednsRecord)
	if !ok {
		return 0
	}
	off := 0
	n := ipfixenc.PutVarLen(buf[off:], []byte(rec.QName))
	if n < 0 {
		return -1
	}
	off += n
	n = ipfixenc.PutVarLen(buf[off:], []byte(rec.Resolved))
	if n < 0 {
		return -1
	}
	off += n
	return off
}

func (p *Passivedns) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: ipfixenc.CesnetPEN, FieldID: ieQName, Length: 0xFFFF},
		{PEN: ipfixenc.CesnetPEN, FieldID: ieResolved, Length: 0xFFFF},
	}
}
