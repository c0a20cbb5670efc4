package plugins

import (
	"encoding/binary"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/ipfixenc"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const ieTLSSNI = 7110

// TLSRecord holds the SNI extracted from a ClientHello.
type TLSRecord struct {
	SNI  string
	Seen bool
}

// TLS extracts the SNI extension from a TLS ClientHello record.
type TLS struct{ plugin.Base }

func NewTLS() *TLS { return &TLS{} }

func (p *TLS) Name() string { return "tls" }

func (p *TLS) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if sni, ok := extractSNI(pkt.Payload[:pkt.PayloadLen]); ok {
		f.AddExtension(p.ID(), &TLSRecord{SNI: sni, Seen: true})
		return plugin.GetNoData
	}
	return plugin.Continue
}

func (p *TLS) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if _, ok := f.Extension(p.ID()).(*TLSRecord); ok {
		return plugin.GetNoData
	}
	if sni, ok := extractSNI(pkt.Payload[:pkt.PayloadLen]); ok {
		f.AddExtension(p.ID(), &TLSRecord{SNI: sni, Seen: true})
		return plugin.GetNoData
	}
	return plugin.Continue
}

// extractSNI walks a TLS handshake record looking for a ClientHello's SNI
// extension (type 0, host_name entry type 0).
func extractSNI(b []byte) (string, bool) {
	// record: type(1) version(2) length(2)
	if len(b) < 6 || b[0] != 0x16 {
		return "", false
	}
	hs := b[5:]
	// handshake: msgtype(1) length(3) ... ClientHello = 1
	if len(hs) < 4 || hs[0] != 0x01 {
		return "", false
	}
	off := 4 + 2 + 32 // version + random
	if off >= len(hs) {
		return "", false
	}
	sidLen := int(hs[off])
	off += 1 + sidLen
	if off+2 > len(hs) {
		return "", false
	}
	csLen := int(binary.BigEndian.Uint16(hs[off : off+2]))
	off += 2 + csLen
	if off >= len(hs) {
		return "", false
	}
	cmLen := int(hs[off])
	off += 1 + cmLen
	if off+2 > len(hs) {
		return "", false
	}
	extTotal := int(binary.BigEndian.Uint16(hs[off : off+2]))
	off += 2
	end := off + extTotal
	if end > len(hs) {
		end = len(hs)
	}
	for off+4 <= end {
		extType := binary.BigEndian.Uint16(hs[off : off+2])
		extLen := int(binary.BigEndian.Uint16(hs[off+2 : off+4]))
		off += 4
		if off+extLen > end {
			break
		}
		if extType == 0 { // server_name
			body := hs[off : off+extLen]
			if len(body) >= 5 && body[2] == 0 {
				nameLen := int(binary.BigEndian.Uint16(body[3:5]))
				if 5+nameLen <= len(body) {
					return string(body[5 : 5+nameLen]), true
				}
			}
		}
		off += extLen
	}
	return "", false
}

func (p *TLS) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*TLSRecord)
	if !ok {
		return ""
	}
	return "tls(sni=" + rec.SNI + ")"
}

func (p *TLS) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*TLSRecord)
	if !ok {
		return 0
	}
	n := ipfixenc.PutVarLen(buf, []byte(rec.SNI))
	if n < 0 {
		return -1
	}
	return n
}

func (p *TLS) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{{PEN: ipfixenc.CesnetPEN, FieldID: ieTLSSNI, Length: 0xFFFF}}
}
