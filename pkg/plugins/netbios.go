package plugins

import (
	"strings"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/ipfixenc"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const ieNetBIOSName = 7160

// NetBIOSRecord holds the decoded first-level-encoded NetBIOS name.
type NetBIOSRecord struct {
	Name string
}

// NetBIOS decodes the classic first-level NetBIOS name encoding (each
// nibble of the 16-byte name mapped to 'A'+nibble) from NBNS/137 traffic.
type NetBIOS struct{ plugin.Base }

func NewNetBIOS() *NetBIOS { return &NetBIOS{} }

func (p *NetBIOS) Name() string { return "netbios" }

func (p *NetBIOS) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if pkt.SrcPort != 137 && pkt.DstPort != 137 {
		return plugin.Continue
	}
	if name, ok := decodeNetBIOSName(pkt.Payload[:pkt.PayloadLen]); ok {
		f.AddExtension(p.ID(), &NetBIOSRecord{Name: name})
		return plugin.GetNoData
	}
	return plugin.Continue
}

// decodeNetBIOSName expects a DNS-style message where the question name's
// first label is the 32-byte first-level-encoded NetBIOS name.
func decodeNetBIOSName(msg []byte) (string, bool) {
	if len(msg) < 13 {
		return "", false
	}
	labelLen := int(msg[12])
	if labelLen != 32 || 13+32 > len(msg) {
		return "", false
	}
	enc := msg[13 : 13+32]
	var sb strings.Builder
	for i := 0; i+1 < len(enc); i += 2 {
		hi := enc[i] - 'A'
		lo := enc[i+1] - 'A'
		ch := (hi << 4) | lo
		if ch == 0 || ch == ' ' {
			continue
		}
		sb.WriteByte(ch)
	}
	return strings.TrimSpace(sb.String()), true
}

func (p *NetBIOS) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*NetBIOSRecord)
	if !ok {
		return ""
	}
	return "netbios(name=" + rec.Name + ")"
}

func (p *NetBIOS) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*NetBIOSRecord)
	if !ok {
		return 0
	}
	n := ipfixenc.PutVarLen(buf, []byte(rec.Name))
	if n < 0 {
		return -1
	}
	return n
}

func (p *NetBIOS) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{{PEN: ipfixenc.CesnetPEN, FieldID: ieNetBIOSName, Length: 0xFFFF}}
}
