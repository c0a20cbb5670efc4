package plugins

import (
	"fmt"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const (
	ieNTPMode    = 7150
	ieNTPStratum = 7151
)

// NTPRecord holds the mode/stratum of the first NTP payload byte pair.
type NTPRecord struct {
	Mode    uint8
	Stratum uint8
	Seen    bool
}

// NTP extracts mode and stratum from the first two bytes of NTP/123
// traffic, per RFC 5905's fixed header layout.
type NTP struct{ plugin.Base }

func NewNTP() *NTP { return &NTP{} }

func (p *NTP) Name() string { return "ntp" }

func (p *NTP) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if pkt.SrcPort != 123 && pkt.DstPort != 123 {
		return plugin.Continue
	}
	if pkt.PayloadLen < 2 {
		return plugin.Continue
	}
	rec := &NTPRecord{Mode: pkt.Payload[0] & 0x07, Stratum: pkt.Payload[1], Seen: true}
	f.AddExtension(p.ID(), rec)
	return plugin.GetNoData
}

func (p *NTP) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*NTPRecord)
	if !ok {
		return ""
	}
	return fmt.Sprintf("ntp(mode=%d,stratum=%d)", rec.Mode, rec.Stratum)
}

func (p *NTP) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*NTPRecord)
	if !ok {
		return 0
	}
	if len(buf) < 2 {
		return -1
	}
	buf[0], buf[1] = rec.Mode, rec.Stratum
	return 2
}

func (p *NTP) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: 0, FieldID: ieNTPMode, Length: 1},
		{PEN: 0, FieldID: ieNTPStratum, Length: 1},
	}
}
