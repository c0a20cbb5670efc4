package plugins

import (
	"fmt"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const (
	ieICMPType = 7030
	ieICMPCode = 7031
)

// ICMPRecord captures the type/code of the first ICMP payload seen.
type ICMPRecord struct {
	Type, Code uint8
	Seen       bool
}

// ICMP extracts type/code from the first two bytes of ICMP(v6) payloads.
type ICMP struct{ plugin.Base }

func NewICMP() *ICMP { return &ICMP{} }

func (p *ICMP) Name() string { return "icmp" }

func (p *ICMP) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if pkt.IPProto != 1 && pkt.IPProto != 58 {
		return plugin.Continue
	}
	rec := &ICMPRecord{}
	p.observe(rec, pkt)
	f.AddExtension(p.ID(), rec)
	return plugin.Continue
}

func (p *ICMP) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if rec, ok := f.Extension(p.ID()).(*ICMPRecord); ok {
		p.observe(rec, pkt)
	}
	return plugin.Continue
}

func (p *ICMP) observe(rec *ICMPRecord, pkt *descriptor.Packet) {
	if rec.Seen || pkt.PayloadLen < 2 {
		return
	}
	rec.Type = pkt.Payload[0]
	rec.Code = pkt.Payload[1]
	rec.Seen = true
}

func (p *ICMP) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*ICMPRecord)
	if !ok || !rec.Seen {
		return ""
	}
	return fmt.Sprintf("icmp(type=%d,code=%d)", rec.Type, rec.Code)
}

func (p *ICMP) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*ICMPRecord)
	if !ok || !rec.Seen {
		return 0
	}
	if len(buf) < 2 {
		return -1
	}
	buf[0], buf[1] = rec.Type, rec.Code
	return 2
}

func (p *ICMP) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: 0, FieldID: ieICMPType, Length: 1},
		{PEN: 0, FieldID: ieICMPCode, Length: 1},
	}
}
