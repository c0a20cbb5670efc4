package plugins

import (
	"fmt"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const (
	ieSrcTTL       = 7060
	ieDstTTL       = 7061
	ieSrcTCPWindow = 7062
	ieDstTCPWindow = 7063
	ieSrcTCPMSS    = 7064
	ieDstTCPMSS    = 7065
	ieSrcTCPOpts   = 7066
	ieDstTCPOpts   = 7067
)

// BasicplusRecord captures per-direction extras not in the base flow
// record: TTL, TCP window/MSS, and the option-kind bitmap.
type BasicplusRecord struct {
	SrcTTL, DstTTL             uint8
	SrcTCPWindow, DstTCPWindow uint16
	SrcTCPMSS, DstTCPMSS       uint16
	SrcTCPOpts, DstTCPOpts     uint64
}

// Basicplus extends the base flow record with secondary header fields.
type Basicplus struct{ plugin.Base }

func NewBasicplus() *Basicplus { return &Basicplus{} }

func (p *Basicplus) Name() string { return "basicplus" }

func (p *Basicplus) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	rec := &BasicplusRecord{}
	f.AddExtension(p.ID(), rec)
	p.observe(rec, pkt)
	return plugin.Continue
}

func (p *Basicplus) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if rec, ok := f.Extension(p.ID()).(*BasicplusRecord); ok {
		p.observe(rec, pkt)
	}
	return plugin.Continue
}

func (p *Basicplus) observe(rec *BasicplusRecord, pkt *descriptor.Packet) {
	if pkt.SourcePkt {
		rec.SrcTTL = pkt.IPTTL
		rec.SrcTCPWindow = pkt.TCPWindow
		rec.SrcTCPMSS = pkt.TCPMSS
		rec.SrcTCPOpts |= pkt.TCPOptions
	} else {
		rec.DstTTL = pkt.IPTTL
		rec.DstTCPWindow = pkt.TCPWindow
		rec.DstTCPMSS = pkt.TCPMSS
		rec.DstTCPOpts |= pkt.TCPOptions
	}
}

func (p *Basicplus) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*BasicplusRecord)
	if !ok {
		return ""
	}
	return fmt.Sprintf("basicplus(src_ttl=%d,dst_ttl=%d)", rec.SrcTTL, rec.DstTTL)
}

func (p *Basicplus) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*BasicplusRecord)
	if !ok {
		return 0
	}
	const need = 1 + 1 + 2 + 2 + 2 + 2 + 8 + 8
	if len(buf) < need {
		return -1
	}
	off := 0
	buf[off] = rec.SrcTTL
	off++
	buf[off] = rec.DstTTL
	off++
	putU16 := func(v uint16) {
		buf[off] = byte(v >> 8)
		buf[off+1] = byte(v)
		off += 2
	}
	putU64 := func(v uint64) {
		for i := 7; i >= 0; i-- {
			buf[off] = byte(v >> uint(8*i))
			off++
		}
	}
	putU16(rec.SrcTCPWindow)
	putU16(rec.DstTCPWindow)
	putU16(rec.SrcTCPMSS)
	putU16(rec.DstTCPMSS)
	putU64(rec.SrcTCPOpts)
	putU64(rec.DstTCPOpts)
	return off
}

func (p *Basicplus) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: 0, FieldID: ieSrcTTL, Length: 1},
		{PEN: 0, FieldID: ieDstTTL, Length: 1},
		{PEN: 0, FieldID: ieSrcTCPWindow, Length: 2},
		{PEN: 0, FieldID: ieDstTCPWindow, Length: 2},
		{PEN: 0, FieldID: ieSrcTCPMSS, Length: 2},
		{PEN: 0, FieldID: ieDstTCPMSS, Length: 2},
		{PEN: 0, FieldID: ieSrcTCPOpts, Length: 8},
		{PEN: 0, FieldID: ieDstTCPOpts, Length: 8},
	}
}
