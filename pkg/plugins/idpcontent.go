package plugins

import (
	"encoding/hex"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/ipfixenc"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const idpContentMaxBytes = 100

const (
	ieSrcIDPContent = 7070
	ieDstIDPContent = 7071
)

// IDPContentRecord holds the first idpContentMaxBytes of payload seen in
// each direction's first nonzero-payload packet — a deep-packet-inspection
// seed for downstream signature matching.
type IDPContentRecord struct {
	SrcContent, DstContent []byte
	haveSrc, haveDst       bool
}

// IDPContent captures the first payload bytes per direction.
type IDPContent struct{ plugin.Base }

func NewIDPContent() *IDPContent { return &IDPContent{} }

func (p *IDPContent) Name() string { return "idpcontent" }

func (p *IDPContent) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	rec := &IDPContentRecord{}
	f.AddExtension(p.ID(), rec)
	p.observe(rec, pkt)
	return plugin.Continue
}

func (p *IDPContent) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if rec, ok := f.Extension(p.ID()).(*IDPContentRecord); ok {
		p.observe(rec, pkt)
	}
	return plugin.Continue
}

func (p *IDPContent) observe(rec *IDPContentRecord, pkt *descriptor.Packet) {
	if pkt.PayloadLen == 0 {
		return
	}
	n := pkt.PayloadLen
	if n > idpContentMaxBytes {
		n = idpContentMaxBytes
	}
	if pkt.SourcePkt {
		if rec.haveSrc {
			return
		}
		rec.SrcContent = append([]byte(nil), pkt.Payload[:n]...)
		rec.haveSrc = true
	} else {
		if rec.haveDst {
			return
		}
		rec.DstContent = append([]byte(nil), pkt.Payload[:n]...)
		rec.haveDst = true
	}
}

func (p *IDPContent) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*IDPContentRecord)
	if !ok {
		return ""
	}
	return "idpcontent(src=" + hex.EncodeToString(rec.SrcContent) + ",dst=" + hex.EncodeToString(rec.DstContent) + ")"
}

func (p *IDPContent) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*IDPContentRecord)
	if !ok {
		return 0
	}
	off := 0
	n := ipfixenc.PutVarLen(buf[off:], rec.SrcContent)
	if n < 0 {
		return -1
	}
	off += n
	n = ipfixenc.PutVarLen(buf[off:], rec.DstContent)
	if n < 0 {
		return -1
	}
	off += n
	return off
}

func (p *IDPContent) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: ipfixenc.CesnetPEN, FieldID: ieSrcIDPContent, Length: 0xFFFF},
		{PEN: ipfixenc.CesnetPEN, FieldID: ieDstIDPContent, Length: 0xFFFF},
	}
}
